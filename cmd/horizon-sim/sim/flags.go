// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sim

import (
	"errors"

	"github.com/spf13/pflag"
)

const (
	ScenarioKey = "scenario"
	AuditKey    = "audit"
	MetricsKey  = "metrics"
	VerboseKey  = "verbose"
)

var errMissingScenario = errors.New("missing scenario file")

func AddFlags(flags *pflag.FlagSet) {
	flags.String(ScenarioKey, "", "Path of the YAML scenario to replay (required)")
	flags.Bool(AuditKey, false, "Print the audit log after the run")
	flags.Bool(MetricsKey, false, "Print the collected metrics after the run")
	flags.Bool(VerboseKey, false, "Log engine activity to stderr")
}

type Config struct {
	ScenarioPath string
	PrintAudit   bool
	PrintMetrics bool
	Verbose      bool
}

func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	path, err := flags.GetString(ScenarioKey)
	if err != nil {
		return nil, err
	}
	if path == "" && flags.NArg() > 0 {
		path = flags.Arg(0)
	}
	if path == "" {
		return nil, errMissingScenario
	}

	printAudit, err := flags.GetBool(AuditKey)
	if err != nil {
		return nil, err
	}

	printMetrics, err := flags.GetBool(MetricsKey)
	if err != nil {
		return nil, err
	}

	verbose, err := flags.GetBool(VerboseKey)
	if err != nil {
		return nil, err
	}

	return &Config{
		ScenarioPath: path,
		PrintAudit:   printAudit,
		PrintMetrics: printMetrics,
		Verbose:      verbose,
	}, nil
}
