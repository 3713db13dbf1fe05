// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sim

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"

	"github.com/luxfi/horizon/audit/auditdb"
)

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:          "horizon-sim [scenario]",
		Short:        "Replays a horizon scenario on a logical clock",
		Args:         cobra.MaximumNArgs(1),
		RunE:         runFunc,
		SilenceUsage: true,
	}
	flags := c.Flags()
	AddFlags(flags)
	return c
}

func runFunc(c *cobra.Command, args []string) error {
	config, err := ParseFlags(c.Flags(), args)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(config.ScenarioPath)
	if err != nil {
		return fmt.Errorf("reading scenario: %w", err)
	}
	scenario, err := ParseScenario(data)
	if err != nil {
		return err
	}

	var logger log.Logger = log.NoLog{}
	if config.Verbose {
		logger = log.NewLogger("horizon-sim")
	}
	registry := metric.NewRegistry()
	auditLog := auditdb.New(memdb.New())
	out := c.OutOrStdout()

	runner, err := NewRunner(scenario, logger, registry, auditLog, out)
	if err != nil {
		return err
	}
	runErr := runner.Run()

	if config.PrintAudit {
		entries, err := auditLog.Entries()
		if err != nil {
			return fmt.Errorf("reading audit log: %w", err)
		}
		fmt.Fprintf(out, "\naudit log (%d entries)\n", len(entries))
		runner.PrintAudit(entries)
	}
	if config.PrintMetrics {
		families, err := registry.Gather()
		if err != nil {
			return fmt.Errorf("gathering metrics: %w", err)
		}
		fmt.Fprintln(out, "\nmetrics")
		PrintMetrics(out, families)
	}
	return runErr
}

// PrintMetrics writes one line per counter or gauge sample.
func PrintMetrics(w io.Writer, families []*metric.MetricFamily) {
	for _, family := range families {
		if family.GetType() != dto.MetricType_COUNTER && family.GetType() != dto.MetricType_GAUGE {
			continue
		}
		for _, m := range family.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			name := family.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			value := m.GetGauge().GetValue()
			if family.GetType() == dto.MetricType_COUNTER {
				value = m.GetCounter().GetValue()
			}
			fmt.Fprintf(w, "%s %g\n", name, value)
		}
	}
}
