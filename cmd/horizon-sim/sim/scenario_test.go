// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sim

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/luxfi/horizon/audit"
	"github.com/luxfi/horizon/audit/auditdb"
	"github.com/luxfi/horizon/consensus"
	"github.com/luxfi/horizon/participants"
	"github.com/luxfi/horizon/priority"
)

const collusion = `
config:
  consensus:
    roundTimeout: 20s
participants:
  - {name: coordinator, role: proposer}
  - {name: v1, role: voter}
  - {name: v2, role: voter}
  - {name: v3, role: voter}
  - {name: v4, role: voter}
  - {name: v5, role: voter}
  - {name: v6, role: voter}
  - {name: c1, role: voter, position: [0, 0.635149, 0]}
  - {name: c2, role: voter, position: [0, 0.635149, 0]}
  - {name: c3, role: voter, position: [0, 0.635149, 0]}
  - {name: watcher, role: observer, energy: 0.9}
steps:
  - open: {name: r1, coordinator: coordinator, digest: block-1, priority: unbounded}
  - report: {source: watcher, round: r1, digest: block-1, relevance: 0.9, confidence: 0.9}
  - vote: {round: r1, voter: coordinator, decision: accept}
  - vote: {round: r1, voter: v1, decision: accept}
  - vote: {round: r1, voter: v2, decision: accept}
  - vote: {round: r1, voter: v3, decision: accept}
  - vote: {round: r1, voter: v4, decision: accept}
  - vote: {round: r1, voter: v5, decision: accept}
  - vote: {round: r1, voter: v6, decision: accept}
  - vote: {round: r1, voter: c1, decision: reject}
  - vote: {round: r1, voter: c2, decision: reject}
  - vote: {round: r1, voter: c3, decision: reject}
  - finalize: r1
  - open: {name: r2, coordinator: coordinator, digest: block-2, timeout: 5s}
  - advance: 10s
`

func TestParseScenario(t *testing.T) {
	require := require.New(t)

	s, err := ParseScenario([]byte(collusion))
	require.NoError(err)

	require.Equal(20*time.Second, s.Config.Consensus.RoundTimeout)
	require.Equal(consensus.DefaultConfig().QuorumRequired, s.Config.Consensus.QuorumRequired)
	require.Equal(3, s.Config.Dimension)
	require.Len(s.Participants, 11)
	require.Equal([]float64{0, 0.635149, 0}, s.Participants[7].Position)
	require.Nil(s.Participants[0].Energy)
	require.Equal(0.9, *s.Participants[10].Energy)
	require.Len(s.Steps, 15)
	require.Equal(priority.Unbounded, *s.Steps[0].Open.Priority)
	require.Equal(5*time.Second, s.Steps[13].Open.Timeout)
	require.Equal(10*time.Second, s.Steps[14].Advance)
}

func TestParseScenarioErrors(t *testing.T) {
	tests := []struct {
		name        string
		scenario    string
		expectedErr error
	}{
		{
			name:        "unknown role",
			scenario:    "participants:\n  - {name: a, role: king}\n",
			expectedErr: errUnknownRole,
		},
		{
			name:        "duplicate name",
			scenario:    "participants:\n  - {name: a, role: voter}\n  - {name: a, role: voter}\n",
			expectedErr: errDuplicateName,
		},
		{
			name:        "long name",
			scenario:    "participants:\n  - {name: abcdefghijklmnopqrstuvwxyz, role: voter}\n",
			expectedErr: errNameTooLong,
		},
		{
			name:        "empty step",
			scenario:    "steps:\n  - {}\n",
			expectedErr: errStepActions,
		},
		{
			name:        "two actions",
			scenario:    "steps:\n  - {finalize: r1, cancel: r1}\n",
			expectedErr: errStepActions,
		},
		{
			name:        "unknown decision",
			scenario:    "steps:\n  - vote: {round: r1, voter: a, decision: maybe}\n",
			expectedErr: errUnknownDecision,
		},
		{
			name:        "unnamed round",
			scenario:    "steps:\n  - open: {coordinator: a}\n",
			expectedErr: errEmptyName,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(test.scenario))
			require.ErrorIs(t, err, test.expectedErr)
		})
	}

	_, err := ParseScenario([]byte("bogus: 1\n"))
	require.ErrorContains(t, err, "decoding scenario")

	_, err = ParseScenario([]byte("config:\n  dimension: 0\n"))
	require.Error(t, err)
}

func TestRunCollusion(t *testing.T) {
	require := require.New(t)

	s, err := ParseScenario([]byte(collusion))
	require.NoError(err)

	var (
		out      bytes.Buffer
		auditLog = auditdb.New(memdb.New())
	)
	runner, err := NewRunner(s, log.NoLog{}, metric.NewRegistry(), auditLog, &out)
	require.NoError(err)
	require.NoError(runner.Run())

	output := out.String()
	require.Contains(output, "round r1 committed (quorum)")
	require.Contains(output, "outliers=[c1(")
	require.Contains(output, "round r2 inconclusive")
	require.Contains(output, "report from watcher")

	c1, err := NodeID("c1")
	require.NoError(err)
	p, err := runner.Core().GetParticipant(c1)
	require.NoError(err)
	require.Less(p.Energy, 0.5)

	entries, err := auditLog.Entries()
	require.NoError(err)
	require.NotEmpty(entries)
	require.Equal(audit.Admission, entries[0].Kind)
	for i, e := range entries {
		require.Equal(uint64(i+1), e.Seq)
	}

	out.Reset()
	runner.PrintAudit(entries)
	require.Equal(len(entries), strings.Count(out.String(), "\n"))
}

func TestRunReportsFailedSteps(t *testing.T) {
	require := require.New(t)

	s, err := ParseScenario([]byte(`
participants:
  - {name: a, role: voter}
steps:
  - vote: {round: missing, voter: a, decision: accept}
  - remove: a
`))
	require.NoError(err)

	var out bytes.Buffer
	runner, err := NewRunner(s, log.NoLog{}, metric.NewRegistry(), nil, &out)
	require.NoError(err)
	err = runner.Run()
	require.ErrorIs(err, consensus.ErrUnknownRound)
	require.Contains(out.String(), "step 0 failed")
	require.Contains(out.String(), "removed a")

	a, err := NodeID("a")
	require.NoError(err)
	_, err = runner.Core().GetParticipant(a)
	require.ErrorIs(err, participants.ErrUnknownParticipant)
}

func TestParseFlags(t *testing.T) {
	require := require.New(t)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(flags)
	config, err := ParseFlags(flags, []string{"--audit", "run.yaml"})
	require.NoError(err)
	require.Equal("run.yaml", config.ScenarioPath)
	require.True(config.PrintAudit)
	require.False(config.PrintMetrics)

	flags = pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(flags)
	_, err = ParseFlags(flags, nil)
	require.ErrorIs(err, errMissingScenario)
}

func TestPrintMetrics(t *testing.T) {
	require := require.New(t)

	families := []*metric.MetricFamily{
		{
			Name: proto.String("votes"),
			Type: dto.MetricType_COUNTER.Enum(),
			Metric: []*dto.Metric{{
				Label:   []*dto.LabelPair{{Name: proto.String("ack"), Value: proto.String("recorded")}},
				Counter: &dto.Counter{Value: proto.Float64(3)},
			}},
		},
		{
			Name: proto.String("rounds_open"),
			Type: dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{{
				Gauge: &dto.Gauge{Value: proto.Float64(1)},
			}},
		},
	}
	var out bytes.Buffer
	PrintMetrics(&out, families)
	require.Equal("votes{ack=recorded} 3\nrounds_open 1\n", out.String())
}
