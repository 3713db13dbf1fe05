// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sim

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/ids"
	"gopkg.in/yaml.v3"

	"github.com/luxfi/horizon"
	"github.com/luxfi/horizon/consensus"
	"github.com/luxfi/horizon/gate"
	"github.com/luxfi/horizon/participants"
	"github.com/luxfi/horizon/priority"
)

var (
	errNameTooLong     = errors.New("name too long")
	errEmptyName       = errors.New("empty name")
	errDuplicateName   = errors.New("duplicate name")
	errUnknownRole     = errors.New("unknown role")
	errUnknownDecision = errors.New("unknown decision")
	errStepActions     = errors.New("step must name exactly one action")
)

// Scenario is a scripted run of a Core.
type Scenario struct {
	// Start is the logical time the run begins at. Zero means the epoch.
	Start        time.Time      `yaml:"start"`
	Config       horizon.Config `yaml:"config"`
	Participants []Registration `yaml:"participants"`
	Steps        []Step         `yaml:"steps"`
}

type Registration struct {
	Name     string    `yaml:"name"`
	Role     string    `yaml:"role"`
	Position []float64 `yaml:"position"`
	Energy   *float64  `yaml:"energy"`
}

// Step holds exactly one action.
type Step struct {
	Advance  time.Duration `yaml:"advance"`
	Register *Registration `yaml:"register"`
	Remove   string        `yaml:"remove"`
	Scope    *ScopeStep    `yaml:"scope"`
	Report   *ReportStep   `yaml:"report"`
	Open     *OpenStep     `yaml:"open"`
	Vote     *VoteStep     `yaml:"vote"`
	Finalize string        `yaml:"finalize"`
	Cancel   string        `yaml:"cancel"`
	Expire   bool          `yaml:"expire"`
}

type ScopeStep struct {
	Coordinator string       `yaml:"coordinator"`
	Params      *gate.Params `yaml:"params"`
}

type ReportStep struct {
	Source     string  `yaml:"source"`
	Round      string  `yaml:"round"`
	Digest     string  `yaml:"digest"`
	Relevance  float64 `yaml:"relevance"`
	Confidence float64 `yaml:"confidence"`
}

type OpenStep struct {
	Name        string             `yaml:"name"`
	Coordinator string             `yaml:"coordinator"`
	Digest      string             `yaml:"digest"`
	Anchor      []float64          `yaml:"anchor"`
	ConflictKey string             `yaml:"conflictKey"`
	Priority    *priority.Priority `yaml:"priority"`
	Timeout     time.Duration      `yaml:"timeout"`
}

type VoteStep struct {
	Round    string `yaml:"round"`
	Voter    string `yaml:"voter"`
	Decision string `yaml:"decision"`
}

// ParseScenario decodes a YAML scenario. Configuration fields the scenario
// leaves out keep their default values.
func ParseScenario(data []byte) (*Scenario, error) {
	s := &Scenario{
		Config: horizon.DefaultConfig(),
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(s); err != nil {
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}
	if err := s.Verify(); err != nil {
		return nil, err
	}
	return s, nil
}

// Verify checks the scenario's structure. Semantic errors such as a vote
// on a closed round surface while replaying.
func (s *Scenario) Verify() error {
	if err := s.Config.Validate(); err != nil {
		return err
	}
	names := make(map[string]struct{}, len(s.Participants))
	for i := range s.Participants {
		if err := s.Participants[i].verify(names); err != nil {
			return fmt.Errorf("participant %d: %w", i, err)
		}
	}
	for i := range s.Steps {
		if err := s.Steps[i].verify(names); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

func (r *Registration) verify(names map[string]struct{}) error {
	if _, err := NodeID(r.Name); err != nil {
		return err
	}
	if _, ok := names[r.Name]; ok {
		return fmt.Errorf("%w: %q", errDuplicateName, r.Name)
	}
	names[r.Name] = struct{}{}
	_, err := ParseRole(r.Role)
	return err
}

func (s *Step) verify(names map[string]struct{}) error {
	actions := 0
	for _, set := range []bool{
		s.Advance != 0,
		s.Register != nil,
		s.Remove != "",
		s.Scope != nil,
		s.Report != nil,
		s.Open != nil,
		s.Vote != nil,
		s.Finalize != "",
		s.Cancel != "",
		s.Expire,
	} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("%w: found %d", errStepActions, actions)
	}

	switch {
	case s.Register != nil:
		return s.Register.verify(names)
	case s.Vote != nil:
		_, err := ParseDecision(s.Vote.Decision)
		return err
	case s.Open != nil:
		if s.Open.Name == "" {
			return fmt.Errorf("round %w", errEmptyName)
		}
		if _, err := Digest(s.Open.Digest); err != nil {
			return err
		}
	case s.Report != nil:
		if _, err := Digest(s.Report.Digest); err != nil {
			return err
		}
	}
	return nil
}

// NodeID maps a participant name onto a node id by copying its bytes.
func NodeID(name string) (ids.NodeID, error) {
	var id ids.NodeID
	if name == "" {
		return id, errEmptyName
	}
	if len(name) > len(id) {
		return id, fmt.Errorf("%w: %q exceeds %d bytes", errNameTooLong, name, len(id))
	}
	copy(id[:], name)
	return id, nil
}

// Digest maps a payload label onto a digest by copying its bytes.
func Digest(label string) (ids.ID, error) {
	var id ids.ID
	if len(label) > len(id) {
		return id, fmt.Errorf("%w: digest %q exceeds %d bytes", errNameTooLong, label, len(id))
	}
	copy(id[:], label)
	return id, nil
}

func ParseRole(s string) (participants.Role, error) {
	for _, r := range []participants.Role{participants.Observer, participants.Voter, participants.Proposer} {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", errUnknownRole, s)
}

func ParseDecision(s string) (consensus.Decision, error) {
	for _, d := range []consensus.Decision{consensus.Accept, consensus.Reject, consensus.Abstain} {
		if d.String() == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", errUnknownDecision, s)
}
