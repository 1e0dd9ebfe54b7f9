// Copyright 2025 The Grimoire Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package policy

import (
	"fmt"
	"math"

	"github.com/grimoiredb/grimoire/core"
)

// Config holds the explicit, documented placement thresholds. None of the
// values are learned; the decision table below is the whole policy.
type Config struct {
	// Version is recorded on every placed record so later optimization
	// passes can detect records placed under an older policy.
	Version string

	// Size thresholds in bytes.
	SizeSmall  int64
	SizeMedium int64
	SizeLarge  int64

	// Profile gates for the hybrid rule.
	ComplexityGate     float64
	QueryPotentialGate float64

	// HighValueDomains qualify medium-sized content for hybrid storage.
	HighValueDomains map[string]bool

	// DomainOverrides take precedence over the numbered rules when the
	// record's domain appears here.
	DomainOverrides map[string]core.Strategy

	// ThresholdMargin scales confidence: a decision whose deciding value
	// sits within margin (relative to the threshold) of a threshold is
	// proportionally less confident.
	ThresholdMargin float64
}

// DefaultConfig returns the thresholds the engine ships with.
func DefaultConfig() Config {
	return Config{
		Version:            "v2",
		SizeSmall:          50 * 1024,
		SizeMedium:         1024 * 1024,
		SizeLarge:          50 * 1024 * 1024,
		ComplexityGate:     0.7,
		QueryPotentialGate: 0.8,
		HighValueDomains: map[string]bool{
			"science":    true,
			"philosophy": true,
			"literature": true,
		},
		DomainOverrides: map[string]core.Strategy{},
		ThresholdMargin: 0.5,
	}
}

// Decision is the placement output for one record.
type Decision struct {
	Strategy      core.Strategy
	Confidence    float64
	PolicyVersion string
}

// rule identifies which row of the decision table fired. Confidence is
// measured against the thresholds that row actually compared.
type rule int

const (
	ruleSmallSize rule = iota + 1
	ruleLargeSize
	ruleProfileGates
	ruleHighValueDomain
	ruleDefault
)

// Policy decides storage placement. It is a pure function of its inputs:
// identical (size, profile, domain) always produce an identical Decision,
// with no clock or randomness involved.
type Policy struct {
	cfg Config
}

// New creates a Policy from the given config.
func New(cfg Config) (*Policy, error) {
	if cfg.Version == "" {
		return nil, fmt.Errorf("%w: policy version required", core.ErrValidation)
	}
	if cfg.SizeSmall <= 0 || cfg.SizeMedium <= cfg.SizeSmall || cfg.SizeLarge <= cfg.SizeMedium {
		return nil, fmt.Errorf("%w: size thresholds must be increasing", core.ErrValidation)
	}
	if cfg.ComplexityGate <= 0 || cfg.QueryPotentialGate <= 0 {
		return nil, fmt.Errorf("%w: profile gates must be positive", core.ErrValidation)
	}
	if cfg.ThresholdMargin <= 0 {
		cfg.ThresholdMargin = 0.5
	}
	return &Policy{cfg: cfg}, nil
}

// Version returns the active policy version.
func (p *Policy) Version() string {
	return p.cfg.Version
}

// Stale reports whether a record was placed under an older policy version.
func (p *Policy) Stale(record *core.ContentRecord) bool {
	return record.PolicyVersion != p.cfg.Version
}

// Decide applies the decision table:
//
//  1. size < SizeSmall                                  -> full_store
//  2. size > SizeLarge                                  -> vector_store
//  3. complexity > gate AND query_potential > gate      -> hybrid
//  4. high-value domain AND size > SizeMedium           -> hybrid
//  5. otherwise                                         -> metadata_only
//
// Domain overrides take precedence over rules 1-5. A size exactly at a
// threshold is a tie and resolves to the cheaper strategy.
func (p *Policy) Decide(size int64, profile core.ContentProfile, domain string) (Decision, error) {
	if size < 0 {
		return Decision{}, fmt.Errorf("%w: %w", core.ErrValidation, core.ErrNegativeSize)
	}
	if err := core.ValidateProfile(profile); err != nil {
		return Decision{}, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}

	if override, ok := p.cfg.DomainOverrides[domain]; ok {
		return Decision{
			Strategy:      override,
			Confidence:    0.99,
			PolicyVersion: p.cfg.Version,
		}, nil
	}

	strategy, fired := p.applyRules(size, profile, domain)

	// Tie rule: exactly at a size threshold, both sides of the boundary
	// are evaluated and the cheaper outcome wins. Fixed, not chance.
	// Confidence follows the rule backing the chosen side.
	if size == p.cfg.SizeSmall || size == p.cfg.SizeMedium || size == p.cfg.SizeLarge {
		below, belowRule := p.applyRules(size-1, profile, domain)
		above, aboveRule := p.applyRules(size+1, profile, domain)
		strategy = core.Cheaper(below, above)
		if strategy == below {
			fired = belowRule
		} else {
			fired = aboveRule
		}
	}

	return Decision{
		Strategy:      strategy,
		Confidence:    p.confidence(size, profile, fired),
		PolicyVersion: p.cfg.Version,
	}, nil
}

func (p *Policy) applyRules(size int64, profile core.ContentProfile, domain string) (core.Strategy, rule) {
	switch {
	case size < p.cfg.SizeSmall:
		return core.StrategyFullStore, ruleSmallSize
	case size > p.cfg.SizeLarge:
		return core.StrategyVectorStore, ruleLargeSize
	case profile.SemanticComplexity > p.cfg.ComplexityGate &&
		profile.QueryPotential > p.cfg.QueryPotentialGate:
		return core.StrategyHybrid, ruleProfileGates
	case p.cfg.HighValueDomains[domain] && size > p.cfg.SizeMedium:
		return core.StrategyHybrid, ruleHighValueDomain
	default:
		return core.StrategyMetadataOnly, ruleDefault
	}
}

// confidence measures how far the deciding value sits from the threshold
// it was compared against. A decision made exactly at a threshold is
// maximally ambiguous (0.30); one whose deciding value is at least
// ThresholdMargin away, relative to the threshold, is maximally confident
// (0.99). Reproducible: no clock, no randomness.
func (p *Policy) confidence(size int64, profile core.ContentProfile, fired rule) float64 {
	var distance float64
	switch fired {
	case ruleSmallSize:
		distance = relativeDistance(float64(size), float64(p.cfg.SizeSmall))
	case ruleLargeSize:
		distance = relativeDistance(float64(size), float64(p.cfg.SizeLarge))
	case ruleProfileGates:
		distance = math.Min(
			relativeDistance(profile.SemanticComplexity, p.cfg.ComplexityGate),
			relativeDistance(profile.QueryPotential, p.cfg.QueryPotentialGate),
		)
	default:
		// Rules 4 and 5 compare size against the medium threshold; the
		// default rule is also bounded by the small/large thresholds.
		distance = math.Min(
			relativeDistance(float64(size), float64(p.cfg.SizeMedium)),
			math.Min(
				relativeDistance(float64(size), float64(p.cfg.SizeSmall)),
				relativeDistance(float64(size), float64(p.cfg.SizeLarge)),
			),
		)
	}

	proximity := math.Max(0, 1-distance/p.cfg.ThresholdMargin)
	conf := 0.99 - proximity*(0.99-0.30)
	return math.Round(conf*1e6) / 1e6
}

// relativeDistance is |value - threshold| / threshold.
func relativeDistance(value, threshold float64) float64 {
	return math.Abs(value-threshold) / threshold
}
