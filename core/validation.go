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


package core

import "fmt"

// ValidateRecord validates a ContentRecord according to domain rules.
//
// Validation rules:
//   - SourceLocator must not be empty
//   - Domain must not be empty
//   - DeclaredSize must not be negative
//   - Strategy, when set, must be a known value
//   - Profile scores must be in [0, 1]
//
// NOT validated (populated by the coordinator):
//   - Location (empty until the staged commit completes)
//   - Access stats
func ValidateRecord(record *ContentRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	}

	if record.SourceLocator == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrEmptyLocator)
	}

	if record.Domain == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrEmptyDomain)
	}

	if record.DeclaredSize < 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrNegativeSize)
	}

	if record.Strategy != "" && !record.Strategy.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidRecord, ErrInvalidStrategy, record.Strategy)
	}

	if err := ValidateProfile(record.Profile); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	return nil
}

// ValidateProfile checks that every profile score is in [0, 1].
func ValidateProfile(profile ContentProfile) error {
	scores := map[string]float64{
		"semantic_complexity": profile.SemanticComplexity,
		"topic_coherence":     profile.TopicCoherence,
		"information_density": profile.InformationDensity,
		"query_potential":     profile.QueryPotential,
	}
	for name, score := range scores {
		if score < 0 || score > 1 {
			return fmt.Errorf("%w: %s=%v", ErrInvalidProfile, name, score)
		}
	}
	return nil
}
