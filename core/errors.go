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

import "errors"

// Error taxonomy shared across the engine.
var (
	// ErrValidation indicates malformed or missing input. Rejected before
	// any write, never retried, surfaced synchronously to the caller.
	ErrValidation = errors.New("validation failed")

	// ErrTransientStore indicates a timeout or network fault on either
	// store. Retried with backoff; exhaustion degrades the record instead
	// of being re-thrown to the original caller.
	ErrTransientStore = errors.New("transient store error")

	// ErrConsistencyViolation indicates a migration read-back failed.
	// The original pointer is retained and the incident is fatal for
	// manual review; never auto-retried silently.
	ErrConsistencyViolation = errors.New("consistency violation")

	// ErrDuplicateContent indicates concurrent re-ingestion of the same
	// source locator. Resolved as a stats merge, not an error to callers.
	ErrDuplicateContent = errors.New("duplicate content")

	// ErrRecommendationConflict indicates two recommendations target the
	// same resource. The newer one is auto-rejected.
	ErrRecommendationConflict = errors.New("recommendation conflict")
)

// Domain validation errors.
var (
	// ErrInvalidRecord indicates a ContentRecord failed validation.
	ErrInvalidRecord = errors.New("invalid content record")

	// ErrEmptyContent indicates the raw content is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrEmptyLocator indicates the source locator is empty.
	ErrEmptyLocator = errors.New("source locator cannot be empty")

	// ErrEmptyDomain indicates the declared domain is empty.
	ErrEmptyDomain = errors.New("domain cannot be empty")

	// ErrInvalidStrategy indicates an unknown storage strategy value.
	ErrInvalidStrategy = errors.New("invalid storage strategy")

	// ErrInvalidProfile indicates a profile score outside [0, 1].
	ErrInvalidProfile = errors.New("profile score out of range")

	// ErrNegativeSize indicates a negative declared size.
	ErrNegativeSize = errors.New("declared size cannot be negative")
)
