package perf

import "errors"

var (
	// ErrSampleRepositoryRequired is returned when a sample repository is not provided.
	ErrSampleRepositoryRequired = errors.New("sample repository required")

	// ErrRecommendationRepositoryRequired is returned when a recommendation repository is not provided.
	ErrRecommendationRepositoryRequired = errors.New("recommendation repository required")

	// ErrRecordRepositoryRequired is returned when a record repository is not provided.
	ErrRecordRepositoryRequired = errors.New("record repository required")

	// ErrPolicyRequired is returned when a placement policy is not provided.
	ErrPolicyRequired = errors.New("placement policy required")
)
