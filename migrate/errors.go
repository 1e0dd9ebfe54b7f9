package migrate

import "errors"

var (
	// ErrRecordRepositoryRequired is returned when a record repository is not provided.
	ErrRecordRepositoryRequired = errors.New("record repository required")

	// ErrRecommendationRepositoryRequired is returned when a recommendation repository is not provided.
	ErrRecommendationRepositoryRequired = errors.New("recommendation repository required")

	// ErrCoordinatorRequired is returned when an ingest coordinator is not provided.
	ErrCoordinatorRequired = errors.New("ingest coordinator required")

	// ErrMapperRequired is returned when a consistency mapper is not provided.
	ErrMapperRequired = errors.New("consistency mapper required")

	// ErrPolicyRequired is returned when a placement policy is not provided.
	ErrPolicyRequired = errors.New("placement policy required")

	// ErrNotApplicable is returned when a recommendation cannot be
	// routed through the migrator.
	ErrNotApplicable = errors.New("recommendation not automatically applicable")
)
