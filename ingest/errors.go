package ingest

import "errors"

var (
	// ErrRecordRepositoryRequired is returned when a record repository is not provided.
	ErrRecordRepositoryRequired = errors.New("record repository required")

	// ErrBlobStoreRequired is returned when a blob store is not provided.
	ErrBlobStoreRequired = errors.New("blob store required")

	// ErrTextSearcherRequired is returned when a text searcher is not provided.
	ErrTextSearcherRequired = errors.New("text searcher required")

	// ErrVectorStoreRequired is returned when a vector store is not provided.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrMapperRequired is returned when a consistency mapper is not provided.
	ErrMapperRequired = errors.New("consistency mapper required")

	// ErrClassifierRequired is returned when a classifier is not provided.
	ErrClassifierRequired = errors.New("classifier required")

	// ErrPolicyRequired is returned when a placement policy is not provided.
	ErrPolicyRequired = errors.New("placement policy required")

	// ErrContentUnavailable is returned when a record's content body is
	// needed for a rewrite but no blob is stored for it.
	ErrContentUnavailable = errors.New("content body unavailable")

	// ErrInvalidMaxAttempts is returned when retry is configured with a
	// non-positive attempt count.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")
)
