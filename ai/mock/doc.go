// Package mock provides a deterministic ai.Embedder test double. The
// default behavior hashes the input text into a stable unit vector, so
// tests get repeatable similarity scores without a live embedding
// service.
package mock
