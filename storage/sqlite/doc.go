// Package sqlite implements the relational leg of the storage engine on
// a single SQLite database: content records, full content blobs keyed
// by content hash, an FTS5 full-text index, performance samples,
// optimizer recommendations, and the specialized-table registry.
//
// The schema is managed through embedded, versioned migrations. All
// repositories returned by Store share one connection pool in WAL mode.
package sqlite
