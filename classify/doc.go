// Package classify turns raw document content and declared metadata into a
// deterministic ContentProfile. The classifier performs no I/O and holds no
// state that changes between calls, so it is safe to share across any number
// of ingestion workers.
package classify
