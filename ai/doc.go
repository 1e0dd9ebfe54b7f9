// Package ai defines the embedding abstraction used by the storage
// engine. The Embedder interface decouples chunk embedding from any
// particular provider; the openai subpackage implements it against
// OpenAI-compatible APIs and the mock subpackage provides a
// deterministic test double.
package ai
