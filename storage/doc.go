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


// Package storage defines the repository interfaces for the two storage
// substrates and the serialization helpers shared by their
// implementations.
//
// The relational leg (storage/sqlite) owns records, blobs, full-text
// search, performance samples, recommendations, and the dynamic-table
// registry. The vector leg (storage/badger) owns embedded chunks with
// staged-commit semantics: points are invisible to search until a single
// completion marker covers them.
//
// Cross-store consistency is not this package's concern; the consistency
// mapper composes these interfaces into the verify-then-swap protocol.
package storage
