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


// Package search plans and executes hybrid retrieval.
//
// The Planner fans a request out to the full-text leg and the vector
// leg concurrently, each under its own timeout. A leg that fails or
// times out degrades the response to the surviving leg and marks it
// partial rather than failing the whole query. Candidate scores are
// max-normalized per leg and merged as
//
//	score = alpha*text + (1-alpha)*vector
//
// deduplicated by record with the best score winning, ordered by
// score descending then record id. Every executed query feeds the
// performance tracker asynchronously.
package search
