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


// Package perf observes query performance and recommends placement
// changes.
//
// The Tracker appends performance samples off the query path through a
// worker pool, so recording can never slow a query down. The Optimizer
// analyzes the sample window per domain and emits recommendations:
// persistently slow domains get a strategy migration or an index
// suggestion, records placed under an outdated policy version get a
// re-placement suggestion. Recommendations are advisory; nothing is
// applied without an explicit decision.
package perf
