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


// Package migrate re-places records whose storage strategy no longer
// matches the active policy.
//
// The Migrator walks stale records in rate-limited batches. For each
// record it re-runs the placement decision, writes the new strategy's
// legs from the stored body while the old location stays authoritative,
// and hands the verified result to the consistency mapper for the
// pointer swap. A record whose new location fails verification is
// flagged for manual review with its original pointer untouched;
// cancelling the context between records stops the run cleanly.
package migrate
