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


// Package ingest coordinates document placement across storage legs.
//
// The Coordinator classifies incoming content, asks the placement
// policy for a strategy, writes every leg that strategy requires
// (content blob, full-text index, specialized side table, staged
// vector chunks), and only then publishes the record's location
// pointer through the consistency mapper. A per-locator lock keeps a
// single writer per logical record; concurrent re-ingestion of the
// same locator serializes and the loser resolves as a re-scrape.
//
// Partial failures never roll back a succeeded leg: the record is
// marked degraded and the Reconciler repairs it in the background from
// the stored body, flagging records for manual review once the retry
// budget is spent.
package ingest
