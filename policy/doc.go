// Package policy maps a content profile, size, and domain to a storage
// strategy. The decision table is explicit and documented; nothing is
// inferred from data at decision time. Decisions carry the policy version
// so migration tooling can find records placed under older rules.
package policy
