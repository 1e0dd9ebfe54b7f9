// Package consistency keeps the logical record pointer and the physical
// data in the two stores coherent. All pointer movement goes through
// the Mapper, which enforces verify-then-swap: a location is read back
// and proven complete before it becomes authoritative, and replaced
// vector data is collected on a grace period instead of deleted under
// concurrent readers.
package consistency
