// Package store is the durable source of truth for refresh tokens: which were
// issued, to whom, and whether they have been revoked.
//
// # Backends
//
// [Backend] is the persistence contract; three implementations ship with the
// package. [RedisStore] keeps binary-encoded records in Redis with a Lua
// compare-and-swap for rotation. [PostgresStore] maps the same contract onto
// SQL with conditional UPDATEs. [MemoryStore] is a process-local map for tests
// and embedding.
//
// Backends never see raw refresh tokens: records are keyed by the SHA-256 of
// the token string.
//
// # Rotation protocol
//
// RevokeForRotation is the replay-detection point. It atomically flips a live
// record to revoked and returns it; a second caller presenting the same token
// observes [ErrAlreadyRevoked], which upstream treats as credential reuse.
//
// # What this package must NOT do
//
//   - Sign, parse, or otherwise interpret token strings.
//   - Decide policy for replay (escalation belongs to the Engine).
//   - Import authcore or its sibling packages (no upward imports).
package store
