// Package cache provides the bounded, TTL-based in-memory caches that
// accelerate token verification: verified-token payloads, principal profiles,
// and usage snapshots.
//
// # Correctness model
//
// Expiry is always re-checked on read: a stale entry is a miss, never a hit.
// The size bound is a performance mechanism only: when a write pushes a cache
// past its soft cap, expired entries are evicted first, then the oldest 30%
// by expiry time. Nothing the evictor does or skips can cause a stale value
// to be returned.
//
// # What this package must NOT do
//
//   - Perform I/O. Cache failures are impossible by construction and the
//     package exposes no error returns.
//   - Import authcore or its sibling packages (no upward imports).
package cache
