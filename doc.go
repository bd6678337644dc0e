// Package authcore manages the session/token lifecycle for a multi-tenant
// SaaS backend: issuance of signed access/refresh token pairs, cache-first
// verification, single-use refresh rotation with replay detection, revocation,
// and background retention pruning.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (TokenPair, TokenPayload, CacheStats, MetricsSnapshot).
// Token signing lives in the token sub-package, durable refresh-token records
// in store, and the bounded TTL caches in cache; callers never touch those
// directly except to choose a store backend.
//
// # What this package must NOT do
//
//   - Parse or interpret token strings on behalf of callers; tokens are
//     opaque outside this subsystem.
//   - Perform I/O during construction (Builder is allocation-only until
//     Build).
//   - Surface backend outages as authentication failures; ErrStoreUnavailable
//     and the 401-class errors are disjoint.
//
// # Performance contract
//
// Verify is the hot path. A token-cache hit completes without decoding and
// without touching the profile store. Issue and Rotate are allowed one store
// round-trip plus the bounded persist retries; retention pruning never runs
// in the request path.
package authcore
