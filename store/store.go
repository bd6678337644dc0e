package store

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateToken is returned by Persist when a record for the exact token
// string already exists. Callers regenerate the token and retry a bounded
// number of times.
var ErrDuplicateToken = errors.New("refresh token already exists")

// ErrNotFound is returned when no live record matches the presented token.
// Expired records are reported as not found.
var ErrNotFound = errors.New("refresh token not found")

// ErrAlreadyRevoked is returned by RevokeForRotation when the matched record
// was already revoked. This is the replay signal.
var ErrAlreadyRevoked = errors.New("refresh token already revoked")

// ErrUnavailable wraps backend transport failures so callers can separate
// infrastructure faults from authentication outcomes.
var ErrUnavailable = errors.New("refresh token backend unavailable")

// ErrCorruptRecord is returned when a stored record cannot be decoded.
var ErrCorruptRecord = errors.New("refresh token record corrupt")

// Record is the durable state of one issued refresh token.
type Record struct {
	// Token is the raw refresh token string. It is never written to the
	// backend; records are keyed by its SHA-256 digest.
	Token       string
	PrincipalID string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Revoked     bool
	RevokedAt   time.Time
}

// Backend is the persistence contract for refresh-token records.
//
// Implementations must be safe for concurrent use. RevokeForRotation must be
// atomic per token value: of two concurrent calls with the same token exactly
// one receives the record and the other ErrAlreadyRevoked.
type Backend interface {
	// Persist inserts a new record. It fails with ErrDuplicateToken when a
	// record for the same token string already exists.
	Persist(ctx context.Context, rec Record) error

	// Find returns the live record for token, or ErrNotFound.
	Find(ctx context.Context, token string) (Record, error)

	// Revoke marks the record for (principalID, token) revoked. It is
	// idempotent: revoking an absent or already-revoked record is a no-op.
	Revoke(ctx context.Context, principalID, token string) error

	// RevokeForRotation atomically revokes a live record and returns its
	// pre-revocation state. It fails with ErrNotFound when no live record
	// matches and ErrAlreadyRevoked when the record was already revoked.
	RevokeForRotation(ctx context.Context, token string) (Record, error)

	// RevokeAll marks every non-revoked record for the principal revoked.
	RevokeAll(ctx context.Context, principalID string) error

	// Prune deletes the principal's expired and revoked records, then all
	// but the keep most-recent non-revoked ones.
	Prune(ctx context.Context, principalID string, keep int) error

	// ActiveCount reports the principal's live, non-revoked record count.
	ActiveCount(ctx context.Context, principalID string) (int, error)
}
