package authcore

import (
	"context"
	"time"
)

// Principal is the identity a token pair represents. It is supplied by the
// external profile store and treated as read-only input.
type Principal struct {
	ID    string
	Email string
	// Tier is the subscription tier ("free", "pro", ...). It can change
	// server-side faster than a token expires, so verification re-resolves it
	// through the profile cache instead of trusting the embedded claim.
	Tier string
}

// TokenPair is the result of issuance and rotation.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the remaining access-token lifetime in seconds, computed
	// from the decoded expiry rather than a fixed constant.
	ExpiresIn int64
}

// TokenPayload is the verified claim set resolved from an access token. Tier
// reflects the profile store's current value, not the issuance-time claim.
type TokenPayload struct {
	PrincipalID string
	Email       string
	Tier        string
	TokenID     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// UsageSnapshot is a point-in-time view of a principal's plan consumption,
// served through the usage cache.
type UsageSnapshot struct {
	PrincipalID   string
	ProjectsUsed  int
	ProjectsLimit int
	AIRequests    int
	AILimit       int
	PeriodEnd     time.Time
}

// ProfileStore is the external source of principal identity and subscription
// tier. Implementations return [ErrPrincipalNotFound] for unknown or
// deactivated principals.
type ProfileStore interface {
	GetPrincipal(ctx context.Context, principalID string) (Principal, error)
}

// UsageStore is the external source of usage snapshots. Optional; an Engine
// built without one rejects Usage calls.
type UsageStore interface {
	GetUsage(ctx context.Context, principalID string) (UsageSnapshot, error)
}

// CacheStats reports the live entry counts of the three caches.
type CacheStats struct {
	TokenCacheSize   int
	ProfileCacheSize int
	UsageCacheSize   int
}
