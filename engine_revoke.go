package authcore

import (
	"context"
	"fmt"
)

// RevokeOne revokes a single refresh token. Idempotent; revoking an absent
// or already-revoked token succeeds. Refresh tokens are never cached, so no
// cache action is needed.
func (e *Engine) RevokeOne(ctx context.Context, principalID, refreshToken string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	if err := e.store.Revoke(ctx, principalID, refreshToken); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricRevoke)
	return nil
}

// RevokeAll revokes every refresh token of the principal and purges all
// cached state for them. Access tokens already issued stay cryptographically
// valid until their own expiry; only refresh is blocked. That bounded
// staleness window equals the access-token TTL.
func (e *Engine) RevokeAll(ctx context.Context, principalID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	if err := e.store.RevokeAll(ctx, principalID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.tokenCache.InvalidateMatching(func(_ string, payload TokenPayload) bool {
		return payload.PrincipalID == principalID
	})
	e.profileCache.Invalidate(principalID)
	e.usageCache.Invalidate(principalID)

	e.metricInc(MetricRevokeAll)
	return nil
}
