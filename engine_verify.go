package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/mailtrendz/authcore/token"
)

// Verify resolves an access token to its payload.
//
// The fast path is a token-cache hit on the raw string. On a miss the token
// is decoded and the principal's tier re-resolved through the profile cache,
// so a server-side tier change is visible before the token's natural expiry.
// A token for a deleted principal fails with [ErrPrincipalNotFound] even
// when its signature is valid.
func (e *Engine) Verify(ctx context.Context, accessToken string) (TokenPayload, error) {
	if e == nil || e.codec == nil {
		return TokenPayload{}, ErrEngineNotReady
	}

	start := e.now()

	if payload, ok := e.tokenCache.Get(accessToken); ok {
		e.metricInc(MetricVerifyCacheHit)
		e.metricInc(MetricVerifySuccess)
		if e.metrics.Enabled() {
			e.metrics.Observe(MetricVerifyLatency, e.now().Sub(start))
		}
		return payload, nil
	}
	e.metricInc(MetricVerifyCacheMiss)

	decoded, err := e.codec.DecodeAccess(accessToken)
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		switch {
		case errors.Is(err, token.ErrExpired):
			return TokenPayload{}, ErrTokenExpired
		case errors.Is(err, token.ErrSignatureInvalid):
			return TokenPayload{}, ErrTokenInvalid
		default:
			return TokenPayload{}, ErrTokenInvalid
		}
	}

	principal, err := e.resolvePrincipal(ctx, decoded.PrincipalID)
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		return TokenPayload{}, err
	}

	// Tier and email come from the resolved principal, not the embedded
	// claims; the claims were only the seed at issuance time.
	payload := TokenPayload{
		PrincipalID: principal.ID,
		Email:       principal.Email,
		Tier:        principal.Tier,
		TokenID:     decoded.TokenID,
		IssuedAt:    decoded.IssuedAt,
		ExpiresAt:   decoded.ExpiresAt,
	}
	// Cap the cache entry at the token's own expiry; a cache hit must never
	// outlive the token.
	e.tokenCache.SetUntil(accessToken, payload, payload.ExpiresAt)

	e.metricInc(MetricVerifySuccess)
	if e.metrics.Enabled() {
		e.metrics.Observe(MetricVerifyLatency, e.now().Sub(start))
	}
	return payload, nil
}

// resolvePrincipal reads the profile cache first and falls back to the
// profile store, caching the result.
func (e *Engine) resolvePrincipal(ctx context.Context, principalID string) (Principal, error) {
	if principal, ok := e.profileCache.Get(principalID); ok {
		return principal, nil
	}

	principal, err := e.profiles.GetPrincipal(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			e.metricInc(MetricPrincipalNotFound)
			return Principal{}, ErrPrincipalNotFound
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.profileCache.Set(principalID, principal)
	return principal, nil
}
