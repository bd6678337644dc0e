package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/mailtrendz/authcore/store"
)

// Issue mints an access/refresh pair for the principal, persists the refresh
// record, warms the caches, and schedules retention pruning. A pair is never
// returned without a durable refresh record.
func (e *Engine) Issue(ctx context.Context, principal Principal) (TokenPair, error) {
	if e == nil || e.codec == nil {
		return TokenPair{}, ErrEngineNotReady
	}
	if principal.ID == "" {
		e.metricInc(MetricIssueFailure)
		return TokenPair{}, fmt.Errorf("%w: empty principal id", ErrTokenGenerationFailed)
	}

	refreshToken, err := e.persistRefresh(ctx, principal)
	if err != nil {
		e.metricInc(MetricIssueFailure)
		return TokenPair{}, err
	}

	accessToken, accessPayload, err := e.codec.EncodeAccess(
		principal.ID, principal.Email, principal.Tier, e.config.Token.AccessTTL)
	if err != nil {
		e.metricInc(MetricIssueFailure)
		return TokenPair{}, fmt.Errorf("%w: %v", ErrTokenGenerationFailed, err)
	}

	payload := payloadFromToken(accessPayload)
	e.tokenCache.SetUntil(accessToken, payload, payload.ExpiresAt)
	e.profileCache.Set(principal.ID, principal)

	e.housekeeper.Schedule(principal.ID)
	e.metricInc(MetricIssueSuccess)

	// Remaining lifetime from the actual expiry, so the countdown stays
	// accurate regardless of encode latency.
	expiresIn := int64(accessPayload.ExpiresAt.Sub(e.now()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
	}, nil
}

// persistRefresh mints and stores the refresh token, regenerating on a
// duplicate token string. The retry budget is defensive; with a random
// component in every token id the duplicate path should never be reached.
func (e *Engine) persistRefresh(ctx context.Context, principal Principal) (string, error) {
	var lastErr error
	for attempt := 0; attempt < e.config.Store.PersistRetries; attempt++ {
		if attempt > 0 {
			e.metricInc(MetricIssueRetried)
		}

		refreshToken, refreshPayload, err := e.codec.EncodeRefresh(
			principal.ID, principal.Email, principal.Tier, e.config.Token.RefreshTTL)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrTokenGenerationFailed, err)
		}

		err = e.store.Persist(ctx, store.Record{
			Token:       refreshToken,
			PrincipalID: principal.ID,
			IssuedAt:    refreshPayload.IssuedAt,
			ExpiresAt:   refreshPayload.ExpiresAt,
		})
		if err == nil {
			return refreshToken, nil
		}
		if !errors.Is(err, store.ErrDuplicateToken) {
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: %v", ErrTokenGenerationFailed, lastErr)
}
