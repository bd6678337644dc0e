package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/mailtrendz/authcore/store"
)

// Rotate exchanges a valid refresh token for a new pair, revoking the old
// token first. Exactly one of two concurrent calls with the same token wins;
// the loser observes [ErrRefreshReuse].
//
// A reused token is a sign the credential leaked. With RevokeAllOnReuse set,
// detection escalates to revoking every refresh token of the principal.
func (e *Engine) Rotate(ctx context.Context, refreshToken string) (TokenPair, error) {
	if e == nil || e.codec == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	decoded, err := e.codec.DecodeRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRotateFailure)
		return TokenPair{}, ErrRefreshInvalid
	}

	record, err := e.store.RevokeForRotation(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyRevoked):
			return TokenPair{}, e.handleReuse(ctx, decoded.PrincipalID)
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrCorruptRecord):
			// No record for a token that decodes cleanly means it was pruned
			// after supersession. Same replay signal.
			return TokenPair{}, e.handleReuse(ctx, decoded.PrincipalID)
		default:
			e.metricInc(MetricRotateFailure)
			return TokenPair{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if record.PrincipalID != decoded.PrincipalID {
		e.metricInc(MetricRotateFailure)
		return TokenPair{}, ErrRefreshInvalid
	}

	principal, err := e.resolvePrincipal(ctx, decoded.PrincipalID)
	if err != nil {
		e.metricInc(MetricRotateFailure)
		return TokenPair{}, err
	}

	pair, err := e.Issue(ctx, principal)
	if err != nil {
		e.metricInc(MetricRotateFailure)
		return TokenPair{}, err
	}

	e.metricInc(MetricRotateSuccess)
	return pair, nil
}

func (e *Engine) handleReuse(ctx context.Context, principalID string) error {
	e.metricInc(MetricReplayDetected)
	e.metricInc(MetricRotateFailure)

	if !e.config.Security.RevokeAllOnReuse {
		return ErrRefreshReuse
	}

	if err := e.RevokeAll(ctx, principalID); err != nil {
		e.logger.Error("reuse escalation failed",
			"principal_id", principalID,
			"error", err)
	}
	return ErrRefreshReuse
}
