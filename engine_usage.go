package authcore

import (
	"context"
	"errors"
	"fmt"
)

// Usage returns the principal's usage snapshot through the usage cache.
// Requires an Engine built with [Builder.WithUsageStore].
func (e *Engine) Usage(ctx context.Context, principalID string) (UsageSnapshot, error) {
	if e == nil || e.usageCache == nil {
		return UsageSnapshot{}, ErrEngineNotReady
	}
	if e.usage == nil {
		return UsageSnapshot{}, errors.New("no usage store configured")
	}

	if snap, ok := e.usageCache.Get(principalID); ok {
		return snap, nil
	}

	snap, err := e.usage.GetUsage(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return UsageSnapshot{}, ErrPrincipalNotFound
		}
		return UsageSnapshot{}, fmt.Errorf("%w: %v", ErrUsageUnavailable, err)
	}

	e.usageCache.Set(principalID, snap)
	return snap, nil
}

// ActiveRefreshTokens counts the principal's live refresh records. Intended
// for device-management views and diagnostics.
func (e *Engine) ActiveRefreshTokens(ctx context.Context, principalID string) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}

	count, err := e.store.ActiveCount(ctx, principalID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}
