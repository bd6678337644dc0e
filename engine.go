package authcore

import (
	"log/slog"
	"time"

	"github.com/mailtrendz/authcore/cache"
	"github.com/mailtrendz/authcore/store"
	"github.com/mailtrendz/authcore/token"
)

// Engine is the session/token lifecycle manager. Construct one through
// [Builder.Build]; all methods are then safe for concurrent use.
type Engine struct {
	config Config

	codec    *token.Codec
	store    store.Backend
	profiles ProfileStore
	usage    UsageStore

	tokenCache   *cache.Cache[TokenPayload]
	profileCache *cache.Cache[Principal]
	usageCache   *cache.Cache[UsageSnapshot]

	housekeeper *housekeeper
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// Close stops the housekeeper after draining queued prune jobs. The Engine
// must not be used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.housekeeper != nil {
		e.housekeeper.Close()
	}
}

// CacheStats reports live entry counts for the three caches.
func (e *Engine) CacheStats() CacheStats {
	if e == nil || e.tokenCache == nil {
		return CacheStats{}
	}
	return CacheStats{
		TokenCacheSize:   e.tokenCache.Len(),
		ProfileCacheSize: e.profileCache.Len(),
		UsageCacheSize:   e.usageCache.Len(),
	}
}

// ClearCaches empties all three caches. Intended for tests and operational
// resets; durable refresh records are unaffected.
func (e *Engine) ClearCaches() {
	if e == nil || e.tokenCache == nil {
		return
	}
	e.tokenCache.Clear()
	e.profileCache.Clear()
	e.usageCache.Clear()
}

// PruneDropped reports prune jobs discarded because the housekeeper queue
// was full.
func (e *Engine) PruneDropped() uint64 {
	if e == nil || e.housekeeper == nil {
		return 0
	}
	return e.housekeeper.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters. Empty maps when
// metrics are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func payloadFromToken(p token.Payload) TokenPayload {
	return TokenPayload{
		PrincipalID: p.PrincipalID,
		Email:       p.Email,
		Tier:        p.Tier,
		TokenID:     p.TokenID,
		IssuedAt:    p.IssuedAt,
		ExpiresAt:   p.ExpiresAt,
	}
}
