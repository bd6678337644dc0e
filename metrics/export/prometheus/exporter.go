// Package prometheus exposes authcore engine metrics as a
// prometheus.Collector.
//
// The collector reads counter snapshots and cache sizes on every scrape; it
// never mutates engine state and is not registered anywhere by default;
// callers add it to their own registry.
package prometheus

import (
	prom "github.com/prometheus/client_golang/prometheus"

	authcore "github.com/mailtrendz/authcore"
)

// Source is the engine surface the collector scrapes. *authcore.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	CacheStats() authcore.CacheStats
	PruneDropped() uint64
}

type counterDef struct {
	id   authcore.MetricID
	name string
	help string
}

var counterDefs = []counterDef{
	{authcore.MetricIssueSuccess, "authcore_issue_success_total", "Token pairs issued."},
	{authcore.MetricIssueFailure, "authcore_issue_failure_total", "Issuances that failed."},
	{authcore.MetricIssueRetried, "authcore_issue_retried_total", "Duplicate-token regeneration attempts."},
	{authcore.MetricVerifyCacheHit, "authcore_verify_cache_hit_total", "Verifications served from the token cache."},
	{authcore.MetricVerifyCacheMiss, "authcore_verify_cache_miss_total", "Verifications that reached the codec."},
	{authcore.MetricVerifySuccess, "authcore_verify_success_total", "Verifications that resolved a payload."},
	{authcore.MetricVerifyFailure, "authcore_verify_failure_total", "Verifications denied."},
	{authcore.MetricPrincipalNotFound, "authcore_principal_not_found_total", "Valid tokens whose principal no longer exists."},
	{authcore.MetricRotateSuccess, "authcore_rotate_success_total", "Completed refresh rotations."},
	{authcore.MetricRotateFailure, "authcore_rotate_failure_total", "Rotations denied."},
	{authcore.MetricReplayDetected, "authcore_replay_detected_total", "Refresh tokens presented after supersession."},
	{authcore.MetricRevoke, "authcore_revoke_total", "Single-token revocations."},
	{authcore.MetricRevokeAll, "authcore_revoke_all_total", "Full-principal revocations."},
	{authcore.MetricPruneRun, "authcore_prune_run_total", "Completed retention prunes."},
	{authcore.MetricPruneFailure, "authcore_prune_failure_total", "Retention prunes that errored."},
}

// latencyBounds mirrors the engine's fixed histogram buckets, in seconds.
var latencyBounds = []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.005, 0.025}

// Collector scrapes an engine on Collect. Safe for concurrent scrapes.
type Collector struct {
	source Source

	counterDescs map[authcore.MetricID]*prom.Desc
	latencyDesc  *prom.Desc
	tokenCache   *prom.Desc
	profileCache *prom.Desc
	usageCache   *prom.Desc
	pruneDropped *prom.Desc
}

// NewCollector returns a collector over the given source.
func NewCollector(source Source) *Collector {
	c := &Collector{
		source:       source,
		counterDescs: make(map[authcore.MetricID]*prom.Desc, len(counterDefs)),
		latencyDesc: prom.NewDesc("authcore_verify_latency_seconds",
			"Access-token verification latency.", nil, nil),
		tokenCache: prom.NewDesc("authcore_token_cache_entries",
			"Live token cache entries.", nil, nil),
		profileCache: prom.NewDesc("authcore_profile_cache_entries",
			"Live profile cache entries.", nil, nil),
		usageCache: prom.NewDesc("authcore_usage_cache_entries",
			"Live usage cache entries.", nil, nil),
		pruneDropped: prom.NewDesc("authcore_prune_dropped_total",
			"Prune jobs dropped due to housekeeper backpressure.", nil, nil),
	}
	for _, def := range counterDefs {
		c.counterDescs[def.id] = prom.NewDesc(def.name, def.help, nil, nil)
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prom.Desc) {
	for _, def := range counterDefs {
		ch <- c.counterDescs[def.id]
	}
	ch <- c.latencyDesc
	ch <- c.tokenCache
	ch <- c.profileCache
	ch <- c.usageCache
	ch <- c.pruneDropped
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prom.Metric) {
	snap := c.source.MetricsSnapshot()

	for _, def := range counterDefs {
		ch <- prom.MustNewConstMetric(
			c.counterDescs[def.id], prom.CounterValue, float64(snap.Counters[def.id]))
	}

	if buckets, ok := snap.Histograms[authcore.MetricVerifyLatency]; ok {
		ch <- constHistogram(c.latencyDesc, buckets)
	}

	stats := c.source.CacheStats()
	ch <- prom.MustNewConstMetric(c.tokenCache, prom.GaugeValue, float64(stats.TokenCacheSize))
	ch <- prom.MustNewConstMetric(c.profileCache, prom.GaugeValue, float64(stats.ProfileCacheSize))
	ch <- prom.MustNewConstMetric(c.usageCache, prom.GaugeValue, float64(stats.UsageCacheSize))
	ch <- prom.MustNewConstMetric(c.pruneDropped, prom.CounterValue, float64(c.source.PruneDropped()))
}

// constHistogram converts the engine's per-bucket counts into the cumulative
// form client_golang expects. The last engine bucket is the overflow bucket
// and only contributes to the total count.
func constHistogram(desc *prom.Desc, raw []uint64) prom.Metric {
	cumulative := make(map[float64]uint64, len(latencyBounds))
	var count uint64
	for i, v := range raw {
		count += v
		if i < len(latencyBounds) {
			cumulative[latencyBounds[i]] = count
		}
	}
	return prom.MustNewConstHistogram(desc, count, 0, cumulative)
}
