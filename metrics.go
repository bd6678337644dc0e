package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricIssueSuccess counts token pairs returned to callers.
	MetricIssueSuccess MetricID = iota
	// MetricIssueFailure counts issuances that failed after retries.
	MetricIssueFailure
	// MetricIssueRetried counts duplicate-token regeneration attempts.
	MetricIssueRetried
	// MetricVerifyCacheHit counts verifications served from the token cache.
	MetricVerifyCacheHit
	// MetricVerifyCacheMiss counts verifications that reached the codec.
	MetricVerifyCacheMiss
	// MetricVerifySuccess counts verifications that resolved a payload.
	MetricVerifySuccess
	// MetricVerifyFailure counts verifications denied for any reason.
	MetricVerifyFailure
	// MetricPrincipalNotFound counts valid signatures whose principal is gone.
	MetricPrincipalNotFound
	// MetricRotateSuccess counts completed refresh rotations.
	MetricRotateSuccess
	// MetricRotateFailure counts rotations denied before the swap.
	MetricRotateFailure
	// MetricReplayDetected counts refresh tokens presented after supersession.
	MetricReplayDetected
	// MetricRevoke counts single-token revocations.
	MetricRevoke
	// MetricRevokeAll counts full-principal revocations, including escalations.
	MetricRevokeAll
	// MetricPruneRun counts completed housekeeper passes.
	MetricPruneRun
	// MetricPruneFailure counts housekeeper passes that errored.
	MetricPruneFailure
	// MetricVerifyLatency is the verification latency histogram.
	MetricVerifyLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// paddedCounter keeps each counter on its own cache line so concurrent
// request workers do not false-share.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed-size set of atomic counters. A nil or disabled Metrics
// is a no-op on every method.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the latency histogram. Only MetricVerifyLatency
// carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id != MetricVerifyLatency {
		return
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricVerifyLatency].buckets[i])
		}
		s.Histograms[MetricVerifyLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	us := d.Microseconds()

	switch {
	case us <= 50:
		return 0
	case us <= 100:
		return 1
	case us <= 250:
		return 2
	case us <= 500:
		return 3
	case us <= 1000:
		return 4
	case us <= 5000:
		return 5
	case us <= 25000:
		return 6
	default:
		return 7
	}
}
