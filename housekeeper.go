package authcore

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mailtrendz/authcore/store"
)

// housekeeper runs retention pruning off the request path. Issue and Rotate
// enqueue the principal; a single worker applies expiry cleanup and the
// per-principal retention cap. Failures are logged and counted, never
// surfaced to the caller that triggered them.
type housekeeper struct {
	cfg       HousekeeperConfig
	backend   store.Backend
	keep      int
	logger    *slog.Logger
	metrics   *Metrics
	ch        chan string
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newHousekeeper(cfg HousekeeperConfig, backend store.Backend, keep int, logger *slog.Logger, metrics *Metrics) *housekeeper {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}

	h := &housekeeper{
		cfg:     cfg,
		backend: backend,
		keep:    keep,
		logger:  logger,
		metrics: metrics,
		ch:      make(chan string, cfg.QueueSize),
		done:    make(chan struct{}),
	}

	h.wg.Add(1)
	go h.run()

	return h
}

func (h *housekeeper) run() {
	defer h.wg.Done()

	for {
		select {
		case principalID := <-h.ch:
			h.prune(principalID)
		case <-h.done:
			for {
				select {
				case principalID := <-h.ch:
					h.prune(principalID)
				default:
					return
				}
			}
		}
	}
}

func (h *housekeeper) prune(principalID string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.Timeout)
	defer cancel()

	if err := h.backend.Prune(ctx, principalID, h.keep); err != nil {
		h.metrics.Inc(MetricPruneFailure)
		h.logger.Warn("retention prune failed",
			slog.String("principal_id", principalID),
			slog.Any("error", err))
		return
	}
	h.metrics.Inc(MetricPruneRun)
}

// Schedule enqueues a prune for the principal. Never blocks; a full queue
// drops the job and bumps the dropped counter.
func (h *housekeeper) Schedule(principalID string) {
	if h == nil || h.closed.Load() {
		return
	}
	select {
	case h.ch <- principalID:
	case <-h.done:
	default:
		h.dropped.Add(1)
	}
}

// Close drains pending jobs and stops the worker.
func (h *housekeeper) Close() {
	if h == nil {
		return
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.done)
		h.wg.Wait()
	})
}

func (h *housekeeper) Dropped() uint64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}
