package authcore

import (
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mailtrendz/authcore/cache"
	"github.com/mailtrendz/authcore/store"
	"github.com/mailtrendz/authcore/token"
)

// Builder assembles an [Engine]. Construction is allocation-only; no I/O
// happens until the Engine's methods are called.
type Builder struct {
	config Config

	redis   redis.UniversalClient
	backend store.Backend

	profiles ProfileStore
	usage    UsageStore

	logger *slog.Logger
	clock  func() time.Time

	built bool
}

// New starts a Builder with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the default configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis selects a Redis-backed refresh-token store built at Build time
// using Config.Store.RedisPrefix. Ignored when WithStore is also set.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore supplies a refresh-token backend directly, e.g.
// [store.NewPostgresStore] or [store.NewMemoryStore].
func (b *Builder) WithStore(backend store.Backend) *Builder {
	b.backend = backend
	return b
}

// WithProfileStore supplies the external principal source. Required.
func (b *Builder) WithProfileStore(ps ProfileStore) *Builder {
	b.profiles = ps
	return b
}

// WithUsageStore supplies the external usage-snapshot source. Optional.
func (b *Builder) WithUsageStore(us UsageStore) *Builder {
	b.usage = us
	return b
}

// WithLogger supplies the structured logger for background failures.
// Defaults to slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock injects the time source used for issuance, expiry checks, and
// cache TTLs. Defaults to time.Now.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles the engine counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the verification latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires the caches, codec, store, and
// housekeeper, and returns a ready Engine. A Builder can build once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.profiles == nil {
		return nil, errors.New("profile store required")
	}

	backend := b.backend
	if backend == nil {
		if b.redis == nil {
			return nil, errors.New("refresh token store required: use WithStore or WithRedis")
		}
		backend = store.NewRedisStore(b.redis, cfg.Store.RedisPrefix, b.clock)
	}

	codec, err := token.NewCodec(token.Config{
		AccessSecret:  cfg.Token.AccessSecret,
		RefreshSecret: cfg.Token.RefreshSecret,
		Issuer:        cfg.Token.Issuer,
		Now:           b.clock,
	})
	if err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := NewMetrics(cfg.Metrics)

	e := &Engine{
		config:       cfg,
		codec:        codec,
		store:        backend,
		profiles:     b.profiles,
		usage:        b.usage,
		tokenCache:   cache.New[TokenPayload](cfg.Cache.TokenTTL, cfg.Cache.MaxEntries, clock),
		profileCache: cache.New[Principal](cfg.Cache.ProfileTTL, cfg.Cache.MaxEntries, clock),
		usageCache:   cache.New[UsageSnapshot](cfg.Cache.UsageTTL, cfg.Cache.MaxEntries, clock),
		metrics:      metrics,
		logger:       logger,
		now:          clock,
	}
	e.housekeeper = newHousekeeper(cfg.Housekeeper, backend, cfg.Store.RetentionKeep, logger, metrics)

	b.built = true
	return e, nil
}
