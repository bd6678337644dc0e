package authcore

import (
	"errors"
	"time"
)

// Config carries all Engine tuning. Zero values are filled from
// defaultConfig by [New]; a Config passed to [Builder.WithConfig] replaces
// the defaults wholesale and must pass Validate.
type Config struct {
	Token       TokenConfig
	Cache       CacheConfig
	Store       StoreConfig
	Security    SecurityConfig
	Housekeeper HousekeeperConfig
	Metrics     MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls signing and lifetimes of the two token kinds.
type TokenConfig struct {
	// AccessSecret and RefreshSecret must differ; independent secrets keep an
	// access token from ever being replayed as a refresh token.
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

/*
====================================
CACHE CONFIG
====================================
*/

// CacheConfig bounds the three in-memory caches. MaxEntries is a soft cap
// enforced on write; expiry is always re-checked on read.
type CacheConfig struct {
	TokenTTL   time.Duration
	ProfileTTL time.Duration
	UsageTTL   time.Duration
	MaxEntries int
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig controls the refresh-token backend.
type StoreConfig struct {
	// RedisPrefix namespaces keys when the Engine builds its own Redis store.
	RedisPrefix string
	// PersistRetries bounds regeneration attempts on a duplicate token string
	// before issuance fails with ErrTokenGenerationFailed.
	PersistRetries int
	// RetentionKeep is the number of most-recent live refresh records kept
	// per principal by the housekeeper.
	RetentionKeep int
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig selects the compromise response.
type SecurityConfig struct {
	// RevokeAllOnReuse escalates a detected refresh-token replay to a full
	// revocation of the principal's refresh tokens.
	RevokeAllOnReuse bool
}

/*
====================================
HOUSEKEEPER CONFIG
====================================
*/

// HousekeeperConfig tunes background retention pruning.
type HousekeeperConfig struct {
	// QueueSize bounds pending prune jobs; when full, new jobs are dropped
	// and counted rather than blocking the issue path.
	QueueSize int
	// Timeout caps a single prune pass against the store.
	Timeout time.Duration
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig enables the engine counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:  2 * time.Hour,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Cache: CacheConfig{
			TokenTTL:   30 * time.Minute,
			ProfileTTL: 60 * time.Minute,
			UsageTTL:   30 * time.Minute,
			MaxEntries: 5000,
		},
		Store: StoreConfig{
			RedisPrefix:    "ac",
			PersistRetries: 3,
			RetentionKeep:  5,
		},
		Security: SecurityConfig{
			RevokeAllOnReuse: false,
		},
		Housekeeper: HousekeeperConfig{
			QueueSize: 256,
			Timeout:   5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.AccessSecret = cloneBytes(cfg.Token.AccessSecret)
	out.Token.RefreshSecret = cloneBytes(cfg.Token.RefreshSecret)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations the Engine cannot run safely with. Secret
// validation is left to the token codec, which owns that contract.
func (c *Config) Validate() error {
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must exceed AccessTTL")
	}

	if c.Cache.TokenTTL <= 0 || c.Cache.ProfileTTL <= 0 || c.Cache.UsageTTL <= 0 {
		return errors.New("Cache TTLs must be > 0")
	}
	if c.Cache.MaxEntries <= 0 {
		return errors.New("Cache MaxEntries must be > 0")
	}

	if c.Store.PersistRetries <= 0 {
		return errors.New("Store PersistRetries must be > 0")
	}
	if c.Store.RetentionKeep <= 0 {
		return errors.New("Store RetentionKeep must be > 0")
	}

	if c.Housekeeper.QueueSize <= 0 {
		return errors.New("Housekeeper QueueSize must be > 0")
	}
	if c.Housekeeper.Timeout <= 0 {
		return errors.New("Housekeeper Timeout must be > 0")
	}

	return nil
}
