//go:build integration
// +build integration

package test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	authcore "github.com/mailtrendz/authcore"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type profileStore struct {
	mu         sync.Mutex
	principals map[string]authcore.Principal
}

func (p *profileStore) GetPrincipal(_ context.Context, principalID string) (authcore.Principal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	principal, ok := p.principals[principalID]
	if !ok {
		return authcore.Principal{}, authcore.ErrPrincipalNotFound
	}
	return principal, nil
}

// newRedisEngine builds an Engine over a miniredis-backed store, the way a
// production deployment wires it through WithRedis.
func newRedisEngine(t *testing.T, clk *clock) (*authcore.Engine, *profileStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	profiles := &profileStore{principals: map[string]authcore.Principal{
		"u1": {ID: "u1", Email: "u1@example.com", Tier: "free"},
		"u2": {ID: "u2", Email: "u2@example.com", Tier: "pro"},
	}}

	cfg := authcore.Config{
		Token: authcore.TokenConfig{
			AccessSecret:  []byte("integration-access-secret"),
			RefreshSecret: []byte("integration-refresh-secret"),
			Issuer:        "authcore-integration",
			AccessTTL:     2 * time.Hour,
			RefreshTTL:    7 * 24 * time.Hour,
		},
		Cache: authcore.CacheConfig{
			TokenTTL:   30 * time.Minute,
			ProfileTTL: 60 * time.Minute,
			UsageTTL:   30 * time.Minute,
			MaxEntries: 5000,
		},
		Store: authcore.StoreConfig{
			RedisPrefix:    "ac",
			PersistRetries: 3,
			RetentionKeep:  5,
		},
		Housekeeper: authcore.HousekeeperConfig{
			QueueSize: 64,
			Timeout:   time.Second,
		},
		Metrics: authcore.MetricsConfig{Enabled: true},
	}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithProfileStore(profiles).
		WithClock(clk.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, profiles
}
