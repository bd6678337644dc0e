package authcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mailtrendz/authcore/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeProfileStore is an in-memory ProfileStore with call counting.
type fakeProfileStore struct {
	mu         sync.Mutex
	principals map[string]Principal
	calls      int
	err        error
}

func newFakeProfileStore(principals ...Principal) *fakeProfileStore {
	m := make(map[string]Principal, len(principals))
	for _, p := range principals {
		m[p.ID] = p
	}
	return &fakeProfileStore{principals: m}
}

func (f *fakeProfileStore) GetPrincipal(_ context.Context, principalID string) (Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return Principal{}, f.err
	}
	p, ok := f.principals[principalID]
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	return p, nil
}

func (f *fakeProfileStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProfileStore) SetTier(principalID, tier string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.principals[principalID]
	p.Tier = tier
	f.principals[principalID] = p
}

func (f *fakeProfileStore) Remove(principalID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.principals, principalID)
}

type fakeUsageStore struct {
	mu    sync.Mutex
	snaps map[string]UsageSnapshot
	calls int
	err   error
}

func (f *fakeUsageStore) GetUsage(_ context.Context, principalID string) (UsageSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return UsageSnapshot{}, f.err
	}
	snap, ok := f.snaps[principalID]
	if !ok {
		return UsageSnapshot{}, ErrPrincipalNotFound
	}
	return snap, nil
}

// flakyBackend wraps a Backend and forces the first persistFailures Persist
// calls to fail with the given error.
type flakyBackend struct {
	store.Backend
	mu              sync.Mutex
	persistFailures int
	persistErr      error
	persistCalls    int
}

func (f *flakyBackend) Persist(ctx context.Context, rec store.Record) error {
	f.mu.Lock()
	f.persistCalls++
	fail := f.persistFailures > 0
	if fail {
		f.persistFailures--
	}
	f.mu.Unlock()

	if fail {
		return f.persistErr
	}
	return f.Backend.Persist(ctx, rec)
}

type engineFixture struct {
	engine   *Engine
	clock    *fakeClock
	backend  store.Backend
	profiles *fakeProfileStore
	usage    *fakeUsageStore
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Token.AccessSecret = []byte("access-secret-for-tests")
	cfg.Token.RefreshSecret = []byte("refresh-secret-for-tests")
	cfg.Token.Issuer = "authcore-test"
	cfg.Metrics.Enabled = true
	return cfg
}

func newEngineFixture(t *testing.T, mutate func(*Config)) *engineFixture {
	t.Helper()

	clock := newFakeClock()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	backend := store.NewMemoryStore(clock.Now)
	profiles := newFakeProfileStore(
		Principal{ID: "p1", Email: "p1@example.com", Tier: "free"},
		Principal{ID: "p2", Email: "p2@example.com", Tier: "pro"},
	)
	usage := &fakeUsageStore{snaps: map[string]UsageSnapshot{
		"p1": {PrincipalID: "p1", ProjectsUsed: 2, ProjectsLimit: 3, AIRequests: 10, AILimit: 50},
	}}

	engine, err := New().
		WithConfig(cfg).
		WithStore(backend).
		WithProfileStore(profiles).
		WithUsageStore(usage).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &engineFixture{
		engine:   engine,
		clock:    clock,
		backend:  backend,
		profiles: profiles,
		usage:    usage,
	}
}
