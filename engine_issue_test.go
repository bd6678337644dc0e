package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mailtrendz/authcore/store"
)

func TestIssueReturnsUsablePair(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	pair, err := f.engine.Issue(ctx, Principal{ID: "p1", Email: "p1@example.com", Tier: "free"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("incomplete pair")
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Fatal("access and refresh tokens must differ")
	}
	if pair.ExpiresIn != int64((2 * time.Hour).Seconds()) {
		t.Fatalf("ExpiresIn = %d, want %d", pair.ExpiresIn, int64((2*time.Hour).Seconds()))
	}

	// The refresh record is durable before the pair is returned.
	rec, err := f.backend.Find(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh record not persisted: %v", err)
	}
	if rec.PrincipalID != "p1" || rec.Revoked {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// Issuance warms the token cache; the first Verify needs no profile call.
	payload, err := f.engine.Verify(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if payload.PrincipalID != "p1" || payload.Tier != "free" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if f.profiles.Calls() != 0 {
		t.Fatalf("expected warmed caches, profile store called %d times", f.profiles.Calls())
	}
}

func TestIssueRetriesOnDuplicateToken(t *testing.T) {
	clock := newFakeClock()
	backend := &flakyBackend{
		Backend:         store.NewMemoryStore(clock.Now),
		persistFailures: 2,
		persistErr:      store.ErrDuplicateToken,
	}
	profiles := newFakeProfileStore(Principal{ID: "p1", Tier: "free"})

	engine, err := New().
		WithConfig(testConfig()).
		WithStore(backend).
		WithProfileStore(profiles).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	pair, err := engine.Issue(context.Background(), Principal{ID: "p1", Tier: "free"})
	if err != nil {
		t.Fatalf("Issue should survive transient duplicates: %v", err)
	}
	if pair.RefreshToken == "" {
		t.Fatal("no refresh token returned")
	}
	if backend.persistCalls != 3 {
		t.Fatalf("expected 3 persist attempts, got %d", backend.persistCalls)
	}
	if got := engine.MetricsSnapshot().Counters[MetricIssueRetried]; got != 2 {
		t.Fatalf("expected 2 retry increments, got %d", got)
	}
}

func TestIssueFailsAfterRetryBudget(t *testing.T) {
	clock := newFakeClock()
	backend := &flakyBackend{
		Backend:         store.NewMemoryStore(clock.Now),
		persistFailures: 10,
		persistErr:      store.ErrDuplicateToken,
	}
	cfg := testConfig()
	cfg.Store.PersistRetries = 3

	engine, err := New().
		WithConfig(cfg).
		WithStore(backend).
		WithProfileStore(newFakeProfileStore()).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	_, err = engine.Issue(context.Background(), Principal{ID: "p1", Tier: "free"})
	if !errors.Is(err, ErrTokenGenerationFailed) {
		t.Fatalf("expected ErrTokenGenerationFailed, got %v", err)
	}
	if backend.persistCalls != 3 {
		t.Fatalf("retry budget not respected: %d attempts", backend.persistCalls)
	}
}

func TestIssueStoreOutageIsNotRetried(t *testing.T) {
	clock := newFakeClock()
	backend := &flakyBackend{
		Backend:         store.NewMemoryStore(clock.Now),
		persistFailures: 1,
		persistErr:      store.ErrUnavailable,
	}

	engine, err := New().
		WithConfig(testConfig()).
		WithStore(backend).
		WithProfileStore(newFakeProfileStore()).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	_, err = engine.Issue(context.Background(), Principal{ID: "p1", Tier: "free"})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if backend.persistCalls != 1 {
		t.Fatalf("outage must fail fast, got %d attempts", backend.persistCalls)
	}
}

func TestIssueRejectsEmptyPrincipal(t *testing.T) {
	f := newEngineFixture(t, nil)

	if _, err := f.engine.Issue(context.Background(), Principal{}); !errors.Is(err, ErrTokenGenerationFailed) {
		t.Fatalf("expected ErrTokenGenerationFailed, got %v", err)
	}
}

func TestIssueRefreshTokensUnique(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	seen := make(map[string]struct{})
	for i := 0; i < 32; i++ {
		pair, err := f.engine.Issue(ctx, Principal{ID: "p1", Tier: "free"})
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		if _, dup := seen[pair.RefreshToken]; dup {
			t.Fatal("duplicate refresh token within the same clock instant")
		}
		seen[pair.RefreshToken] = struct{}{}
	}
}

func TestIssueSchedulesRetentionPrune(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if _, err := f.engine.Issue(ctx, Principal{ID: "p1", Tier: "free"}); err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		f.clock.Advance(time.Second)
	}

	// Close drains the housekeeper queue, so all scheduled prunes complete.
	f.engine.Close()

	count, err := f.backend.ActiveCount(ctx, "p1")
	if err != nil {
		t.Fatalf("ActiveCount failed: %v", err)
	}
	if count > 5 {
		t.Fatalf("retention cap exceeded: %d live records", count)
	}
}
