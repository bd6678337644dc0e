package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// testClock is shared mutable time for backend fixtures.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func makeRecord(token, principalID string, issued time.Time, ttl time.Duration) Record {
	return Record{
		Token:       token,
		PrincipalID: principalID,
		IssuedAt:    issued.Truncate(time.Second),
		ExpiresAt:   issued.Truncate(time.Second).Add(ttl),
	}
}

// runBackendConformance exercises the Backend contract against any
// implementation. Redis and memory fixtures both run it.
func runBackendConformance(t *testing.T, newBackend func(t *testing.T, clock *testClock) Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("persist and find", func(t *testing.T) {
		clock := newTestClock()
		b := newBackend(t, clock)

		rec := makeRecord("tok-1", "p1", clock.Now(), time.Hour)
		if err := b.Persist(ctx, rec); err != nil {
			t.Fatalf("Persist failed: %v", err)
		}

		got, err := b.Find(ctx, "tok-1")
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if got.Token != "tok-1" || got.PrincipalID != "p1" || got.Revoked {
			t.Fatalf("unexpected record: %+v", got)
		}
		if !got.IssuedAt.Equal(rec.IssuedAt) || !got.ExpiresAt.Equal(rec.ExpiresAt) {
			t.Fatalf("timestamps mangled: %+v vs %+v", got, rec)
		}
	})

	t.Run("persist duplicate", func(t *testing.T) {
		clock := newTestClock()
		b := newBackend(t, clock)

		rec := makeRecord("tok-dup", "p1", clock.Now(), time.Hour)
		if err := b.Persist(ctx, rec); err != nil {
			t.Fatalf("first Persist failed: %v", err)
		}
		if err := b.Persist(ctx, rec); !errors.Is(err, ErrDuplicateToken) {
			t.Fatalf("expected ErrDuplicateToken, got %v", err)
		}
	})

	t.Run("find missing", func(t *testing.T) {
		clock := newTestClock()
		b := newBackend(t, clock)

		if _, err := b.Find(ctx, "never-issued"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("find expired", func(t *testing.T) {
		clock := newTestClock()
		b := newBackend(t, clock)

		if err := b.Persist(ctx, makeRecord("tok-exp", "p1", clock.Now(), time.Hour)); err != nil {
			t.Fatalf("Persist failed: %v", err)
		}
		clock.Advance(2 * time.Hour)

		if _, err := b.Find(ctx, "tok-exp"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for expired record, got %v", err)
		}
	})

	t.Run("rotation single use", func(t *testing.T) {
		clock := newTestClock()
		b := newBackend(t, clock)

		if err := b.Persist(ctx, makeRecord("tok-rot", "p1", clock.Now(), time.Hour)); err != nil {
			t.Fatalf("Persist failed: %v", err)
		}

		rec, err := b.RevokeForRotation(ctx, "tok-rot")
		if err != nil {
			t.Fatalf("RevokeForRotation failed: %v", err)
		}
		if rec.PrincipalID != "p1" || rec.Revoked {
			t.Fatalf("expected pre-revocation record, got %+v", rec)
		}

		if _, err := b.RevokeForRotation(ctx, "tok-rot"); !errors.Is(err, ErrAlreadyRevoked) {
			t.Fatalf("expected ErrAlreadyRevoked on replay, got %v", err)
		}
		if _, err := b.RevokeForRotation(ctx, "tok-unknown"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for unknown token, got %v", err)
		}
	})

	t.Run("rotation race single winner", func(t *testing.T) {
		clock := newTestClock()
		b := newBackend(t, clock)

		if err := b.Persist(ctx, makeRecord("tok-race", "p1", clock.Now(), time.Hour)); err != nil {
			t.Fatalf("Persist failed: %v", err)
		}

		const workers = 16
		start := make(chan struct{})
		results := make(chan error, workers)
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				<-start
				_, err := b.RevokeForRotation(ctx, "tok-race")
				results <- err
			}()
		}
		close(start)
		wg.Wait()
		close(results)

		winners := 0
		for err := range results {
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrAlreadyRevoked):
			default:
				t.Fatalf("unexpected rotation error: %v", err)
			}
		}
		if winners != 1 {
			t.Fatalf("expected exactly one winner, got %d", winners)
		}
	})

	t.Run("revoke idempotent and principal scoped", func(t *testing.T) {
		clock := newTestClock()
		b := newBackend(t, clock)

		if err := b.Persist(ctx, makeRecord("tok-rev", "p1", clock.Now(), time.Hour)); err != nil {
			t.Fatalf("Persist failed: %v", err)
		}

		// Wrong principal must not touch the record.
		if err := b.Revoke(ctx, "someone-else", "tok-rev"); err != nil {
			t.Fatalf("Revoke (wrong principal) failed: %v", err)
		}
		if rec, err := b.Find(ctx, "tok-rev"); err != nil || rec.Revoked {
			t.Fatalf("record damaged by foreign revoke: %+v %v", rec, err)
		}

		if err := b.Revoke(ctx, "p1", "tok-rev"); err != nil {
			t.Fatalf("Revoke failed: %v", err)
		}
		if err := b.Revoke(ctx, "p1", "tok-rev"); err != nil {
			t.Fatalf("repeat Revoke not idempotent: %v", err)
		}
		if err := b.Revoke(ctx, "p1", "tok-never-issued"); err != nil {
			t.Fatalf("Revoke of absent token not a no-op: %v", err)
		}

		rec, err := b.Find(ctx, "tok-rev")
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if !rec.Revoked || rec.RevokedAt.IsZero() {
			t.Fatalf("record not marked revoked: %+v", rec)
		}
	})

	t.Run("revoke all", func(t *testing.T) {
		clock := newTestClock()
		b := newBackend(t, clock)

		for i := 0; i < 3; i++ {
			rec := makeRecord(fmt.Sprintf("tok-all-%d", i), "p1", clock.Now(), time.Hour)
			if err := b.Persist(ctx, rec); err != nil {
				t.Fatalf("Persist failed: %v", err)
			}
			clock.Advance(time.Second)
		}
		if err := b.Persist(ctx, makeRecord("tok-other", "p2", clock.Now(), time.Hour)); err != nil {
			t.Fatalf("Persist failed: %v", err)
		}

		if err := b.RevokeAll(ctx, "p1"); err != nil {
			t.Fatalf("RevokeAll failed: %v", err)
		}

		for i := 0; i < 3; i++ {
			tok := fmt.Sprintf("tok-all-%d", i)
			if _, err := b.RevokeForRotation(ctx, tok); !errors.Is(err, ErrAlreadyRevoked) {
				t.Fatalf("token %s still rotatable after RevokeAll: %v", tok, err)
			}
		}
		count, err := b.ActiveCount(ctx, "p1")
		if err != nil || count != 0 {
			t.Fatalf("expected zero active records, got %d (%v)", count, err)
		}

		// Other principals are untouched.
		if rec, err := b.Find(ctx, "tok-other"); err != nil || rec.Revoked {
			t.Fatalf("foreign principal affected by RevokeAll: %+v %v", rec, err)
		}
	})

	t.Run("prune retention cap", func(t *testing.T) {
		clock := newTestClock()
		b := newBackend(t, clock)

		for i := 0; i < 7; i++ {
			rec := makeRecord(fmt.Sprintf("tok-keep-%d", i), "p1", clock.Now(), time.Hour*24)
			if err := b.Persist(ctx, rec); err != nil {
				t.Fatalf("Persist failed: %v", err)
			}
			clock.Advance(time.Second)
		}

		if err := b.Prune(ctx, "p1", 5); err != nil {
			t.Fatalf("Prune failed: %v", err)
		}

		count, err := b.ActiveCount(ctx, "p1")
		if err != nil {
			t.Fatalf("ActiveCount failed: %v", err)
		}
		if count != 5 {
			t.Fatalf("expected 5 surviving records, got %d", count)
		}
		// The two oldest are gone, the five newest survive.
		for i := 0; i < 2; i++ {
			if _, err := b.Find(ctx, fmt.Sprintf("tok-keep-%d", i)); !errors.Is(err, ErrNotFound) {
				t.Fatalf("old record %d survived prune: %v", i, err)
			}
		}
		for i := 2; i < 7; i++ {
			if _, err := b.Find(ctx, fmt.Sprintf("tok-keep-%d", i)); err != nil {
				t.Fatalf("recent record %d pruned: %v", i, err)
			}
		}
	})

	t.Run("prune drops revoked and expired", func(t *testing.T) {
		clock := newTestClock()
		b := newBackend(t, clock)

		if err := b.Persist(ctx, makeRecord("tok-a", "p1", clock.Now(), time.Minute)); err != nil {
			t.Fatalf("Persist failed: %v", err)
		}
		clock.Advance(time.Second)
		if err := b.Persist(ctx, makeRecord("tok-b", "p1", clock.Now(), time.Hour)); err != nil {
			t.Fatalf("Persist failed: %v", err)
		}
		clock.Advance(time.Second)
		if err := b.Persist(ctx, makeRecord("tok-c", "p1", clock.Now(), time.Hour)); err != nil {
			t.Fatalf("Persist failed: %v", err)
		}

		if err := b.Revoke(ctx, "p1", "tok-b"); err != nil {
			t.Fatalf("Revoke failed: %v", err)
		}
		clock.Advance(2 * time.Minute) // tok-a now expired

		if err := b.Prune(ctx, "p1", 5); err != nil {
			t.Fatalf("Prune failed: %v", err)
		}

		count, err := b.ActiveCount(ctx, "p1")
		if err != nil || count != 1 {
			t.Fatalf("expected exactly tok-c to survive, got %d (%v)", count, err)
		}
		if _, err := b.Find(ctx, "tok-c"); err != nil {
			t.Fatalf("live record pruned: %v", err)
		}
	})
}
