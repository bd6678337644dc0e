package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local [Backend] for tests and single-process
// embedding. It mirrors the semantics of the durable backends, including the
// single-winner guarantee of RevokeForRotation.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryStore returns an empty store. now is the clock used for expiry
// decisions; nil means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		records: make(map[string]Record),
		now:     now,
	}
}

// Persist implements [Backend].
func (s *MemoryStore) Persist(_ context.Context, rec Record) error {
	member := tokenMember(rec.Token)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[member]; exists {
		return ErrDuplicateToken
	}
	s.records[member] = rec
	return nil
}

// Find implements [Backend].
func (s *MemoryStore) Find(_ context.Context, token string) (Record, error) {
	member := tokenMember(token)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[member]
	if !ok || !rec.ExpiresAt.After(s.now()) {
		delete(s.records, member)
		return Record{}, ErrNotFound
	}
	rec.Token = token
	return rec, nil
}

// Revoke implements [Backend].
func (s *MemoryStore) Revoke(_ context.Context, principalID, token string) error {
	member := tokenMember(token)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[member]
	if !ok || rec.Revoked || rec.PrincipalID != principalID || !rec.ExpiresAt.After(s.now()) {
		return nil
	}
	rec.Revoked = true
	rec.RevokedAt = s.now()
	s.records[member] = rec
	return nil
}

// RevokeForRotation implements [Backend].
func (s *MemoryStore) RevokeForRotation(_ context.Context, token string) (Record, error) {
	member := tokenMember(token)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[member]
	if !ok || !rec.ExpiresAt.After(s.now()) {
		delete(s.records, member)
		return Record{}, ErrNotFound
	}
	if rec.Revoked {
		return Record{}, ErrAlreadyRevoked
	}

	prior := rec
	prior.Token = token
	rec.Revoked = true
	rec.RevokedAt = s.now()
	s.records[member] = rec
	return prior, nil
}

// RevokeAll implements [Backend].
func (s *MemoryStore) RevokeAll(_ context.Context, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for member, rec := range s.records {
		if rec.PrincipalID != principalID || rec.Revoked {
			continue
		}
		rec.Revoked = true
		rec.RevokedAt = now
		s.records[member] = rec
	}
	return nil
}

// Prune implements [Backend].
func (s *MemoryStore) Prune(_ context.Context, principalID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	type live struct {
		member   string
		issuedAt time.Time
	}
	var survivors []live

	for member, rec := range s.records {
		if rec.PrincipalID != principalID {
			continue
		}
		if rec.Revoked || !rec.ExpiresAt.After(now) {
			delete(s.records, member)
			continue
		}
		survivors = append(survivors, live{member: member, issuedAt: rec.IssuedAt})
	}

	if keep <= 0 || len(survivors) <= keep {
		return nil
	}
	sort.Slice(survivors, func(i, j int) bool {
		return survivors[i].issuedAt.After(survivors[j].issuedAt)
	})
	for _, old := range survivors[keep:] {
		delete(s.records, old.member)
	}
	return nil
}

// ActiveCount implements [Backend].
func (s *MemoryStore) ActiveCount(_ context.Context, principalID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for _, rec := range s.records {
		if rec.PrincipalID == principalID && !rec.Revoked && rec.ExpiresAt.After(now) {
			count++
		}
	}
	return count, nil
}
