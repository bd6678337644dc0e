package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mailtrendz/authcore/internal"
)

const (
	revokeStatusNotFound       int64 = 0
	revokeStatusExpired        int64 = 1
	revokeStatusAlreadyRevoked int64 = 2
	revokeStatusRevoked        int64 = 3
	revokeStatusInvalidBlob    int64 = 4
)

// revokeRecordScript atomically flips a live record to revoked. It reads the
// fixed-offset fields documented in encoding.go, deletes records whose expiry
// has passed, and reports the pre-revocation blob on success so the caller
// can decode it without a second round-trip.
const revokeRecordScript = `
local function read_be64(s, i)
  local b1 = string.byte(s, i)
  local b2 = string.byte(s, i + 1)
  local b3 = string.byte(s, i + 2)
  local b4 = string.byte(s, i + 3)
  local b5 = string.byte(s, i + 4)
  local b6 = string.byte(s, i + 5)
  local b7 = string.byte(s, i + 6)
  local b8 = string.byte(s, i + 7)
  if not b8 then
    return nil
  end
  return ((((((((b1 * 256) + b2) * 256 + b3) * 256 + b4) * 256 + b5) * 256 + b6) * 256 + b7) * 256 + b8)
end

local function write_be64(n)
  local parts = {}
  for i = 8, 1, -1 do
    parts[i] = string.char(n % 256)
    n = math.floor(n / 256)
  end
  return table.concat(parts)
end

local record_key = KEYS[1]
local index_prefix = ARGV[1]
local member = ARGV[2]
local now_unix = tonumber(ARGV[3])

local data = redis.call("GET", record_key)
if not data then
  return {0}
end

local plen = string.byte(data, 2)
if not plen or #data < 2 + plen + 25 then
  return {4}
end

local principal = string.sub(data, 3, 2 + plen)
local idx = 3 + plen
local expires = read_be64(data, idx + 8)
if not expires then
  return {4}
end

local index_key = index_prefix .. principal

if expires <= now_unix then
  redis.call("DEL", record_key)
  redis.call("ZREM", index_key, member)
  return {1}
end

if string.byte(data, idx + 16) == 1 then
  return {2}
end

local ttl = redis.call("PTTL", record_key)
if ttl <= 0 then
  redis.call("DEL", record_key)
  redis.call("ZREM", index_key, member)
  return {1}
end

local updated = string.sub(data, 1, idx + 15) .. string.char(1) .. write_be64(now_unix)
redis.call("SET", record_key, updated, "PX", ttl)
return {3, data}
`

var revokeRecordLua = redis.NewScript(revokeRecordScript)

// persistRecordScript writes the record blob and its index member in one
// atomic step, so a record can never exist without being visible to the
// index walks in RevokeAll and Prune.
const persistRecordScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[4])
return 1
`

var persistRecordLua = redis.NewScript(persistRecordScript)

// RedisStore is a Redis-backed [Backend]. Records are stored as compact
// binary blobs under a per-token key with a TTL matching the record expiry,
// and indexed per principal in a sorted set scored by issuance time.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a [RedisStore] using the given key namespace prefix.
// now is the clock used for expiry decisions; nil means time.Now.
func NewRedisStore(client redis.UniversalClient, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = "ac"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{redis: client, prefix: prefix, now: now}
}

func (s *RedisStore) recordKey(member string) string {
	return s.prefix + ":rt:" + member
}

func (s *RedisStore) indexKey(principalID string) string {
	return s.indexPrefix() + principalID
}

func (s *RedisStore) indexPrefix() string {
	return s.prefix + ":pr:"
}

func tokenMember(tok string) string {
	sum := internal.HashToken(tok)
	return hex.EncodeToString(sum[:])
}

// Persist implements [Backend].
//
//	Performance: 1 Lua EVALSHA (record write + index add, atomic).
func (s *RedisStore) Persist(ctx context.Context, rec Record) error {
	blob, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("record already expired")
	}
	ttlMillis := ttl.Milliseconds()
	if ttlMillis < 1 {
		ttlMillis = 1
	}

	member := tokenMember(rec.Token)
	created, err := persistRecordLua.Run(
		ctx,
		s.redis,
		[]string{s.recordKey(member), s.indexKey(rec.PrincipalID)},
		blob,
		ttlMillis,
		rec.IssuedAt.Unix(),
		member,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if created == 0 {
		return ErrDuplicateToken
	}
	return nil
}

// Find implements [Backend]. A record whose expiry has passed is deleted and
// reported as not found.
func (s *RedisStore) Find(ctx context.Context, token string) (Record, error) {
	member := tokenMember(token)

	data, err := s.redis.Get(ctx, s.recordKey(member)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return Record{}, err
	}
	rec.Token = token

	if !rec.ExpiresAt.After(s.now()) {
		_, _ = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.recordKey(member))
			pipe.ZRem(ctx, s.indexKey(rec.PrincipalID), member)
			return nil
		})
		return Record{}, ErrNotFound
	}

	return rec, nil
}

// Revoke implements [Backend]. Absent, expired, and already-revoked records
// are all no-ops; a record held by a different principal is left untouched.
func (s *RedisStore) Revoke(ctx context.Context, principalID, token string) error {
	rec, err := s.Find(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorruptRecord) {
			return nil
		}
		return err
	}
	if rec.PrincipalID != principalID {
		return nil
	}

	if _, err := s.revokeByMember(ctx, tokenMember(token)); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyRevoked) {
			return nil
		}
		return err
	}
	return nil
}

// RevokeForRotation implements [Backend].
//
//	Performance: 1 Lua EVALSHA (atomic compare-and-swap).
func (s *RedisStore) RevokeForRotation(ctx context.Context, token string) (Record, error) {
	rec, err := s.revokeByMember(ctx, tokenMember(token))
	if err != nil {
		return Record{}, err
	}
	rec.Token = token
	return rec, nil
}

// RevokeAll implements [Backend].
func (s *RedisStore) RevokeAll(ctx context.Context, principalID string) error {
	members, err := s.redis.ZRange(ctx, s.indexKey(principalID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	for _, member := range members {
		if _, err := s.revokeByMember(ctx, member); err != nil {
			switch {
			case errors.Is(err, ErrNotFound), errors.Is(err, ErrAlreadyRevoked), errors.Is(err, ErrCorruptRecord):
				continue
			default:
				return err
			}
		}
	}
	return nil
}

// Prune implements [Backend]. Dead index members (expired, revoked, or
// pointing at missing records) are removed together with their records, then
// live records beyond the keep newest are deleted.
func (s *RedisStore) Prune(ctx context.Context, principalID string, keep int) error {
	indexKey := s.indexKey(principalID)

	// Newest first, so the keep budget is consumed by the most recent records.
	members, err := s.redis.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(members) == 0 {
		return nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(members))
	for i, member := range members {
		cmds[i] = pipe.Get(ctx, s.recordKey(member))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := s.now()
	var dead []string
	kept := 0
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				dead = append(dead, members[i])
				continue
			}
			return fmt.Errorf("%w: %v", ErrUnavailable, cmdErr)
		}

		rec, decErr := decodeRecord(data)
		if decErr != nil || rec.Revoked || !rec.ExpiresAt.After(now) {
			dead = append(dead, members[i])
			continue
		}

		kept++
		if keep > 0 && kept > keep {
			dead = append(dead, members[i])
		}
	}

	if len(dead) == 0 {
		return nil
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, member := range dead {
			pipe.Del(ctx, s.recordKey(member))
			pipe.ZRem(ctx, indexKey, member)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ActiveCount implements [Backend].
func (s *RedisStore) ActiveCount(ctx context.Context, principalID string) (int, error) {
	members, err := s.redis.ZRange(ctx, s.indexKey(principalID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(members))
	for i, member := range members {
		cmds[i] = pipe.Get(ctx, s.recordKey(member))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := s.now()
	count := 0
	for _, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				continue
			}
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, cmdErr)
		}
		rec, decErr := decodeRecord(data)
		if decErr != nil || rec.Revoked || !rec.ExpiresAt.After(now) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *RedisStore) revokeByMember(ctx context.Context, member string) (Record, error) {
	result, err := revokeRecordLua.Run(
		ctx,
		s.redis,
		[]string{s.recordKey(member)},
		s.indexPrefix(),
		member,
		s.now().Unix(),
	).Result()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return Record{}, fmt.Errorf("%w: invalid revoke script response", ErrUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return Record{}, fmt.Errorf("%w: invalid revoke script status", ErrUnavailable)
	}

	switch code {
	case revokeStatusNotFound, revokeStatusExpired:
		return Record{}, ErrNotFound
	case revokeStatusAlreadyRevoked:
		return Record{}, ErrAlreadyRevoked
	case revokeStatusInvalidBlob:
		return Record{}, ErrCorruptRecord
	case revokeStatusRevoked:
		if len(parts) < 2 {
			return Record{}, fmt.Errorf("%w: missing record payload", ErrUnavailable)
		}
		var blob []byte
		switch v := parts[1].(type) {
		case string:
			blob = []byte(v)
		case []byte:
			blob = v
		default:
			return Record{}, fmt.Errorf("%w: invalid record payload", ErrUnavailable)
		}
		return decodeRecord(blob)
	default:
		return Record{}, fmt.Errorf("%w: unknown revoke script status %d", ErrUnavailable, code)
	}
}
