package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the PostgreSQL error code signalling a duplicate key.
const uniqueViolation = "23505"

// Schema is the DDL for the refresh-token table. Apply it through your
// migration tooling, or call [PostgresStore.EnsureSchema] in tests and
// single-binary deployments.
const Schema = `
CREATE TABLE IF NOT EXISTS refresh_tokens (
	token_hash   TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL,
	issued_at    TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL,
	revoked      BOOLEAN NOT NULL DEFAULT FALSE,
	revoked_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS refresh_tokens_principal_idx
	ON refresh_tokens (principal_id, issued_at DESC);
`

// DBTX is the subset of database/sql used by [PostgresStore]. Both *sql.DB
// and *sql.Tx satisfy it. Open the handle with the pgx stdlib driver:
//
//	db, err := sql.Open("pgx", dsn) // _ "github.com/jackc/pgx/v5/stdlib"
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore is a PostgreSQL-backed [Backend]. The revocation
// compare-and-swap is a conditional UPDATE, so atomicity comes from the
// database rather than application locking.
type PostgresStore struct {
	db  DBTX
	now func() time.Time
}

// NewPostgresStore constructs a store bound to the given handle. now is the
// clock used for expiry decisions; nil means time.Now.
func NewPostgresStore(db DBTX, now func() time.Time) *PostgresStore {
	if now == nil {
		now = time.Now
	}
	return &PostgresStore{db: db, now: now}
}

// EnsureSchema applies [Schema].
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Persist implements [Backend].
func (s *PostgresStore) Persist(ctx context.Context, rec Record) error {
	query := `
		INSERT INTO refresh_tokens (token_hash, principal_id, issued_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, FALSE)
	`
	_, err := s.db.ExecContext(ctx, query,
		tokenMember(rec.Token), rec.PrincipalID, rec.IssuedAt, rec.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateToken
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Find implements [Backend].
func (s *PostgresStore) Find(ctx context.Context, token string) (Record, error) {
	query := `
		SELECT principal_id, issued_at, expires_at, revoked, revoked_at
		FROM refresh_tokens
		WHERE token_hash = $1 AND expires_at > $2
	`
	rec := Record{Token: token}
	var revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, tokenMember(token), s.now()).
		Scan(&rec.PrincipalID, &rec.IssuedAt, &rec.ExpiresAt, &rec.Revoked, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if revokedAt.Valid {
		rec.RevokedAt = revokedAt.Time
	}
	return rec, nil
}

// Revoke implements [Backend]. The principal filter keeps one principal from
// revoking another's record; zero rows affected is a successful no-op.
func (s *PostgresStore) Revoke(ctx context.Context, principalID, token string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $3
		WHERE token_hash = $1 AND principal_id = $2 AND NOT revoked
	`
	if _, err := s.db.ExecContext(ctx, query, tokenMember(token), principalID, s.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RevokeForRotation implements [Backend]. The conditional UPDATE is the CAS:
// of two concurrent calls, the database lets exactly one match the
// NOT revoked predicate.
func (s *PostgresStore) RevokeForRotation(ctx context.Context, token string) (Record, error) {
	now := s.now()
	hash := tokenMember(token)

	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE token_hash = $1 AND NOT revoked AND expires_at > $2
		RETURNING principal_id, issued_at, expires_at
	`
	rec := Record{Token: token}
	err := s.db.QueryRowContext(ctx, query, hash, now).
		Scan(&rec.PrincipalID, &rec.IssuedAt, &rec.ExpiresAt)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Distinguish "never existed / expired" from "already revoked".
	var revoked bool
	err = s.db.QueryRowContext(ctx,
		`SELECT revoked FROM refresh_tokens WHERE token_hash = $1 AND expires_at > $2`,
		hash, now).Scan(&revoked)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Record{}, ErrNotFound
	case err != nil:
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	case revoked:
		return Record{}, ErrAlreadyRevoked
	default:
		// Lost a race with a concurrent rotation that committed between the
		// two statements; the presented token is no longer live either way.
		return Record{}, ErrAlreadyRevoked
	}
}

// RevokeAll implements [Backend].
func (s *PostgresStore) RevokeAll(ctx context.Context, principalID string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE principal_id = $1 AND NOT revoked
	`
	if _, err := s.db.ExecContext(ctx, query, principalID, s.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Prune implements [Backend].
func (s *PostgresStore) Prune(ctx context.Context, principalID string, keep int) error {
	now := s.now()

	query := `
		DELETE FROM refresh_tokens
		WHERE principal_id = $1 AND (revoked OR expires_at <= $2)
	`
	if _, err := s.db.ExecContext(ctx, query, principalID, now); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if keep <= 0 {
		return nil
	}
	query = `
		DELETE FROM refresh_tokens
		WHERE token_hash IN (
			SELECT token_hash FROM refresh_tokens
			WHERE principal_id = $1 AND NOT revoked
			ORDER BY issued_at DESC
			OFFSET $2
		)
	`
	if _, err := s.db.ExecContext(ctx, query, principalID, keep); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ActiveCount implements [Backend].
func (s *PostgresStore) ActiveCount(ctx context.Context, principalID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM refresh_tokens
		WHERE principal_id = $1 AND NOT revoked AND expires_at > $2
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, principalID, s.now()).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count, nil
}
