package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"covera.io/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store implements auth.Store on PostgreSQL through database/sql and the pgx driver.
type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports database reachability for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Identities(context.Context) auth.IdentityStore { return identityStore{s.db} }
func (s *Store) Grants(context.Context) auth.GrantStore       { return grantStore{s.db} }
func (s *Store) Roles(context.Context) auth.RoleStore         { return roleStore{s.db} }
func (s *Store) Tokens(context.Context) auth.TokenStore       { return tokenStore{s.db} }

const identityColumns = `id, email, coalesce(username,''), password_hash, mfa_enabled, coalesce(mfa_secret,''),
	active, system_admin, last_login_at, coalesce(last_login_ip,''), created_at, updated_at`

type identityStore struct{ db *sql.DB }

func (r identityStore) Find(ctx context.Context, id string) (*auth.Identity, error) {
	row := r.db.QueryRowContext(ctx, `select `+identityColumns+` from identities where id = $1`, id)
	return scanIdentity(row)
}

func (r identityStore) FindByLogin(ctx context.Context, identifier string) (*auth.Identity, error) {
	identifier = strings.TrimSpace(identifier)
	row := r.db.QueryRowContext(ctx, `
		select `+identityColumns+`
		from identities
		where lower(email) = lower($1::text) or lower(username) = lower($1::text)
		order by (lower(email) = lower($1::text)) desc
		limit 1
	`, identifier)
	return scanIdentity(row)
}

func (r identityStore) RecordLogin(ctx context.Context, id string, at time.Time, origin string) error {
	res, err := r.db.ExecContext(ctx, `
		update identities
		set last_login_at = $2, last_login_ip = nullif($3, ''), updated_at = now()
		where id = $1
	`, id, at.UTC(), origin)
	return requireAffected(res, err)
}

func (r identityStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `update identities set active = $2, updated_at = now() where id = $1`, id, active)
	return requireAffected(res, err)
}

func scanIdentity(row *sql.Row) (*auth.Identity, error) {
	var (
		identity  auth.Identity
		lastLogin sql.NullTime
	)
	err := row.Scan(&identity.ID, &identity.Email, &identity.Username, &identity.PasswordHash,
		&identity.MFAEnabled, &identity.MFASecret, &identity.Active, &identity.SystemAdmin,
		&lastLogin, &identity.LastLoginIP, &identity.CreatedAt, &identity.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		identity.LastLoginAt = &t
	}
	return &identity, nil
}

type tokenStore struct{ db *sql.DB }

func (r tokenStore) Create(ctx context.Context, tok *auth.AccessToken) error {
	return insertToken(ctx, r.db, tok)
}

func (r tokenStore) Find(ctx context.Context, id string) (*auth.AccessToken, error) {
	var (
		tok       auth.AccessToken
		abilities []byte
		lastUsed  sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, abilities, created_at, expires_at, last_used_at
		from access_tokens where id = $1
	`, id).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &abilities, &tok.CreatedAt, &tok.ExpiresAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(abilities) > 0 {
		if err := json.Unmarshal(abilities, &tok.Abilities); err != nil {
			return nil, fmt.Errorf("decode abilities: %w", err)
		}
	}
	if lastUsed.Valid {
		t := lastUsed.Time.UTC()
		tok.LastUsedAt = &t
	}
	return &tok, nil
}

func (r tokenStore) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `update access_tokens set last_used_at = $2 where id = $1`, id, at.UTC())
	return requireAffected(res, err)
}

// Rotate deletes the old row and inserts the new one in a single transaction.
// The delete row count decides the winner when two refreshes race.
func (r tokenStore) Rotate(ctx context.Context, oldID string, next *auth.AccessToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `delete from access_tokens where id = $1`, oldID)
	if err := requireAffected(res, err); err != nil {
		return err
	}
	if err := insertToken(ctx, tx, next); err != nil {
		return err
	}
	return tx.Commit()
}

func (r tokenStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `delete from access_tokens where user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertToken(ctx context.Context, db execer, tok *auth.AccessToken) error {
	abilities := tok.Abilities
	if abilities == nil {
		abilities = []auth.ModuleCode{}
	}
	raw, err := json.Marshal(abilities)
	if err != nil {
		return fmt.Errorf("encode abilities: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		insert into access_tokens (id, user_id, token_hash, abilities, created_at, expires_at)
		values ($1, $2, $3, $4, $5, $6)
	`, tok.ID, tok.UserID, tok.TokenHash, raw, tok.CreatedAt.UTC(), tok.ExpiresAt.UTC())
	return mapWriteError(err)
}

func requireAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", auth.ErrConflict, pgErr.ConstraintName)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", auth.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
