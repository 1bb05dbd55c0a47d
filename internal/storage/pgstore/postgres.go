// Package pgstore implements storage.Store on PostgreSQL through a pgx connection pool.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"burnpaste/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS pastes (
    id          TEXT PRIMARY KEY,
    content     TEXT NOT NULL,
    ttl_seconds INTEGER,
    max_views   INTEGER,
    views       INTEGER NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    expires_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes (expires_at);
`

// pasteColumns lists the SELECT columns in the order scanPaste reads them.
const pasteColumns = `id, content, ttl_seconds, max_views, views, created_at, expires_at`

// Store implements storage.Store on top of pgxpool.
type Store struct {
	db *pgxpool.Pool
}

// Open connects to PostgreSQL at dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	const op = "pgstore.Open"

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := db.Exec(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: apply schema: %w", op, err)
	}

	return &Store{db: db}, nil
}

func scanPaste(row pgx.Row) (*storage.Paste, error) {
	var (
		paste     storage.Paste
		ttl       *int32
		maxViews  *int32
		expiresAt *time.Time
	)
	if err := row.Scan(
		&paste.ID,
		&paste.Content,
		&ttl,
		&maxViews,
		&paste.Views,
		&paste.CreatedAt,
		&expiresAt,
	); err != nil {
		return nil, err
	}
	if ttl != nil {
		paste.TTLSeconds = int(*ttl)
	}
	if maxViews != nil {
		paste.MaxViews = int(*maxViews)
	}
	paste.CreatedAt = paste.CreatedAt.UTC()
	if expiresAt != nil {
		paste.ExpiresAt = expiresAt.UTC()
	}
	return &paste, nil
}

// Create inserts a new paste.
func (s *Store) Create(ctx context.Context, paste *storage.Paste) error {
	const op = "pgstore.Create"
	if paste == nil {
		return fmt.Errorf("%s: paste is nil", op)
	}

	query := `
		INSERT INTO pastes (id, content, ttl_seconds, max_views, views, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.Exec(ctx, query,
		paste.ID,
		paste.Content,
		nullableInt(paste.TTLSeconds),
		nullableInt(paste.MaxViews),
		paste.Views,
		paste.CreatedAt.UTC(),
		nullableTime(paste.ExpiresAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrDuplicateID)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Get fetches a paste by id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Paste, error) {
	const op = "pgstore.Get"

	query := `SELECT ` + pasteColumns + ` FROM pastes WHERE id = $1`
	paste, err := scanPaste(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return paste, nil
}

// IncrementView adds one to the view counter in place.
func (s *Store) IncrementView(ctx context.Context, id string) (int, error) {
	const op = "pgstore.IncrementView"

	var views int
	err := s.db.QueryRow(ctx, `UPDATE pastes SET views = views + 1 WHERE id = $1 RETURNING views`, id).Scan(&views)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return views, nil
}

// ClaimView adds one to the view counter only while views < max_views.
func (s *Store) ClaimView(ctx context.Context, id string) (int, error) {
	const op = "pgstore.ClaimView"

	query := `
		UPDATE pastes SET views = views + 1
		WHERE id = $1 AND (max_views IS NULL OR views < max_views)
		RETURNING views
	`
	var views int
	err := s.db.QueryRow(ctx, query, id).Scan(&views)
	if err == nil {
		return views, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	err = s.db.QueryRow(ctx, `SELECT views FROM pastes WHERE id = $1`, id).Scan(&views)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return views, fmt.Errorf("%s: %w", op, storage.ErrViewLimitReached)
}

// DeleteExpired removes pastes whose expiry is strictly before the provided time.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	const op = "pgstore.DeleteExpired"

	tag, err := s.db.Exec(ctx, `DELETE FROM pastes WHERE expires_at IS NOT NULL AND expires_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping checks the pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullableInt(v int) any {
	if v <= 0 {
		return nil
	}
	return int32(v)
}

var _ storage.Store = (*Store)(nil)
