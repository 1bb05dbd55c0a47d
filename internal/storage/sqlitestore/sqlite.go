package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"burnpaste/internal/storage"
)

// Store implements storage.Store using SQLite.
//
// Timestamps are stored as unix milliseconds so range comparisons in SQL are
// numeric and round-trips are exact.
type Store struct {
	db *sql.DB
}

// Open initializes the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", withPragmas(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection keeps writers queued in
	// database/sql instead of racing for the file lock.
	db.SetMaxOpenConns(1)
	if err := initialize(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func withPragmas(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func initialize(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS pastes (
    id TEXT PRIMARY KEY,
    content BLOB NOT NULL,
    ttl_seconds INTEGER,
    max_views INTEGER,
    views INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    expires_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes (expires_at);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Create inserts a paste. A conflicting id leaves the existing row untouched.
func (s *Store) Create(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}

	const q = `
INSERT INTO pastes (id, content, ttl_seconds, max_views, views, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`
	res, err := s.db.ExecContext(ctx, q,
		paste.ID,
		[]byte(paste.Content),
		nullableInt(paste.TTLSeconds),
		nullableInt(paste.MaxViews),
		paste.Views,
		paste.CreatedAt.UnixMilli(),
		nullableMillis(paste.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("save paste: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrDuplicateID
	}
	return nil
}

// Get fetches a paste by id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Paste, error) {
	const q = `
SELECT id, content, ttl_seconds, max_views, views, created_at, expires_at
FROM pastes WHERE id = ?;
`
	row := s.db.QueryRowContext(ctx, q, id)

	var (
		content   []byte
		ttl       sql.NullInt64
		maxViews  sql.NullInt64
		views     int
		createdAt int64
		expiresAt sql.NullInt64
	)
	if err := row.Scan(&id, &content, &ttl, &maxViews, &views, &createdAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query paste: %w", err)
	}

	paste := &storage.Paste{
		ID:         id,
		Content:    string(content),
		TTLSeconds: int(ttl.Int64),
		MaxViews:   int(maxViews.Int64),
		Views:      views,
		CreatedAt:  time.UnixMilli(createdAt).UTC(),
	}
	if expiresAt.Valid {
		paste.ExpiresAt = time.UnixMilli(expiresAt.Int64).UTC()
	}
	return paste, nil
}

// IncrementView adds one to the view counter in place.
func (s *Store) IncrementView(ctx context.Context, id string) (int, error) {
	const q = `UPDATE pastes SET views = views + 1 WHERE id = ? RETURNING views;`
	var views int
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&views); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("increment views: %w", err)
	}
	return views, nil
}

// ClaimView adds one to the view counter only while views < max_views.
func (s *Store) ClaimView(ctx context.Context, id string) (int, error) {
	const q = `
UPDATE pastes SET views = views + 1
WHERE id = ? AND (max_views IS NULL OR views < max_views)
RETURNING views;
`
	var views int
	err := s.db.QueryRowContext(ctx, q, id).Scan(&views)
	if err == nil {
		return views, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("claim view: %w", err)
	}

	// Nothing updated: either the row is gone or its views are spent.
	if err := s.db.QueryRowContext(ctx, `SELECT views FROM pastes WHERE id = ?;`, id).Scan(&views); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("query views: %w", err)
	}
	return views, storage.ErrViewLimitReached
}

// DeleteExpired removes all pastes whose expiry is strictly before the provided time.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	const q = `DELETE FROM pastes WHERE expires_at IS NOT NULL AND expires_at < ?;`
	res, err := s.db.ExecContext(ctx, q, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(rows), nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullableMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func nullableInt(v int) any {
	if v <= 0 {
		return nil
	}
	return v
}

var _ storage.Store = (*Store)(nil)
