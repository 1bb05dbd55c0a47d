// Package memstore keeps pastes in process memory. Nothing survives a restart.
package memstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"burnpaste/internal/storage"
)

// Store implements storage.Store with a mutex-guarded map.
type Store struct {
	mu     sync.RWMutex
	pastes map[string]*storage.Paste
}

// New returns an empty Store.
func New() *Store {
	return &Store{pastes: make(map[string]*storage.Paste)}
}

// Create inserts a paste unless the id is taken.
func (s *Store) Create(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pastes[paste.ID]; ok {
		return storage.ErrDuplicateID
	}
	cp := *paste
	cp.CreatedAt = cp.CreatedAt.UTC()
	cp.ExpiresAt = cp.ExpiresAt.UTC()
	s.pastes[paste.ID] = &cp
	return nil
}

// Get returns a copy of the stored paste.
func (s *Store) Get(ctx context.Context, id string) (*storage.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pastes[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// IncrementView adds one view unconditionally.
func (s *Store) IncrementView(ctx context.Context, id string) (int, error) {
	return s.bump(ctx, id, false)
}

// ClaimView adds one view while the paste still has views left.
func (s *Store) ClaimView(ctx context.Context, id string) (int, error) {
	return s.bump(ctx, id, true)
}

func (s *Store) bump(ctx context.Context, id string, enforceLimit bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pastes[id]
	if !ok {
		return 0, storage.ErrNotFound
	}
	if enforceLimit && p.HasViewLimit() && p.Views >= p.MaxViews {
		return p.Views, storage.ErrViewLimitReached
	}
	p.Views++
	return p.Views, nil
}

// DeleteExpired removes pastes whose expiry is strictly before the provided time.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, p := range s.pastes {
		if p.HasExpiration() && p.ExpiresAt.Before(before) {
			delete(s.pastes, id)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

var _ storage.Store = (*Store)(nil)
