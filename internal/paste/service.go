// Package paste holds the paste lifecycle: creating pastes and deciding
// whether, and how often, they may be read.
package paste

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"burnpaste/internal/storage"
)

const (
	// DefaultMaxBytes caps paste content when Options.MaxBytes is unset.
	DefaultMaxBytes = 1_048_576

	maxCreateAttempts = 5
)

// IDGenerator produces candidate paste ids.
type IDGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// Options configures a Service.
type Options struct {
	Store       storage.Store
	IDGenerator IDGenerator
	// Clock defaults to time.Now.
	Clock    func() time.Time
	Logger   *slog.Logger
	MaxBytes int
	// TombstoneCacheSize bounds the not-found cache; zero disables it.
	TombstoneCacheSize int
}

// View is what a successful read returns.
type View struct {
	Content        string
	RemainingViews *int
	ExpiresAt      *time.Time
}

// Service creates and reads pastes.
type Service struct {
	store    storage.Store
	ids      IDGenerator
	clock    func() time.Time
	logger   *slog.Logger
	maxBytes int
	dead     *tombstones
}

// New constructs a Service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("store required")
	}
	if opts.IDGenerator == nil {
		return nil, errors.New("id generator required")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	dead, err := newTombstones(opts.TombstoneCacheSize)
	if err != nil {
		return nil, fmt.Errorf("tombstone cache: %w", err)
	}
	return &Service{
		store:    opts.Store,
		ids:      opts.IDGenerator,
		clock:    opts.Clock,
		logger:   opts.Logger,
		maxBytes: opts.MaxBytes,
		dead:     dead,
	}, nil
}

// MaxBytes is the content size limit in bytes.
func (s *Service) MaxBytes() int {
	return s.maxBytes
}

// Now returns the service clock in UTC.
func (s *Service) Now() time.Time {
	return s.clock().UTC()
}

// Create validates in and stores a new paste under a fresh id.
func (s *Service) Create(ctx context.Context, in CreateInput) (*storage.Paste, error) {
	if err := in.Validate(s.maxBytes); err != nil {
		return nil, err
	}

	createdAt := s.Now().Truncate(time.Millisecond)
	p := &storage.Paste{
		Content:   in.Content,
		CreatedAt: createdAt,
	}
	if in.TTLSeconds != nil {
		p.TTLSeconds = *in.TTLSeconds
		p.ExpiresAt = createdAt.Add(time.Duration(*in.TTLSeconds) * time.Second)
	}
	if in.MaxViews != nil {
		p.MaxViews = *in.MaxViews
	}

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		id, err := s.ids.Generate(ctx)
		if err != nil {
			return nil, &PersistenceError{Op: "generate id", Err: err}
		}
		p.ID = id

		err = s.store.Create(ctx, p)
		if err == nil {
			// The id may have belonged to a paste the janitor has since deleted.
			s.dead.remove(p.ID)
			s.logger.Debug("paste created", "id", p.ID, "ttl_seconds", p.TTLSeconds, "max_views", p.MaxViews)
			return p, nil
		}
		if !errors.Is(err, storage.ErrDuplicateID) {
			return nil, &PersistenceError{Op: "create", Err: err}
		}
		s.logger.Warn("paste id collision", "id", id, "attempt", attempt)
	}
	return nil, &PersistenceError{
		Op:  "create",
		Err: fmt.Errorf("no free id after %d attempts: %w", maxCreateAttempts, storage.ErrDuplicateID),
	}
}

// Read serves one view of the paste at the service clock.
func (s *Service) Read(ctx context.Context, id string) (*View, error) {
	return s.read(ctx, id, s.Now(), true)
}

// ReadAt serves one view as if the current time were now. The tombstone
// cache is neither consulted nor filled, since now may differ from the
// service clock.
func (s *Service) ReadAt(ctx context.Context, id string, now time.Time) (*View, error) {
	return s.read(ctx, id, now, false)
}

// Peek reports the paste as Read would, without consuming a view.
func (s *Service) Peek(ctx context.Context, id string) (*View, error) {
	return s.peek(ctx, id, s.Now(), true)
}

// PeekAt is Peek at an explicit time.
func (s *Service) PeekAt(ctx context.Context, id string, now time.Time) (*View, error) {
	return s.peek(ctx, id, now, false)
}

func (s *Service) load(ctx context.Context, id string, now time.Time, cached bool) (*storage.Paste, error) {
	if cached && s.dead.has(id) {
		return nil, ErrNotFound
	}
	p, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &PersistenceError{Op: "get", Err: err}
	}
	if !Visible(p, now) {
		if cached {
			s.dead.add(id)
		}
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *Service) read(ctx context.Context, id string, now time.Time, cached bool) (*View, error) {
	p, err := s.load(ctx, id, now, cached)
	if err != nil {
		return nil, err
	}

	if !p.HasViewLimit() {
		if _, err := s.store.IncrementView(ctx, id); err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return nil, &PersistenceError{Op: "increment view", Err: err}
			}
			s.logger.Warn("paste vanished before view was counted", "id", id)
		}
		return newView(p, nil), nil
	}

	views, err := s.store.ClaimView(ctx, id)
	switch {
	case errors.Is(err, storage.ErrViewLimitReached):
		if cached {
			s.dead.add(id)
		}
		return nil, ErrNotFound
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, &PersistenceError{Op: "claim view", Err: err}
	}

	remaining := RemainingViews(p, views-1)
	if cached && *remaining == 0 {
		s.dead.add(id)
	}
	return newView(p, remaining), nil
}

func (s *Service) peek(ctx context.Context, id string, now time.Time, cached bool) (*View, error) {
	p, err := s.load(ctx, id, now, cached)
	if err != nil {
		return nil, err
	}
	var remaining *int
	if p.HasViewLimit() {
		left := p.MaxViews - p.Views
		remaining = &left
	}
	return newView(p, remaining), nil
}

func newView(p *storage.Paste, remaining *int) *View {
	v := &View{Content: p.Content, RemainingViews: remaining}
	if p.HasExpiration() {
		expires := p.ExpiresAt
		v.ExpiresAt = &expires
	}
	return v
}
