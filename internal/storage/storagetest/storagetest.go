// Package storagetest holds the behavioural suite every storage.Store backend must pass.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"burnpaste/internal/storage"
)

// Factory opens a fresh, empty store for a single subtest.
type Factory func(t *testing.T) storage.Store

// Run exercises the full storage.Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("CreateGet", func(t *testing.T) { testCreateGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("DuplicateID", func(t *testing.T) { testDuplicateID(t, newStore(t)) })
	t.Run("IncrementView", func(t *testing.T) { testIncrementView(t, newStore(t)) })
	t.Run("ClaimViewLimit", func(t *testing.T) { testClaimViewLimit(t, newStore(t)) })
	t.Run("ClaimViewUnlimited", func(t *testing.T) { testClaimViewUnlimited(t, newStore(t)) })
	t.Run("ClaimViewConcurrent", func(t *testing.T) { testClaimViewConcurrent(t, newStore(t)) })
	t.Run("DeleteExpired", func(t *testing.T) { testDeleteExpired(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(context.Background()); err != nil {
			t.Fatalf("ping: %v", err)
		}
	})
}

// NewPaste builds a paste with millisecond-precision UTC timestamps.
func NewPaste(id, content string, ttl time.Duration, maxViews int) *storage.Paste {
	now := time.Now().UTC().Truncate(time.Millisecond)
	p := &storage.Paste{
		ID:        id,
		Content:   content,
		MaxViews:  maxViews,
		CreatedAt: now,
	}
	if ttl > 0 {
		p.TTLSeconds = int(ttl / time.Second)
		p.ExpiresAt = now.Add(ttl)
	}
	return p
}

func mustCreate(t *testing.T, s storage.Store, p *storage.Paste) {
	t.Helper()
	if err := s.Create(context.Background(), p); err != nil {
		t.Fatalf("create %s: %v", p.ID, err)
	}
}

func testCreateGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	in := NewPaste("abcd0001", "hello\nworld", time.Hour, 3)
	mustCreate(t, s, in)

	out, err := s.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Content != in.Content {
		t.Fatalf("content: got %q want %q", out.Content, in.Content)
	}
	if out.Views != 0 {
		t.Fatalf("views: got %d want 0", out.Views)
	}
	if out.MaxViews != 3 {
		t.Fatalf("max views: got %d want 3", out.MaxViews)
	}
	if out.TTLSeconds != 3600 {
		t.Fatalf("ttl seconds: got %d want 3600", out.TTLSeconds)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) {
		t.Fatalf("created at: got %v want %v", out.CreatedAt, in.CreatedAt)
	}
	if !out.ExpiresAt.Equal(in.ExpiresAt) {
		t.Fatalf("expires at: got %v want %v", out.ExpiresAt, in.ExpiresAt)
	}

	forever := NewPaste("abcd0002", "no limits", 0, 0)
	mustCreate(t, s, forever)
	out, err = s.Get(ctx, forever.ID)
	if err != nil {
		t.Fatalf("get forever: %v", err)
	}
	if out.HasExpiration() || out.HasViewLimit() {
		t.Fatalf("expected no expiry and no view limit, got %+v", out)
	}
}

func testGetMissing(t *testing.T, s storage.Store) {
	if _, err := s.Get(context.Background(), "deadbeef"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testDuplicateID(t *testing.T, s storage.Store) {
	mustCreate(t, s, NewPaste("dup00001", "first", 0, 0))
	err := s.Create(context.Background(), NewPaste("dup00001", "second", 0, 0))
	if !errors.Is(err, storage.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	out, err := s.Get(context.Background(), "dup00001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Content != "first" {
		t.Fatalf("first record overwritten: %q", out.Content)
	}
}

func testIncrementView(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewPaste("inc00001", "x", 0, 1))
	for want := 1; want <= 3; want++ {
		got, err := s.IncrementView(ctx, "inc00001")
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Fatalf("views: got %d want %d", got, want)
		}
	}
	if _, err := s.IncrementView(ctx, "missing0"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testClaimViewLimit(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewPaste("clm00001", "x", 0, 2))
	for want := 1; want <= 2; want++ {
		got, err := s.ClaimView(ctx, "clm00001")
		if err != nil {
			t.Fatalf("claim %d: %v", want, err)
		}
		if got != want {
			t.Fatalf("views: got %d want %d", got, want)
		}
	}
	if _, err := s.ClaimView(ctx, "clm00001"); !errors.Is(err, storage.ErrViewLimitReached) {
		t.Fatalf("expected ErrViewLimitReached, got %v", err)
	}
	out, err := s.Get(ctx, "clm00001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Views != 2 {
		t.Fatalf("rejected claim must not increment, views=%d", out.Views)
	}
	if _, err := s.ClaimView(ctx, "missing0"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testClaimViewUnlimited(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewPaste("unl00001", "x", 0, 0))
	for want := 1; want <= 5; want++ {
		got, err := s.ClaimView(ctx, "unl00001")
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if got != want {
			t.Fatalf("views: got %d want %d", got, want)
		}
	}
}

func testClaimViewConcurrent(t *testing.T, s storage.Store) {
	const (
		limit   = 5
		readers = 25
	)
	ctx := context.Background()
	mustCreate(t, s, NewPaste("cnc00001", "x", 0, limit))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
		errs    []error
	)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ClaimView(ctx, "cnc00001")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.Is(err, storage.ErrViewLimitReached):
			default:
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if granted != limit {
		t.Fatalf("granted %d claims, want exactly %d", granted, limit)
	}
	out, err := s.Get(ctx, "cnc00001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Views != limit {
		t.Fatalf("views: got %d want %d", out.Views, limit)
	}
}

func testDeleteExpired(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	alive := &storage.Paste{ID: "alive001", Content: "ok", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	dead := &storage.Paste{ID: "dead0001", Content: "bye", CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)}
	edge := &storage.Paste{ID: "edge0001", Content: "edge", CreatedAt: now.Add(-time.Hour), ExpiresAt: now}
	forever := &storage.Paste{ID: "forevr01", Content: "forever", CreatedAt: now}
	for _, p := range []*storage.Paste{alive, dead, edge, forever} {
		mustCreate(t, s, p)
	}

	removed, err := s.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, err := s.Get(ctx, dead.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected expired paste removed, got %v", err)
	}
	for _, id := range []string{alive.ID, edge.ID, forever.ID} {
		if _, err := s.Get(ctx, id); err != nil {
			t.Fatalf("expected %s to survive: %v", id, err)
		}
	}
}

