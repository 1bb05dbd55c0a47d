package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a paste does not exist.
	ErrNotFound = errors.New("paste not found")
	// ErrDuplicateID is returned by Create when the id is already taken.
	ErrDuplicateID = errors.New("paste id already exists")
	// ErrViewLimitReached is returned by ClaimView once every permitted view is spent.
	ErrViewLimitReached = errors.New("paste view limit reached")
)

// Paste represents a stored paste entry.
type Paste struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	TTLSeconds int       `json:"ttl_seconds,omitempty"`
	MaxViews   int       `json:"max_views,omitempty"`
	Views      int       `json:"views"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// HasExpiration reports whether the paste has an expiry set.
func (p Paste) HasExpiration() bool {
	return !p.ExpiresAt.IsZero()
}

// HasViewLimit reports whether the paste may only be read a fixed number of times.
func (p Paste) HasViewLimit() bool {
	return p.MaxViews > 0
}

// Store defines the storage backend contract.
//
// IncrementView and ClaimView both add exactly one to the stored counter in a
// single atomic step and return the new value. ClaimView only does so while
// views < max_views (or the paste is unlimited).
type Store interface {
	Create(ctx context.Context, paste *Paste) error
	Get(ctx context.Context, id string) (*Paste, error)
	IncrementView(ctx context.Context, id string) (int, error)
	ClaimView(ctx context.Context, id string) (int, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
	Ping(ctx context.Context) error
	Close() error
}
