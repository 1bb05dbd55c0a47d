package paste

import (
	"time"

	"burnpaste/internal/storage"
)

// Visible reports whether p may be served at now. Views is the counter
// before the read being considered.
func Visible(p *storage.Paste, now time.Time) bool {
	if p == nil {
		return false
	}
	if Expired(p, now) {
		return false
	}
	if p.HasViewLimit() && p.Views >= p.MaxViews {
		return false
	}
	return true
}

// Expired reports whether p's expiry has strictly passed. A read at exactly
// ExpiresAt is still in time.
func Expired(p *storage.Paste, now time.Time) bool {
	return p.HasExpiration() && now.After(p.ExpiresAt)
}

// RemainingViews returns the views left after the read that found
// viewsBefore on the counter, or nil for unlimited pastes.
func RemainingViews(p *storage.Paste, viewsBefore int) *int {
	if !p.HasViewLimit() {
		return nil
	}
	left := max(0, p.MaxViews-(viewsBefore+1))
	return &left
}
