package paste

import (
	"testing"
	"time"

	"burnpaste/internal/storage"
)

func TestVisible(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		paste *storage.Paste
		at    time.Time
		want  bool
	}{
		{"nil", nil, now, false},
		{"unlimited", &storage.Paste{}, now, true},
		{"before expiry", &storage.Paste{ExpiresAt: now.Add(time.Second)}, now, true},
		{"exactly at expiry", &storage.Paste{ExpiresAt: now}, now, true},
		{"one ms past expiry", &storage.Paste{ExpiresAt: now}, now.Add(time.Millisecond), false},
		{"views left", &storage.Paste{MaxViews: 3, Views: 2}, now, true},
		{"views spent", &storage.Paste{MaxViews: 3, Views: 3}, now, false},
		{"expired with views left", &storage.Paste{MaxViews: 3, ExpiresAt: now.Add(-time.Minute)}, now, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Visible(tc.paste, tc.at); got != tc.want {
				t.Fatalf("Visible = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRemainingViews(t *testing.T) {
	if got := RemainingViews(&storage.Paste{}, 10); got != nil {
		t.Fatalf("unlimited paste should have nil remaining, got %d", *got)
	}

	limited := &storage.Paste{MaxViews: 3}
	for before, want := range []int{2, 1, 0, 0} {
		got := RemainingViews(limited, before)
		if got == nil || *got != want {
			t.Fatalf("viewsBefore=%d: want %d, got %v", before, want, got)
		}
	}
}
