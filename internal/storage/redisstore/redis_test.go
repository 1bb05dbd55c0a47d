package redisstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"burnpaste/internal/storage"
	"burnpaste/internal/storage/storagetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("BURNPASTE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("set BURNPASTE_TEST_REDIS_URL to run redis integration tests")
	}
	store, err := Open(context.Background(), url)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	store.prefix = fmt.Sprintf("burnpaste-test:%d:", time.Now().UnixNano())
	t.Cleanup(func() {
		ctx := context.Background()
		iter := store.client.Scan(ctx, 0, store.prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			store.client.Del(ctx, iter.Val())
		}
		store.Close()
	})
	return store
}

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return openTestStore(t)
	})
}

func TestDeleteExpiredSpansBatches(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	total := sweepBatch + 3
	for i := 0; i < total; i++ {
		p := &storage.Paste{
			ID:        fmt.Sprintf("dead%04d", i),
			Content:   "bye",
			CreatedAt: now.Add(-time.Hour),
			ExpiresAt: now.Add(-time.Minute),
		}
		if err := store.Create(ctx, p); err != nil {
			t.Fatalf("create %s: %v", p.ID, err)
		}
	}
	alive := &storage.Paste{ID: "alive001", Content: "ok", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := store.Create(ctx, alive); err != nil {
		t.Fatalf("create alive: %v", err)
	}

	removed, err := store.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if removed != total {
		t.Fatalf("expected %d removals, got %d", total, removed)
	}
	if n := store.client.ZCard(ctx, store.indexKey()).Val(); n != 1 {
		t.Fatalf("expiry index holds %d entries, want 1", n)
	}
	if _, err := store.Get(ctx, alive.ID); err != nil {
		t.Fatalf("live paste removed: %v", err)
	}
}

func TestDecodeUnlimitedPaste(t *testing.T) {
	paste, err := decode("abcd1234", map[string]string{
		"content":     "hi",
		"ttl_seconds": "0",
		"max_views":   "0",
		"views":       "3",
		"created_at":  "1700000000000",
		"expires_at":  "",
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if paste.HasExpiration() || paste.HasViewLimit() {
		t.Fatalf("expected unlimited paste, got %+v", paste)
	}
	if paste.Views != 3 || paste.Content != "hi" {
		t.Fatalf("unexpected paste: %+v", paste)
	}
	if !paste.CreatedAt.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("created at: %v", paste.CreatedAt)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := decode("abcd1234", map[string]string{"views": "many"}); err == nil {
		t.Fatal("expected decode error")
	}
}
