package main

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"text", "json"} {
		if _, err := newLogger("debug", format); err != nil {
			t.Fatalf("%s: %v", format, err)
		}
	}
	if _, err := newLogger("loud", "text"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := newLogger("info", "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for kind, path := range map[string]string{
		"memory": "",
		"bolt":   filepath.Join(dir, "paste.db"),
		"sqlite": filepath.Join(dir, "paste.sqlite"),
	} {
		store, err := openStore(ctx, kind, path)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if err := store.Ping(ctx); err != nil {
			t.Fatalf("%s ping: %v", kind, err)
		}
		store.Close()
	}

	if store, err := openStore(ctx, "floppy", ""); err == nil || store != nil {
		t.Fatalf("expected error for unknown store, got %v / %v", store, err)
	}
}

func TestDefaultDataPath(t *testing.T) {
	if got := defaultDataPath("bolt"); got != "./burnpaste.db" {
		t.Fatalf("bolt default %q", got)
	}
	if got := defaultDataPath("redis"); got != "redis://localhost:6379/0" {
		t.Fatalf("redis default %q", got)
	}
}
