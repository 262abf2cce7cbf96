package identity_test

import (
	"os"
	"path/filepath"
	"testing"

	"session-service/internal/identity"
)

func TestGetOrCreateSessionKeyIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_key")
	store := identity.NewStore(path)

	key := store.GetOrCreateSessionKey()
	if key == "" {
		t.Fatalf("empty session key")
	}
	if again := store.GetOrCreateSessionKey(); again != key {
		t.Fatalf("second call returned %q, want %q", again, key)
	}
	if store.Volatile() {
		t.Fatalf("key should be persisted, not volatile")
	}
}

func TestSessionKeySurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_key")

	key := identity.NewStore(path).GetOrCreateSessionKey()

	// A fresh store over the same path models a process restart.
	if reloaded := identity.NewStore(path).GetOrCreateSessionKey(); reloaded != key {
		t.Fatalf("restart returned %q, want %q", reloaded, key)
	}
}

func TestResetMintsFreshKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_key")
	store := identity.NewStore(path)

	old := store.GetOrCreateSessionKey()
	fresh := store.Reset()
	if fresh == old {
		t.Fatalf("reset returned the old key")
	}
	if reloaded := identity.NewStore(path).GetOrCreateSessionKey(); reloaded != fresh {
		t.Fatalf("persisted key %q, want the reset key %q", reloaded, fresh)
	}
}

func TestUnwritablePathFallsBackToVolatileKey(t *testing.T) {
	// Parent "directory" is a regular file, so persisting must fail.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	store := identity.NewStore(filepath.Join(blocker, "session_key"))
	key := store.GetOrCreateSessionKey()
	if key == "" {
		t.Fatalf("volatile fallback returned an empty key")
	}
	if !store.Volatile() {
		t.Fatalf("store should report a volatile key")
	}
	if again := store.GetOrCreateSessionKey(); again != key {
		t.Fatalf("volatile key changed within the process: %q -> %q", key, again)
	}
}
