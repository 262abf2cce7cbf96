package identity

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"session-service/internal/util"
)

const keyFileName = "session_key"

// Store resolves and persists the stable session key of the current device.
// The key survives restarts via a small file in the config directory; when
// that file cannot be read or written the store degrades to a process-lifetime
// in-memory key and keeps working. GetOrCreateSessionKey never fails.
type Store struct {
	path string

	mu       sync.Mutex
	key      string
	volatile bool
}

// NewStore creates a store persisting under the given path. An empty path
// selects <user-config-dir>/session-service/session_key.
func NewStore(path string) *Store {
	if path == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			path = filepath.Join(dir, "session-service", keyFileName)
		}
	}
	return &Store{path: path}
}

// GetOrCreateSessionKey returns the persisted key, minting and storing a new
// one on first use. Idempotent across calls within one storage scope.
func (s *Store) GetOrCreateSessionKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key != "" {
		return s.key
	}

	if s.path != "" {
		if data, err := os.ReadFile(s.path); err == nil {
			if key := strings.TrimSpace(string(data)); key != "" {
				s.key = key
				return s.key
			}
		}
	}

	s.key = uuid.New().String()
	s.persistLocked()
	return s.key
}

// Reset discards the current key and mints a fresh one. Used after a session
// is terminally revoked: the old key is dead forever and must not reconnect.
func (s *Store) Reset() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.key = uuid.New().String()
	s.volatile = false
	s.persistLocked()
	return s.key
}

// Volatile reports whether the current key only lives in memory. Callers must
// tolerate a key that does not survive a restart.
func (s *Store) Volatile() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volatile
}

func (s *Store) persistLocked() {
	if s.path == "" {
		s.volatile = true
		util.Warn("No identity path available, session key is in-memory only")
		return
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		s.volatile = true
		util.Warn("Failed to create identity directory, session key is in-memory only",
			util.String("path", s.path),
			util.ErrorField(err))
		return
	}

	if err := os.WriteFile(s.path, []byte(s.key+"\n"), 0o600); err != nil {
		s.volatile = true
		util.Warn("Failed to persist session key, falling back to in-memory identity",
			util.String("path", s.path),
			util.ErrorField(err))
		return
	}

	s.volatile = false
	util.Debug("Session key persisted", util.String("path", s.path))
}
