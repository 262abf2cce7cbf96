package session_test

import (
	"context"
	"sync"
	"time"

	"session-service/internal/model"
	"session-service/internal/session"
)

// fakeStore is an in-memory Store honoring the same conditional-write
// semantics as the production repository.
type fakeStore struct {
	mu       sync.Mutex
	rows     map[string]*model.DeviceSession
	touches  int
	inserts  int
	failNext error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]*model.DeviceSession)}
}

func rowKey(userID, sessionKey string) string {
	return userID + "/" + sessionKey
}

func (s *fakeStore) takeErr() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *fakeStore) Insert(ctx context.Context, sess *model.DeviceSession) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr(); err != nil {
		return false, err
	}
	key := rowKey(sess.UserID, sess.SessionKey)
	if _, ok := s.rows[key]; ok {
		return false, nil
	}
	copied := *sess
	copied.RevokedAt = nil
	s.rows[key] = &copied
	s.inserts++
	return true, nil
}

func (s *fakeStore) Touch(ctx context.Context, sess *model.DeviceSession) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr(); err != nil {
		return false, err
	}
	row, ok := s.rows[rowKey(sess.UserID, sess.SessionKey)]
	if !ok || row.RevokedAt != nil {
		return false, nil
	}
	row.LastSeenAt = sess.LastSeenAt
	row.DeviceLabel = sess.DeviceLabel
	row.Platform = sess.Platform
	row.AppVersion = sess.AppVersion
	s.touches++
	return true, nil
}

func (s *fakeStore) Get(ctx context.Context, userID, sessionKey string) (*model.DeviceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	row, ok := s.rows[rowKey(userID, sessionKey)]
	if !ok {
		return nil, session.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (s *fakeStore) List(ctx context.Context, userID string) ([]*model.DeviceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	var sessions []*model.DeviceSession
	for _, row := range s.rows {
		if row.UserID == userID {
			copied := *row
			sessions = append(sessions, &copied)
		}
	}
	return sessions, nil
}

func (s *fakeStore) Revoke(ctx context.Context, userID, sessionKey string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr(); err != nil {
		return false, err
	}
	row, ok := s.rows[rowKey(userID, sessionKey)]
	if !ok || row.RevokedAt != nil {
		return false, nil
	}
	revokedAt := at
	row.RevokedAt = &revokedAt
	return true, nil
}

func (s *fakeStore) touchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touches
}

func (s *fakeStore) row(userID, sessionKey string) *model.DeviceSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[rowKey(userID, sessionKey)]
	if !ok {
		return nil
	}
	copied := *row
	return &copied
}

// fakeFeed is an in-memory RevocationFeed delivering published events to
// all active subscribers of the matching user.
type fakeFeed struct {
	mu        sync.Mutex
	subs      map[string][]chan session.RevocationEvent
	published []session.RevocationEvent
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(map[string][]chan session.RevocationEvent)}
}

func (f *fakeFeed) Publish(ctx context.Context, ev session.RevocationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, ev)
	for _, ch := range f.subs[ev.UserID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (f *fakeFeed) Subscribe(ctx context.Context, userID string) (<-chan session.RevocationEvent, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan session.RevocationEvent, 16)
	f.subs[userID] = append(f.subs[userID], ch)
	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, sub := range f.subs[userID] {
			if sub == ch {
				f.subs[userID] = append(f.subs[userID][:i], f.subs[userID][i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel, nil
}

func (f *fakeFeed) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// fakeAuth is an AuthClient with a settable current user.
type fakeAuth struct {
	mu         sync.Mutex
	userID     string
	lookupErr  error
	signOutCnt int
	signOutErr error
}

func (a *fakeAuth) CurrentUser(ctx context.Context) (*session.AuthUser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lookupErr != nil {
		return nil, a.lookupErr
	}
	if a.userID == "" {
		return nil, nil
	}
	return &session.AuthUser{ID: a.userID}, nil
}

func (a *fakeAuth) SignOut(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signOutCnt++
	a.userID = ""
	return a.signOutErr
}

func (a *fakeAuth) signOutCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.signOutCnt
}

// fakeIdentity serves a fixed session key.
type fakeIdentity struct {
	key string
}

func (i *fakeIdentity) GetOrCreateSessionKey() string { return i.key }

func testMeta() model.DeviceMetadata {
	return model.DeviceMetadata{
		DeviceLabel: "Pixel 9",
		Platform:    "android",
		AppVersion:  "3.2.1",
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
