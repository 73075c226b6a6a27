package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = 24 * time.Hour

// CacheSessionStore keeps sessions in memory with an idle expiry. Every Put
// resets the expiry of the session.
type CacheSessionStore struct {
	// mu serializes writes so Replace and Remove compare and write atomically.
	mu    sync.Mutex
	cache *cache.Cache
}

// NewCacheSessionStore creates a store whose sessions expire after ttl of
// inactivity. A ttl of zero or less uses DefaultSessionTTL.
func NewCacheSessionStore(ttl time.Duration) *CacheSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	cleanup := ttl / 4
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	slog.Debug("CacheSessionStore created", "ttl", ttl, "cleanup_interval", cleanup)
	c := cache.New(ttl, cleanup)
	c.OnEvicted(func(userID string, _ interface{}) {
		slog.Debug("CacheSessionStore session evicted", "user_id", userID)
	})
	return &CacheSessionStore{cache: c}
}

// Get returns a copy of the user's session or ErrSessionNotFound.
func (s *CacheSessionStore) Get(_ context.Context, userID string) (*Session, error) {
	sess, err := s.load(userID)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

func (s *CacheSessionStore) load(userID string) (*Session, error) {
	x, found := s.cache.Get(userID)
	if !found {
		return nil, ErrSessionNotFound
	}
	sess, ok := x.(*Session)
	if !ok {
		return nil, fmt.Errorf("session store: unexpected value %T for user %s", x, userID)
	}
	return sess, nil
}

// Put stores a copy of the session, replacing any previous one for the user.
func (s *CacheSessionStore) Put(_ context.Context, sess *Session) error {
	if sess == nil || sess.UserID == "" {
		return fmt.Errorf("session store: session without user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(sess.UserID, sess.Clone(), cache.DefaultExpiration)
	return nil
}

// Replace stores a copy of the session if the stored one has the same ID.
func (s *CacheSessionStore) Replace(_ context.Context, sess *Session) (bool, error) {
	if sess == nil || sess.UserID == "" {
		return false, fmt.Errorf("session store: session without user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.load(sess.UserID)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if cur.ID != sess.ID {
		return false, nil
	}
	s.cache.Set(sess.UserID, sess.Clone(), cache.DefaultExpiration)
	return true, nil
}

// Delete removes the user's session. Deleting a missing session is not an
// error.
func (s *CacheSessionStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Delete(userID)
	return nil
}

// Remove deletes the user's session if it is still sess.
func (s *CacheSessionStore) Remove(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.load(sess.UserID)
	if err != nil || cur.ID != sess.ID {
		return nil
	}
	s.cache.Delete(sess.UserID)
	return nil
}

// Count returns the number of live sessions, expired ones included until the
// next cleanup.
func (s *CacheSessionStore) Count() int {
	return s.cache.ItemCount()
}
