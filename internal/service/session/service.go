package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/zhouzirui/query-preprocess/backend/internal/model/session"
)

var ErrSessionNotFound = errors.New("session not found")

// Service keeps anonymous sessions in memory until they go idle.
type Service struct {
	mu    sync.Mutex
	cache *cache.Cache
	now   func() time.Time
}

// NewService creates a store whose sessions expire after ttl without access.
func NewService(ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		cache: cache.New(ttl, ttl/6),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// EnsureUserID returns the live session for userID, or starts a new one with
// a fresh random identifier when userID is empty, unknown or expired.
func (s *Service) EnsureUserID(_ context.Context, userID string) (session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID != "" {
		if sess, ok := s.lookup(userID); ok {
			s.touch(sess)
			return sess.Clone(), false
		}
	}

	sess := session.New(uuid.NewString(), s.now())
	s.cache.Set(sess.UserID, sess, cache.DefaultExpiration)
	return sess.Clone(), true
}

// Get returns a copy of the session.
func (s *Service) Get(_ context.Context, userID string) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.lookup(userID)
	if !ok {
		return session.Session{}, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// RecordResult stores text as the live result and re-arms feedback.
func (s *Service) RecordResult(_ context.Context, userID, text string) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.lookup(userID)
	if !ok {
		return session.Session{}, ErrSessionNotFound
	}
	sess.RecordResult(text, s.now())
	s.touch(sess)
	return sess.Clone(), nil
}

// RecordFeedback marks the live result as rated. changed is false when there
// was nothing to rate or it was already rated.
func (s *Service) RecordFeedback(_ context.Context, userID string) (session.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.lookup(userID)
	if !ok {
		return session.Session{}, false, ErrSessionNotFound
	}
	changed := sess.RecordFeedback(s.now())
	s.touch(sess)
	return sess.Clone(), changed, nil
}

// Count returns the number of sessions that have not expired. Expired items
// still waiting for the janitor are not counted.
func (s *Service) Count() int {
	return len(s.cache.Items())
}

func (s *Service) lookup(userID string) (*session.Session, bool) {
	if x, found := s.cache.Get(userID); found {
		return x.(*session.Session), true
	}
	return nil, false
}

// touch renews the idle expiry.
func (s *Service) touch(sess *session.Session) {
	s.cache.Set(sess.UserID, sess, cache.DefaultExpiration)
}
