package session

import (
	"context"
	"sync"
	"time"

	"github.com/Lucke514/ImageConverter/internal/platform/errors"
	"github.com/Lucke514/ImageConverter/internal/platform/logging"
)

const (
	defaultTTL        = 30 * time.Minute
	defaultGCInterval = time.Minute
)

type Config struct {
	// TTL is the idle time after which a session is dropped.
	TTL        time.Duration
	GCInterval time.Duration
	Logger     *logging.Logger
}

// Store is an in-memory session registry with idle expiry. Sessions that
// are converting never expire.
type Store struct {
	sessions    map[string]*Session
	mutex       sync.RWMutex
	ttl         time.Duration
	cleanupFreq time.Duration
	logger      *logging.Logger
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewMemory(cfg Config) *Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	cleanup := cfg.GCInterval
	if cleanup <= 0 {
		cleanup = defaultGCInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Store{
		sessions:    make(map[string]*Session),
		ttl:         ttl,
		cleanupFreq: cleanup,
		logger:      logger,
		stop:        make(chan struct{}),
	}
	go s.gcLoop()
	return s
}

func (s *Store) gcLoop() {
	ticker := time.NewTicker(s.cleanupFreq)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.CleanupExpired(context.Background())
		case <-s.stop:
			return
		}
	}
}

// Create registers a new empty session.
func (s *Store) Create(_ context.Context) *Session {
	sess := newSession(s.ttl)

	s.mutex.Lock()
	s.sessions[sess.ID] = sess
	s.mutex.Unlock()

	s.logger.DebugTag("SESSION", "created %s", sess.ID)
	return sess
}

// Get returns a live session and extends its lifetime.
func (s *Store) Get(_ context.Context, id string) (*Session, error) {
	s.mutex.RLock()
	sess, ok := s.sessions[id]
	s.mutex.RUnlock()

	now := time.Now()
	if !ok || sess.expired(now) {
		return nil, errors.Wrap(errors.KindDomain, "session.get", "no session "+id, ErrNotFound)
	}
	sess.touch(s.ttl, now)
	return sess, nil
}

// Remove cancels any active run and forgets the session.
func (s *Store) Remove(_ context.Context, id string) {
	s.mutex.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mutex.Unlock()

	if ok {
		sess.Cancel()
	}
}

// Len counts sessions, including ones awaiting cleanup.
func (s *Store) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.sessions)
}

// CleanupExpired drops idle sessions and returns how many were removed.
func (s *Store) CleanupExpired(_ context.Context) int {
	now := time.Now()
	removed := 0

	s.mutex.Lock()
	for id, sess := range s.sessions {
		if sess.expired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	s.mutex.Unlock()

	if removed > 0 {
		s.logger.DebugTag("SESSION", "expired %d sessions", removed)
	}
	return removed
}

// Close stops the cleanup loop and cancels every active run.
func (s *Store) Close(_ context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	for _, sess := range s.sessions {
		sess.Cancel()
	}
	return nil
}
