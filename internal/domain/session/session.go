// Package session keeps drop-page uploads in memory between requests.
package session

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lucke514/ImageConverter/internal/domain/batch"
	"github.com/Lucke514/ImageConverter/internal/platform/errors"
)

var (
	ErrNotFound     = stderrors.New("session not found")
	ErrItemNotFound = stderrors.New("item not found")
	ErrBusy         = stderrors.New("session is converting")
)

// Session is one browser tab's working set: its uploaded items and the
// archive of the last successful run.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu        sync.Mutex
	items     []*batch.Item
	archive   *batch.Archive
	cancel    context.CancelFunc
	expiresAt time.Time
}

func newSession(ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		expiresAt: now.Add(ttl),
	}
}

// Add appends items in upload order.
func (s *Session) Add(items ...*batch.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
}

// Items returns a copy of the item list.
func (s *Session) Items() []*batch.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*batch.Item(nil), s.items...)
}

func (s *Session) Views() []batch.ItemView {
	items := s.Items()
	views := make([]batch.ItemView, len(items))
	for i, it := range items {
		views[i] = it.View()
	}
	return views
}

// Remove drops an item unless a run is in progress.
func (s *Session) Remove(itemID string) error {
	const op = "session.remove-item"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.Wrap(errors.KindDomain, op, "cannot remove items while converting", ErrBusy)
	}
	for i, it := range s.items {
		if it.ID == itemID {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return errors.Wrap(errors.KindDomain, op, "no item "+itemID, ErrItemNotFound)
}

// Begin marks the session as converting and returns a context that Cancel
// aborts. It fails with ErrBusy if a run is already active.
func (s *Session) Begin(parent context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil, errors.Wrap(errors.KindDomain, "session.begin", "conversion already running", ErrBusy)
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	return ctx, nil
}

// End clears the running flag and stores arch when it is not nil.
func (s *Session) End(arch *batch.Archive) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if arch != nil {
		s.archive = arch
	}
}

// Cancel aborts the active run and reports whether there was one.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Archive returns the archive of the last successful run, if any.
func (s *Session) Archive() *batch.Archive {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archive
}

func (s *Session) touch(ttl time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresAt = now.Add(ttl)
}

func (s *Session) expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel == nil && now.After(s.expiresAt)
}
