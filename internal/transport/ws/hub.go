package ws

import (
	"sync"

	"github.com/Lucke514/ImageConverter/internal/domain/eventbus"
	"github.com/Lucke514/ImageConverter/internal/platform/logging"
)

// Message types pushed to clients.
const (
	TypeStatus   = "status"
	TypeProgress = "progress"
	TypeFinished = "finished"
)

// Hub tracks the active streams, grouped by upload session.
type Hub struct {
	logger *logging.Logger

	mu     sync.RWMutex
	topics map[string]map[*Session]struct{}
}

func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		logger: logger,
		topics: make(map[string]map[*Session]struct{}),
	}
}

func (h *Hub) Register(session *Session) {
	if session == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.topics[session.Topic()]
	if !ok {
		set = make(map[*Session]struct{})
		h.topics[session.Topic()] = set
	}
	set[session] = struct{}{}
}

func (h *Hub) Unregister(session *Session) {
	if session == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.topics[session.Topic()]
	delete(set, session)
	if len(set) == 0 {
		delete(h.topics, session.Topic())
	}
}

// Broadcast sends msg to every stream following topic.
func (h *Hub) Broadcast(topic string, msg Message) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.topics[topic]))
	for s := range h.topics[topic] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.Send(msg); err != nil {
			h.logger.WarnTag("WS", "stream %s: %s dropped: %v", s.ID(), msg.Type, err)
		}
	}
}

// Attach forwards batch events from bus to the streams of the batch's
// upload session.
func (h *Hub) Attach(bus *eventbus.AsyncEventBus) error {
	if err := bus.Subscribe(eventbus.EventItemStatus, func(e eventbus.ItemStatusEvent) {
		h.Broadcast(e.BatchID, Message{Type: TypeStatus, Data: e})
	}); err != nil {
		return err
	}
	if err := bus.Subscribe(eventbus.EventProgress, func(e eventbus.ProgressEvent) {
		h.Broadcast(e.BatchID, Message{Type: TypeProgress, Data: e})
	}); err != nil {
		return err
	}
	return bus.Subscribe(eventbus.EventFinished, func(e eventbus.FinishedEvent) {
		h.Broadcast(e.BatchID, Message{Type: TypeFinished, Data: e})
	})
}

// CloseAll terminates all active streams.
func (h *Hub) CloseAll(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	h.mu.Lock()
	var all []*Session
	for _, set := range h.topics {
		for s := range set {
			all = append(all, s)
		}
	}
	h.topics = make(map[string]map[*Session]struct{})
	h.mu.Unlock()

	for _, s := range all {
		s.Close(reason)
	}
}

// Counts returns the number of streams and of distinct upload sessions.
func (h *Hub) Counts() (streams int, topics int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.topics {
		streams += len(set)
	}
	return streams, len(h.topics)
}
