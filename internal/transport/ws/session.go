package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/Lucke514/ImageConverter/internal/platform/logging"
)

const (
	sendQueueSize = 256
	pingInterval  = 30 * time.Second
	pingTimeout   = 5 * time.Second
	// staleAfter closes streams whose client answered no ping for this long.
	staleAfter = 3 * pingInterval
)

// Message is the envelope for every frame in both directions.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// MessageHandler is invoked for each client frame.
type MessageHandler func(s *Session, msg Message)

// Session streams the events of one upload session to one client.
type Session struct {
	id      string
	topic   string
	conn    *Connection
	logger  *logging.Logger
	handler MessageHandler

	ctx    context.Context
	cancel context.CancelCauseFunc

	send      chan []byte
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewSession binds conn to topic, the upload session id.
func NewSession(parent context.Context, topic string, conn *Connection, logger *logging.Logger, handler MessageHandler) *Session {
	if logger == nil {
		logger = logging.Discard()
	}
	sessionCtx, cancel := context.WithCancelCause(parent)
	return &Session{
		id:      conn.ID(),
		topic:   topic,
		conn:    conn,
		logger:  logger,
		handler: handler,
		ctx:     sessionCtx,
		cancel:  cancel,
		send:    make(chan []byte, sendQueueSize),
	}
}

func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) ID() string { return s.id }

// Topic is the upload session this stream follows.
func (s *Session) Topic() string { return s.topic }

// Send queues msg for delivery without blocking.
func (s *Session) Send(msg Message) error {
	if s.closed.Load() {
		return ErrSessionShutdown
	}
	payload, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case s.send <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Run pumps queued frames to the client and reads client frames until the
// connection drops, then invokes onDone.
func (s *Session) Run(onDone func(error)) {
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writeLoop()
	}()

	runErr := s.readLoop()
	s.Close(runErr)
	<-writeDone

	if onDone != nil {
		onDone(runErr)
	}
}

func (s *Session) readLoop() error {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || s.closed.Load() {
				return nil
			}
			return err
		}

		var msg Message
		if err := sonic.Unmarshal(payload, &msg); err != nil {
			s.logger.WarnTag("WS", "stream %s: malformed frame: %v", s.id, err)
			continue
		}
		if s.handler != nil {
			s.handler(s, msg)
		}
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.conn.IsStale(staleAfter) {
				s.logger.InfoTag("WS", "stream %s idle since %s, closing", s.id, s.conn.LastActive().Format(time.TimeOnly))
				s.Close(ErrStreamStale)
				return
			}
			if err := s.conn.Ping(pingTimeout); err != nil {
				s.logger.DebugTag("WS", "stream %s: ping failed: %v", s.id, err)
				s.Close(err)
				return
			}
		case payload := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.DebugTag("WS", "stream %s: write failed: %v", s.id, err)
				s.Close(err)
				return
			}
		}
	}
}

// Close stops both loops and closes the connection.
func (s *Session) Close(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel(reason)
		if err := s.conn.Close(); err != nil {
			s.logger.DebugTag("WS", "stream %s: close failed: %v", s.id, err)
		}
	})
}
