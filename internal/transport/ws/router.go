package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Lucke514/ImageConverter/internal/platform/logging"
	"github.com/Lucke514/ImageConverter/internal/platform/observability"
)

// Router upgrades HTTP connections to event streams.
type Router struct {
	hub    *Hub
	logger *logging.Logger

	upgrader         *websocket.Upgrader
	handshakeTimeout time.Duration
	handler          MessageHandler
}

// RouterOptions configures the websocket router.
type RouterOptions struct {
	HandshakeTimeout time.Duration
	CheckOrigin      func(r *http.Request) bool
	// OnMessage receives client frames; nil ignores them.
	OnMessage MessageHandler
}

func NewRouter(hub *Hub, logger *logging.Logger, opts RouterOptions) *Router {
	if logger == nil {
		logger = logging.Discard()
	}
	upgrader := &websocket.Upgrader{
		CheckOrigin: opts.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Router{
		hub:              hub,
		logger:           logger,
		upgrader:         upgrader,
		handshakeTimeout: timeout,
		handler:          opts.OnMessage,
	}
}

// Handle upgrades the request and streams events for topic until the client
// goes away. The stream context is detached from the request so it outlives
// the handler.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request, topic string) {
	handshakeCtx, cancel := context.WithTimeoutCause(req.Context(), r.handshakeTimeout, ErrHandshakeTimeout)
	defer cancel()

	spanCtx, spanEnd := observability.StartSpan(handshakeCtx, "transport.websocket", "handle")
	var spanErr error
	defer func() {
		spanEnd(spanErr)
	}()

	conn, err := r.upgrader.Upgrade(w, req.WithContext(handshakeCtx), nil)
	if err != nil {
		spanErr = err
		observability.RecordMetric(spanCtx, "websocket.upgrade.error", 1,
			map[string]string{"component": "transport.websocket"})
		r.logger.ErrorTag("WS", "handshake failed: %v", err)
		return
	}

	wsConn := NewConnection(uuid.New().String(), conn)
	session := NewSession(context.WithoutCancel(spanCtx), topic, wsConn, r.logger, r.handler)
	r.hub.Register(session)
	streams, topics := r.hub.Counts()
	r.logger.InfoTag("WS", "stream %s following %s (%d streams on %d sessions)", session.ID(), topic, streams, topics)

	observability.RecordMetric(spanCtx, "websocket.connection.opened", 1,
		map[string]string{"component": "transport.websocket"})

	go session.Run(func(runErr error) {
		r.hub.Unregister(session)
		if runErr != nil {
			r.logger.WarnTag("WS", "stream %s ended: %v", session.ID(), runErr)
		}
		streams, topics := r.hub.Counts()
		r.logger.DebugTag("WS", "stream %s gone, %d streams on %d sessions remain", session.ID(), streams, topics)
		observability.RecordMetric(session.Context(), "websocket.connection.closed", 1,
			map[string]string{"component": "transport.websocket"})
	})
}
