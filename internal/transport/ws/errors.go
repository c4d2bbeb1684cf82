package ws

import "errors"

var (
	// ErrHandshakeTimeout indicates the websocket handshake exceeded the configured timeout.
	ErrHandshakeTimeout = errors.New("websocket handshake timed out")
	// ErrSessionShutdown is emitted when the server requests a stream shutdown.
	ErrSessionShutdown = errors.New("websocket stream shutdown")
	// ErrSendQueueFull is returned when a slow client cannot keep up.
	ErrSendQueueFull = errors.New("websocket send queue full")
	// ErrStreamStale closes streams whose client stopped answering pings.
	ErrStreamStale = errors.New("websocket stream stale")
)
