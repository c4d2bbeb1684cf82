package ws

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testhelpers "github.com/Lucke514/ImageConverter/internal/platform/testing"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSession_WriteFailureClosesConnection(t *testing.T) {
	conn := dialConnection(t)
	s := NewSession(context.Background(), "s1", conn, nil, nil)

	// Break the socket underneath the wrapper so the next write fails.
	require.NoError(t, conn.socket.Close())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop()
	}()
	require.NoError(t, s.Send(Message{Type: TypeProgress}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write loop did not stop after a failed write")
	}

	assert.True(t, conn.closed.Load())
	assert.Error(t, context.Cause(s.Context()))
	assert.ErrorIs(t, s.Send(Message{Type: TypeProgress}), ErrSessionShutdown)
}

func TestRouter_LogsStreamCounts(t *testing.T) {
	var out lockedBuffer
	logger := testhelpers.SetupTestLoggerTo(t, &out)

	hub := NewHub(logger)
	router := NewRouter(hub, logger, RouterOptions{})
	client := dialRouter(t, router, "s1")

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "following s1 (1 streams on 1 sessions)")
	}, time.Second, 5*time.Millisecond)

	_ = client.Close()
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "0 streams on 0 sessions remain")
	}, 2*time.Second, 10*time.Millisecond)
}
