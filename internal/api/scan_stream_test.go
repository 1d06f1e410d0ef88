package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensigniasec/scanwatch/internal/phase"
)

func streamHandler(t *testing.T, frames []any, hold bool) http.Handler {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/scan/stream/user-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "no-store", r.Header.Get("Cache-Control"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
		if hold {
			// Block until the client goes away.
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	})
}

func TestStreamSignals_StopsAtTerminalPhase(t *testing.T) {
	frames := []any{
		map[string]any{"phase": "queued", "message": "Position 2"},
		map[string]any{"phase": "scanning", "progress": 50},
		map[string]any{"phase": "completed"},
		map[string]any{"phase": "scanning"},
	}
	c := newTestClient(t, streamHandler(t, frames, true))

	var got []phase.Phase
	err := c.StreamSignals(context.Background(), "user-1", func(s phase.Signal) {
		got = append(got, s.Phase)
	})
	require.NoError(t, err)
	assert.Equal(t, []phase.Phase{phase.Queued, phase.Scanning, phase.Completed}, got)
}

func TestStreamSignals_NormalCloseReturnsNil(t *testing.T) {
	frames := []any{map[string]any{"phase": "bot_joined"}}
	c := newTestClient(t, streamHandler(t, frames, false))

	var n int
	err := c.StreamSignals(context.Background(), "user-1", func(phase.Signal) { n++ })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStreamSignals_ContextCancel(t *testing.T) {
	c := newTestClient(t, streamHandler(t, []any{map[string]any{"phase": "queued"}}, true))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		errc <- c.StreamSignals(ctx, "user-1", func(phase.Signal) { close(first) })
	}()

	<-first
	cancel()
	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}

func TestStreamSignals_HandshakeRejected(t *testing.T) {
	c := newTestClient(t, streamHandler(t, nil, false))
	err := c.StreamSignals(context.Background(), "someone-else", func(phase.Signal) {})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStreamURL(t *testing.T) {
	t.Parallel()
	c, err := NewClient(WithBaseURL("https://api.example.test/v1"), withSkipHealthProbe())
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.test/v1/scan/stream/a%2Fb", c.streamURL("a/b"))
}
