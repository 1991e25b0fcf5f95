package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-console/internal/models"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// newWSServer runs handler once per accepted websocket and returns a ws:// URL.
func newWSServer(t *testing.T, handler func(ws *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitForState(t *testing.T, c *Conn, want models.ConnectionState) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-c.States():
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, current %s", want, c.State())
		}
	}
}

func recvFrame(t *testing.T, c *Conn) models.Frame {
	t.Helper()
	select {
	case f := <-c.Frames():
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for frame")
		return models.Frame{}
	}
}

func TestConnDeliversChatFrames(t *testing.T) {
	url := newWSServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteJSON(map[string]any{"chat_id": "c1", "from": "u1", "content": "hi"})
		// Keep the socket open until the client closes it.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewConn(Options{URL: url, Kind: "chat"})
	c.Connect(context.Background())
	defer c.Close()

	waitForState(t, c, models.StateConnected)
	f := recvFrame(t, c)
	assert.Equal(t, "c1", f.ChatID)
	assert.Equal(t, "u1", f.From)
	assert.Equal(t, "hi", f.Content)
	assert.True(t, f.IsChatMessage())
}

func TestConnFiltersHeartbeatsAndMalformedPayloads(t *testing.T) {
	url := newWSServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteJSON(map[string]any{"type": models.FrameHeartbeat})
		_ = ws.WriteMessage(websocket.TextMessage, []byte("{not json"))
		_ = ws.WriteJSON(map[string]any{"chat_id": "c2", "from": "u2", "content": "real"})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewConn(Options{URL: url, Kind: "chat"})
	c.Connect(context.Background())
	defer c.Close()

	f := recvFrame(t, c)
	assert.Equal(t, "real", f.Content)
}

func TestConnReconnectsAfterAbnormalClose(t *testing.T) {
	var accepts atomic.Int32
	url := newWSServer(t, func(ws *websocket.Conn) {
		n := accepts.Add(1)
		if n == 1 {
			// Drop the socket without a close frame.
			_ = ws.Close()
			return
		}
		_ = ws.WriteJSON(map[string]any{"chat_id": "c3", "from": "u3", "content": "after reconnect"})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewConn(Options{URL: url, Kind: "chat", ReconnectDelay: 20 * time.Millisecond})
	c.Connect(context.Background())
	defer c.Close()

	f := recvFrame(t, c)
	assert.Equal(t, "after reconnect", f.Content)
	assert.GreaterOrEqual(t, accepts.Load(), int32(2))

	// A successful dial resets the attempt counter.
	c.mu.Lock()
	attempts := c.attempts
	c.mu.Unlock()
	assert.Zero(t, attempts)
}

func TestConnStopsOnNormalClose(t *testing.T) {
	var accepts atomic.Int32
	url := newWSServer(t, func(ws *websocket.Conn) {
		accepts.Add(1)
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_, _, _ = ws.ReadMessage()
		_ = ws.Close()
	})

	c := NewConn(Options{URL: url, Kind: "chat", ReconnectDelay: 20 * time.Millisecond})
	c.Connect(context.Background())
	defer c.Close()

	waitForState(t, c, models.StateConnected)
	waitForState(t, c, models.StateDisconnected)

	// No reconnect after a server-initiated normal closure.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), accepts.Load())
	assert.Equal(t, models.StateDisconnected, c.State())
}

func TestConnSendRequiresConnectedState(t *testing.T) {
	received := make(chan models.SendFrame, 1)
	url := newWSServer(t, func(ws *websocket.Conn) {
		var f models.SendFrame
		if err := ws.ReadJSON(&f); err == nil {
			received <- f
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewConn(Options{URL: url, Kind: "chat"})
	require.False(t, c.Send(models.SendFrame{Content: "too early"}))

	c.Connect(context.Background())
	defer c.Close()
	waitForState(t, c, models.StateConnected)

	require.True(t, c.Send(models.SendFrame{ReceiverID: "u1", ChatID: "c1", Content: "hello"}))
	select {
	case f := <-received:
		assert.Equal(t, "hello", f.Content)
		assert.Equal(t, "c1", f.ChatID)
	case <-time.After(3 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestConnGivesUpAfterMaxAttempts(t *testing.T) {
	c := NewConn(Options{
		URL:            "ws://127.0.0.1:1", // nothing listens here
		Kind:           "chat",
		ReconnectDelay: 5 * time.Millisecond,
		MaxAttempts:    2,
	})
	c.Connect(context.Background())
	defer c.Close()

	waitForState(t, c, models.StateError)
}

func TestConnConnectIsIdempotent(t *testing.T) {
	url := newWSServer(t, func(ws *websocket.Conn) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewConn(Options{URL: url, Kind: "notify"})
	c.Connect(context.Background())
	c.Connect(context.Background())
	defer c.Close()

	waitForState(t, c, models.StateConnected)
}
