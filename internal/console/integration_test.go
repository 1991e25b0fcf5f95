package console_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-console/internal/console"
	"support-console/internal/gateway"
	"support-console/internal/gatewaytest"
	"support-console/internal/models"
	"support-console/internal/transport"
)

const operatorID = "op-7"

func startConsole(t *testing.T, srv *gatewaytest.Server, opts console.Options) *console.Console {
	t.Helper()

	gw := gateway.NewHTTPClient(srv.URL(), "test-token", 5*time.Second)
	header := http.Header{"Authorization": {"Bearer test-token"}}
	chatConn := transport.NewConn(transport.Options{
		URL:            srv.ChatWSURL(),
		Header:         header,
		Kind:           "chat",
		ReconnectDelay: 25 * time.Millisecond,
	})
	notifyConn := transport.NewConn(transport.Options{
		URL:            srv.NotifyWSURL(),
		Header:         header,
		Kind:           "notify",
		ReconnectDelay: 25 * time.Millisecond,
	})

	opts.OperatorID = operatorID
	c := console.New(gw, chatConn, notifyConn, nil, opts)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	waitFor(t, func() bool {
		return srv.Hub().Count("chat") == 1 && srv.Hub().Count("notify") == 1
	}, "sockets never connected")
	return c
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func drainUntil(t *testing.T, events <-chan models.Event, typ models.EventType) models.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", typ)
		}
	}
}

func TestConsoleAgainstFakeGateway(t *testing.T) {
	srv := gatewaytest.New()
	defer srv.Close()
	srv.SetOperatorID(operatorID)

	now := time.Now()
	srv.AddSession(models.Session{ChatID: "chat-1", UserID: "u1", UserName: "Ann", CreatedAt: now})
	srv.AddSession(models.Session{ChatID: "chat-2", UserID: "u2", UserName: "Bob", CreatedAt: now.Add(-time.Minute)})
	srv.AppendMessage(models.Message{ChatID: "chat-1", SenderID: "u1", Content: "I need help", CreatedAt: now, SenderType: models.SenderUser})

	c := startConsole(t, srv, console.Options{
		SessionRefresh:  time.Hour,
		TimeoutPoll:     time.Hour,
		MessagePoll:     50 * time.Millisecond,
		PostSendRecheck: 10 * time.Millisecond,
	})

	ctx := context.Background()
	require.NoError(t, c.RefreshSessions(ctx))
	require.NoError(t, c.SelectSession(ctx, "chat-1"))

	// History came through the REST boundary.
	tl := c.Timeline("chat-1")
	require.Len(t, tl, 1)
	assert.Equal(t, "I need help", tl[0].Content)
	waitFor(t, func() bool { return srv.MarkReadCount("chat-1") >= 1 }, "mark-read never reached the server")

	// A pushed frame for the active session lands in the timeline. The
	// backend persists before pushing, so the poll keeps it authoritative.
	pushed := srv.AppendMessage(models.Message{ChatID: "chat-1", SenderID: "u1", ReceiverID: operatorID, Content: "still there?", CreatedAt: time.Now(), SenderType: models.SenderUser})
	srv.PushChat(models.Frame{ChatID: "chat-1", From: "u1", ReceiverID: operatorID, Content: pushed.Content, CreatedAt: pushed.CreatedAt})
	drainUntil(t, c.Events(), models.EventTimelineAppend)
	require.Len(t, c.Timeline("chat-1"), 2)

	// An operator send goes out on the socket and is confirmed by the poll:
	// the optimistic entry picks up a server id.
	require.NoError(t, c.SendMessage(ctx, "I'm here"))
	waitFor(t, func() bool { return len(srv.Outbound()) == 1 }, "send never reached the server")
	waitFor(t, func() bool {
		for _, m := range c.Timeline("chat-1") {
			if m.Content == "I'm here" && m.ID != 0 && !m.Pending {
				return true
			}
		}
		return false
	}, "optimistic send never confirmed by poll")
	require.Len(t, c.Timeline("chat-1"), 3)

	// A frame for a background session bumps its unread counter instead.
	srv.PushChat(models.Frame{ChatID: "chat-2", From: "u2", ReceiverID: operatorID, Content: "hello?", CreatedAt: time.Now()})
	waitFor(t, func() bool {
		s, ok := c.Registry().Get("chat-2")
		return ok && s.UnreadCount == 1
	}, "background unread never incremented")
}

func TestConsoleSurvivesChatSocketDrop(t *testing.T) {
	srv := gatewaytest.New()
	defer srv.Close()
	srv.SetOperatorID(operatorID)
	srv.AddSession(models.Session{ChatID: "chat-1", UserID: "u1", CreatedAt: time.Now()})

	c := startConsole(t, srv, console.Options{
		SessionRefresh: time.Hour,
		TimeoutPoll:    time.Hour,
		MessagePoll:    time.Hour,
	})

	srv.Hub().DropAbnormal("chat")
	waitFor(t, func() bool { return srv.Hub().Count("chat") == 1 }, "chat socket never reconnected")
	waitFor(t, func() bool { return c.ConnectionState() == models.StateConnected }, "console never saw the reconnect")

	// Frames flow again after the reconnect, and a malformed payload in
	// between is dropped without harm.
	require.NoError(t, c.RefreshSessions(context.Background()))
	require.NoError(t, c.SelectSession(context.Background(), "chat-1"))
	srv.PushChatRaw([]byte("{not json"))
	srv.PushChat(models.Frame{ChatID: "chat-1", From: "u1", ReceiverID: operatorID, Content: "back again", CreatedAt: time.Now()})
	waitFor(t, func() bool { return len(c.Timeline("chat-1")) == 1 }, "frame after reconnect never arrived")
}

func TestConsoleUserConnectedBanner(t *testing.T) {
	srv := gatewaytest.New()
	defer srv.Close()

	c := startConsole(t, srv, console.Options{
		SessionRefresh: time.Hour,
		TimeoutPoll:    time.Hour,
		MessagePoll:    time.Hour,
		BannerTTL:      30 * time.Millisecond,
	})

	srv.PushNotify(models.Frame{Type: models.FrameUserConnected, UserInfo: &models.UserInfo{ID: "u5", Name: "Dana"}})

	ev := drainUntil(t, c.Events(), models.EventBannerShown)
	assert.Equal(t, "Dana", ev.Banner)
	drainUntil(t, c.Events(), models.EventBannerCleared)
}

func TestConsoleForceEndAndCleanup(t *testing.T) {
	srv := gatewaytest.New()
	defer srv.Close()
	ended := time.Now()
	srv.AddSession(models.Session{ChatID: "chat-1", UserID: "u1", CreatedAt: time.Now()})
	srv.AddSession(models.Session{ChatID: "chat-old", UserID: "u9", CreatedAt: time.Now().Add(-time.Hour), IsEnded: true, EndedAt: &ended})

	c := startConsole(t, srv, console.Options{
		SessionRefresh: time.Hour,
		TimeoutPoll:    time.Hour,
		MessagePoll:    time.Hour,
	})

	ctx := context.Background()
	require.NoError(t, c.RefreshSessions(ctx))
	require.NoError(t, c.SelectSession(ctx, "chat-1"))

	require.NoError(t, c.ForceEndSession(ctx))
	assert.Equal(t, []string{"chat-1"}, srv.EndCalls())
	s, _ := c.Registry().Get("chat-1")
	assert.True(t, s.IsEnded)

	require.NoError(t, c.Cleanup(ctx))
	assert.Equal(t, 1, srv.CleanupCount())
}
