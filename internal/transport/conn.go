package transport

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"support-console/internal/models"
	"support-console/internal/observability"
)

const (
	defaultFrameBuffer = 256
	defaultStateBuffer = 16
	closeWriteWait     = time.Second
)

// Options configure a gateway websocket connection.
type Options struct {
	URL              string
	Header           http.Header
	Kind             string
	ReconnectDelay   time.Duration
	MaxAttempts      int
	HandshakeTimeout time.Duration
}

// Conn owns one long-lived websocket to the chat gateway. Exactly one Conn
// per kind exists for an authenticated operator identity; changing identity
// tears the Conn down and replaces it.
type Conn struct {
	opts   Options
	dialer *websocket.Dialer

	mu       sync.Mutex
	ws       *websocket.Conn
	state    models.ConnectionState
	attempts int
	started  bool
	closed   bool
	cancel   context.CancelFunc

	frames chan models.Frame
	states chan models.ConnectionState
	done   chan struct{}
}

// NewConn builds a Conn; call Connect to start dialing.
func NewConn(opts Options) *Conn {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return &Conn{
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		state:  models.StateDisconnected,
		frames: make(chan models.Frame, defaultFrameBuffer),
		states: make(chan models.ConnectionState, defaultStateBuffer),
		done:   make(chan struct{}),
	}
}

// Connect starts the dial/read loop and returns immediately. Progress is
// observable through States and Frames.
func (c *Conn) Connect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		cancel()
		return
	}
	c.started = true
	c.cancel = cancel
	c.mu.Unlock()
	go c.run(ctx)
}

// Frames delivers parsed inbound frames. Heartbeats and malformed payloads
// never appear here.
func (c *Conn) Frames() <-chan models.Frame {
	return c.frames
}

// States delivers connection state transitions.
func (c *Conn) States() <-chan models.ConnectionState {
	return c.states
}

// State returns the current connection state.
func (c *Conn) State() models.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send writes a JSON frame. It returns false when the connection is not in
// the connected state or the write fails.
func (c *Conn) Send(v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != models.StateConnected || c.ws == nil {
		return false
	}
	if err := c.ws.WriteJSON(v); err != nil {
		log.Printf("ws %s: write failed: %v", c.opts.Kind, err)
		return false
	}
	return true
}

// Close stops the connection with a normal closure and waits for the run
// loop to exit.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	cancel := c.cancel
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		deadline := time.Now().Add(closeWriteWait)
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = ws.Close()
	}
	if cancel != nil {
		cancel()
	}
	if started {
		<-c.done
	}
	return nil
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)
	for {
		c.setState(models.StateConnecting)
		ws, resp, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				c.setState(models.StateDisconnected)
				return
			}
			log.Printf("ws %s: dial failed: %v", c.opts.Kind, err)
			c.setState(models.StateDisconnected)
			if !c.scheduleRetry(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			ws.Close()
			c.setState(models.StateDisconnected)
			return
		}
		c.ws = ws
		c.attempts = 0
		c.mu.Unlock()

		c.setState(models.StateConnected)
		observability.SetWSConnected(c.opts.Kind, true)
		observability.IncWSEvent(c.opts.Kind, "connect")

		normal := c.readLoop(ctx, ws)

		observability.SetWSConnected(c.opts.Kind, false)
		observability.IncWSEvent(c.opts.Kind, "disconnect")
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		c.setState(models.StateDisconnected)

		if normal || ctx.Err() != nil {
			return
		}
		if !c.scheduleRetry(ctx) {
			return
		}
	}
}

// readLoop reads until the socket fails; true means a normal closure that
// must not trigger a reconnect.
func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) bool {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true
			}
			if ctx.Err() == nil {
				log.Printf("ws %s: read failed: %v", c.opts.Kind, err)
			}
			return false
		}

		var frame models.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			observability.IncWSEvent(c.opts.Kind, "frame_dropped")
			continue
		}
		if frame.Type == models.FrameHeartbeat {
			observability.IncWSEvent(c.opts.Kind, "heartbeat")
			continue
		}

		observability.IncWSEvent(c.opts.Kind, "frame")
		select {
		case c.frames <- frame:
		case <-ctx.Done():
			return true
		}
	}
}

// scheduleRetry waits out the fixed reconnect delay. It returns false once
// the attempt cap is exhausted, leaving the connection in the error state.
func (c *Conn) scheduleRetry(ctx context.Context) bool {
	c.mu.Lock()
	c.attempts++
	attempts := c.attempts
	c.mu.Unlock()

	if attempts > c.opts.MaxAttempts {
		log.Printf("ws %s: reconnect attempts exhausted after %d tries", c.opts.Kind, c.opts.MaxAttempts)
		c.setState(models.StateError)
		return false
	}

	observability.IncWSReconnect(c.opts.Kind)
	select {
	case <-time.After(c.opts.ReconnectDelay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Conn) setState(state models.ConnectionState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	select {
	case c.states <- state:
	default:
		log.Printf("ws %s: state event dropped: %s", c.opts.Kind, state)
	}
}
