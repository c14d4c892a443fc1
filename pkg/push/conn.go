// Package push is the client side of the live progress channel.
//
// A Conn owns one WebSocket to one endpoint. Frames are JSON objects
// {"event": name, "data": payload}; handlers are registered per event name and
// invoked in arrival order on the connection's read goroutine. The lifecycle
// events "connect" and "disconnect" are produced locally and delivered through
// the same On mechanism. Dial failures never surface synchronously: they are
// reported as "disconnect" and, when configured, followed by a reconnect.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Lifecycle events.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

var (
	// ErrNotConnected is returned by Emit while no socket is established.
	ErrNotConnected = errors.New("push: not connected")
	// ErrClosed is returned once the connection has been closed.
	ErrClosed = errors.New("push: connection closed")
)

// Frame is the wire envelope of every message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DisconnectInfo is the payload of the disconnect event.
type DisconnectInfo struct {
	Reason string `json:"reason"`
}

// HandlerFunc receives the raw data of one event.
type HandlerFunc func(data json.RawMessage)

// HandlerID identifies one registration so it can be removed without touching
// other handlers of the same event.
type HandlerID uint64

type Options struct {
	Header http.Header
	Dialer *websocket.Dialer
	// ReconnectInterval is the pause between attempts. Zero disables reconnection.
	ReconnectInterval time.Duration
	// MaxReconnectAttempts bounds consecutive failed attempts. Zero means unlimited.
	MaxReconnectAttempts int
	WriteTimeout         time.Duration
}

type handlerEntry struct {
	id HandlerID
	fn HandlerFunc
}

type Conn struct {
	url  string
	opts Options

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	started   bool
	closed    bool
	handlers  map[string][]handlerEntry
	nextID    HandlerID

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle connection. Register lifecycle handlers, then call Start.
func New(url string, opts Options) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		url:      url,
		opts:     opts,
		handlers: make(map[string][]handlerEntry),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Dial is New followed by Start.
func Dial(url string, opts Options) *Conn {
	c := New(url, opts)
	c.Start()
	return c
}

// Start begins connecting in the background. It is a no-op after the first call.
func (c *Conn) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	go c.run()
}

func (c *Conn) URL() string {
	return c.url
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// On registers fn for event. Many handlers per event are allowed.
func (c *Conn) On(event string, fn HandlerFunc) HandlerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.closed {
		return id
	}
	c.handlers[event] = append(c.handlers[event], handlerEntry{id: id, fn: fn})
	return id
}

// Off removes exactly the registration identified by id.
func (c *Conn) Off(event string, id HandlerID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.handlers[event]
	for i, h := range entries {
		if h.id != id {
			continue
		}
		rest := make([]handlerEntry, 0, len(entries)-1)
		rest = append(rest, entries[:i]...)
		rest = append(rest, entries[i+1:]...)
		if len(rest) == 0 {
			delete(c.handlers, event)
		} else {
			c.handlers[event] = rest
		}
		return true
	}
	return false
}

// HandlerCount reports how many handlers are registered for event.
func (c *Conn) HandlerCount(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[event])
}

// Emit sends one event. It does not queue: while disconnected it returns ErrNotConnected.
func (c *Conn) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("push: encode %s: %w", event, err)
	}
	msg, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("push: encode frame: %w", err)
	}

	c.mu.Lock()
	ws, connected, closed := c.ws, c.connected, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !connected || ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.opts.WriteTimeout > 0 {
		_ = ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("push: write %s: %w", event, err)
	}
	return nil
}

// Close tears the socket down, stops reconnecting and drops every handler.
// It must not be called from inside a handler.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	started := c.started
	c.mu.Unlock()

	c.cancel()
	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = ws.Close()
	}
	if started {
		<-c.done
	}

	c.mu.Lock()
	c.handlers = make(map[string][]handlerEntry)
	c.mu.Unlock()
	slog.Debug("push connection closed", "endpoint", c.url)
	return nil
}

func (c *Conn) run() {
	defer close(c.done)

	failures := 0
	for {
		established, err := c.session()
		if established {
			failures = 0
		} else {
			failures++
		}

		reason := "client closed"
		if c.ctx.Err() == nil && err != nil {
			reason = err.Error()
		}
		c.dispatch(EventDisconnect, mustJSON(DisconnectInfo{Reason: reason}))

		if c.ctx.Err() != nil {
			return
		}
		slog.Warn("push disconnected", "endpoint", c.url, "error", reason)

		if c.opts.ReconnectInterval <= 0 {
			return
		}
		if c.opts.MaxReconnectAttempts > 0 && failures >= c.opts.MaxReconnectAttempts {
			slog.Error("push reconnect attempts exhausted", "endpoint", c.url, "attempts", failures)
			return
		}

		timer := time.NewTimer(c.opts.ReconnectInterval)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session dials once and reads until the socket drops. It reports whether a
// socket was established.
func (c *Conn) session() (bool, error) {
	dialer := c.opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, _, err := dialer.DialContext(c.ctx, c.url, c.opts.Header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	if !c.attach(ws) {
		_ = ws.Close()
		return false, ErrClosed
	}

	slog.Info("push connected", "endpoint", c.url)
	c.dispatch(EventConnect, nil)

	err = c.readLoop(ws)
	c.detach(ws)
	return true, err
}

func (c *Conn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.ws = ws
	c.connected = true
	return true
}

func (c *Conn) detach(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
		c.connected = false
	}
	c.mu.Unlock()
	_ = ws.Close()
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil || f.Event == "" {
			slog.Warn("push dropped malformed frame", "endpoint", c.url, "size", len(msg))
			continue
		}
		// Lifecycle events are ours to produce.
		if f.Event == EventConnect || f.Event == EventDisconnect {
			continue
		}
		c.dispatch(f.Event, f.Data)
	}
}

func (c *Conn) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	entries := append([]handlerEntry(nil), c.handlers[event]...)
	c.mu.Unlock()

	for _, h := range entries {
		c.invoke(event, h, data)
	}
}

func (c *Conn) invoke(event string, h handlerEntry, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("push handler panic recovered",
				"endpoint", c.url,
				"event", event,
				"error", r,
			)
		}
	}()
	h.fn(data)
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
