package push

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type testServer struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := &testServer{conns: make(chan *websocket.Conn, 8)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- ws
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-ts.conns:
		t.Cleanup(func() { ws.Close() })
		return ws
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(Frame{Event: event, Data: raw}))
}

func receive(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(waitTimeout)))
	var f Frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

func waitSignal[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

func TestConnectEmitAndReceive(t *testing.T) {
	ts := newTestServer(t)

	c := New(ts.url(), Options{})
	connected := make(chan struct{}, 1)
	c.On(EventConnect, func(json.RawMessage) { connected <- struct{}{} })
	received := make(chan json.RawMessage, 1)
	c.On("progress", func(data json.RawMessage) { received <- data })
	c.Start()
	defer c.Close()

	server := ts.accept(t)
	waitSignal(t, connected)
	assert.True(t, c.Connected())

	require.NoError(t, c.Emit("subscribe", map[string]string{"execution_id": "exec-1"}))
	f := receive(t, server)
	assert.Equal(t, "subscribe", f.Event)
	assert.JSONEq(t, `{"execution_id":"exec-1"}`, string(f.Data))

	send(t, server, "progress", map[string]any{"execution_id": "exec-1", "progress": 40})
	data := waitSignal(t, received)
	assert.JSONEq(t, `{"execution_id":"exec-1","progress":40}`, string(data))
}

func TestEmitBeforeConnect(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws", Options{})
	defer c.Close()

	err := c.Emit("subscribe", map[string]string{"execution_id": "exec-1"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDialFailureReportedAsDisconnect(t *testing.T) {
	ts := newTestServer(t)
	url := ts.url()
	ts.Close()

	c := New(url, Options{})
	disconnected := make(chan json.RawMessage, 1)
	c.On(EventDisconnect, func(data json.RawMessage) { disconnected <- data })
	c.Start()
	defer c.Close()

	data := waitSignal(t, disconnected)
	var info DisconnectInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Contains(t, info.Reason, "dial")
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Emit("subscribe", nil), ErrNotConnected)
}

func TestOffRemovesOnlyThatHandler(t *testing.T) {
	ts := newTestServer(t)

	c := New(ts.url(), Options{})
	connected := make(chan struct{}, 1)
	c.On(EventConnect, func(json.RawMessage) { connected <- struct{}{} })

	first := make(chan struct{}, 4)
	second := make(chan struct{}, 4)
	id1 := c.On("completed", func(json.RawMessage) { first <- struct{}{} })
	c.On("completed", func(json.RawMessage) { second <- struct{}{} })
	c.Start()
	defer c.Close()

	server := ts.accept(t)
	waitSignal(t, connected)

	assert.True(t, c.Off("completed", id1))
	assert.False(t, c.Off("completed", id1))
	assert.Equal(t, 1, c.HandlerCount("completed"))

	send(t, server, "completed", map[string]string{"execution_id": "exec-1"})
	waitSignal(t, second)
	assert.Empty(t, first)
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	ts := newTestServer(t)

	c := New(ts.url(), Options{})
	connected := make(chan struct{}, 1)
	c.On(EventConnect, func(json.RawMessage) { connected <- struct{}{} })
	got := make(chan string, 4)
	c.On("progress", func(data json.RawMessage) { got <- string(data) })
	c.On(EventDisconnect, func(json.RawMessage) { got <- "disconnect" })
	c.Start()
	defer c.Close()

	server := ts.accept(t)
	waitSignal(t, connected)

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte("{not json")))
	send(t, server, EventDisconnect, map[string]string{"reason": "spoofed"})
	send(t, server, "progress", map[string]int{"progress": 1})

	assert.JSONEq(t, `{"progress":1}`, waitSignal(t, got))
}

func TestHandlerPanicDoesNotStopDelivery(t *testing.T) {
	ts := newTestServer(t)

	c := New(ts.url(), Options{})
	connected := make(chan struct{}, 1)
	c.On(EventConnect, func(json.RawMessage) { connected <- struct{}{} })
	c.On("progress", func(json.RawMessage) { panic("boom") })
	got := make(chan struct{}, 2)
	c.On("progress", func(json.RawMessage) { got <- struct{}{} })
	c.Start()
	defer c.Close()

	server := ts.accept(t)
	waitSignal(t, connected)

	send(t, server, "progress", map[string]int{"progress": 1})
	send(t, server, "progress", map[string]int{"progress": 2})
	waitSignal(t, got)
	waitSignal(t, got)
}

func TestReconnectAfterServerDrop(t *testing.T) {
	ts := newTestServer(t)

	c := New(ts.url(), Options{ReconnectInterval: 20 * time.Millisecond})
	connects := make(chan struct{}, 4)
	disconnects := make(chan struct{}, 4)
	c.On(EventConnect, func(json.RawMessage) { connects <- struct{}{} })
	c.On(EventDisconnect, func(json.RawMessage) { disconnects <- struct{}{} })
	c.Start()
	defer c.Close()

	first := ts.accept(t)
	waitSignal(t, connects)

	first.Close()
	waitSignal(t, disconnects)

	second := ts.accept(t)
	waitSignal(t, connects)
	require.NoError(t, c.Emit("subscribe", map[string]string{"execution_id": "exec-2"}))
	assert.Equal(t, "subscribe", receive(t, second).Event)
}

func TestCloseReleasesHandlers(t *testing.T) {
	ts := newTestServer(t)

	c := New(ts.url(), Options{ReconnectInterval: 20 * time.Millisecond})
	connected := make(chan struct{}, 1)
	c.On(EventConnect, func(json.RawMessage) { connected <- struct{}{} })
	c.On("progress", func(json.RawMessage) {})
	c.Start()

	ts.accept(t)
	waitSignal(t, connected)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.True(t, c.Closed())
	assert.False(t, c.Connected())
	assert.Zero(t, c.HandlerCount("progress"))
	assert.ErrorIs(t, c.Emit("subscribe", nil), ErrClosed)
}

func TestHubSharesConnectionPerURL(t *testing.T) {
	a := newTestServer(t)
	b := newTestServer(t)

	hub := NewHub(Options{})

	c1, err := hub.Connect(a.url())
	require.NoError(t, err)
	c2, err := hub.Connect(a.url())
	require.NoError(t, err)
	c3, err := hub.Connect(b.url())
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.NotSame(t, c1, c3)
	assert.Equal(t, 2, hub.Len())

	require.NoError(t, hub.Close())
	assert.True(t, c1.Closed())
	assert.True(t, c3.Closed())

	_, err = hub.Connect(a.url())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHubReplacesClosedConnection(t *testing.T) {
	ts := newTestServer(t)
	hub := NewHub(Options{})
	defer hub.Close()

	c1, err := hub.Connect(ts.url())
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	c2, err := hub.Connect(ts.url())
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
}
