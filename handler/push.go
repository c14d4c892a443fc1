package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AnTengye/contractdesk/model"
	"github.com/AnTengye/contractdesk/pkg/metrics"
	"github.com/AnTengye/contractdesk/pkg/push"
)

// Publisher delivers pipeline events to whoever is subscribed to an execution.
type Publisher interface {
	Publish(executionID, event string, payload any)
}

type pushClient struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	subs    map[string]struct{} // guarded by PushHub.mu
}

func (pc *pushClient) write(msg []byte) error {
	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	_ = pc.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return pc.ws.WriteMessage(websocket.TextMessage, msg)
}

// PushHub is the server side of the progress channel. Clients subscribe per
// execution id; a late subscriber immediately receives the latest event of
// that execution.
type PushHub struct {
	upgrader websocket.Upgrader
	metrics  *metrics.Backend

	mu      sync.Mutex
	clients map[*pushClient]struct{}
	latest  map[string][]byte
	closed  bool
}

func NewPushHub() *PushHub {
	return &PushHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*pushClient]struct{}),
		latest:  make(map[string][]byte),
	}
}

// Instrument counts clients and published events in m.
func (h *PushHub) Instrument(m *metrics.Backend) {
	h.metrics = m
}

// Serve upgrades the request and reads subscription messages until the client leaves.
func (h *PushHub) Serve(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err, "client_ip", c.ClientIP())
		return
	}

	pc := &pushClient{ws: ws, subs: make(map[string]struct{})}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ws.Close()
		return
	}
	h.clients[pc] = struct{}{}
	h.mu.Unlock()
	h.metrics.PushClientConnected()
	slog.Info("push client connected", "client_ip", c.ClientIP())

	defer func() {
		h.mu.Lock()
		delete(h.clients, pc)
		h.mu.Unlock()
		ws.Close()
		h.metrics.PushClientDisconnected()
		slog.Info("push client disconnected", "client_ip", c.ClientIP())
	}()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var f push.Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			slog.Warn("push frame ignored", "error", err)
			continue
		}
		var req model.SubscriptionRequest
		if err := json.Unmarshal(f.Data, &req); err != nil || req.ExecutionID == "" {
			slog.Warn("push subscription ignored", "event", f.Event)
			continue
		}

		switch f.Event {
		case model.EventSubscribe:
			h.subscribe(pc, req.ExecutionID)
		case model.EventUnsubscribe:
			h.mu.Lock()
			delete(pc.subs, req.ExecutionID)
			h.mu.Unlock()
			slog.Debug("push unsubscribed", "execution_id", req.ExecutionID)
		default:
			slog.Debug("push event ignored", "event", f.Event)
		}
	}
}

func (h *PushHub) subscribe(pc *pushClient, executionID string) {
	h.mu.Lock()
	pc.subs[executionID] = struct{}{}
	last := h.latest[executionID]
	h.mu.Unlock()
	slog.Debug("push subscribed", "execution_id", executionID)

	if last != nil {
		if err := pc.write(last); err != nil {
			slog.Warn("push replay failed", "execution_id", executionID, "error", err)
		}
	}
}

// Publish sends event to every subscriber of executionID and remembers it for
// later subscribers.
func (h *PushHub) Publish(executionID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("push payload encode failed", "event", event, "error", err)
		return
	}
	msg, err := json.Marshal(push.Frame{Event: event, Data: data})
	if err != nil {
		slog.Error("push frame encode failed", "event", event, "error", err)
		return
	}

	h.metrics.RecordPublish(event)

	h.mu.Lock()
	h.latest[executionID] = msg
	var targets []*pushClient
	for pc := range h.clients {
		if _, ok := pc.subs[executionID]; ok {
			targets = append(targets, pc)
		}
	}
	h.mu.Unlock()

	for _, pc := range targets {
		if err := pc.write(msg); err != nil {
			slog.Warn("push send failed", "execution_id", executionID, "event", event, "error", err)
		}
	}
}

// Subscribers counts the clients subscribed to executionID.
func (h *PushHub) Subscribers(executionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for pc := range h.clients {
		if _, ok := pc.subs[executionID]; ok {
			n++
		}
	}
	return n
}

// Close disconnects every client.
func (h *PushHub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*pushClient, 0, len(h.clients))
	for pc := range h.clients {
		clients = append(clients, pc)
	}
	h.mu.Unlock()

	for _, pc := range clients {
		pc.writeMu.Lock()
		_ = pc.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		pc.writeMu.Unlock()
		pc.ws.Close()
	}
}
