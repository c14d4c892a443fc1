package service

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/AnTengye/contractdesk/model"
	"github.com/AnTengye/contractdesk/pkg/push"
)

// PushConn is the part of a push connection the subscription manager uses.
type PushConn interface {
	Emit(event string, payload any) error
	On(event string, fn push.HandlerFunc) push.HandlerID
	Off(event string, id push.HandlerID) bool
}

// ObserveCallbacks receive events for one record. Nil callbacks are not registered.
type ObserveCallbacks struct {
	OnProgress func(model.ProgressEvent)
	OnComplete func(model.CompletedEvent)
	OnFailed   func(model.FailedEvent)
}

type registration struct {
	event string
	id    push.HandlerID
}

type observation struct {
	recordID  string
	regs      []registration
	cancelled atomic.Bool
}

type recordState struct {
	refs int
	sent bool // subscribe delivered at least once
}

// SubscriptionManager maps observed record ids onto server subscriptions over
// one shared push connection. Events arrive by name for every subscribed
// record, so each observation filters on execution_id itself.
//
// Several observations of the same record share one server subscription:
// subscribe goes out with the first, unsubscribe with the last.
type SubscriptionManager struct {
	conn        PushConn
	resubscribe bool

	mu           sync.Mutex
	records      map[string]*recordState
	observations map[*observation]struct{}
	lifecycle    []registration
	closed       bool
}

// NewSubscriptionManager attaches to conn. With resubscribe set, every
// observed record is subscribed again after a reconnect.
func NewSubscriptionManager(conn PushConn, resubscribe bool) *SubscriptionManager {
	m := &SubscriptionManager{
		conn:         conn,
		resubscribe:  resubscribe,
		records:      make(map[string]*recordState),
		observations: make(map[*observation]struct{}),
	}
	m.lifecycle = []registration{
		{push.EventConnect, conn.On(push.EventConnect, m.handleConnect)},
		{push.EventDisconnect, conn.On(push.EventDisconnect, m.handleDisconnect)},
	}
	return m
}

// Observe subscribes to recordID and routes its events to cbs until the
// returned cancel is called. An empty recordID is ignored. After cancel
// returns no callback of this observation is started.
func (m *SubscriptionManager) Observe(recordID string, cbs ObserveCallbacks) (cancel func()) {
	if recordID == "" {
		slog.Debug("observe ignored: empty record id")
		return func() {}
	}

	o := &observation{recordID: recordID}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		slog.Debug("observe ignored: subscription manager closed", "execution_id", recordID)
		return func() {}
	}

	if cbs.OnProgress != nil {
		fn := cbs.OnProgress
		o.regs = append(o.regs, m.register(model.EventProgress, func(data json.RawMessage) {
			if ev, ok := decodeFor(o, data, model.DecodeProgress); ok {
				fn(ev)
			}
		}))
	}
	if cbs.OnComplete != nil {
		fn := cbs.OnComplete
		o.regs = append(o.regs, m.register(model.EventCompleted, func(data json.RawMessage) {
			if ev, ok := decodeFor(o, data, model.DecodeCompleted); ok {
				fn(ev)
			}
		}))
	}
	if cbs.OnFailed != nil {
		fn := cbs.OnFailed
		o.regs = append(o.regs, m.register(model.EventFailed, func(data json.RawMessage) {
			if ev, ok := decodeFor(o, data, model.DecodeFailed); ok {
				fn(ev)
			}
		}))
	}
	m.observations[o] = struct{}{}

	state, ok := m.records[recordID]
	if !ok {
		state = &recordState{}
		m.records[recordID] = state
	}
	state.refs++
	if state.refs == 1 {
		state.sent = m.emit(model.EventSubscribe, recordID)
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.release(o) })
	}
}

// Observed reports how many live observations exist for recordID.
func (m *SubscriptionManager) Observed(recordID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.records[recordID]; ok {
		return state.refs
	}
	return 0
}

// Close cancels every observation, unsubscribing each record, and detaches
// from the connection.
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true

	for o := range m.observations {
		o.cancelled.Store(true)
		for _, r := range o.regs {
			m.conn.Off(r.event, r.id)
		}
	}
	for recordID := range m.records {
		m.emit(model.EventUnsubscribe, recordID)
	}
	for _, r := range m.lifecycle {
		m.conn.Off(r.event, r.id)
	}
	m.observations = make(map[*observation]struct{})
	m.records = make(map[string]*recordState)
}

func (m *SubscriptionManager) register(event string, fn push.HandlerFunc) registration {
	return registration{event: event, id: m.conn.On(event, fn)}
}

func (m *SubscriptionManager) release(o *observation) {
	o.cancelled.Store(true)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.observations[o]; !ok {
		return
	}
	delete(m.observations, o)

	state := m.records[o.recordID]
	state.refs--
	if state.refs == 0 {
		delete(m.records, o.recordID)
		m.emit(model.EventUnsubscribe, o.recordID)
	}
	for _, r := range o.regs {
		m.conn.Off(r.event, r.id)
	}
}

func (m *SubscriptionManager) handleConnect(json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for recordID, state := range m.records {
		if state.sent && !m.resubscribe {
			continue
		}
		if m.emit(model.EventSubscribe, recordID) {
			state.sent = true
		}
	}
}

func (m *SubscriptionManager) handleDisconnect(data json.RawMessage) {
	var info push.DisconnectInfo
	_ = json.Unmarshal(data, &info)

	m.mu.Lock()
	observed := len(m.records)
	m.mu.Unlock()
	slog.Info("push disconnected, observations kept",
		"reason", info.Reason,
		"observed_records", observed,
	)
}

// emit sends a subscription control message; must be called with mu held.
func (m *SubscriptionManager) emit(event, recordID string) bool {
	err := m.conn.Emit(event, model.SubscriptionRequest{ExecutionID: recordID})
	switch {
	case err == nil:
		return true
	case errors.Is(err, push.ErrNotConnected):
		slog.Debug("subscription deferred until connected", "event", event, "execution_id", recordID)
	default:
		slog.Warn("subscription message failed", "event", event, "execution_id", recordID, "error", err)
	}
	return false
}

// decodeFor validates data for o. Events for other records are skipped
// silently; malformed payloads are logged and dropped.
func decodeFor[T any](o *observation, data json.RawMessage, decode func([]byte) (T, error)) (T, bool) {
	var zero T
	var peek struct {
		ExecutionID string `json:"execution_id"`
	}
	if err := json.Unmarshal(data, &peek); err == nil && peek.ExecutionID != "" && peek.ExecutionID != o.recordID {
		return zero, false
	}
	if o.cancelled.Load() {
		return zero, false
	}

	ev, err := decode(data)
	if err != nil {
		slog.Warn("dropped push event", "execution_id", o.recordID, "error", err)
		return zero, false
	}
	return ev, true
}

// Watcher is a single observer identity: it holds at most one observation and
// cancels the previous one before starting the next.
type Watcher struct {
	m *SubscriptionManager

	mu       sync.Mutex
	recordID string
	cancel   func()
}

func (m *SubscriptionManager) NewWatcher() *Watcher {
	return &Watcher{m: m}
}

// Watch replaces the current observation with one for recordID.
func (w *Watcher) Watch(recordID string, cbs ObserveCallbacks) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
	w.recordID = recordID
	w.cancel = w.m.Observe(recordID, cbs)
}

func (w *Watcher) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.recordID
}

// Close ends the current observation.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.recordID = ""
}
