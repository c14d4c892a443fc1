package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AnTengye/contractdesk/model"
	"github.com/AnTengye/contractdesk/pkg/logger"
)

// ContractReader looks up the backend's view of an execution.
type ContractReader interface {
	GetContract(ctx context.Context, id string) (*model.ContractDetail, error)
	GetStatus(ctx context.Context, executionID string) (*model.StatusResponse, error)
}

// Tracker is the write path into the store: it registers uploads and routes
// push events for every tracked record into store patches. A record stops
// being tracked once it reaches a terminal state.
type Tracker struct {
	store    *ContractStore
	subs     *SubscriptionManager
	uploader *Uploader
	reader   ContractReader

	mu      sync.Mutex
	tracked map[string]func()
	closed  bool

	now func() time.Time
}

func NewTracker(store *ContractStore, subs *SubscriptionManager, uploader *Uploader, reader ContractReader) *Tracker {
	return &Tracker{
		store:    store,
		subs:     subs,
		uploader: uploader,
		reader:   reader,
		tracked:  make(map[string]func()),
		now:      time.Now,
	}
}

// Submit uploads file and starts tracking the new record.
func (t *Tracker) Submit(ctx context.Context, file *UploadFile, hints UploadHints) (SubmitResult, error) {
	if t.uploader == nil {
		return SubmitResult{}, errors.New("tracker has no uploader")
	}
	res, err := t.uploader.Submit(ctx, file, hints)
	if err != nil {
		return SubmitResult{}, err
	}
	t.Track(res.ID)
	return res, nil
}

// Track routes live events for id into the store. It reports whether id is
// being tracked afterwards; unknown and terminal records are not.
func (t *Tracker) Track(id string) bool {
	if id == "" {
		return false
	}
	c, ok := t.store.Get(id)
	if !ok || c.Terminal() {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	if _, ok := t.tracked[id]; ok {
		return true
	}

	t.tracked[id] = t.subs.Observe(id, ObserveCallbacks{
		OnProgress: func(ev model.ProgressEvent) { t.apply(id, ev.Patch()) },
		OnComplete: func(ev model.CompletedEvent) { t.apply(id, ev.Patch(t.now())) },
		OnFailed:   func(ev model.FailedEvent) { t.apply(id, ev.Patch()) },
	})
	slog.Debug("tracking contract", "execution_id", id)
	return true
}

// Untrack stops routing events for id.
func (t *Tracker) Untrack(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cancel, ok := t.tracked[id]; ok {
		delete(t.tracked, id)
		cancel()
		slog.Debug("stopped tracking contract", "execution_id", id)
	}
}

func (t *Tracker) Tracking(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tracked[id]
	return ok
}

// Tracked lists the ids currently tracked, sorted.
func (t *Tracker) Tracked() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.tracked))
	for id := range t.tracked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resume registers a record the session did not upload itself, seeded from
// the backend, and tracks it unless it has already finished.
func (t *Tracker) Resume(ctx context.Context, id string) (model.Contract, error) {
	if id == "" {
		return model.Contract{}, ErrEmptyID
	}
	if c, ok := t.store.Get(id); ok {
		t.Track(id)
		return c, nil
	}
	if t.reader == nil {
		return model.Contract{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	record, err := t.seed(ctx, id)
	if err != nil {
		return model.Contract{}, err
	}
	if err := t.store.Create(record); err != nil && !errors.Is(err, ErrDuplicateID) {
		return model.Contract{}, err
	}
	t.Track(id)

	c, _ := t.store.Get(id)
	logger.Info(logger.WithExecutionID(ctx, id), "contract resumed", "status", c.Status, "progress", c.Progress)
	return c, nil
}

func (t *Tracker) seed(ctx context.Context, id string) (model.Contract, error) {
	detail, err := t.reader.GetContract(ctx, id)
	if err == nil {
		record := detail.Contract
		record.ID = id
		return settleSeed(ctx, record), nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode == 0 {
		return model.Contract{}, err
	}
	logger.Debug(ctx, "contract detail unavailable, falling back to status", "execution_id", id, "error", err)

	status, err := t.reader.GetStatus(ctx, id)
	if err != nil {
		return model.Contract{}, err
	}
	return settleSeed(ctx, model.Contract{
		ID:          id,
		UploadTime:  t.now(),
		Status:      status.Status,
		Progress:    clampProgress(status.Progress),
		CurrentStep: status.CurrentStep,
	}), nil
}

// settleSeed keeps a completion the backend reported without its risk level
// open as processing, so tracking picks up the replayed completed event that
// carries the missing fields.
func settleSeed(ctx context.Context, c model.Contract) model.Contract {
	if c.Status != model.StatusCompleted || model.ValidRiskLevel(c.RiskLevel) {
		return c
	}
	logger.Debug(logger.WithExecutionID(ctx, c.ID), "completion without risk level, waiting for completed event")
	c.Status = model.StatusProcessing
	c.RiskLevel = ""
	c.ReportURL = ""
	c.CompletedTime = nil
	return c
}

// Close stops tracking everything. The tracker cannot be reused.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, cancel := range t.tracked {
		cancel()
		delete(t.tracked, id)
	}
}

func (t *Tracker) apply(id string, p model.ContractPatch) {
	err := t.store.Patch(id, p)
	switch {
	case errors.Is(err, ErrNotFound):
		slog.Debug("event for removed contract", "execution_id", id)
		t.Untrack(id)
		return
	case err != nil:
		slog.Warn("contract update rejected", "execution_id", id, "error", err)
		return
	}

	if c, ok := t.store.Get(id); ok && c.Terminal() {
		slog.Info("contract finished", "execution_id", id, "status", c.Status, "risk_level", c.RiskLevel)
		t.Untrack(id)
	}
}
