package service

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/AnTengye/contractdesk/config"
	"github.com/AnTengye/contractdesk/model"
)

var (
	ErrEmptyID      = errors.New("contract id is empty")
	ErrDuplicateID  = errors.New("contract id already registered")
	ErrNotFound     = errors.New("contract not found")
	ErrInvalidPatch = errors.New("invalid contract patch")
)

// ChangeKind names what happened to the store.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeUpdated  ChangeKind = "updated"
	ChangeRemoved  ChangeKind = "removed"
	ChangeSelected ChangeKind = "selected"
	ChangeCleared  ChangeKind = "cleared"
)

// Change is delivered to listeners after a mutation has been committed.
type Change struct {
	Kind     ChangeKind
	ID       string
	Contract model.Contract
}

type ChangeFunc func(Change)

// ContractStore is the session's in-memory registry of tracked contracts.
// Records are kept newest first. Readers always get copies, so nothing outside
// the store can observe a record halfway through a merge.
type ContractStore struct {
	mu           sync.RWMutex
	records      []*model.Contract
	index        map[string]*model.Contract
	selectedID   string
	maxContracts int // Maximum contracts to keep, 0 = unlimited

	listenerMu   sync.Mutex
	listeners    map[int]ChangeFunc
	nextListener int

	now func() time.Time
}

// NewContractStore creates an empty store.
func NewContractStore(cfg *config.StoreConfig) *ContractStore {
	maxContracts := 0
	if cfg != nil && cfg.MaxContracts > 0 {
		maxContracts = cfg.MaxContracts
	}
	return &ContractStore{
		index:        make(map[string]*model.Contract),
		maxContracts: maxContracts,
		listeners:    make(map[int]ChangeFunc),
		now:          time.Now,
	}
}

// Create registers a new record in front of the existing ones.
func (s *ContractStore) Create(contract model.Contract) error {
	if contract.ID == "" {
		return ErrEmptyID
	}
	if contract.Status == "" {
		contract.Status = model.StatusPending
	}
	if !model.ValidStatus(contract.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidPatch, contract.Status)
	}
	if err := normalizeNew(&contract, s.now()); err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.index[contract.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, contract.ID)
	}

	record := contract.Clone()
	s.records = append([]*model.Contract{&record}, s.records...)
	s.index[record.ID] = &record
	changes := []Change{{Kind: ChangeCreated, ID: record.ID, Contract: record.Clone()}}

	// Cleanup if exceeds max
	changes = append(changes, s.cleanupIfNeeded()...)
	s.mu.Unlock()

	s.notify(changes)
	return nil
}

// normalizeNew applies the record invariants to a record about to be created:
// only a completed record carries a risk level, report url and completion
// time, and it must have a risk level.
func normalizeNew(c *model.Contract, now time.Time) error {
	c.Progress = clampProgress(c.Progress)
	if c.Status != model.StatusCompleted {
		c.RiskLevel = ""
		c.ReportURL = ""
		c.CompletedTime = nil
		return nil
	}
	if !model.ValidRiskLevel(c.RiskLevel) {
		return fmt.Errorf("%w: completed record %s has no risk level", ErrInvalidPatch, c.ID)
	}
	c.Progress = 100
	if c.CompletedTime == nil {
		at := now
		c.CompletedTime = &at
	}
	return nil
}

// Patch merges p into the record with the given id. Late events for records
// that are gone return ErrNotFound and change nothing. Terminal records ignore
// further patches, which makes repeated completion events idempotent.
func (s *ContractStore) Patch(id string, p model.ContractPatch) error {
	s.mu.Lock()
	record, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}

	changed, err := mergePatch(record, p, s.now())
	if err != nil || !changed {
		s.mu.Unlock()
		return err
	}
	snapshot := record.Clone()
	s.mu.Unlock()

	s.notify([]Change{{Kind: ChangeUpdated, ID: id, Contract: snapshot}})
	return nil
}

// Remove deletes a record and drops the selection if it pointed at it.
func (s *ContractStore) Remove(id string) bool {
	s.mu.Lock()
	record, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	snapshot := record.Clone()
	changes := s.removeLocked(id)
	s.mu.Unlock()

	changes[0].Contract = snapshot
	s.notify(changes)
	return true
}

func (s *ContractStore) Get(id string) (model.Contract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.index[id]
	if !ok {
		return model.Contract{}, false
	}
	return record.Clone(), true
}

// List returns copies of all records, newest first.
func (s *ContractStore) List() []model.Contract {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Contract, len(s.records))
	for i, record := range s.records {
		out[i] = record.Clone()
	}
	return out
}

// Select marks id as the record currently being viewed. An unknown id clears
// the selection and returns false.
func (s *ContractStore) Select(id string) bool {
	s.mu.Lock()
	record, ok := s.index[id]
	if !ok {
		hadSelection := s.selectedID != ""
		s.selectedID = ""
		s.mu.Unlock()
		if hadSelection {
			s.notify([]Change{{Kind: ChangeCleared}})
		}
		return false
	}
	s.selectedID = id
	snapshot := record.Clone()
	s.mu.Unlock()

	s.notify([]Change{{Kind: ChangeSelected, ID: id, Contract: snapshot}})
	return true
}

// Selected returns the selected record as it is now, including every patch
// applied since it was selected.
func (s *ContractStore) Selected() (model.Contract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selectedID == "" {
		return model.Contract{}, false
	}
	record, ok := s.index[s.selectedID]
	if !ok {
		return model.Contract{}, false
	}
	return record.Clone(), true
}

func (s *ContractStore) ClearSelection() {
	s.mu.Lock()
	hadSelection := s.selectedID != ""
	s.selectedID = ""
	s.mu.Unlock()

	if hadSelection {
		s.notify([]Change{{Kind: ChangeCleared}})
	}
}

// Count returns the number of contracts in the store
func (s *ContractStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// OnChange registers fn for every committed mutation. Listeners run
// synchronously on the mutating goroutine, after the store lock is released.
func (s *ContractStore) OnChange(fn ChangeFunc) (stop func()) {
	s.listenerMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *ContractStore) notify(changes []Change) {
	s.listenerMu.Lock()
	fns := make([]ChangeFunc, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()

	for _, change := range changes {
		for _, fn := range fns {
			fn(change)
		}
	}
}

// removeLocked must be called with the write lock held.
func (s *ContractStore) removeLocked(id string) []Change {
	delete(s.index, id)
	for i, record := range s.records {
		if record.ID == id {
			s.records = append(s.records[:i:i], s.records[i+1:]...)
			break
		}
	}

	changes := []Change{{Kind: ChangeRemoved, ID: id}}
	if s.selectedID == id {
		s.selectedID = ""
		changes = append(changes, Change{Kind: ChangeCleared})
	}
	return changes
}

// cleanupIfNeeded removes the oldest contracts if store exceeds maxContracts
// Must be called with lock held
func (s *ContractStore) cleanupIfNeeded() []Change {
	if s.maxContracts <= 0 {
		return nil // Unlimited
	}

	var changes []Change
	for len(s.records) > s.maxContracts {
		oldest := s.records[len(s.records)-1]
		slog.Info("auto-cleaning old contract",
			"contract_id", oldest.ID,
			"upload_time", oldest.UploadTime,
		)
		snapshot := oldest.Clone()
		removed := s.removeLocked(oldest.ID)
		removed[0].Contract = snapshot
		changes = append(changes, removed...)
	}
	return changes
}

// mergePatch applies p to c following the lifecycle rules:
//   - completed and failed are terminal; later patches are ignored
//   - progress is clamped to 0..100 and never decreases; the step label of a
//     stale progress update is dropped with it
//   - moving to completed requires a risk level and forces progress to 100
//   - risk level and report url are only taken on completion
//
// It reports whether c changed.
func mergePatch(c *model.Contract, p model.ContractPatch, now time.Time) (bool, error) {
	if c.Terminal() {
		return false, nil
	}

	next := c.Clone()
	status := next.Status
	if p.Status != nil {
		if !model.ValidStatus(*p.Status) {
			return false, fmt.Errorf("%w: unknown status %q", ErrInvalidPatch, *p.Status)
		}
		status = *p.Status
	}
	if status == model.StatusPending && c.Status == model.StatusProcessing {
		status = model.StatusProcessing
	}
	if status == model.StatusCompleted && (p.RiskLevel == nil || !model.ValidRiskLevel(*p.RiskLevel)) {
		return false, fmt.Errorf("%w: completion requires a risk level", ErrInvalidPatch)
	}

	stepAccepted := true
	if p.Progress != nil {
		v := clampProgress(*p.Progress)
		if v > next.Progress {
			next.Progress = v
		}
		stepAccepted = v >= c.Progress
		if status == model.StatusPending {
			status = model.StatusProcessing
		}
	}
	// A stale progress event must not relabel a later stage.
	if p.CurrentStep != nil && stepAccepted {
		next.CurrentStep = *p.CurrentStep
	}
	next.Status = status

	switch status {
	case model.StatusCompleted:
		next.Progress = 100
		completedAt := now
		if p.CompletedTime != nil {
			completedAt = *p.CompletedTime
		}
		next.CompletedTime = &completedAt
		next.RiskLevel = *p.RiskLevel
		if p.ReportURL != nil {
			next.ReportURL = *p.ReportURL
		}
	case model.StatusFailed:
		if p.ErrorMsg != nil {
			next.ErrorMsg = *p.ErrorMsg
		}
	}

	if reflect.DeepEqual(next, *c) {
		return false, nil
	}
	*c = next
	return true, nil
}

func clampProgress(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
