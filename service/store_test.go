package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/AnTengye/contractdesk/config"
	"github.com/AnTengye/contractdesk/model"
)

func newTestStore(maxContracts int) *ContractStore {
	return NewContractStore(&config.StoreConfig{MaxContracts: maxContracts})
}

func processing(id string) model.Contract {
	return model.Contract{
		ID:         id,
		Filename:   id + ".pdf",
		FileFormat: "pdf",
		Status:     model.StatusProcessing,
		UploadTime: time.Now(),
	}
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func completion(risk string) model.ContractPatch {
	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	return model.CompletedEvent{RiskLevel: risk, ReportURL: "/reports/x"}.Patch(at)
}

func TestContractStoreCreateAndGet(t *testing.T) {
	store := newTestStore(0)

	if err := store.Create(processing("exec-1")); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	retrieved, ok := store.Get("exec-1")
	if !ok {
		t.Fatal("Expected to retrieve contract")
	}
	if retrieved.Filename != "exec-1.pdf" {
		t.Errorf("Expected filename exec-1.pdf, got %s", retrieved.Filename)
	}

	if _, ok := store.Get("non-existent"); ok {
		t.Error("Expected no contract for non-existent id")
	}
}

func TestContractStoreCreateRejectsDuplicates(t *testing.T) {
	store := newTestStore(0)

	if err := store.Create(processing("exec-1")); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := store.Create(processing("exec-1")); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Expected ErrDuplicateID, got %v", err)
	}
	if err := store.Create(model.Contract{}); !errors.Is(err, ErrEmptyID) {
		t.Errorf("Expected ErrEmptyID, got %v", err)
	}
	if store.Count() != 1 {
		t.Errorf("Expected 1 contract, got %d", store.Count())
	}
}

func TestContractStoreListNewestFirst(t *testing.T) {
	store := newTestStore(0)

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(processing(id)); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	list := store.List()
	got := []string{list[0].ID, list[1].ID, list[2].ID}
	want := []string{"c", "b", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected order %v, got %v", want, got)
		}
	}

	seen := make(map[string]bool)
	for _, c := range list {
		if seen[c.ID] {
			t.Errorf("Duplicate id %s in list", c.ID)
		}
		seen[c.ID] = true
	}
}

func TestContractStoreReadersGetCopies(t *testing.T) {
	store := newTestStore(0)
	store.Create(processing("exec-1"))

	c, _ := store.Get("exec-1")
	c.Progress = 99

	again, _ := store.Get("exec-1")
	if again.Progress != 0 {
		t.Errorf("Expected stored progress to be untouched, got %d", again.Progress)
	}
}

func TestContractStorePatchMergesShallow(t *testing.T) {
	store := newTestStore(0)
	store.Create(processing("exec-1"))

	if err := store.Patch("exec-1", model.ContractPatch{Progress: intPtr(40), CurrentStep: strPtr("extracting clauses")}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := store.Patch("exec-1", model.ContractPatch{Progress: intPtr(55)}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	c, _ := store.Get("exec-1")
	if c.Progress != 55 {
		t.Errorf("Expected progress 55, got %d", c.Progress)
	}
	if c.CurrentStep != "extracting clauses" {
		t.Errorf("Expected current step retained, got %q", c.CurrentStep)
	}
	if c.Filename != "exec-1.pdf" {
		t.Errorf("Expected static fields retained, got %q", c.Filename)
	}
}

func TestContractStorePatchMissingIsNoop(t *testing.T) {
	store := newTestStore(0)

	err := store.Patch("gone", model.ContractPatch{Progress: intPtr(10)})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if store.Count() != 0 {
		t.Error("Expected patch not to resurrect a record")
	}
}

func TestContractStoreProgressNeverDecreases(t *testing.T) {
	store := newTestStore(0)
	store.Create(processing("exec-1"))

	store.Patch("exec-1", model.ContractPatch{Progress: intPtr(70)})
	store.Patch("exec-1", model.ContractPatch{Progress: intPtr(30)})
	store.Patch("exec-1", model.ContractPatch{Progress: intPtr(250)})

	c, _ := store.Get("exec-1")
	if c.Progress != 100 {
		t.Errorf("Expected clamped progress 100, got %d", c.Progress)
	}
	if c.Status != model.StatusProcessing {
		t.Errorf("Expected status processing, got %s", c.Status)
	}
}

func TestContractStoreCompletionInvariants(t *testing.T) {
	store := newTestStore(0)
	store.Create(processing("exec-1"))

	if err := store.Patch("exec-1", completion(model.RiskMedium)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	c, _ := store.Get("exec-1")
	if c.Status != model.StatusCompleted {
		t.Errorf("Expected completed, got %s", c.Status)
	}
	if c.Progress != 100 {
		t.Errorf("Expected progress 100, got %d", c.Progress)
	}
	if c.RiskLevel != model.RiskMedium {
		t.Errorf("Expected risk medium, got %s", c.RiskLevel)
	}
	if c.CompletedTime == nil {
		t.Error("Expected completed time to be set")
	}
	if c.ReportURL != "/reports/x" {
		t.Errorf("Expected report url, got %q", c.ReportURL)
	}
}

func TestContractStoreCompletionIsIdempotent(t *testing.T) {
	once := newTestStore(0)
	twice := newTestStore(0)
	once.Create(processing("exec-1"))
	twice.Create(processing("exec-1"))

	once.Patch("exec-1", completion(model.RiskHigh))
	twice.Patch("exec-1", completion(model.RiskHigh))
	twice.Patch("exec-1", completion(model.RiskHigh))

	a, _ := once.Get("exec-1")
	b, _ := twice.Get("exec-1")
	if a.Status != b.Status || a.Progress != b.Progress || a.RiskLevel != b.RiskLevel ||
		!a.CompletedTime.Equal(*b.CompletedTime) || a.ReportURL != b.ReportURL {
		t.Errorf("Expected identical records, got %+v and %+v", a, b)
	}
}

func TestContractStoreProgressAfterCompletionIgnored(t *testing.T) {
	store := newTestStore(0)
	store.Create(processing("exec-1"))
	store.Patch("exec-1", completion(model.RiskLow))

	err := store.Patch("exec-1", model.ProgressEvent{ExecutionID: "exec-1", Progress: 50, Message: "late"}.Patch())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	c, _ := store.Get("exec-1")
	if c.Status != model.StatusCompleted || c.Progress != 100 {
		t.Errorf("Expected completed at 100, got %s at %d", c.Status, c.Progress)
	}
	if c.CurrentStep == "late" {
		t.Error("Expected late progress message to be ignored")
	}
}

func TestContractStoreCompletionRequiresRisk(t *testing.T) {
	store := newTestStore(0)
	store.Create(processing("exec-1"))

	err := store.Patch("exec-1", model.ContractPatch{Status: strPtr(model.StatusCompleted)})
	if !errors.Is(err, ErrInvalidPatch) {
		t.Errorf("Expected ErrInvalidPatch, got %v", err)
	}

	c, _ := store.Get("exec-1")
	if c.Status != model.StatusProcessing || c.CompletedTime != nil {
		t.Errorf("Expected record unchanged, got %+v", c)
	}
}

func TestContractStoreRiskOnlyOnCompletion(t *testing.T) {
	store := newTestStore(0)
	store.Create(processing("exec-1"))

	store.Patch("exec-1", model.ContractPatch{RiskLevel: strPtr(model.RiskHigh), ReportURL: strPtr("/r")})

	c, _ := store.Get("exec-1")
	if c.RiskLevel != "" || c.ReportURL != "" {
		t.Errorf("Expected risk and report to stay unset, got %q %q", c.RiskLevel, c.ReportURL)
	}
}

func TestContractStoreFailure(t *testing.T) {
	store := newTestStore(0)
	store.Create(processing("exec-1"))

	store.Patch("exec-1", model.FailedEvent{ExecutionID: "exec-1", Error: "ocr failed"}.Patch())
	store.Patch("exec-1", completion(model.RiskLow))

	c, _ := store.Get("exec-1")
	if c.Status != model.StatusFailed {
		t.Errorf("Expected failed, got %s", c.Status)
	}
	if c.ErrorMsg != "ocr failed" {
		t.Errorf("Expected error message, got %q", c.ErrorMsg)
	}
	if c.RiskLevel != "" || c.CompletedTime != nil {
		t.Error("Expected no completion fields on a failed record")
	}
}

func TestContractStorePendingMovesToProcessing(t *testing.T) {
	store := newTestStore(0)
	store.Create(model.Contract{ID: "exec-1"})

	store.Patch("exec-1", model.ContractPatch{Progress: intPtr(5)})

	c, _ := store.Get("exec-1")
	if c.Status != model.StatusProcessing {
		t.Errorf("Expected processing, got %s", c.Status)
	}
}

func TestContractStoreSelection(t *testing.T) {
	store := newTestStore(0)
	store.Create(processing("exec-1"))

	if !store.Select("exec-1") {
		t.Fatal("Expected selection to succeed")
	}
	store.Patch("exec-1", model.ContractPatch{Progress: intPtr(42)})

	selected, ok := store.Selected()
	if !ok {
		t.Fatal("Expected a selection")
	}
	if selected.Progress != 42 {
		t.Errorf("Expected selected progress 42, got %d", selected.Progress)
	}

	store.ClearSelection()
	if _, ok := store.Selected(); ok {
		t.Error("Expected selection to be cleared")
	}

	if store.Select("missing") {
		t.Error("Expected selecting an unknown id to fail")
	}
}

func TestContractStoreRemove(t *testing.T) {
	store := newTestStore(0)
	store.Create(processing("delete-me"))
	store.Select("delete-me")

	if !store.Remove("delete-me") {
		t.Fatal("Expected remove to succeed")
	}
	if _, ok := store.Get("delete-me"); ok {
		t.Error("Expected contract to be deleted")
	}
	if _, ok := store.Selected(); ok {
		t.Error("Expected selection to be cleared by remove")
	}
	if store.Remove("delete-me") {
		t.Error("Expected second remove to report false")
	}
}

func TestContractStoreAutoCleanup(t *testing.T) {
	store := newTestStore(3) // Max 3 contracts

	for i := 0; i < 5; i++ {
		store.Create(processing(fmt.Sprintf("c%d", i)))
	}

	if store.Count() != 3 {
		t.Errorf("Expected 3 contracts after cleanup, got %d", store.Count())
	}
	if _, ok := store.Get("c0"); ok {
		t.Error("Expected oldest contract 'c0' to be removed")
	}
	if _, ok := store.Get("c1"); ok {
		t.Error("Expected second oldest contract 'c1' to be removed")
	}
	if _, ok := store.Get("c4"); !ok {
		t.Error("Expected newest contract to be kept")
	}
}

func TestContractStoreUnlimitedContracts(t *testing.T) {
	store := newTestStore(0) // Unlimited

	for i := 0; i < 10; i++ {
		store.Create(processing(fmt.Sprintf("c%d", i)))
	}

	if store.Count() != 10 {
		t.Errorf("Expected 10 contracts, got %d", store.Count())
	}
}

func TestContractStoreOnChange(t *testing.T) {
	store := newTestStore(0)

	var kinds []ChangeKind
	stop := store.OnChange(func(ch Change) {
		kinds = append(kinds, ch.Kind)
		if ch.Kind == ChangeUpdated && ch.Contract.Progress != 10 {
			t.Errorf("Expected committed progress 10 in change, got %d", ch.Contract.Progress)
		}
	})

	store.Create(processing("exec-1"))
	store.Patch("exec-1", model.ContractPatch{Progress: intPtr(10)})
	store.Patch("exec-1", model.ContractPatch{Progress: intPtr(10)}) // no change, no event
	store.Select("exec-1")
	store.Remove("exec-1")
	stop()
	store.Create(processing("exec-2"))

	want := []ChangeKind{ChangeCreated, ChangeUpdated, ChangeSelected, ChangeRemoved, ChangeCleared}
	if len(kinds) != len(want) {
		t.Fatalf("Expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("Change %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestContractStoreCreateEnforcesRecordInvariants(t *testing.T) {
	store := newTestStore(0)
	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return at }

	bare := processing("exec-bare")
	bare.Status = model.StatusCompleted
	if err := store.Create(bare); !errors.Is(err, ErrInvalidPatch) {
		t.Errorf("Expected ErrInvalidPatch for completion without risk, got %v", err)
	}
	if _, ok := store.Get("exec-bare"); ok {
		t.Error("Expected rejected record not to be stored")
	}

	done := processing("exec-done")
	done.Status = model.StatusCompleted
	done.RiskLevel = model.RiskHigh
	done.Progress = 70
	if err := store.Create(done); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	c, _ := store.Get("exec-done")
	if c.Progress != 100 || c.CompletedTime == nil || !c.CompletedTime.Equal(at) {
		t.Errorf("Expected progress 100 and completion time, got %+v", c)
	}

	early := processing("exec-early")
	early.Progress = 140
	early.RiskLevel = model.RiskLow
	early.ReportURL = "/reports/exec-early"
	early.CompletedTime = &at
	if err := store.Create(early); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	c, _ = store.Get("exec-early")
	if c.Progress != 100 || c.RiskLevel != "" || c.ReportURL != "" || c.CompletedTime != nil {
		t.Errorf("Expected completion fields cleared on a processing record, got %+v", c)
	}
}

func TestContractStoreStaleProgressKeepsStep(t *testing.T) {
	store := newTestStore(0)
	store.Create(processing("exec-1"))

	store.Patch("exec-1", model.ProgressEvent{Progress: 60, Message: "matching regulations"}.Patch())
	store.Patch("exec-1", model.ProgressEvent{Progress: 30, Message: "extracting clauses"}.Patch())

	c, _ := store.Get("exec-1")
	if c.Progress != 60 || c.CurrentStep != "matching regulations" {
		t.Errorf("Expected 60%% matching regulations, got %d%% %q", c.Progress, c.CurrentStep)
	}

	store.Patch("exec-1", model.ContractPatch{CurrentStep: strPtr("assessing risk")})
	if c, _ := store.Get("exec-1"); c.CurrentStep != "assessing risk" {
		t.Errorf("Expected step-only patch to apply, got %q", c.CurrentStep)
	}
}
