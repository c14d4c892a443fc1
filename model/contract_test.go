package model

import (
	"errors"
	"testing"
	"time"
)

func TestContractStatusConstants(t *testing.T) {
	statuses := []string{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
	expected := []string{"pending", "processing", "completed", "failed"}

	for i, status := range statuses {
		if status != expected[i] {
			t.Errorf("Expected '%s', got '%s'", expected[i], status)
		}
		if !ValidStatus(status) {
			t.Errorf("Expected '%s' to be a valid status", status)
		}
	}
	if ValidStatus("archived") {
		t.Error("Expected 'archived' to be rejected")
	}
}

func TestContractTerminal(t *testing.T) {
	tests := []struct {
		status   string
		terminal bool
	}{
		{StatusPending, false},
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		c := &Contract{Status: tt.status}
		if c.Terminal() != tt.terminal {
			t.Errorf("Status %s: expected terminal=%v", tt.status, tt.terminal)
		}
	}
}

func TestContractCloneDetachesCompletedTime(t *testing.T) {
	now := time.Now()
	c := &Contract{ID: "exec-1", CompletedTime: &now}

	clone := c.Clone()
	*clone.CompletedTime = now.Add(time.Hour)

	if !c.CompletedTime.Equal(now) {
		t.Error("Expected clone to own its completed time")
	}
}

func TestDecodeProgress(t *testing.T) {
	ev, err := DecodeProgress([]byte(`{"execution_id":"exec-1","progress":40,"message":"extracting clauses"}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ev.ExecutionID != "exec-1" || ev.Progress != 40 || ev.Message != "extracting clauses" {
		t.Errorf("Unexpected event: %+v", ev)
	}

	malformed := []string{
		`{"progress":40}`,
		`{"execution_id":"exec-1","progress":140}`,
		`{"execution_id":"exec-1","progress":-1}`,
		`{"execution_id":"exec-1","progress":"forty"}`,
		`not json`,
	}
	for _, raw := range malformed {
		if _, err := DecodeProgress([]byte(raw)); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("Expected ErrMalformedEvent for %s, got %v", raw, err)
		}
	}
}

func TestDecodeCompleted(t *testing.T) {
	ev, err := DecodeCompleted([]byte(`{"execution_id":"exec-1","risk_level":"medium","report_url":"/reports/exec-1"}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ev.RiskLevel != RiskMedium || ev.ReportURL != "/reports/exec-1" {
		t.Errorf("Unexpected event: %+v", ev)
	}

	if _, err := DecodeCompleted([]byte(`{"execution_id":"exec-1","risk_level":"extreme"}`)); !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("Expected ErrMalformedEvent for unknown risk level, got %v", err)
	}
	if _, err := DecodeCompleted([]byte(`{"risk_level":"low"}`)); !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("Expected ErrMalformedEvent for missing id, got %v", err)
	}
}

func TestDecodeFailed(t *testing.T) {
	ev, err := DecodeFailed([]byte(`{"execution_id":"exec-9","error":"ocr failed"}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	p := ev.Patch()
	if *p.Status != StatusFailed || *p.ErrorMsg != "ocr failed" {
		t.Errorf("Unexpected patch: %+v", p)
	}
}

func TestCompletedEventPatch(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := CompletedEvent{ExecutionID: "exec-1", RiskLevel: RiskHigh}.Patch(at)

	if *p.Status != StatusCompleted {
		t.Errorf("Expected completed status, got %s", *p.Status)
	}
	if *p.Progress != 100 {
		t.Errorf("Expected progress 100, got %d", *p.Progress)
	}
	if !p.CompletedTime.Equal(at) {
		t.Errorf("Expected completed time %v, got %v", at, *p.CompletedTime)
	}
	if p.ReportURL != nil {
		t.Error("Expected no report url when the event carries none")
	}
}
