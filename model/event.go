package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Push event names.
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventProgress    = "progress"
	EventCompleted   = "completed"
	EventFailed      = "failed"
)

// ErrMalformedEvent is returned when a push payload fails validation.
var ErrMalformedEvent = errors.New("malformed event")

// SubscriptionRequest is the payload of subscribe and unsubscribe.
type SubscriptionRequest struct {
	ExecutionID string `json:"execution_id"`
}

type ProgressEvent struct {
	ExecutionID string `json:"execution_id"`
	Progress    int    `json:"progress"`
	Message     string `json:"message"`
}

type CompletedEvent struct {
	ExecutionID string `json:"execution_id"`
	RiskLevel   string `json:"risk_level"`
	ReportURL   string `json:"report_url,omitempty"`
}

type FailedEvent struct {
	ExecutionID string `json:"execution_id"`
	Error       string `json:"error"`
}

func DecodeProgress(data []byte) (ProgressEvent, error) {
	var ev ProgressEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ProgressEvent{}, fmt.Errorf("%w: progress: %v", ErrMalformedEvent, err)
	}
	if ev.ExecutionID == "" {
		return ProgressEvent{}, fmt.Errorf("%w: progress: missing execution_id", ErrMalformedEvent)
	}
	if ev.Progress < 0 || ev.Progress > 100 {
		return ProgressEvent{}, fmt.Errorf("%w: progress: value %d out of range", ErrMalformedEvent, ev.Progress)
	}
	return ev, nil
}

func DecodeCompleted(data []byte) (CompletedEvent, error) {
	var ev CompletedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return CompletedEvent{}, fmt.Errorf("%w: completed: %v", ErrMalformedEvent, err)
	}
	if ev.ExecutionID == "" {
		return CompletedEvent{}, fmt.Errorf("%w: completed: missing execution_id", ErrMalformedEvent)
	}
	if !ValidRiskLevel(ev.RiskLevel) {
		return CompletedEvent{}, fmt.Errorf("%w: completed: invalid risk_level %q", ErrMalformedEvent, ev.RiskLevel)
	}
	return ev, nil
}

func DecodeFailed(data []byte) (FailedEvent, error) {
	var ev FailedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return FailedEvent{}, fmt.Errorf("%w: failed: %v", ErrMalformedEvent, err)
	}
	if ev.ExecutionID == "" {
		return FailedEvent{}, fmt.Errorf("%w: failed: missing execution_id", ErrMalformedEvent)
	}
	return ev, nil
}

// Patch converts a progress event into a registry update.
func (e ProgressEvent) Patch() ContractPatch {
	return ContractPatch{
		Progress:    &e.Progress,
		CurrentStep: &e.Message,
	}
}

// Patch converts a completion event into a registry update stamped with at.
func (e CompletedEvent) Patch(at time.Time) ContractPatch {
	status := StatusCompleted
	progress := 100
	p := ContractPatch{
		Status:        &status,
		Progress:      &progress,
		CompletedTime: &at,
		RiskLevel:     &e.RiskLevel,
	}
	if e.ReportURL != "" {
		p.ReportURL = &e.ReportURL
	}
	return p
}

func (e FailedEvent) Patch() ContractPatch {
	status := StatusFailed
	return ContractPatch{
		Status:   &status,
		ErrorMsg: &e.Error,
	}
}
