package model

import (
	"time"
)

// Contract is one submitted document's processing lifecycle as tracked by the client.
type Contract struct {
	ID            string     `json:"id"`
	Filename      string     `json:"filename"`
	FileFormat    string     `json:"file_format"`
	FileSize      int64      `json:"file_size"`
	UploadTime    time.Time  `json:"upload_time"`
	UploadedBy    string     `json:"uploaded_by"`
	ContractType  string     `json:"contract_type,omitempty"`
	Workflow      string     `json:"workflow,omitempty"`
	Status        string     `json:"status"` // pending, processing, completed, failed
	Progress      int        `json:"progress"`
	CurrentStep   string     `json:"current_step,omitempty"`
	CompletedTime *time.Time `json:"completed_time,omitempty"`
	RiskLevel     string     `json:"risk_level,omitempty"` // low, medium, high
	ReportURL     string     `json:"report_url,omitempty"`
	ErrorMsg      string     `json:"error_msg,omitempty"`
}

// ContractStatus constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// RiskLevel constants
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Workflows the backend may pick for an upload.
const (
	WorkflowStandard = "standard_contract_processing"
	WorkflowQuick    = "quick_approval"
	WorkflowStrict   = "strict_approval"
)

func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func ValidRiskLevel(s string) bool {
	switch s {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// Terminal reports whether no further lifecycle change is accepted.
func (c *Contract) Terminal() bool {
	return c.Status == StatusCompleted || c.Status == StatusFailed
}

// Clone returns a deep copy safe to hand to readers.
func (c *Contract) Clone() Contract {
	out := *c
	if c.CompletedTime != nil {
		t := *c.CompletedTime
		out.CompletedTime = &t
	}
	return out
}

// ContractPatch lists the mutable fields to merge into a record. Nil fields are left alone.
type ContractPatch struct {
	Status        *string
	Progress      *int
	CurrentStep   *string
	CompletedTime *time.Time
	RiskLevel     *string
	ReportURL     *string
	ErrorMsg      *string
}

// ContractDetail is the full record returned by GET /contract/{id}.
type ContractDetail struct {
	Contract
	ParsedText     string             `json:"parsed_text,omitempty"`
	Regulations    []Regulation       `json:"regulations,omitempty"`
	RiskAssessment *RiskAssessment    `json:"risk_assessment,omitempty"`
	Execution      *WorkflowExecution `json:"workflow_execution,omitempty"`
}

type Regulation struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Content        string  `json:"content"`
	RelevanceScore float64 `json:"relevance_score"`
}

type RiskAssessment struct {
	RiskLevel   string     `json:"risk_level"`
	RiskScore   float64    `json:"risk_score"`
	Conflicts   []Conflict `json:"conflicts"`
	Summary     string     `json:"summary"`
	Suggestions []string   `json:"suggestions"`
}

type Conflict struct {
	Type           string `json:"type"`
	ContractClause string `json:"contract_clause"`
	Regulation     string `json:"regulation"`
	Severity       string `json:"severity"`
	Suggestion     string `json:"suggestion"`
}

type WorkflowExecution struct {
	ExecutionID  string         `json:"execution_id"`
	WorkflowName string         `json:"workflow_name"`
	Steps        []WorkflowStep `json:"steps"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      *time.Time     `json:"end_time,omitempty"`
}

type WorkflowStep struct {
	Name      string     `json:"name"`
	Status    string     `json:"status"` // pending, running, completed, failed
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Duration  float64    `json:"duration,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// UploadResponse is the body of POST /contract/upload.
type UploadResponse struct {
	ExecutionID  string `json:"execution_id"`
	WorkflowUsed string `json:"workflow_used"`
}

// StatusResponse is the body of GET /contract/status/{executionId}.
type StatusResponse struct {
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	CurrentStep string `json:"current_step"`
}
