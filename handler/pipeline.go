package handler

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/AnTengye/contractdesk/model"
	"github.com/AnTengye/contractdesk/pkg/logger"
)

type uploadRequest struct {
	contractType string
	amount       *float64
	urgency      string
}

type pipelineStep struct {
	name     string
	message  string
	progress int
}

var pipelineSteps = []pipelineStep{
	{name: "classify", message: "classifying contract", progress: 15},
	{name: "extract_clauses", message: "extracting clauses", progress: 40},
	{name: "match_regulations", message: "matching regulations", progress: 65},
	{name: "assess_risk", message: "assessing risk", progress: 90},
}

// Step states of a workflow execution.
const (
	stepPending   = "pending"
	stepRunning   = "running"
	stepCompleted = "completed"
	stepFailed    = "failed"
)

func newExecution(id, workflow string, start time.Time) *model.WorkflowExecution {
	steps := make([]model.WorkflowStep, len(pipelineSteps))
	for i, s := range pipelineSteps {
		steps[i] = model.WorkflowStep{Name: s.name, Status: stepPending}
	}
	return &model.WorkflowExecution{
		ExecutionID:  id,
		WorkflowName: workflow,
		Steps:        steps,
		StartTime:    start,
	}
}

// riskReport is the document served at the report url.
type riskReport struct {
	ExecutionID    string                `json:"execution_id"`
	Filename       string                `json:"filename"`
	ContractType   string                `json:"contract_type,omitempty"`
	Workflow       string                `json:"workflow"`
	RiskAssessment *model.RiskAssessment `json:"risk_assessment"`
	Regulations    []model.Regulation    `json:"regulations"`
	GeneratedAt    time.Time             `json:"generated_at"`
}

func (h *ContractHandler) process(id string, req uploadRequest) {
	defer h.wg.Done()
	ctx := logger.WithExecutionID(h.ctx, id)

	record, ok := h.store.Get(id)
	if !ok {
		return
	}

	for i, step := range pipelineSteps {
		if !h.wait() {
			logger.Debug(ctx, "pipeline cancelled", "step", step.name)
			return
		}
		if i > 0 {
			h.markStep(id, i-1, stepCompleted, "")
		}
		h.markStep(id, i, stepRunning, step.message)

		if step.name == "extract_clauses" && strings.Contains(strings.ToLower(record.Filename), "corrupt") {
			h.fail(ctx, id, i, "failed to extract text from document")
			return
		}

		progress, message := step.progress, step.message
		if err := h.store.Patch(id, model.ContractPatch{Progress: &progress, CurrentStep: &message}); err != nil {
			logger.Warn(ctx, "pipeline progress not recorded", "error", err)
		}
		h.publisher.Publish(id, model.EventProgress, model.ProgressEvent{
			ExecutionID: id,
			Progress:    progress,
			Message:     message,
		})
	}

	if !h.wait() {
		return
	}
	h.markStep(id, len(pipelineSteps)-1, stepCompleted, "")
	h.complete(ctx, id, record, req)
}

func (h *ContractHandler) complete(ctx context.Context, id string, record model.Contract, req uploadRequest) {
	now := h.now()
	assessment := assessRisk(record, req)
	regulations := matchRegulations(req)

	report, err := json.Marshal(riskReport{
		ExecutionID:    id,
		Filename:       record.Filename,
		ContractType:   record.ContractType,
		Workflow:       record.Workflow,
		RiskAssessment: assessment,
		Regulations:    regulations,
		GeneratedAt:    now,
	})
	if err != nil {
		h.fail(ctx, id, len(pipelineSteps)-1, "failed to render report")
		return
	}

	h.mu.Lock()
	h.reports[id] = report
	if d, ok := h.details[id]; ok {
		d.RiskAssessment = assessment
		d.Regulations = regulations
		d.ParsedText = "Parsed text of " + record.Filename
		end := now
		d.Execution.EndTime = &end
	}
	h.mu.Unlock()

	if h.archive != nil {
		if err := h.archive.Store(ctx, id, report); err != nil {
			logger.Warn(ctx, "report archive failed", "error", err)
		}
	}

	ev := model.CompletedEvent{ExecutionID: id, RiskLevel: assessment.RiskLevel, ReportURL: "/reports/" + id}
	if err := h.store.Patch(id, ev.Patch(now)); err != nil {
		logger.Warn(ctx, "pipeline completion not recorded", "error", err)
	}
	h.publisher.Publish(id, model.EventCompleted, ev)
	h.metrics.RecordOutcome(model.StatusCompleted, now.Sub(record.UploadTime))
	logger.Info(ctx, "contract processed", "risk_level", assessment.RiskLevel)
}

func (h *ContractHandler) fail(ctx context.Context, id string, step int, reason string) {
	h.markStep(id, step, stepFailed, reason)

	ev := model.FailedEvent{ExecutionID: id, Error: reason}
	if err := h.store.Patch(id, ev.Patch()); err != nil {
		logger.Warn(ctx, "pipeline failure not recorded", "error", err)
	}
	h.publisher.Publish(id, model.EventFailed, ev)
	if record, ok := h.store.Get(id); ok {
		h.metrics.RecordOutcome(model.StatusFailed, h.now().Sub(record.UploadTime))
	}
	logger.Warn(ctx, "contract processing failed", "step", pipelineSteps[step].name, "error", reason)
}

func (h *ContractHandler) markStep(id string, i int, status, message string) {
	now := h.now()

	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.details[id]
	if !ok || d.Execution == nil || i >= len(d.Execution.Steps) {
		return
	}
	step := &d.Execution.Steps[i]
	step.Status = status
	if message != "" {
		step.Message = message
	}
	switch status {
	case stepRunning:
		step.StartTime = &now
	case stepCompleted, stepFailed:
		step.EndTime = &now
		if step.StartTime != nil {
			step.Duration = now.Sub(*step.StartTime).Seconds()
		}
	}
}

// wait paces the pipeline. It returns false once the handler is closing.
func (h *ContractHandler) wait() bool {
	if h.stepDelay <= 0 {
		return h.ctx.Err() == nil
	}
	timer := time.NewTimer(h.stepDelay)
	defer timer.Stop()
	select {
	case <-h.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// assessRisk scores a contract from its amount: no amount is medium risk,
// under 20 low, 100 and above high.
func assessRisk(record model.Contract, req uploadRequest) *model.RiskAssessment {
	a := &model.RiskAssessment{
		RiskLevel: model.RiskMedium,
		RiskScore: 0.5,
		Summary:   "Standard terms with minor deviations",
	}
	switch {
	case req.amount == nil:
	case *req.amount >= 100:
		a.RiskLevel, a.RiskScore = model.RiskHigh, 0.85
		a.Summary = "High contract value requires legal review"
		a.Conflicts = []model.Conflict{{
			Type:           "liability",
			ContractClause: "Liability cap is not specified",
			Regulation:     "Civil Code Art. 584",
			Severity:       model.RiskHigh,
			Suggestion:     "Add an explicit liability cap",
		}}
	case *req.amount < 20:
		a.RiskLevel, a.RiskScore = model.RiskLow, 0.2
		a.Summary = "Low value contract with standard terms"
	}
	if req.urgency == "high" {
		a.Suggestions = append(a.Suggestions, "Confirm delivery dates before signing")
	}
	a.Suggestions = append(a.Suggestions, "Verify counterparty details for "+record.Filename)
	return a
}

func matchRegulations(req uploadRequest) []model.Regulation {
	regs := []model.Regulation{{
		ID:             "civil-code-470",
		Title:          "Civil Code Art. 470",
		Content:        "Contents of a contract are agreed by the parties.",
		RelevanceScore: 0.72,
	}}
	if req.contractType != "" {
		regs = append(regs, model.Regulation{
			ID:             "type-" + strings.ToLower(req.contractType),
			Title:          "Provisions for " + req.contractType + " contracts",
			Content:        "Specific provisions apply to " + strings.ToLower(req.contractType) + " contracts.",
			RelevanceScore: 0.9,
		})
	}
	return regs
}
