package handler

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AnTengye/contractdesk/config"
	"github.com/AnTengye/contractdesk/middleware"
	"github.com/AnTengye/contractdesk/model"
	"github.com/AnTengye/contractdesk/pkg/logger"
	"github.com/AnTengye/contractdesk/pkg/metrics"
	"github.com/AnTengye/contractdesk/service"
)

// ReportArchive keeps a copy of finished reports.
type ReportArchive interface {
	Store(ctx context.Context, executionID string, report []byte) error
}

// ContractHandler simulates the contract processing backend: it accepts
// uploads, runs a paced pipeline per upload and publishes its progress.
type ContractHandler struct {
	store     *service.ContractStore
	catalog   *TypeCatalog
	publisher Publisher
	archive   ReportArchive
	metrics   *metrics.Backend
	upload    *config.UploadConfig
	stepDelay time.Duration

	mu      sync.RWMutex
	details map[string]*model.ContractDetail
	reports map[string][]byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

func NewContractHandler(cfg *config.Config, catalog *TypeCatalog, publisher Publisher, archive ReportArchive) *ContractHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &ContractHandler{
		store:     service.NewContractStore(&cfg.Store),
		catalog:   catalog,
		publisher: publisher,
		archive:   archive,
		upload:    &cfg.Upload,
		stepDelay: cfg.Server.StepDelay(),
		details:   make(map[string]*model.ContractDetail),
		reports:   make(map[string][]byte),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

// Instrument records uploads and pipeline outcomes in m.
func (h *ContractHandler) Instrument(m *metrics.Backend) {
	h.metrics = m
}

// Upload handles POST /contract/upload
func (h *ContractHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !slices.Contains(h.upload.AllowedExtensions, ext) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unsupported file type '%s'", ext)})
		return
	}
	if limit := h.upload.MaxSizeBytes(); limit > 0 && header.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File exceeds %d MB", h.upload.MaxSizeMB)})
		return
	}

	req := uploadRequest{
		contractType: c.PostForm("contract_type"),
		urgency:      c.PostForm("urgency"),
	}
	if raw := c.PostForm("amount"); raw != "" {
		amount, err := strconv.ParseFloat(raw, 64)
		if err != nil || amount < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid amount '%s'", raw)})
			return
		}
		req.amount = &amount
	}
	if req.urgency != "" && !validUrgency(req.urgency) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid urgency '%s'", req.urgency)})
		return
	}
	var ct *model.ContractType
	if req.contractType != "" {
		found, ok := h.catalog.Get(req.contractType)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Contract type '%s' not found", req.contractType)})
			return
		}
		ct = &found
	}

	id := uuid.New().String()
	workflow := chooseWorkflow(ct, req.amount, req.urgency)
	now := h.now()

	record := model.Contract{
		ID:           id,
		Filename:     header.Filename,
		FileFormat:   strings.TrimPrefix(ext, "."),
		FileSize:     header.Size,
		UploadTime:   now,
		UploadedBy:   h.upload.UploadedBy,
		ContractType: req.contractType,
		Workflow:     workflow,
		Status:       model.StatusProcessing,
	}
	if err := h.store.Create(record); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register contract"})
		return
	}

	h.mu.Lock()
	h.details[id] = &model.ContractDetail{
		Contract:  record,
		Execution: newExecution(id, workflow, now),
	}
	h.mu.Unlock()

	middleware.TagExecution(c, id)
	h.metrics.RecordUpload(workflow)
	logger.Info(c.Request.Context(), "contract accepted",
		"filename", header.Filename,
		"workflow", workflow,
		"size", header.Size,
	)

	h.wg.Add(1)
	go h.process(id, req)

	c.JSON(http.StatusOK, model.UploadResponse{ExecutionID: id, WorkflowUsed: workflow})
}

// List handles GET /contracts
func (h *ContractHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.List())
}

// Get handles GET /contract/:id
func (h *ContractHandler) Get(c *gin.Context) {
	id := c.Param("id")
	record, ok := h.store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Contract not found"})
		return
	}

	var detail model.ContractDetail
	h.mu.RLock()
	if d, ok := h.details[id]; ok {
		detail = *d
		if d.Execution != nil {
			exec := *d.Execution
			exec.Steps = slices.Clone(d.Execution.Steps)
			detail.Execution = &exec
		}
	}
	h.mu.RUnlock()
	detail.Contract = record

	c.JSON(http.StatusOK, detail)
}

// GetStatus handles GET /contract/status/:id
func (h *ContractHandler) GetStatus(c *gin.Context) {
	record, ok := h.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Contract not found"})
		return
	}

	c.JSON(http.StatusOK, model.StatusResponse{
		Status:      record.Status,
		Progress:    record.Progress,
		CurrentStep: record.CurrentStep,
	})
}

// Report handles GET /reports/:id
func (h *ContractHandler) Report(c *gin.Context) {
	id := strings.TrimSuffix(c.Param("id"), ".json")

	h.mu.RLock()
	report, ok := h.reports[id]
	h.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Report not available"})
		return
	}

	c.Data(http.StatusOK, "application/json", report)
}

// Close stops running pipelines and waits for them to exit.
func (h *ContractHandler) Close() {
	h.cancel()
	h.wg.Wait()
}

func validUrgency(u string) bool {
	switch u {
	case "low", "normal", "high":
		return true
	}
	return false
}

// chooseWorkflow picks the processing workflow for an upload: the contract
// type's default wins, then large amounts go to strict approval and urgent
// ones to quick approval.
func chooseWorkflow(ct *model.ContractType, amount *float64, urgency string) string {
	switch {
	case ct != nil && ct.DefaultWorkflow != "":
		return ct.DefaultWorkflow
	case amount != nil && *amount >= 100:
		return model.WorkflowStrict
	case urgency == "high":
		return model.WorkflowQuick
	}
	return model.WorkflowStandard
}
