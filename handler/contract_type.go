package handler

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AnTengye/contractdesk/model"
	"github.com/AnTengye/contractdesk/pkg/logger"
)

// TypeCatalog is the in-memory classification catalog.
type TypeCatalog struct {
	mu     sync.RWMutex
	types  map[string]*model.ContractType
	nextID int
	now    func() time.Time
}

func NewTypeCatalog() *TypeCatalog {
	return &TypeCatalog{
		types:  make(map[string]*model.ContractType),
		nextID: 1,
		now:    time.Now,
	}
}

// DefaultTypeCatalog returns a catalog seeded with the common contract types.
func DefaultTypeCatalog() *TypeCatalog {
	cat := NewTypeCatalog()
	seed := []struct {
		code, name, workflow string
		order                int
	}{
		{"SALES", "Sales Contract", model.WorkflowStandard, 1},
		{"PURCHASE", "Purchase Contract", model.WorkflowStandard, 2},
		{"SERVICE", "Service Agreement", model.WorkflowQuick, 3},
		{"LEASE", "Lease Agreement", model.WorkflowStandard, 4},
		{"NDA", "Non-Disclosure Agreement", model.WorkflowQuick, 5},
		{"LOAN", "Loan Agreement", model.WorkflowStrict, 6},
	}
	for _, s := range seed {
		if _, err := cat.Create(model.ContractTypeCreate{TypeCode: s.code, TypeName: s.name, DefaultWorkflow: s.workflow}); err == nil {
			cat.types[s.code].SortOrder = s.order
		}
	}
	return cat
}

// All returns every type ordered by sort_order, then code.
func (cat *TypeCatalog) All() []model.ContractType {
	cat.mu.RLock()
	defer cat.mu.RUnlock()
	out := make([]model.ContractType, 0, len(cat.types))
	for _, ct := range cat.types {
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].TypeCode < out[j].TypeCode
	})
	return out
}

func (cat *TypeCatalog) Get(code string) (model.ContractType, bool) {
	cat.mu.RLock()
	defer cat.mu.RUnlock()
	ct, ok := cat.types[code]
	if !ok {
		return model.ContractType{}, false
	}
	return *ct, true
}

// Create adds a type. The default workflow falls back to standard processing.
func (cat *TypeCatalog) Create(in model.ContractTypeCreate) (model.ContractType, error) {
	code := strings.TrimSpace(in.TypeCode)
	name := strings.TrimSpace(in.TypeName)
	if code == "" || name == "" {
		return model.ContractType{}, fmt.Errorf("type_code and type_name are required")
	}
	workflow := in.DefaultWorkflow
	if workflow == "" {
		workflow = model.WorkflowStandard
	}
	if !validWorkflow(workflow) {
		return model.ContractType{}, fmt.Errorf("unknown workflow '%s'", workflow)
	}

	cat.mu.Lock()
	defer cat.mu.Unlock()
	if _, exists := cat.types[code]; exists {
		return model.ContractType{}, fmt.Errorf("Contract type '%s' already exists", code)
	}

	now := cat.now()
	ct := &model.ContractType{
		ID:              cat.nextID,
		TypeCode:        code,
		TypeName:        name,
		Description:     in.Description,
		DefaultWorkflow: workflow,
		IsActive:        true,
		CreatedAt:       &now,
		UpdatedAt:       &now,
	}
	cat.nextID++
	cat.types[code] = ct
	return *ct, nil
}

func validWorkflow(w string) bool {
	switch w {
	case model.WorkflowStandard, model.WorkflowQuick, model.WorkflowStrict:
		return true
	}
	return false
}

type ContractTypeHandler struct {
	catalog *TypeCatalog
}

func NewContractTypeHandler(catalog *TypeCatalog) *ContractTypeHandler {
	return &ContractTypeHandler{catalog: catalog}
}

// All handles GET /contract-type/all
func (h *ContractTypeHandler) All(c *gin.Context) {
	types := h.catalog.All()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    types,
		"count":   len(types),
	})
}

// Get handles GET /contract-type/:code
func (h *ContractTypeHandler) Get(c *gin.Context) {
	code := c.Param("code")
	ct, ok := h.catalog.Get(code)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": fmt.Sprintf("Contract type '%s' not found", code)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": ct})
}

// Create handles POST /contract-type/
func (h *ContractTypeHandler) Create(c *gin.Context) {
	var in model.ContractTypeCreate
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid request body"})
		return
	}

	ct, err := h.catalog.Create(in)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	logger.Info(c.Request.Context(), "created contract type", "type_code", ct.TypeCode)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Contract type created successfully",
		"data":    ct,
	})
}
