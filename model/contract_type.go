package model

import "time"

// ContractType is one entry of the classification catalog.
type ContractType struct {
	ID              int        `json:"id,omitempty"`
	TypeCode        string     `json:"type_code"`
	TypeName        string     `json:"type_name"`
	Description     *string    `json:"description,omitempty"`
	DefaultWorkflow string     `json:"default_workflow,omitempty"`
	IsActive        bool       `json:"is_active"`
	SortOrder       int        `json:"sort_order"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

type ContractTypeCreate struct {
	TypeCode        string  `json:"type_code"`
	TypeName        string  `json:"type_name"`
	Description     *string `json:"description,omitempty"`
	DefaultWorkflow string  `json:"default_workflow,omitempty"`
}

// Envelope wraps catalog responses.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    *T     `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Count   int    `json:"count,omitempty"`
}
