package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/AnTengye/contractdesk/model"
)

// ListContractTypes returns the full classification catalog.
func (s *BackendService) ListContractTypes(ctx context.Context) ([]model.ContractType, error) {
	req, err := s.newRequest(ctx, http.MethodGet, "/contract-type/all", nil)
	if err != nil {
		return nil, err
	}
	types, err := doEnvelope[[]model.ContractType](s, req, "Failed to fetch contract types")
	if err != nil {
		return nil, err
	}
	return *types, nil
}

func (s *BackendService) GetContractType(ctx context.Context, typeCode string) (*model.ContractType, error) {
	req, err := s.newRequest(ctx, http.MethodGet, "/contract-type/"+url.PathEscape(typeCode), nil)
	if err != nil {
		return nil, err
	}
	return doEnvelope[model.ContractType](s, req, fmt.Sprintf("Contract type '%s' not found", typeCode))
}

func (s *BackendService) CreateContractType(ctx context.Context, in model.ContractTypeCreate) (*model.ContractType, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := s.newRequest(ctx, http.MethodPost, "/contract-type/", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	return doEnvelope[model.ContractType](s, req, "Failed to create contract type")
}

// doEnvelope unwraps {success, data, message, error}. success=false or a
// missing data field is an APIError even on HTTP 200.
func doEnvelope[T any](s *BackendService, req *http.Request, fallback string) (*T, error) {
	var env model.Envelope[T]
	if err := s.do(req, fallback, &env); err != nil {
		return nil, err
	}
	if !env.Success || env.Data == nil {
		msg := env.Error
		if msg == "" {
			msg = fallback
		}
		return nil, &APIError{StatusCode: http.StatusOK, Message: msg}
	}
	return env.Data, nil
}

// ActiveTypes keeps the active catalog entries ordered by sort_order, then code.
func ActiveTypes(types []model.ContractType) []model.ContractType {
	out := make([]model.ContractType, 0, len(types))
	for _, t := range types {
		if t.IsActive {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].TypeCode < out[j].TypeCode
	})
	return out
}
