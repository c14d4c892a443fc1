package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/AnTengye/contractdesk/config"
	"github.com/AnTengye/contractdesk/model"
	"github.com/AnTengye/contractdesk/pkg/logger"
)

// APIError is a failed backend call: a non-2xx response or an envelope with
// success=false. Message is what should be shown to the user.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// errorBody covers the error shapes the backend produces.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  any    `json:"detail"`
}

func (b errorBody) text() string {
	switch {
	case b.Error != "":
		return b.Error
	case b.Message != "":
		return b.Message
	}
	if s, ok := b.Detail.(string); ok {
		return s
	}
	return ""
}

// BackendService talks to the contract processing API.
type BackendService struct {
	config     *config.BackendConfig
	httpClient *http.Client
}

func NewBackendService(cfg *config.BackendConfig) *BackendService {
	return &BackendService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
		},
	}
}

// UploadContract posts file with the hints that are set.
func (s *BackendService) UploadContract(ctx context.Context, file UploadFile, hints UploadHints) (*model.UploadResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", file.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file.Content); err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if hints.ContractType != "" {
		_ = writer.WriteField("contract_type", hints.ContractType)
	}
	if hints.Amount != nil {
		_ = writer.WriteField("amount", strconv.FormatFloat(*hints.Amount, 'f', -1, 64))
	}
	if hints.Urgency != "" {
		_ = writer.WriteField("urgency", hints.Urgency)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := s.newRequest(ctx, http.MethodPost, "/contract/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result model.UploadResponse
	if err := s.do(req, "Upload failed", &result); err != nil {
		return nil, err
	}
	if result.ExecutionID == "" {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "Upload failed: response carried no execution_id"}
	}

	logger.WithContext(ctx).Info("contract uploaded",
		"execution_id", result.ExecutionID,
		"filename", file.Name,
		"workflow", result.WorkflowUsed,
	)
	return &result, nil
}

// ListContracts returns the backend's contract summaries.
func (s *BackendService) ListContracts(ctx context.Context) ([]model.Contract, error) {
	req, err := s.newRequest(ctx, http.MethodGet, "/contracts", nil)
	if err != nil {
		return nil, err
	}
	var result []model.Contract
	if err := s.do(req, "Failed to fetch contracts", &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BackendService) GetContract(ctx context.Context, id string) (*model.ContractDetail, error) {
	req, err := s.newRequest(ctx, http.MethodGet, "/contract/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var result model.ContractDetail
	if err := s.do(req, fmt.Sprintf("Contract '%s' not found", id), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetStatus polls the processing state of one execution.
func (s *BackendService) GetStatus(ctx context.Context, executionID string) (*model.StatusResponse, error) {
	req, err := s.newRequest(ctx, http.MethodGet, "/contract/status/"+url.PathEscape(executionID), nil)
	if err != nil {
		return nil, err
	}
	var result model.StatusResponse
	if err := s.do(req, "Failed to fetch contract status", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FetchReport streams the report at reportURL into w. A relative URL is
// resolved against the backend origin.
func (s *BackendService) FetchReport(ctx context.Context, reportURL string, w io.Writer) (int64, error) {
	target, err := s.resolve(reportURL)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, &APIError{Message: fmt.Sprintf("Failed to download report: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return 0, responseError(resp.StatusCode, body, "Failed to download report")
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read report: %w", err)
	}
	return n, nil
}

func (s *BackendService) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(s.config.BaseURL, "/")+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if body != nil && method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req and decodes a 2xx body into out. fallback is the message used
// when the backend gives none.
func (s *BackendService) do(req *http.Request, fallback string, out any) error {
	log := logger.WithContext(req.Context())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Warn("backend request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		return &APIError{Message: fmt.Sprintf("%s: %v", fallback, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("backend returned error",
			"method", req.Method,
			"path", req.URL.Path,
			"status", resp.StatusCode,
			"request_id", req.Header.Get("X-Request-ID"),
		)
		return responseError(resp.StatusCode, body, fallback)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (s *BackendService) resolve(ref string) (string, error) {
	base, err := url.Parse(s.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid report url: %w", err)
	}
	return base.ResolveReference(u).String(), nil
}

func responseError(status int, body []byte, fallback string) *APIError {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		if msg := eb.text(); msg != "" {
			return &APIError{StatusCode: status, Message: msg}
		}
	}
	return &APIError{StatusCode: status, Message: fallback}
}
