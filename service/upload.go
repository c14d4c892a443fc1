package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/AnTengye/contractdesk/config"
	"github.com/AnTengye/contractdesk/model"
	"github.com/AnTengye/contractdesk/pkg/logger"
)

var (
	ErrNoFile          = errors.New("no file selected")
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file too large")
)

// UploadFile is the document being submitted.
type UploadFile struct {
	Name    string
	Size    int64
	Content io.Reader
}

// UploadHints are optional classification hints. Zero values are not sent.
type UploadHints struct {
	ContractType string
	Amount       *float64
	Urgency      string
}

// ContractUploader is the backend call the uploader depends on.
type ContractUploader interface {
	UploadContract(ctx context.Context, file UploadFile, hints UploadHints) (*model.UploadResponse, error)
}

// SubmitResult is what the caller learns about an accepted upload.
type SubmitResult struct {
	ID           string
	WorkflowUsed string
}

// Uploader submits files and registers the resulting records.
type Uploader struct {
	client ContractUploader
	store  *ContractStore
	config *config.UploadConfig
	now    func() time.Time
}

func NewUploader(client ContractUploader, store *ContractStore, cfg *config.UploadConfig) *Uploader {
	if cfg == nil {
		cfg = &config.Default().Upload
	}
	return &Uploader{
		client: client,
		store:  store,
		config: cfg,
		now:    time.Now,
	}
}

// Submit uploads file and, only once the backend has accepted it, creates a
// processing record at progress 0. Any failure leaves the store untouched.
func (u *Uploader) Submit(ctx context.Context, file *UploadFile, hints UploadHints) (SubmitResult, error) {
	if err := u.validate(file); err != nil {
		logger.Debug(ctx, "upload rejected", "error", err)
		return SubmitResult{}, err
	}

	resp, err := u.client.UploadContract(ctx, *file, hints)
	if err != nil {
		return SubmitResult{}, err
	}

	record := model.Contract{
		ID:           resp.ExecutionID,
		Filename:     file.Name,
		FileFormat:   fileFormat(file.Name),
		FileSize:     file.Size,
		UploadTime:   u.now(),
		UploadedBy:   u.config.UploadedBy,
		ContractType: hints.ContractType,
		Workflow:     resp.WorkflowUsed,
		Status:       model.StatusProcessing,
		Progress:     0,
	}
	if err := u.store.Create(record); err != nil {
		return SubmitResult{}, fmt.Errorf("register upload %s: %w", resp.ExecutionID, err)
	}

	logger.Info(logger.WithExecutionID(ctx, resp.ExecutionID), "contract registered",
		"filename", file.Name,
		"workflow", resp.WorkflowUsed,
	)
	return SubmitResult{ID: resp.ExecutionID, WorkflowUsed: resp.WorkflowUsed}, nil
}

func (u *Uploader) validate(file *UploadFile) error {
	if file == nil || file.Name == "" || file.Content == nil {
		return ErrNoFile
	}
	ext := strings.ToLower(filepath.Ext(file.Name))
	if len(u.config.AllowedExtensions) > 0 && !slices.Contains(u.config.AllowedExtensions, ext) {
		return fmt.Errorf("%w: %q", ErrUnsupportedFile, ext)
	}
	if limit := u.config.MaxSizeBytes(); limit > 0 && file.Size > limit {
		return fmt.Errorf("%w: %d bytes exceeds %d MB", ErrFileTooLarge, file.Size, u.config.MaxSizeMB)
	}
	return nil
}

// OpenUploadFile opens path for upload. The caller closes the returned file.
func OpenUploadFile(path string) (*UploadFile, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %s is a directory", ErrNoFile, path)
	}
	return &UploadFile{Name: filepath.Base(path), Size: info.Size(), Content: f}, f, nil
}

func fileFormat(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}
