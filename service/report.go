package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/AnTengye/contractdesk/config"
)

var ErrNoReport = errors.New("report not available")

// ReportService reads and writes risk reports kept in object storage.
type ReportService struct {
	client *minio.Client
	bucket string
	config *config.MinioConfig
}

func NewReportService(cfg *config.MinioConfig) (*ReportService, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is not configured")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &ReportService{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

// ObjectName is where the report of one execution is stored.
func ObjectName(executionID string) string {
	return "reports/" + executionID + ".json"
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *ReportService) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.config.Region})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// Store uploads the report document of executionID.
func (s *ReportService) Store(ctx context.Context, executionID string, report []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, ObjectName(executionID), bytes.NewReader(report), int64(len(report)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload report: %w", err)
	}

	return nil
}

// PresignedURL generates a time-limited download link for the report.
func (s *ReportService) PresignedURL(ctx context.Context, executionID string) (string, error) {
	expiry := time.Duration(s.config.ExpireDays) * 24 * time.Hour
	url, err := s.client.PresignedGetObject(ctx, s.bucket, ObjectName(executionID), expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url.String(), nil
}

// Download copies the stored report into w.
func (s *ReportService) Download(ctx context.Context, executionID string, w io.Writer) (int64, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, ObjectName(executionID), minio.GetObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to open report: %w", err)
	}
	defer obj.Close()

	n, err := io.Copy(w, obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return 0, fmt.Errorf("%w: %s", ErrNoReport, executionID)
		}
		return n, fmt.Errorf("failed to download report: %w", err)
	}
	return n, nil
}

// GetPublicURL returns a public URL for the report (if bucket policy allows)
func (s *ReportService) GetPublicURL(executionID string) string {
	protocol := "http"
	if s.config.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, s.config.Endpoint, s.bucket, ObjectName(executionID))
}
