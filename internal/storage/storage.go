package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/wer-engine/internal/config"
)

// ErrNotFound is returned by Open when no backend holds the key.
var ErrNotFound = errors.New("report not found")

// ReportStore abstracts report storage backends.
type ReportStore interface {
	// Save stores a report. key format: {YYYY-MM-DD}/{evaluation_id}.{json|txt}
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// URL returns a presigned URL for the report.
	// Returns "" for local-only backends.
	URL(ctx context.Context, key string) (string, error)

	// Open returns a reader for the report.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if a report exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// ReportKey builds the storage key of an evaluation report.
func ReportKey(at time.Time, id, ext string) string {
	return at.UTC().Format("2006-01-02") + "/" + id + "." + ext
}

// New creates a ReportStore based on config. Returns the store and optional
// background services (uploader, reconciler) that the caller must Start/Stop.
// Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, reportDir string, log zerolog.Logger) (ReportStore, []BackgroundService, error) {
	if !cfg.Enabled() {
		return NewLocalStore(reportDir), nil, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	if !cfg.LocalCache {
		return s3store, nil, nil
	}

	// Tiered mode: local primary + async S3 backup
	uploader := NewAsyncUploader(s3store, cfg.UploadBuffer, cfg.UploadWorkers, log)
	tiered := NewTieredStore(s3store, NewLocalStore(reportDir), uploader, log)
	reconciler := NewUploadReconciler(reportDir, s3store, cfg.ReconcileAfter, log)

	return tiered, []BackgroundService{uploader, reconciler}, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}
