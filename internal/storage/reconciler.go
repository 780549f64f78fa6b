package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UploadReconciler scans the local report directory for files missing from
// S3 and re-uploads them. Handles dropped async uploads and crash recovery.
type UploadReconciler struct {
	dir      string
	remote   Remote
	interval time.Duration
	window   time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewUploadReconciler creates a reconciler that checks for missing S3 uploads.
func NewUploadReconciler(dir string, remote Remote, interval time.Duration, log zerolog.Logger) *UploadReconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &UploadReconciler{
		dir:      dir,
		remote:   remote,
		interval: interval,
		window:   24 * time.Hour,
		log:      log.With().Str("component", "upload-reconciler").Logger(),
		stop:     make(chan struct{}),
	}
}

func (r *UploadReconciler) Start() { go r.loop() }
func (r *UploadReconciler) Stop()  { r.stopOnce.Do(func() { close(r.stop) }) }

func (r *UploadReconciler) loop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reconcile(time.Now())
		case <-r.stop:
			return
		}
	}
}

// reconcile uploads missing reports from date directories inside the window.
// It returns the number uploaded.
func (r *UploadReconciler) reconcile(now time.Time) int {
	var uploaded, failed, checked int

	cutoff := now.Add(-r.window).Truncate(24 * time.Hour)

	dateDirs, _ := os.ReadDir(r.dir)
	for _, dateDir := range dateDirs {
		if !dateDir.IsDir() {
			continue
		}
		dirDate, err := time.Parse("2006-01-02", dateDir.Name())
		if err != nil || dirDate.Before(cutoff) {
			continue
		}

		datePath := filepath.Join(r.dir, dateDir.Name())
		files, _ := os.ReadDir(datePath)
		for _, f := range files {
			if f.IsDir() || strings.HasPrefix(f.Name(), tempPrefix) {
				continue
			}
			checked++
			key := dateDir.Name() + "/" + f.Name()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			exists := r.remote.Exists(ctx, key)
			cancel()
			if exists {
				continue
			}

			data, readErr := os.ReadFile(filepath.Join(datePath, f.Name()))
			if readErr != nil {
				continue
			}

			ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
			if saveErr := r.remote.Save(ctx, key, data, ContentType(f.Name())); saveErr != nil {
				r.log.Warn().Err(saveErr).Str("key", key).Msg("reconcile upload failed")
				failed++
			} else {
				uploaded++
			}
			cancel()
		}
	}

	if uploaded > 0 || failed > 0 {
		r.log.Info().
			Int("uploaded", uploaded).
			Int("failed", failed).
			Int("checked", checked).
			Msg("reconcile complete")
	}
	return uploaded
}

// ContentType returns the MIME type for a report file name.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
