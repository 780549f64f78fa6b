package ingest

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/snarg/wer-engine/internal/api"
	"github.com/snarg/wer-engine/internal/batch"
	"github.com/snarg/wer-engine/internal/dataset"
	"github.com/snarg/wer-engine/internal/metrics"
)

// FileWatcher monitors a directory tree for dataset CSV files and queues
// each one on the batch pool. A file is queued again only when its
// modification time changes.
type FileWatcher struct {
	pipeline *Pipeline
	watchDir string
	debounce time.Duration
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	seenMu sync.Mutex
	seen   map[string]time.Time

	filesProcessed atomic.Int64
	filesSkipped   atomic.Int64
	status         atomic.Value // string: "starting", "watching", "stopped"
}

func newFileWatcher(p *Pipeline, watchDir string, debounce time.Duration) *FileWatcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	fw := &FileWatcher{
		pipeline:       p,
		watchDir:       watchDir,
		debounce:       debounce,
		log:            p.log.With().Str("component", "watcher").Logger(),
		done:           make(chan struct{}),
		debounceTimers: make(map[string]*time.Timer),
		seen:           make(map[string]time.Time),
	}
	fw.status.Store("starting")
	return fw
}

// Start adds every existing directory to the fsnotify watch set, queues the
// CSV files already present and begins watching for new ones.
func (fw *FileWatcher) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	fw.watcher = w

	var existing []string
	dirCount := 0
	err = filepath.WalkDir(fw.watchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fw.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil
		}
		if d.IsDir() {
			if addErr := w.Add(path); addErr != nil {
				fw.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
			return nil
		}
		if isCSV(path) {
			existing = append(existing, path)
		}
		return nil
	})
	if err != nil {
		w.Close()
		return err
	}
	if dirCount == 0 {
		w.Close()
		return &fs.PathError{Op: "watch", Path: fw.watchDir, Err: fs.ErrNotExist}
	}

	fw.log.Info().
		Int("directories", dirCount).
		Int("existing_files", len(existing)).
		Str("watch_dir", fw.watchDir).
		Msg("file watcher initialized")

	fw.status.Store("watching")
	go fw.watchLoop()
	for _, path := range existing {
		fw.scheduleProcess(path)
	}
	return nil
}

// Stop closes the fsnotify watcher and cancels pending debounce timers.
func (fw *FileWatcher) Stop() {
	if fw.status.Swap("stopped") == "stopped" {
		return
	}
	close(fw.done)
	if fw.watcher != nil {
		fw.watcher.Close()
	}
	fw.debounceMu.Lock()
	for path, t := range fw.debounceTimers {
		t.Stop()
		delete(fw.debounceTimers, path)
	}
	fw.debounceMu.Unlock()

	fw.log.Info().
		Int64("files_processed", fw.filesProcessed.Load()).
		Int64("files_skipped", fw.filesSkipped.Load()).
		Msg("file watcher stopped")
}

// Status returns the current watcher status for the health endpoint.
func (fw *FileWatcher) Status() *api.WatcherStatusData {
	s, _ := fw.status.Load().(string)
	return &api.WatcherStatusData{
		Status:         s,
		WatchDir:       fw.watchDir,
		FilesProcessed: fw.filesProcessed.Load(),
		FilesSkipped:   fw.filesSkipped.Load(),
	}
}

func (fw *FileWatcher) watchLoop() {
	for {
		select {
		case <-fw.done:
			return
		case <-fw.pipeline.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := fw.watcher.Add(event.Name); err != nil {
					fw.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				} else {
					fw.log.Debug().Str("path", event.Name).Msg("watching new directory")
				}
				continue
			}

			if !isCSV(event.Name) {
				continue
			}
			fw.scheduleProcess(event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleProcess debounces processing so a file is read once it has
// stopped changing.
func (fw *FileWatcher) scheduleProcess(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if fw.status.Load() == "stopped" {
		return
	}
	if t, ok := fw.debounceTimers[path]; ok {
		t.Reset(fw.debounce)
		return
	}

	fw.debounceTimers[path] = time.AfterFunc(fw.debounce, func() {
		fw.debounceMu.Lock()
		delete(fw.debounceTimers, path)
		fw.debounceMu.Unlock()

		fw.processFile(path)
	})
}

// processFile parses a dataset CSV and queues it as a batch job.
func (fw *FileWatcher) processFile(path string) {
	info, err := os.Stat(path)
	if err != nil {
		fw.log.Warn().Err(err).Str("path", path).Msg("failed to stat dataset file")
		return
	}
	fw.seenMu.Lock()
	if last, ok := fw.seen[path]; ok && last.Equal(info.ModTime()) {
		fw.seenMu.Unlock()
		fw.filesSkipped.Add(1)
		return
	}
	fw.seen[path] = info.ModTime()
	fw.seenMu.Unlock()

	q := fw.pipeline.submitter()
	if q == nil {
		fw.log.Warn().Str("path", path).Msg("no batch queue configured, skipping dataset")
		fw.filesSkipped.Add(1)
		return
	}

	samples, err := dataset.LoadCSV(path, fw.pipeline.layout)
	if err != nil {
		fw.log.Warn().Err(err).Str("path", path).Msg("failed to parse dataset file")
		fw.filesSkipped.Add(1)
		return
	}
	if len(samples) == 0 {
		fw.filesSkipped.Add(1)
		return
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	st, err := q.Submit(batch.Job{ID: xid.New().String(), Name: name, Origin: "watch", Samples: samples})
	if err != nil {
		// Forget the file so the next write retries it.
		fw.seenMu.Lock()
		delete(fw.seen, path)
		fw.seenMu.Unlock()
		fw.log.Warn().Err(err).Str("path", path).Msg("failed to queue dataset file")
		return
	}

	metrics.DatasetFilesTotal.WithLabelValues("watch").Inc()
	fw.filesProcessed.Add(1)
	fw.log.Info().Str("path", path).Str("job_id", st.ID).Int("samples", st.Samples).Msg("dataset file queued")
}

func isCSV(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".csv")
}
