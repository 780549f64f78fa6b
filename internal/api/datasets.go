package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/snarg/wer-engine/internal/batch"
	"github.com/snarg/wer-engine/internal/dataset"
	"github.com/snarg/wer-engine/internal/metrics"
)

// DatasetQueue accepts datasets for background evaluation. *batch.Pool
// implements it.
type DatasetQueue interface {
	Submit(j batch.Job) (batch.JobStatus, error)
	Job(id string) (batch.JobStatus, bool)
	Jobs() []batch.JobStatus
	Stats() batch.QueueStats
}

// DatasetsHandler handles dataset uploads and batch job status.
type DatasetsHandler struct {
	queue  DatasetQueue
	layout dataset.Layout
	log    zerolog.Logger
}

// NewDatasetsHandler creates a new dataset handler.
func NewDatasetsHandler(queue DatasetQueue, layout dataset.Layout, log zerolog.Logger) *DatasetsHandler {
	return &DatasetsHandler{
		queue:  queue,
		layout: layout,
		log:    log.With().Str("handler", "datasets").Logger(),
	}
}

// Routes registers the dataset and batch endpoints.
func (h *DatasetsHandler) Routes(r chi.Router) {
	r.Post("/datasets", h.Upload)
	r.Get("/batch", h.ListJobs)
	r.Get("/batch/{id}", h.GetJob)
}

// Upload handles POST /api/v1/datasets. Accepts a multipart form with a
// "file" field or a raw CSV body; ?name= overrides the dataset name.
func (h *DatasetsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	body, name, cleanup, err := datasetBody(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteErrorDetail(w, http.StatusRequestEntityTooLarge, "dataset too large", err.Error())
			return
		}
		WriteErrorDetail(w, http.StatusBadRequest, "invalid upload", err.Error())
		return
	}
	defer cleanup()
	if v, ok := QueryString(r, "name"); ok {
		name = v
	}

	samples, err := dataset.ReadCSV(body, h.layout)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid dataset", err.Error())
		return
	}
	if len(samples) == 0 {
		WriteError(w, http.StatusBadRequest, "dataset has no rows")
		return
	}

	status, err := h.queue.Submit(batch.Job{
		ID:      xid.New().String(),
		Name:    name,
		Origin:  "upload",
		Samples: samples,
	})
	if err != nil {
		h.log.Warn().Err(err).Str("name", name).Msg("dataset rejected")
		WriteErrorDetail(w, http.StatusServiceUnavailable, "batch queue unavailable", err.Error())
		return
	}
	metrics.DatasetFilesTotal.WithLabelValues("upload").Inc()
	h.log.Info().Str("job", status.ID).Str("name", name).Int("samples", len(samples)).Msg("dataset queued")
	WriteJSON(w, http.StatusAccepted, status)
}

// ListJobs returns queued, running and recently finished jobs.
func (h *DatasetsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.queue.Jobs()
	WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"total": len(jobs),
		"stats": h.queue.Stats(),
	})
}

// GetJob returns one job's status.
func (h *DatasetsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	st, ok := h.queue.Job(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

func datasetBody(r *http.Request) (io.Reader, string, func(), error) {
	noop := func() {}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "multipart/") {
		if r.Body == nil {
			return nil, "", noop, errors.New("missing request body")
		}
		return r.Body, "upload.csv", noop, nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, "", noop, err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		r.MultipartForm.RemoveAll()
		return nil, "", noop, errors.New(`multipart field "file" is required`)
	}
	cleanup := func() {
		file.Close()
		r.MultipartForm.RemoveAll()
	}
	return file, filepath.Base(header.Filename), cleanup, nil
}
