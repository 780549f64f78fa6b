package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/wer-engine/internal/database"
	"github.com/snarg/wer-engine/internal/dataset"
)

// EvaluationService runs and records evaluations. The ingest pipeline
// implements it.
type EvaluationService interface {
	Evaluate(ctx context.Context, source string, doc *dataset.Document) (*database.EvaluationRecord, error)
	// ReportURL returns a link to the stored text report, or "".
	ReportURL(ctx context.Context, s *database.EvaluationSummary) string
}

type EvaluationsHandler struct {
	svc  EvaluationService
	repo database.Repository
}

func NewEvaluationsHandler(svc EvaluationService, repo database.Repository) *EvaluationsHandler {
	return &EvaluationsHandler{svc: svc, repo: repo}
}

type evaluationResponse struct {
	*database.EvaluationRecord
	ReportURL string `json:"report_url,omitempty"`
}

// CreateEvaluation handles POST /api/v1/evaluations. The body is one request
// document in JSON or YAML.
func (h *EvaluationsHandler) CreateEvaluation(w http.ResponseWriter, r *http.Request) {
	doc, err := dataset.DecodeDocument(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteEvaluationError(w, err)
			return
		}
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if v, ok := QueryBool(r, "include_lattice"); ok {
		doc.IncludeLattice = v
	}

	rec, err := h.svc.Evaluate(r.Context(), "api", doc)
	if err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("evaluation rejected")
		WriteEvaluationError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, evaluationResponse{
		EvaluationRecord: rec,
		ReportURL:        h.svc.ReportURL(r.Context(), &rec.EvaluationSummary),
	})
}

// ListEvaluations returns stored evaluation summaries, newest first.
func (h *EvaluationsHandler) ListEvaluations(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := database.EvaluationFilter{Limit: p.Limit, Offset: p.Offset}
	filter.Source, _ = QueryString(r, "source")
	filter.Dataset, _ = QueryString(r, "dataset")

	evals, total, err := h.repo.ListEvaluations(r.Context(), filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list evaluations")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"evaluations": evals,
		"total":       total,
		"limit":       p.Limit,
		"offset":      p.Offset,
	})
}

// GetEvaluation returns a single stored evaluation.
func (h *EvaluationsHandler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, evaluationResponse{
		EvaluationRecord: rec,
		ReportURL:        h.svc.ReportURL(r.Context(), &rec.EvaluationSummary),
	})
}

// GetReport renders a stored evaluation as the plain-text report.
func (h *EvaluationsHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(rec.Evaluation.Report()))
}

// HypothesisStats aggregates stored scores per hypothesis identifier.
func (h *EvaluationsHandler) HypothesisStats(w http.ResponseWriter, r *http.Request) {
	filter := database.StatsFilter{}
	filter.Dataset, _ = QueryString(r, "dataset")
	stats, err := h.repo.HypothesisStats(r.Context(), filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to get hypothesis stats")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"hypotheses": stats,
		"total":      len(stats),
	})
}

func (h *EvaluationsHandler) load(w http.ResponseWriter, r *http.Request) (*database.EvaluationRecord, bool) {
	id := chi.URLParam(r, "id")
	rec, err := h.repo.GetEvaluation(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "evaluation not found")
		return nil, false
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load evaluation")
		return nil, false
	}
	return rec, true
}

// Routes registers evaluation routes on the given router.
func (h *EvaluationsHandler) Routes(r chi.Router) {
	r.Post("/evaluations", h.CreateEvaluation)
	r.Get("/evaluations", h.ListEvaluations)
	r.Get("/evaluations/{id}", h.GetEvaluation)
	r.Get("/evaluations/{id}/report", h.GetReport)
	r.Get("/stats/hypotheses", h.HypothesisStats)
}
