package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/snarg/wer-engine/internal/evaluate"
)

// ErrNotFound is returned when an evaluation does not exist.
var ErrNotFound = errors.New("not found")

// Repository persists evaluations. DB is the Postgres implementation;
// Memory keeps everything in process when no database is configured.
type Repository interface {
	SaveEvaluation(ctx context.Context, rec *EvaluationRecord) error
	GetEvaluation(ctx context.Context, id string) (*EvaluationRecord, error)
	ListEvaluations(ctx context.Context, filter EvaluationFilter) ([]EvaluationSummary, int, error)
	HypothesisStats(ctx context.Context, filter StatsFilter) ([]HypothesisStat, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EvaluationSummary is the list view of a stored evaluation.
type EvaluationSummary struct {
	ID              string    `json:"id"`
	Source          string    `json:"source"`
	Dataset         string    `json:"dataset,omitempty"`
	Strategy        string    `json:"strategy"`
	TrustThreshold  float64   `json:"trust_threshold"`
	ReferenceLength int       `json:"reference_length"`
	ConsensusLength int       `json:"consensus_length"`
	Hypotheses      int       `json:"hypotheses"`
	Failed          int       `json:"failed"`
	Improved        int       `json:"improved"`
	CreatedAt       time.Time `json:"created_at"`
}

// EvaluationRecord is a stored evaluation with its full result.
type EvaluationRecord struct {
	EvaluationSummary
	Evaluation *evaluate.Evaluation `json:"evaluation"`
}

// NewRecord derives the summary columns from ev.
func NewRecord(ev *evaluate.Evaluation, source, dataset string, at time.Time) *EvaluationRecord {
	improved := 0
	for _, c := range ev.Results {
		if c.Improved {
			improved++
		}
	}
	return &EvaluationRecord{
		EvaluationSummary: EvaluationSummary{
			ID:              ev.ID,
			Source:          source,
			Dataset:         dataset,
			Strategy:        string(ev.Meta.Strategy),
			TrustThreshold:  ev.Meta.TrustThreshold,
			ReferenceLength: ev.Meta.ReferenceLength,
			ConsensusLength: ev.Meta.ConsensusLength,
			Hypotheses:      len(ev.Results) + len(ev.Failures),
			Failed:          len(ev.Failures),
			Improved:        improved,
			CreatedAt:       at,
		},
		Evaluation: ev,
	}
}

// EvaluationFilter narrows ListEvaluations.
type EvaluationFilter struct {
	Source  string
	Dataset string
	Limit   int
	Offset  int
}

// StatsFilter narrows HypothesisStats.
type StatsFilter struct {
	Dataset string
}

// HypothesisStat aggregates one hypothesis identifier over stored evaluations.
type HypothesisStat struct {
	HypothesisID   string  `json:"hypothesis_id"`
	Samples        int     `json:"samples"`
	Improved       int     `json:"improved"`
	AvgStandardWER float64 `json:"avg_standard_wer"`
	AvgLatticeWER  float64 `json:"avg_lattice_wer"`
	AvgImprovement float64 `json:"avg_improvement"`
}

// SaveEvaluation inserts the evaluation row and its per-hypothesis scores
// in one transaction. Saving an existing ID replaces it.
func (db *DB) SaveEvaluation(ctx context.Context, rec *EvaluationRecord) error {
	result, err := json.Marshal(rec.Evaluation)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM evaluations WHERE id = $1`, rec.ID); err != nil {
		return fmt.Errorf("replace evaluation: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO evaluations (
			id, source, dataset, strategy, trust_threshold,
			reference_length, consensus_length, hypotheses, failed, improved,
			result, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		rec.ID, rec.Source, pqString(rec.Dataset), rec.Strategy, rec.TrustThreshold,
		rec.ReferenceLength, rec.ConsensusLength, rec.Hypotheses, rec.Failed, rec.Improved,
		result, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}

	copyRows := make([][]any, 0, len(rec.Evaluation.Results))
	for _, id := range rec.Evaluation.IDs() {
		c := rec.Evaluation.Results[id]
		copyRows = append(copyRows, []any{
			rec.ID, id, c.Standard.WER, c.Lattice.WER, c.Improvement, c.Improved,
			c.Standard.Distance, c.Standard.Substitutions, c.Standard.Deletions, c.Standard.Insertions,
			c.Standard.HypothesisLength,
		})
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"hypothesis_scores"},
		[]string{
			"evaluation_id", "hypothesis_id", "standard_wer", "lattice_wer", "improvement", "improved",
			"distance", "substitutions", "deletions", "insertions", "hypothesis_length",
		},
		pgx.CopyFromRows(copyRows),
	)
	if err != nil {
		return fmt.Errorf("insert hypothesis scores: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const summaryColumns = `id, source, COALESCE(dataset, ''), strategy, trust_threshold,
	reference_length, consensus_length, hypotheses, failed, improved, created_at`

func scanSummary(row pgx.Row, s *EvaluationSummary, extra ...any) error {
	dest := []any{
		&s.ID, &s.Source, &s.Dataset, &s.Strategy, &s.TrustThreshold,
		&s.ReferenceLength, &s.ConsensusLength, &s.Hypotheses, &s.Failed, &s.Improved, &s.CreatedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

// GetEvaluation returns a stored evaluation by ID.
func (db *DB) GetEvaluation(ctx context.Context, id string) (*EvaluationRecord, error) {
	var rec EvaluationRecord
	var result []byte
	row := db.Pool.QueryRow(ctx, `SELECT `+summaryColumns+`, result FROM evaluations WHERE id = $1`, id)
	if err := scanSummary(row, &rec.EvaluationSummary, &result); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.Evaluation = &evaluate.Evaluation{}
	if err := json.Unmarshal(result, rec.Evaluation); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &rec, nil
}

// ListEvaluations returns evaluation summaries, newest first, and the total
// number matching the filter.
func (db *DB) ListEvaluations(ctx context.Context, filter EvaluationFilter) ([]EvaluationSummary, int, error) {
	where := `WHERE ($1::text IS NULL OR source = $1) AND ($2::text IS NULL OR dataset = $2)`
	args := []any{pqString(filter.Source), pqString(filter.Dataset)}

	var total int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM evaluations `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx, `SELECT `+summaryColumns+` FROM evaluations `+where+`
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	result := []EvaluationSummary{}
	for rows.Next() {
		var s EvaluationSummary
		if err := scanSummary(rows, &s); err != nil {
			return nil, 0, err
		}
		result = append(result, s)
	}
	return result, total, rows.Err()
}

// HypothesisStats aggregates stored scores per hypothesis identifier.
func (db *DB) HypothesisStats(ctx context.Context, filter StatsFilter) ([]HypothesisStat, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT s.hypothesis_id, count(*), count(*) FILTER (WHERE s.improved),
			avg(s.standard_wer), avg(s.lattice_wer), avg(s.improvement)
		FROM hypothesis_scores s
		JOIN evaluations e ON e.id = s.evaluation_id
		WHERE ($1::text IS NULL OR e.dataset = $1)
		GROUP BY s.hypothesis_id
		ORDER BY s.hypothesis_id
	`, pqString(filter.Dataset))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []HypothesisStat{}
	for rows.Next() {
		var h HypothesisStat
		if err := rows.Scan(&h.HypothesisID, &h.Samples, &h.Improved,
			&h.AvgStandardWER, &h.AvgLatticeWER, &h.AvgImprovement); err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}
