package database

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Repository used when DATABASE_URL is unset.
// Records are lost on restart.
type Memory struct {
	mu   sync.RWMutex
	recs map[string]*EvaluationRecord
}

func NewMemory() *Memory {
	return &Memory{recs: make(map[string]*EvaluationRecord)}
}

func (m *Memory) SaveEvaluation(ctx context.Context, rec *EvaluationRecord) error {
	m.mu.Lock()
	m.recs[rec.ID] = rec
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetEvaluation(ctx context.Context, id string) (*EvaluationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) ListEvaluations(ctx context.Context, filter EvaluationFilter) ([]EvaluationSummary, int, error) {
	m.mu.RLock()
	var all []EvaluationSummary
	for _, rec := range m.recs {
		if filter.Source != "" && rec.Source != filter.Source {
			continue
		}
		if filter.Dataset != "" && rec.Dataset != filter.Dataset {
			continue
		}
		all = append(all, rec.EvaluationSummary)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	total := len(all)
	start := min(filter.Offset, total)
	end := min(start+limit, total)
	page := make([]EvaluationSummary, end-start)
	copy(page, all[start:end])
	return page, total, nil
}

func (m *Memory) HypothesisStats(ctx context.Context, filter StatsFilter) ([]HypothesisStat, error) {
	m.mu.RLock()
	byID := map[string]*HypothesisStat{}
	for _, rec := range m.recs {
		if filter.Dataset != "" && rec.Dataset != filter.Dataset {
			continue
		}
		for id, c := range rec.Evaluation.Results {
			h, ok := byID[id]
			if !ok {
				h = &HypothesisStat{HypothesisID: id}
				byID[id] = h
			}
			h.Samples++
			if c.Improved {
				h.Improved++
			}
			h.AvgStandardWER += c.Standard.WER
			h.AvgLatticeWER += c.Lattice.WER
			h.AvgImprovement += c.Improvement
		}
	}
	m.mu.RUnlock()

	result := make([]HypothesisStat, 0, len(byID))
	for _, h := range byID {
		n := float64(h.Samples)
		h.AvgStandardWER /= n
		h.AvgLatticeWER /= n
		h.AvgImprovement /= n
		result = append(result, *h)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].HypothesisID < result[j].HypothesisID })
	return result, nil
}
