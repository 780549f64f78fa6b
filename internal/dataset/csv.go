package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/snarg/wer-engine/internal/evaluate"
)

// Layout names the CSV columns of a dataset. Every column whose header
// starts with HypothesisPrefix is a hypothesis; its identifier is the
// header with spaces replaced by underscores ("Model X" becomes "Model_X").
type Layout struct {
	ReferenceColumn  string
	IDColumn         string
	HypothesisPrefix string
}

// DefaultLayout matches the reference dataset export.
var DefaultLayout = Layout{
	ReferenceColumn:  "Human",
	IDColumn:         "segment_url_link",
	HypothesisPrefix: "Model",
}

// Sample is one dataset row. Index is 1-based.
type Sample struct {
	Index      int               `json:"sample_id"`
	Source     string            `json:"source,omitempty"`
	Reference  string            `json:"reference"`
	Hypotheses map[string]string `json:"hypotheses"`
}

// Request tokenises the sample into an evaluation request.
func (s Sample) Request(tok Tokenizer) evaluate.Request {
	req := evaluate.Request{
		ID:         s.ID(),
		Reference:  tok.Tokenize(s.Reference),
		Hypotheses: make(map[string][]string, len(s.Hypotheses)),
	}
	for id, text := range s.Hypotheses {
		req.Hypotheses[id] = tok.Tokenize(text)
	}
	return req
}

// ID identifies the sample within its dataset.
func (s Sample) ID() string {
	return "sample_" + strconv.Itoa(s.Index)
}

var errNoHypotheses = errors.New("no hypothesis columns")

// ReadCSV parses a dataset. Cells are trimmed; rows with an empty reference
// are kept since an empty reference is a valid input.
func ReadCSV(r io.Reader, layout Layout) ([]Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	refCol, idCol := -1, -1
	hypCols := map[int]string{}
	for i, h := range header {
		h = strings.TrimSpace(h)
		switch {
		case h == layout.ReferenceColumn:
			refCol = i
		case h == layout.IDColumn:
			idCol = i
		case layout.HypothesisPrefix != "" && strings.HasPrefix(h, layout.HypothesisPrefix):
			hypCols[i] = strings.Join(strings.Fields(h), "_")
		}
	}
	if refCol < 0 {
		return nil, fmt.Errorf("reference column %q not found", layout.ReferenceColumn)
	}
	if len(hypCols) == 0 {
		return nil, fmt.Errorf("%w (prefix %q)", errNoHypotheses, layout.HypothesisPrefix)
	}

	var samples []Sample
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if blank(rec) {
			continue
		}
		s := Sample{
			Index:      len(samples) + 1,
			Reference:  cell(rec, refCol),
			Hypotheses: make(map[string]string, len(hypCols)),
		}
		if idCol >= 0 {
			s.Source = cell(rec, idCol)
		}
		for col, id := range hypCols {
			s.Hypotheses[id] = cell(rec, col)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// LoadCSV reads a dataset file.
func LoadCSV(path string, layout Layout) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %q: %w", path, err)
	}
	defer f.Close()
	samples, err := ReadCSV(f, layout)
	if err != nil {
		return nil, fmt.Errorf("dataset: parse %q: %w", path, err)
	}
	return samples, nil
}

// HypothesisIDs returns the sorted union of hypothesis identifiers.
func HypothesisIDs(samples []Sample) []string {
	seen := map[string]bool{}
	var ids []string
	for _, s := range samples {
		for id := range s.Hypotheses {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
