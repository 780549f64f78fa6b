package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/snarg/wer-engine/internal/evaluate"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// WriteJSON encodes v as the response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every non-2xx JSON response. Kind is set for
// evaluation failures and matches the kind label on the metrics.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// WriteEvaluationError answers 400 for invalid input, 413 for inputs over a
// resource bound (including oversized bodies), 503 when the request was
// cancelled and 500 otherwise.
func WriteEvaluationError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Detail: err.Error(), Kind: evaluate.KindOf(err)}
	status := http.StatusInternalServerError
	var tooLarge *http.MaxBytesError
	switch {
	case resp.Kind == "invalid_input":
		status, resp.Error = http.StatusBadRequest, "invalid input"
	case resp.Kind == "resource_bound" || errors.As(err, &tooLarge):
		status, resp.Error, resp.Kind = http.StatusRequestEntityTooLarge, "resource bound exceeded", "resource_bound"
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		status, resp.Error, resp.Kind = http.StatusServiceUnavailable, "evaluation cancelled", "cancelled"
	default:
		resp.Error = "evaluation failed"
	}
	WriteJSON(w, status, resp)
}

// Pagination is the limit/offset pair of a list request.
type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination reads limit (1..1000, larger values are clamped) and
// offset (>= 0). Absent values take the defaults.
func ParsePagination(r *http.Request) (Pagination, error) {
	q := r.URL.Query()
	p := Pagination{Limit: defaultLimit}
	limit, err := intParam(q, "limit", 1)
	if err != nil {
		return p, err
	}
	offset, err := intParam(q, "offset", 0)
	if err != nil {
		return p, err
	}
	if limit != nil {
		p.Limit = min(*limit, maxLimit)
	}
	if offset != nil {
		p.Offset = *offset
	}
	return p, nil
}

func intParam(q url.Values, name string, floor int) (*int, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer, got %q", name, raw)
	}
	if n < floor {
		return nil, fmt.Errorf("%s must be at least %d, got %d", name, floor, n)
	}
	return &n, nil
}

// QueryBool parses a boolean parameter. ok is false when it is absent or
// not a boolean.
func QueryBool(r *http.Request, name string) (v, ok bool) {
	b, err := strconv.ParseBool(r.URL.Query().Get(name))
	return b, err == nil
}

// QueryString returns a parameter and whether it was non-empty.
func QueryString(r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	return v, v != ""
}

// QueryStringList splits a comma-separated parameter, dropping blanks.
// It returns nil when nothing remains.
func QueryStringList(r *http.Request, name string) []string {
	var out []string
	for _, part := range strings.Split(r.URL.Query().Get(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
