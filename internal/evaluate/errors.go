package evaluate

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput covers malformed requests: no hypotheses, empty or
	// whitespace-bearing tokens, unknown strategies and unsupported units.
	ErrInvalidInput = errors.New("invalid input")

	// ErrResourceBound is returned when an alignment would exceed the
	// configured cell budget. It is detected before the table is allocated.
	ErrResourceBound = errors.New("resource bound exceeded")
)

// HypothesisError reports why a single hypothesis could not be scored.
// Other hypotheses of the same request are unaffected.
type HypothesisError struct {
	ID  string
	Err error
}

func (e *HypothesisError) Error() string {
	return fmt.Sprintf("hypothesis %q: %v", e.ID, e.Err)
}

func (e *HypothesisError) Unwrap() error { return e.Err }

// Kind returns "invalid_input", "resource_bound" or "internal".
func (e *HypothesisError) Kind() string { return KindOf(e.Err) }

type wireError struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

func (e *HypothesisError) MarshalJSON() ([]byte, error) {
	w := wireError{Kind: e.Kind()}
	if e.Err != nil {
		w.Error = e.Err.Error()
	}
	return json.Marshal(w)
}

// UnmarshalJSON restores a stored failure. The message is kept verbatim and
// the kind is recoverable with errors.Is.
func (e *HypothesisError) UnmarshalJSON(b []byte) error {
	var w wireError
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	e.Err = &storedError{msg: w.Error, kind: sentinel(w.Kind)}
	return nil
}

type storedError struct {
	msg  string
	kind error
}

func (e *storedError) Error() string { return e.msg }
func (e *storedError) Unwrap() error { return e.kind }

func sentinel(kind string) error {
	switch kind {
	case "invalid_input":
		return ErrInvalidInput
	case "resource_bound":
		return ErrResourceBound
	default:
		return nil
	}
}

// KindOf classifies an error returned by the engine.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrResourceBound):
		return "resource_bound"
	default:
		return "internal"
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
