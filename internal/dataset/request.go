package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/snarg/wer-engine/internal/evaluate"
)

// Text is a transcript given either as a string, which is tokenised, or as
// a list of tokens, which is used verbatim.
type Text struct {
	Raw    string
	Tokens []string
	IsList bool
}

// Words returns the tokens of t.
func (t Text) Words(tok Tokenizer) []string {
	if t.IsList {
		if t.Tokens == nil {
			return []string{}
		}
		return t.Tokens
	}
	return tok.Tokenize(t.Raw)
}

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		t.IsList = true
		return json.Unmarshal(b, &t.Tokens)
	}
	return json.Unmarshal(b, &t.Raw)
}

func (t *Text) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.SequenceNode:
		t.IsList = true
		return n.Decode(&t.Tokens)
	case yaml.ScalarNode:
		return n.Decode(&t.Raw)
	default:
		return fmt.Errorf("line %d: expected a string or a list of tokens", n.Line)
	}
}

func (t Text) MarshalJSON() ([]byte, error) {
	if t.IsList {
		return json.Marshal(t.Tokens)
	}
	return json.Marshal(t.Raw)
}

// Document is the wire and file form of an evaluation request.
type Document struct {
	ID             string          `json:"id,omitempty" yaml:"id"`
	Reference      Text            `json:"reference" yaml:"reference"`
	Hypotheses     map[string]Text `json:"hypotheses" yaml:"hypotheses"`
	Strategy       string          `json:"strategy,omitempty" yaml:"strategy"`
	TrustThreshold *float64        `json:"trust_threshold,omitempty" yaml:"trust_threshold"`
	AlignmentUnit  string          `json:"alignment_unit,omitempty" yaml:"alignment_unit"`
	IncludeLattice bool            `json:"include_lattice,omitempty" yaml:"include_lattice"`
}

// Request converts d into an engine request.
func (d Document) Request(tok Tokenizer) evaluate.Request {
	req := evaluate.Request{
		ID:             d.ID,
		Reference:      d.Reference.Words(tok),
		Hypotheses:     make(map[string][]string, len(d.Hypotheses)),
		Strategy:       d.Strategy,
		TrustThreshold: d.TrustThreshold,
		AlignmentUnit:  d.AlignmentUnit,
		IncludeLattice: d.IncludeLattice,
	}
	for id, t := range d.Hypotheses {
		req.Hypotheses[id] = t.Words(tok)
	}
	return req
}

// DecodeDocument reads one request document in JSON or YAML.
func DecodeDocument(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	doc := &Document{}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(doc); err != nil {
			return nil, fmt.Errorf("decode request json: %w", err)
		}
		return doc, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(doc); err != nil {
		return nil, fmt.Errorf("decode request yaml: %w", err)
	}
	return doc, nil
}

// LoadDocument reads a request file.
func LoadDocument(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("request: open %q: %w", path, err)
	}
	defer f.Close()
	return DecodeDocument(f)
}
