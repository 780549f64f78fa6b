// Package dataset turns raw transcripts into evaluation requests: it
// tokenises text, reads CSV datasets and request files, and summarises the
// results of many samples.
package dataset

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Tokenizer splits text on whitespace. Normalisation and lowercasing are
// applied before splitting; both are off by default.
type Tokenizer struct {
	form      *norm.Form
	lowercase bool
}

// NewTokenizer returns a tokenizer for the given Unicode normalisation form
// ("", "NFC", "NFD", "NFKC" or "NFKD").
func NewTokenizer(form string, lowercase bool) (Tokenizer, error) {
	t := Tokenizer{lowercase: lowercase}
	var f norm.Form
	switch strings.ToUpper(form) {
	case "":
		return t, nil
	case "NFC":
		f = norm.NFC
	case "NFD":
		f = norm.NFD
	case "NFKC":
		f = norm.NFKC
	case "NFKD":
		f = norm.NFKD
	default:
		return Tokenizer{}, fmt.Errorf("unknown normalisation form %q", form)
	}
	t.form = &f
	return t, nil
}

// Tokenize returns the words of text. Control characters are dropped.
func (t Tokenizer) Tokenize(text string) []string {
	if t.form != nil {
		text = t.form.String(text)
	}
	if t.lowercase {
		// Casers keep state and are not shared between goroutines.
		text = cases.Lower(language.Und).String(text)
	}
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	return strings.Fields(text)
}
