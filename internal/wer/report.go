package wer

import (
	"fmt"
	"io"
	"strings"
)

// Row is one hypothesis line of a report.
type Row struct {
	ID string
	Comparison
}

// ReportMeta is the header block of a report.
type ReportMeta struct {
	AlignmentUnit   string
	ReferenceLength int
	ConsensusLength int
	Strategy        string
	TrustThreshold  float64
}

const width = 80

// WriteReport renders a human-readable comparison of standard and lattice
// WER. Rows are written in the order given.
func WriteReport(w io.Writer, meta ReportMeta, rows []Row) error {
	var b strings.Builder
	heavy := strings.Repeat("=", width)
	light := strings.Repeat("-", width)

	b.WriteString(heavy + "\n")
	b.WriteString("LATTICE-BASED WER COMPUTATION REPORT\n")
	b.WriteString(heavy + "\n\n")

	fmt.Fprintf(&b, "Alignment Unit: %s\n", meta.AlignmentUnit)
	fmt.Fprintf(&b, "Reference Length: %d words\n", meta.ReferenceLength)
	fmt.Fprintf(&b, "Consensus Length: %d words\n", meta.ConsensusLength)
	if meta.Strategy != "" {
		fmt.Fprintf(&b, "Strategy: %s (trust threshold %.2f)\n", meta.Strategy, meta.TrustThreshold)
	}

	b.WriteString("\n" + light + "\nWER COMPARISON\n" + light + "\n")
	fmt.Fprintf(&b, "%-20s %-15s %-15s %-15s %-10s\n", "Model", "Standard WER", "Lattice WER", "Improvement", "Status")
	b.WriteString(light + "\n")
	for _, r := range rows {
		status := "Unchanged"
		if r.Improved {
			status = "Improved"
		}
		fmt.Fprintf(&b, "%-20s %-15s %-15s %-15s %-10s\n",
			r.ID, percent(r.Standard.WER), percent(r.Lattice.WER), percent(r.Improvement), status)
	}

	b.WriteString("\n" + light + "\nDETAILED METRICS\n" + light + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "\n%s:\n", r.ID)
		detail(&b, "Standard WER", r.Standard)
		detail(&b, "Lattice WER", r.Lattice)
	}
	b.WriteString("\n" + heavy + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func detail(b *strings.Builder, label string, r Result) {
	fmt.Fprintf(b, "  %s: %s\n", label, percent(r.WER))
	fmt.Fprintf(b, "    Substitutions: %d\n", r.Substitutions)
	fmt.Fprintf(b, "    Deletions: %d\n", r.Deletions)
	fmt.Fprintf(b, "    Insertions: %d\n", r.Insertions)
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

// Justification explains why an alignment unit was chosen. Only "word" is
// supported by the engine; other units get a generic line.
func Justification(unit string) string {
	if unit != "word" {
		return "Custom alignment unit"
	}
	return strings.Join([]string{
		"Word-level alignment chosen because:",
		"1. Standard metric for ASR evaluation (WER = Word Error Rate)",
		"2. Interpretable and meaningful for human evaluation",
		"3. Balances granularity and robustness",
		"4. Works well for conversational speech",
		"5. Handles insertions/deletions naturally at word boundaries",
		"6. Compatible with existing benchmarks and tools",
	}, "\n")
}
