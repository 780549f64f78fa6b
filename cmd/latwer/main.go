// Command latwer evaluates request files and datasets offline, without the
// service's storage and transport backends.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/wer-engine/internal/config"
	"github.com/snarg/wer-engine/internal/dataset"
	"github.com/snarg/wer-engine/internal/evaluate"
	"github.com/snarg/wer-engine/internal/lattice"
	"github.com/snarg/wer-engine/internal/wer"
)

var version = "dev"

const usage = `Usage: latwer [-env-file FILE] [-v] <command> [options]

Commands:
  eval     -f request.(yaml|json)   evaluate one request and print the report
  dataset  -f data.csv [-out FILE]  evaluate every row of a dataset CSV
  demo     [-out FILE]              run the built-in examples
  version                           print version
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("latwer", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	envFile := global.String("env-file", "", "path to .env file (default ./.env)")
	verbose := global.Bool("v", false, "debug logging")
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger().Level(level)

	cfg, err := config.Load(config.Overrides{EnvFile: *envFile})
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := global.Arg(0), global.Args()[1:]
	c := &cli{cfg: cfg, log: log, stdout: stdout, stderr: stderr}
	switch cmd {
	case "eval":
		err = c.eval(ctx, rest)
	case "dataset":
		err = c.dataset(ctx, rest)
	case "demo":
		err = c.demo(ctx, rest)
	case "version":
		fmt.Fprintln(stdout, "latwer", version)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		global.Usage()
		return 2
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		log.Error().Err(err).Str("command", cmd).Msg("command failed")
		return 1
	}
}

var errUsage = errors.New("usage")

type cli struct {
	cfg    *config.Config
	log    zerolog.Logger
	stdout io.Writer
	stderr io.Writer
}

// engineFlags registers the engine overrides shared by every command.
type engineFlags struct {
	strategy  *string
	threshold *float64
}

func (c *cli) engineFlags(fs *flag.FlagSet) engineFlags {
	return engineFlags{
		strategy:  fs.String("strategy", c.cfg.Engine.Strategy, "consensus strategy (voting, confidence)"),
		threshold: fs.Float64("threshold", c.cfg.Engine.TrustThreshold, "trust threshold in [0, 1]"),
	}
}

func (c *cli) engine(f engineFlags) (*evaluate.Engine, error) {
	return evaluate.New(evaluate.Options{
		Strategy:       lattice.Strategy(*f.strategy),
		TrustThreshold: f.threshold,
		MaxCells:       c.cfg.Engine.MaxCells,
		Workers:        c.cfg.Engine.Workers,
		Log:            c.log,
	})
}

func (c *cli) tokenizer() (dataset.Tokenizer, error) {
	return dataset.NewTokenizer(c.cfg.Dataset.Normalize, c.cfg.Dataset.Lowercase)
}

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("latwer "+name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) eval(ctx context.Context, args []string) error {
	fs := c.flagSet("eval")
	file := fs.String("f", "", "request file (YAML or JSON, - for stdin)")
	asJSON := fs.Bool("json", false, "print the evaluation as JSON instead of the report")
	withLattice := fs.Bool("lattice", false, "include the lattice in JSON output")
	ef := c.engineFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		fs.Usage()
		return errUsage
	}

	var doc *dataset.Document
	var err error
	if *file == "-" {
		doc, err = dataset.DecodeDocument(os.Stdin)
	} else {
		doc, err = dataset.LoadDocument(*file)
	}
	if err != nil {
		return err
	}
	e, err := c.engine(ef)
	if err != nil {
		return err
	}
	tok, err := c.tokenizer()
	if err != nil {
		return err
	}

	req := doc.Request(tok)
	req.IncludeLattice = req.IncludeLattice || *withLattice
	ev, err := e.Evaluate(ctx, req)
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(c.stdout, ev)
	}
	return c.printEvaluation(ev)
}

func (c *cli) printEvaluation(ev *evaluate.Evaluation) error {
	if _, err := io.WriteString(c.stdout, ev.Report()); err != nil {
		return err
	}
	for _, id := range sortedKeys(ev.Failures) {
		fmt.Fprintf(c.stdout, "FAILED %s: %v\n", id, ev.Failures[id])
	}
	return nil
}

// datasetExport is the -out file of the dataset command.
type datasetExport struct {
	Source  string                 `json:"source"`
	Summary dataset.Summary        `json:"summary"`
	Results []dataset.SampleResult `json:"results"`
}

func (c *cli) dataset(ctx context.Context, args []string) error {
	fs := c.flagSet("dataset")
	file := fs.String("f", "", "dataset CSV")
	out := fs.String("out", "", "write per-sample results and summary as JSON")
	ef := c.engineFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		fs.Usage()
		return errUsage
	}

	layout := dataset.Layout{
		ReferenceColumn:  c.cfg.Dataset.ReferenceColumn,
		IDColumn:         c.cfg.Dataset.IDColumn,
		HypothesisPrefix: c.cfg.Dataset.HypothesisPrefix,
	}
	samples, err := dataset.LoadCSV(*file, layout)
	if err != nil {
		return err
	}
	e, err := c.engine(ef)
	if err != nil {
		return err
	}
	tok, err := c.tokenizer()
	if err != nil {
		return err
	}

	c.log.Info().Str("file", *file).Int("samples", len(samples)).Msg("evaluating dataset")
	results, err := dataset.Run(ctx, e, tok, samples)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Error != "" {
			c.log.Warn().Str("sample", r.Sample.ID()).Str("error", r.Error).Msg("sample failed")
		}
	}

	sum := dataset.Summarize(results)
	if err := dataset.WriteSummary(c.stdout, sum); err != nil {
		return err
	}
	if *out == "" {
		return nil
	}
	return writeJSONFile(*out, datasetExport{Source: filepath.Base(*file), Summary: sum, Results: results})
}

type example struct {
	id, title  string
	reference  []string
	hypotheses map[string][]string
}

var examples = []example{
	{
		id:        "sample_001",
		title:     "Basic transcription",
		reference: strings.Fields("मैं आज स्कूल जा रहा हूँ"),
		hypotheses: map[string][]string{
			"model_1_whisper":    strings.Fields("मैं आज स्कूल जा रहा हूँ"),
			"model_2_wav2vec":    strings.Fields("मैं आज स्कूल जा रहा हूं"),
			"model_3_conformer":  strings.Fields("मैं आज स्कूल जा रहा हूँ"),
			"model_4_deepspeech": strings.Fields("मैं आज स्कूल जा रहा हूं"),
			"model_5_custom":     strings.Fields("मैं आज स्कूल जा रहा हूँ"),
		},
	},
	{
		id:        "sample_002",
		title:     "Reference contains an error the models agree on",
		reference: strings.Fields("यह बहुत अच्छी बात है"),
		hypotheses: map[string][]string{
			"model_1_whisper":    strings.Fields("यह बहुत अच्छा बात है"),
			"model_2_wav2vec":    strings.Fields("यह बहुत अच्छा बात है"),
			"model_3_conformer":  strings.Fields("यह बहुत अच्छा बात है"),
			"model_4_deepspeech": strings.Fields("यह बहुत अच्छा बात है"),
			"model_5_custom":     strings.Fields("यह बहुत अच्छी बात है"),
		},
	},
	{
		id:        "sample_003",
		title:     "Insertions and deletions",
		reference: strings.Fields("मुझे यह पसंद है"),
		hypotheses: map[string][]string{
			"model_1_whisper":    strings.Fields("मुझे यह बहुत पसंद है"),
			"model_2_wav2vec":    strings.Fields("मुझे यह पसंद है"),
			"model_3_conformer":  strings.Fields("मुझे यह बहुत पसंद है"),
			"model_4_deepspeech": strings.Fields("मुझे पसंद है"),
			"model_5_custom":     strings.Fields("मुझे यह बहुत पसंद है"),
		},
	},
}

func (c *cli) demo(ctx context.Context, args []string) error {
	fs := c.flagSet("demo")
	out := fs.String("out", "", "write all example results as JSON")
	ef := c.engineFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, err := c.engine(ef)
	if err != nil {
		return err
	}

	rule := strings.Repeat("=", 80)
	fmt.Fprintf(c.stdout, "%s\nAlignment unit: word\n\n%s\n", rule, wer.Justification("word"))

	all := make(map[string]*evaluate.Evaluation, len(examples))
	for i, ex := range examples {
		fmt.Fprintf(c.stdout, "\n%s\nEXAMPLE %d: %s\n%s\n", rule, i+1, ex.title, rule)
		fmt.Fprintf(c.stdout, "Reference: %s\n\nHypotheses:\n", strings.Join(ex.reference, " "))
		for _, id := range sortedKeys(ex.hypotheses) {
			fmt.Fprintf(c.stdout, "  %s: %s\n", id, strings.Join(ex.hypotheses[id], " "))
		}

		ev, err := e.Evaluate(ctx, evaluate.Request{ID: ex.id, Reference: ex.reference, Hypotheses: ex.hypotheses})
		if err != nil {
			return fmt.Errorf("%s: %w", ex.id, err)
		}
		fmt.Fprintf(c.stdout, "\nConsensus: %s\nEffective reference: %s\n\n",
			strings.Join(ev.Meta.Consensus, " "), strings.Join(ev.Meta.EffectiveReference, " "))
		if err := c.printEvaluation(ev); err != nil {
			return err
		}
		all[ex.id] = ev
	}

	if *out == "" {
		return nil
	}
	if err := writeJSONFile(*out, all); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "\nResults saved to: %s\n", *out)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func writeJSONFile(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeJSON(f, v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
