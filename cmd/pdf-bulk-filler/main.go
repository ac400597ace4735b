package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/mobdev-source/pdf-bulk-filler-version-2/internal/batch"
	"github.com/mobdev-source/pdf-bulk-filler-version-2/internal/config"
	"github.com/mobdev-source/pdf-bulk-filler-version-2/internal/fill"
	"github.com/mobdev-source/pdf-bulk-filler-version-2/internal/mapping"
	"github.com/mobdev-source/pdf-bulk-filler-version-2/internal/pdfform"
	"github.com/mobdev-source/pdf-bulk-filler-version-2/internal/tabular"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// setupLogging configures logging based on the configured level
func setupLogging(cfg *config.Config) {
	// Progress and summaries go to stdout; logs stay on stderr
	log.SetOutput(os.Stderr)
	if cfg.IsDebug() {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			printVersion()
			return
		}
	}

	// Load configuration from flags first
	cfg, err := config.LoadFromFlags()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	setupLogging(cfg)

	// Set version if it was provided during build
	if version != "dev" {
		cfg.Version = version
	}

	if cfg.IsDebug() {
		log.Printf("Starting with configuration: %s", cfg.String())
	}

	// Ctrl-C cancels the batch; records already filled are kept
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	report, err := run(ctx, cfg)
	if err != nil {
		var ambiguous *tabular.AmbiguousSheetError
		if errors.As(err, &ambiguous) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintf(os.Stderr, "Pick one with --sheet:\n")
			for _, sheet := range ambiguous.Sheets {
				fmt.Fprintf(os.Stderr, "  %s\n", sheet)
			}
			os.Exit(1)
		}
		log.Fatalf("Error: %v", err)
	}

	printSummary(os.Stdout, report)

	if report.Err != nil {
		log.Printf("Batch error: %v", report.Err)
		os.Exit(1)
	}
	if report.Cancelled || report.Failed > 0 {
		os.Exit(1)
	}
}

// run executes the whole pipeline: load records, open the template,
// resolve the mapping, then fill every record through the batch runner.
func run(ctx context.Context, cfg *config.Config) (*batch.Report, error) {
	var m *mapping.Mapping
	if cfg.MappingPath != "" {
		loaded, err := mapping.Load(cfg.MappingPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load mapping: %w", err)
		}
		m = loaded
	}

	opts := tabular.Options{
		Sheet:       cfg.Sheet,
		HeaderRow:   cfg.HeaderRow,
		DataRow:     cfg.DataRow,
		FirstColumn: cfg.FirstColumn,
	}
	// A mapping file records the layout it was authored against; it wins
	// over flag defaults so the same mapping works across invocations.
	if m != nil {
		if m.Sheet != nil {
			opts.Sheet = *m.Sheet
		}
		opts.HeaderRow = m.HeaderRow
		opts.DataRow = m.DataRow
		opts.FirstColumn = m.FirstColumn
	}

	table, err := tabular.Load(cfg.DataPath, opts)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded %d records (%d columns) from %s", len(table.Records), len(table.Columns), cfg.DataPath)

	codec := pdfform.NewPDFCPUCodec()
	tpl, err := codec.Open(cfg.TemplatePath)
	if err != nil {
		return nil, err
	}
	fields := tpl.Fields()
	log.Printf("Template %s has %d fillable fields", cfg.TemplatePath, len(fields))

	if m == nil {
		m = mapping.Default(table.Columns, fields)
		log.Printf("No mapping file given; paired %d columns to fields by position", len(m.Pairs))
	}
	validated, err := m.Bind(table.Columns, fields)
	if err != nil {
		return nil, fmt.Errorf("mapping does not fit this data and template: %w", err)
	}

	engine := fill.New(tpl, validated, fill.Options{
		Flatten:      cfg.Flatten,
		StrictValues: cfg.StrictValues,
		Timeout:      cfg.RecordTimeout,
	})

	runner := batch.NewRunner(engine, codec, table.Records, batch.Options{
		Concurrency:    cfg.Concurrency,
		OutputDir:      cfg.OutputDir,
		CombinedOutput: cfg.CombinedOutput,
	})
	if err := runner.Start(ctx); err != nil {
		return nil, err
	}

	for p := range runner.Progress() {
		fmt.Printf("\rFilling records: %d/%d", p.Completed, p.Total)
	}
	fmt.Println()

	return runner.Wait(), nil
}

// printSummary writes the per-batch outcome in a human-readable form.
func printSummary(w *os.File, report *batch.Report) {
	fmt.Fprintf(w, "Done: %d succeeded, %d failed, %d skipped (of %d)\n",
		report.Succeeded, report.Failed, report.Skipped, report.Total)
	if report.CombinedOutput != "" {
		fmt.Fprintf(w, "Combined output: %s\n", report.CombinedOutput)
	}
	for _, res := range report.FailedResults() {
		fmt.Fprintf(w, "  record %d: %s", res.Index, res.Status)
		if res.Err != nil {
			fmt.Fprintf(w, " (%v)", res.Err)
		}
		fmt.Fprintln(w)
	}
	for _, res := range report.Results() {
		if res.Status != fill.StatusPartiallyFilled {
			continue
		}
		fmt.Fprintf(w, "  record %d: partially filled, %d field(s) skipped\n", res.Index, len(res.FailedFields))
	}
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("PDF Bulk Filler\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Git Commit: %s\n", gitCommit)
	fmt.Printf("Built with: %s\n", runtime.Version())
}
