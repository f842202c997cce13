package main

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/crestlane/tapeload/internal/config"
	"github.com/crestlane/tapeload/internal/importer"
	"github.com/crestlane/tapeload/internal/loader"
	"github.com/crestlane/tapeload/internal/mapping"
	"github.com/crestlane/tapeload/internal/schema"
)

var (
	importSheet       string
	importSellerID    string
	importSellerName  string
	importTradeID     string
	importMappingPath string
	importSaveMapping string
	importBatchSize   int
	importDryRun      bool
	importUpdate      bool
	importNoSemantic  bool
	importAsOf        string
	importPreview     int
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a loan tape file into a trade",
	Long: `Import reads a loan tape, resolves its seller and trade, maps the
tape columns onto the loan schema, and writes the rows in batches.

Without --seller or --seller-id the seller and trade are named after
the tape file. Re-importing the same tape is safe: rows whose loan
number already exists in the trade are skipped unless
--update-existing is set.

Use --dry-run to see the full row accounting and a preview of what
would be written without touching the database.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	f := importCmd.Flags()
	f.StringVar(&importSheet, "sheet", "", "XLSX worksheet to read (default: first sheet)")
	f.StringVar(&importSellerID, "seller-id", "", "existing seller UUID")
	f.StringVar(&importSellerName, "seller", "", "seller name, created if missing")
	f.StringVar(&importTradeID, "trade-id", "", "existing trade UUID")
	f.StringVar(&importMappingPath, "mapping", "", "column mapping config to apply (YAML)")
	f.StringVar(&importSaveMapping, "save-mapping", "", "write the resolved mapping to this path")
	f.IntVar(&importBatchSize, "batch-size", 0, "rows per transaction (default: TAPELOAD_BATCH_SIZE)")
	f.BoolVar(&importDryRun, "dry-run", false, "report what would change without writing")
	f.BoolVar(&importUpdate, "update-existing", false, "update loans whose number already exists in the trade")
	f.BoolVar(&importNoSemantic, "no-semantic", false, "skip the semantic mapping proposal")
	f.StringVar(&importAsOf, "as-of", "", "delinquency anchor date, YYYY-MM-DD (default: today)")
	f.IntVar(&importPreview, "preview", 0, "dry-run preview rows (default: TAPELOAD_PREVIEW_LIMIT)")
	importCmd.MarkFlagsMutuallyExclusive("seller-id", "seller")
	importCmd.MarkFlagsMutuallyExclusive("trade-id", "seller")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, st, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	opts, err := importOptions(cfg, args[0])
	if err != nil {
		return err
	}

	var proposer mapping.Proposer
	if cfg.Semantic.Enabled() && !importNoSemantic {
		p, err := mapping.NewAnthropicProposer(mapping.AnthropicConfig{
			APIKey:  cfg.Semantic.APIKey,
			Model:   cfg.Semantic.Model,
			Timeout: cfg.Semantic.Timeout,
			Retries: cfg.Semantic.Retries,
		}, slog.Default())
		if err != nil {
			return err
		}
		proposer = p
	}

	res, err := importer.New(st, proposer, slog.Default()).Run(ctx, opts)
	if err != nil {
		return err
	}
	printRunResult(cmd.OutOrStdout(), res)
	return nil
}

// importOptions merges configured defaults with the command flags.
func importOptions(cfg *config.Config, path string) (importer.Options, error) {
	opts := importer.Options{
		FilePath:         path,
		Sheet:            importSheet,
		SellerName:       importSellerName,
		MappingPath:      importMappingPath,
		SaveMappingPath:  importSaveMapping,
		BatchSize:        cfg.Import.BatchSize,
		Policy:           loader.PolicySkipExisting,
		DryRun:           importDryRun,
		PreviewLimit:     cfg.Import.PreviewLimit,
		NoSemantic:       importNoSemantic,
		SemanticRetries:  cfg.Semantic.Retries,
		ErrorSampleLimit: cfg.Import.ErrorSampleLimit,
	}
	if importBatchSize > 0 {
		opts.BatchSize = importBatchSize
	}
	if importPreview > 0 {
		opts.PreviewLimit = importPreview
	}
	if importUpdate {
		opts.Policy = loader.PolicyUpdateExisting
	}
	if importSellerID != "" {
		id, err := uuid.Parse(importSellerID)
		if err != nil {
			return opts, fmt.Errorf("invalid --seller-id %q: %w", importSellerID, err)
		}
		opts.SellerID = id
	}
	if importTradeID != "" {
		id, err := uuid.Parse(importTradeID)
		if err != nil {
			return opts, fmt.Errorf("invalid --trade-id %q: %w", importTradeID, err)
		}
		opts.TradeID = id
	}
	if importAsOf != "" {
		t, err := time.Parse("2006-01-02", importAsOf)
		if err != nil {
			return opts, fmt.Errorf("invalid --as-of date %q (want YYYY-MM-DD): %w", importAsOf, err)
		}
		opts.AsOf = t
	}
	return opts, nil
}

// printRunResult writes the human summary of a finished run to w.
func printRunResult(w io.Writer, res *importer.RunResult) {
	verb := "Imported"
	if res.DryRun {
		verb = "Dry run of"
	}
	target := res.File
	if res.Sheet != "" {
		target = fmt.Sprintf("%s (sheet %q)", res.File, res.Sheet)
	}
	fmt.Fprintf(w, "%s %s into %s / %s\n", verb, target, res.Seller.Name, res.Trade.Name)
	fmt.Fprintf(w, "Mapping: %d columns via %s\n", len(res.Mapping), res.MappingSource)
	for _, warn := range res.MappingWarnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "  Processed\t%d\n", res.Processed)
	fmt.Fprintf(tw, "  Created\t%d\n", res.Created)
	fmt.Fprintf(tw, "  Updated\t%d\n", res.Updated)
	fmt.Fprintf(tw, "  Skipped\t%d (existing %d, duplicate %d, invalid %d)\n",
		res.Skipped(), res.SkippedExisting, res.SkippedDuplicate, res.SkippedInvalid)
	if res.NotFound > 0 {
		fmt.Fprintf(tw, "  Not found\t%d\n", res.NotFound)
	}
	fmt.Fprintf(tw, "  Errored\t%d\n", res.Errored)
	tw.Flush()

	if len(res.Errors) > 0 {
		fmt.Fprintf(w, "Row errors (first %d):\n", len(res.Errors))
		for _, issue := range res.Errors {
			fmt.Fprintf(w, "  %s\n", issue)
		}
	}
	if len(res.Warnings) > 0 {
		fmt.Fprintf(w, "Row warnings (first %d):\n", len(res.Warnings))
		for _, issue := range res.Warnings {
			fmt.Fprintf(w, "  %s\n", issue)
		}
	}
	if len(res.Preview) > 0 {
		fmt.Fprintf(w, "Preview (first %d rows):\n", len(res.Preview))
		pt := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(pt, "  ROW\tACTION\tLOAN\tVALUES")
		for _, p := range res.Preview {
			fmt.Fprintf(pt, "  %d\t%s\t%s\t%s\n", p.Row, p.Action, p.LoanNumber, previewValues(p.Values))
		}
		pt.Flush()
	}

	if res.DryRun {
		fmt.Fprintf(w, "Dry run finished in %s; nothing was written\n", res.Duration.Round(time.Millisecond))
	} else {
		fmt.Fprintf(w, "Run %s finished in %s\n", res.RunID, res.Duration.Round(time.Millisecond))
	}
}

// previewValues flattens a preview row's mapped values into one
// deterministic line, loan number excluded.
func previewValues(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == schema.LoanNumberField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, values[k]))
	}
	return strings.Join(parts, ", ")
}
