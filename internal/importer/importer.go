// Package importer drives a tape import end to end: read the file,
// resolve the parent seller and trade, resolve the column mapping,
// transform the rows, and load them in batches. One call to Run handles
// one tape.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/crestlane/tapeload/internal/loader"
	"github.com/crestlane/tapeload/internal/mapping"
	"github.com/crestlane/tapeload/internal/schema"
	"github.com/crestlane/tapeload/internal/store"
	"github.com/crestlane/tapeload/internal/tape"
	"github.com/crestlane/tapeload/internal/transform"
)

var errNoLoanNumber = errors.New("no loan number column recognized in tape")

// Importer runs tape imports against a store. The proposer may be nil
// when semantic mapping is unavailable; runs then resolve mappings from
// config files and exact header matches only.
type Importer struct {
	store    store.Store
	proposer mapping.Proposer
	schema   *schema.Schema
	log      *slog.Logger
}

// New creates an Importer. A nil logger falls back to slog.Default.
func New(st store.Store, proposer mapping.Proposer, log *slog.Logger) *Importer {
	if log == nil {
		log = slog.Default()
	}
	return &Importer{
		store:    st,
		proposer: proposer,
		schema:   schema.LoanTape(),
		log:      log,
	}
}

// Run imports one tape. The returned RunResult is populated as far as
// the run got even when the error is non-nil; a non-nil error always
// leaves the result in PhaseFailed. Row-level problems never produce an
// error, they land in the result's counters and samples.
func (imp *Importer) Run(ctx context.Context, opts Options) (*RunResult, error) {
	start := time.Now()
	res := &RunResult{Phase: PhaseInitialized, File: opts.FilePath, DryRun: opts.DryRun}
	defer func() { res.Duration = time.Since(start) }()

	res.Phase = PhaseReading
	tbl, err := tape.Read(opts.FilePath, opts.Sheet)
	if err != nil {
		return imp.fail(res, fmt.Errorf("read tape: %w", err))
	}
	res.Sheet = tbl.Sheet
	res.Processed = tbl.RowCount()
	imp.log.Info("tape read",
		"file", filepath.Base(opts.FilePath),
		"sheet", tbl.Sheet,
		"columns", len(tbl.Columns),
		"rows", tbl.RowCount())

	// Parents resolve only after the tape parses, so a bad file never
	// auto-creates seller or trade rows.
	seller, trade, err := imp.resolveParents(ctx, opts)
	if err != nil {
		return imp.fail(res, err)
	}
	res.Seller, res.Trade = seller, trade

	res.Phase = PhaseMapping
	cols, err := imp.resolveMapping(ctx, tbl.Columns, opts, res)
	if err != nil {
		return imp.fail(res, err)
	}
	res.Mapping = cols
	imp.log.Info("mapping resolved",
		"source", res.MappingSource,
		"fields", len(cols),
		"warnings", len(res.MappingWarnings))
	if opts.SaveMappingPath != "" {
		if err := mapping.Save(opts.SaveMappingPath, cols); err != nil {
			return imp.fail(res, fmt.Errorf("save mapping: %w", err))
		}
		imp.log.Info("mapping saved", "path", opts.SaveMappingPath)
	}

	res.Phase = PhaseTransforming
	sampleLimit := opts.ErrorSampleLimit
	if sampleLimit <= 0 {
		sampleLimit = loader.DefaultErrorSampleLimit
	}
	tres := transform.New(imp.schema, opts.AsOf).Apply(tbl, cols)
	res.SkippedInvalid = len(tres.Skipped)
	res.Errors = appendBounded(res.Errors, tres.Skipped, sampleLimit)
	res.Warnings = appendBounded(res.Warnings, tres.Warnings, sampleLimit)
	imp.log.Info("rows transformed",
		"records", len(tres.Records),
		"skipped_invalid", res.SkippedInvalid,
		"warnings", len(tres.Warnings))

	ld := loader.New(imp.store, loader.Options{
		BatchSize:        opts.BatchSize,
		Policy:           opts.Policy,
		ErrorSampleLimit: sampleLimit,
		Logger:           imp.log,
	})

	if opts.DryRun {
		res.Phase = PhasePreviewing
		lres, previews, err := ld.DryRun(ctx, trade.ID, tres.Records, opts.PreviewLimit)
		imp.mergeLoad(res, lres, sampleLimit)
		res.Preview = previews
		if err != nil {
			return imp.fail(res, err)
		}
		res.Phase = PhaseComplete
		imp.logSummary(res)
		return res, nil
	}

	res.Phase = PhaseLoading
	runID := uuid.New()
	err = imp.store.BeginImportRun(ctx, store.ImportRun{
		ID:       runID,
		TradeID:  trade.ID,
		FileName: filepath.Base(opts.FilePath),
		Sheet:    tbl.Sheet,
	})
	if err != nil {
		return imp.fail(res, fmt.Errorf("record import run: %w", err))
	}
	res.RunID = runID

	lres, loadErr := ld.Load(ctx, trade.ID, runID, tres.Records)
	imp.mergeLoad(res, lres, sampleLimit)

	status := store.RunStatusCompleted
	if loadErr != nil {
		status = store.RunStatusFailed
	}
	// The run row is finalized even when the context was cancelled
	// mid-run, so history never shows a run stuck in running.
	finishCtx := context.WithoutCancel(ctx)
	durationMs := int32(time.Since(start).Milliseconds())
	if err := imp.store.FinishImportRun(finishCtx, runID, status,
		int32(res.Created), int32(res.Updated), int32(res.Skipped()), durationMs); err != nil {
		if loadErr == nil {
			loadErr = fmt.Errorf("finalize import run: %w", err)
		} else {
			imp.log.Error("finalize import run", "run_id", runID, "error", err)
		}
	}
	if loadErr != nil {
		return imp.fail(res, loadErr)
	}

	res.Phase = PhaseComplete
	imp.logSummary(res)
	return res, nil
}

// resolveMapping produces the column mapping for the tape and records
// its provenance on the result. Semantic proposals that keep failing
// validation are pruned to their valid subset; exact header matches
// fill whatever remains unmapped. Only a tape whose loan number column
// cannot be found at all is unusable.
func (imp *Importer) resolveMapping(ctx context.Context, columns []string, opts Options, res *RunResult) (mapping.ColumnMapping, error) {
	exact := mapping.Exact(columns, imp.schema)

	var resolved mapping.ColumnMapping
	switch {
	case opts.MappingPath != "":
		cfg, err := mapping.Load(opts.MappingPath)
		if err != nil {
			return nil, fmt.Errorf("load mapping config: %w", err)
		}
		applied, warns := mapping.ApplyConfig(cfg, columns, imp.schema)
		res.MappingWarnings = append(res.MappingWarnings, warns...)
		resolved = mapping.Merge(applied, exact)
		res.MappingSource = "config"
	case opts.NoSemantic || imp.proposer == nil:
		resolved = exact
		res.MappingSource = "exact"
	default:
		proposed, source := imp.propose(ctx, columns, opts.SemanticRetries, res)
		resolved = mapping.Merge(proposed, exact)
		res.MappingSource = source
	}

	if _, ok := resolved[schema.LoanNumberField]; !ok {
		return nil, fmt.Errorf("%w: map it explicitly with a mapping config", errNoLoanNumber)
	}
	return resolved, nil
}

// propose asks the semantic mapper for a proposal and validates it
// against the tape columns. A rejected proposal is retried up to the
// budget; after that the valid subset of the last proposal survives.
// Transport and parse failures are not retried here, the proposer
// handles its own backoff.
func (imp *Importer) propose(ctx context.Context, columns []string, retries int, res *RunResult) (mapping.ColumnMapping, string) {
	if retries < 0 {
		retries = 0
	}
	var last mapping.ColumnMapping
	for attempt := 1; attempt <= retries+1; attempt++ {
		proposed, err := imp.proposer.ProposeMapping(ctx, columns, imp.schema)
		if err != nil {
			imp.log.Warn("semantic mapping unavailable", "error", err)
			res.MappingWarnings = append(res.MappingWarnings,
				fmt.Sprintf("semantic mapping unavailable: %v; using exact header matches", err))
			return nil, "exact"
		}
		verr := mapping.Validate(proposed, columns, imp.schema)
		if verr == nil {
			imp.log.Debug("semantic mapping accepted", "fields", len(proposed), "attempt", attempt)
			return proposed, "semantic"
		}
		last = proposed
		imp.log.Warn("semantic mapping rejected", "attempt", attempt, "error", verr)
		if attempt == retries+1 {
			res.MappingWarnings = append(res.MappingWarnings,
				fmt.Sprintf("semantic mapping rejected after %d attempts: %v; keeping the valid entries", attempt, verr))
		}
	}
	return mapping.Prune(last, columns, imp.schema), "semantic (pruned)"
}

func (imp *Importer) mergeLoad(res *RunResult, l *loader.Result, sampleLimit int) {
	if l == nil {
		return
	}
	res.Created = l.Created
	res.Updated = l.Updated
	res.SkippedExisting = l.SkippedExisting
	res.SkippedDuplicate = l.SkippedDuplicate
	res.NotFound = l.NotFound
	res.Errored = l.Errored
	res.Batches = l.Batches
	res.Errors = appendBounded(res.Errors, l.Errors, sampleLimit)
}

func (imp *Importer) fail(res *RunResult, err error) (*RunResult, error) {
	phase := res.Phase
	res.Phase = PhaseFailed
	imp.log.Error("import failed", "file", filepath.Base(res.File), "phase", string(phase), "error", err)
	return res, err
}

func (imp *Importer) logSummary(res *RunResult) {
	imp.log.Info("import finished",
		"trade", res.Trade.Name,
		"dry_run", res.DryRun,
		"processed", res.Processed,
		"created", res.Created,
		"updated", res.Updated,
		"skipped", res.Skipped(),
		"not_found", res.NotFound,
		"errored", res.Errored,
		"duration", res.Duration.Round(time.Millisecond))
}

func appendBounded(dst, src []transform.RowIssue, limit int) []transform.RowIssue {
	for _, issue := range src {
		if len(dst) >= limit {
			break
		}
		dst = append(dst, issue)
	}
	return dst
}
