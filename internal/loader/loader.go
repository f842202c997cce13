// Package loader writes transformed loan records to the store in
// batches. Each batch is one transaction; a batch that fails to apply
// is rolled back and its rows counted as errored while the run carries
// on with the next batch. Batches committed earlier stay committed.
package loader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/crestlane/tapeload/internal/store"
	"github.com/crestlane/tapeload/internal/transform"
)

// Policy decides what happens to a record whose loan number already has
// an asset under the trade.
type Policy string

const (
	// PolicySkipExisting leaves existing loans untouched.
	PolicySkipExisting Policy = "skip-existing"
	// PolicyUpdateExisting overwrites the loan columns of existing loans.
	PolicyUpdateExisting Policy = "update-existing"
)

const (
	// DefaultBatchSize is the number of records per transaction.
	DefaultBatchSize = 500
	// DefaultErrorSampleLimit bounds how many row errors are kept for
	// reporting. Counters always cover every row.
	DefaultErrorSampleLimit = 20
)

// Result totals the fate of every record handed to the loader. Each
// record lands in exactly one bucket.
type Result struct {
	Created          int
	Updated          int
	SkippedExisting  int // loan already present under the trade
	SkippedDuplicate int // same loan number earlier in the tape
	NotFound         int
	Errored          int
	Batches          int

	// Errors holds a bounded sample of row-level failures.
	Errors []transform.RowIssue
}

// Rows is the number of records accounted for across all buckets.
func (r *Result) Rows() int {
	return r.Created + r.Updated + r.SkippedExisting + r.SkippedDuplicate + r.NotFound + r.Errored
}

// Options tune a Loader. Zero values select the defaults.
type Options struct {
	BatchSize        int
	Policy           Policy
	ErrorSampleLimit int
	Logger           *slog.Logger
}

// Loader partitions records into creates and updates against the
// store's view of the trade and applies them batch by batch.
type Loader struct {
	store      store.Store
	batchSize  int
	policy     Policy
	errorLimit int
	log        *slog.Logger
}

// New creates a Loader backed by st.
func New(st store.Store, opts Options) *Loader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Policy == "" {
		opts.Policy = PolicySkipExisting
	}
	if opts.ErrorSampleLimit <= 0 {
		opts.ErrorSampleLimit = DefaultErrorSampleLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loader{
		store:      st,
		batchSize:  opts.BatchSize,
		policy:     opts.Policy,
		errorLimit: opts.ErrorSampleLimit,
		log:        opts.Logger,
	}
}

// Load writes records under tradeID, attributing new rows to runID.
// Cancellation is honored between batches; the smallest abortable unit
// is one batch, so an in-flight transaction always completes or rolls
// back whole.
func (l *Loader) Load(ctx context.Context, tradeID, runID uuid.UUID, records []transform.Record) (*Result, error) {
	res := &Result{}
	for start := 0; start < len(records); start += l.batchSize {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("load aborted after %d batches: %w", res.Batches, err)
		}
		end := start + l.batchSize
		if end > len(records) {
			end = len(records)
		}
		l.loadBatch(ctx, tradeID, runID, records[start:end], res)
		res.Batches++
	}
	return res, nil
}

func (l *Loader) loadBatch(ctx context.Context, tradeID, runID uuid.UUID, records []transform.Record, res *Result) {
	numbers := make([]string, 0, len(records))
	for _, rec := range records {
		numbers = append(numbers, rec.LoanNumber)
	}
	existing, err := l.store.ExistingLoanNumbers(ctx, tradeID, numbers)
	if err != nil {
		l.failBatch(res, records, len(records), fmt.Errorf("look up existing loans: %w", err))
		return
	}

	batch := store.LoanBatch{TradeID: tradeID, RunID: runID}
	// A loan number repeated within the batch is counted once in its
	// primary bucket and as a duplicate for every later occurrence.
	// Under update-existing the later row's values win, so a repeat
	// overwrites the pending entry rather than adding a second one that
	// would collide on the assets unique index.
	pendingCreate := make(map[string]int)
	pendingUpdate := make(map[string]int)
	seen := make(map[string]bool)
	writes := 0
	for _, rec := range records {
		if seen[rec.LoanNumber] {
			res.SkippedDuplicate++
			if l.policy == PolicyUpdateExisting {
				if i, ok := pendingCreate[rec.LoanNumber]; ok {
					batch.Creates[i].Values = rec.Values
				} else if i, ok := pendingUpdate[rec.LoanNumber]; ok {
					batch.Updates[i].Values = rec.Values
				}
			}
			continue
		}
		seen[rec.LoanNumber] = true
		assetID, exists := existing[rec.LoanNumber]
		switch {
		case exists && l.policy == PolicySkipExisting:
			res.SkippedExisting++
		case exists:
			pendingUpdate[rec.LoanNumber] = len(batch.Updates)
			batch.Updates = append(batch.Updates, store.LoanUpdate{
				AssetID:    assetID,
				LoanNumber: rec.LoanNumber,
				Values:     rec.Values,
			})
			writes++
		default:
			pendingCreate[rec.LoanNumber] = len(batch.Creates)
			batch.Creates = append(batch.Creates, store.LoanRow{
				LoanNumber: rec.LoanNumber,
				Values:     rec.Values,
			})
			writes++
		}
	}

	if writes == 0 {
		l.log.Debug("batch had nothing to write",
			"batch", res.Batches+1,
			"rows", len(records))
		return
	}

	out, err := l.store.ApplyLoanBatch(ctx, batch)
	if err != nil {
		l.failBatch(res, records, writes, err)
		return
	}
	res.Created += out.Created
	res.Updated += out.Updated
	res.NotFound += len(out.NotFound)
	for _, num := range out.NotFound {
		l.addIssue(res, transform.RowIssue{
			Row:     rowOf(records, num),
			Message: fmt.Sprintf("loan %s disappeared before update", num),
		})
	}
	l.log.Debug("batch applied",
		"batch", res.Batches+1,
		"created", out.Created,
		"updated", out.Updated,
		"not_found", len(out.NotFound))
}

// failBatch accounts a failed batch: every record that was headed for a
// write becomes errored. Records already counted as skipped keep that
// bucket.
func (l *Loader) failBatch(res *Result, records []transform.Record, writes int, err error) {
	res.Errored += writes
	first, last := 0, 0
	if len(records) > 0 {
		first, last = records[0].Row, records[len(records)-1].Row
	}
	l.addIssue(res, transform.RowIssue{
		Row:     first,
		Message: fmt.Sprintf("batch covering rows %d-%d failed: %v", first, last, err),
	})
	l.log.Warn("batch failed, rows counted as errored",
		"batch", res.Batches+1,
		"rows", writes,
		"error", err)
}

func (l *Loader) addIssue(res *Result, issue transform.RowIssue) {
	if len(res.Errors) >= l.errorLimit {
		return
	}
	res.Errors = append(res.Errors, issue)
}

func rowOf(records []transform.Record, loanNumber string) int {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].LoanNumber == loanNumber {
			return records[i].Row
		}
	}
	return 0
}
