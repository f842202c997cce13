package importer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/crestlane/tapeload/internal/loader"
	"github.com/crestlane/tapeload/internal/mapping"
	"github.com/crestlane/tapeload/internal/schema"
	"github.com/crestlane/tapeload/internal/store"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTape(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write tape: %v", err)
	}
	return path
}

// stubProposer returns the same proposal (or error) on every call.
type stubProposer struct {
	mapping mapping.ColumnMapping
	err     error
	calls   int
}

func (s *stubProposer) ProposeMapping(context.Context, []string, *schema.Schema) (mapping.ColumnMapping, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.mapping.Clone(), nil
}

func checkAccounting(t *testing.T, res *RunResult) {
	t.Helper()
	got := res.Created + res.Updated + res.Skipped() + res.NotFound + res.Errored
	if got != res.Processed {
		t.Fatalf("buckets cover %d rows, processed %d", got, res.Processed)
	}
}

func TestRun_EndToEnd(t *testing.T) {
	st := store.NewMemory()
	imp := New(st, nil, quiet())
	path := writeTape(t, t.TempDir(), "2024-Q4 Acme Pool.csv",
		"Loan ID,Borrower,Current UPB,State,Next Due,Note Rate",
		"L-100,Baker,250000.00,TX,2024-02-01,7.25%",
		"L-101,Chen,312500.50,CA,2024-03-01,6.875%",
		"L-102,Diaz,98000,FL,,8.0%",
	)

	res, err := imp.Run(context.Background(), Options{FilePath: path, NoSemantic: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Phase != PhaseComplete {
		t.Fatalf("phase = %q, want complete", res.Phase)
	}
	if res.Created != 3 || res.Processed != 3 {
		t.Fatalf("created=%d processed=%d, want 3/3", res.Created, res.Processed)
	}
	checkAccounting(t, res)
	if res.MappingSource != "exact" {
		t.Fatalf("mapping source = %q, want exact", res.MappingSource)
	}
	if res.Seller.Name != "2024-Q4 Acme Pool" || res.Trade.Name != "2024-Q4 Acme Pool" {
		t.Fatalf("parents = %q / %q, want file stem", res.Seller.Name, res.Trade.Name)
	}
	if res.RunID == uuid.Nil {
		t.Fatal("run ID not assigned")
	}

	run, err := st.GetImportRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != store.RunStatusCompleted {
		t.Fatalf("run status = %q, want completed", run.Status)
	}
	if run.RowsCreated != 3 || run.RowsSkipped != 0 {
		t.Fatalf("run rows created=%d skipped=%d, want 3/0", run.RowsCreated, run.RowsSkipped)
	}

	values, ok := st.LoanValues(res.Trade.ID, "L-100")
	if !ok {
		t.Fatal("loan L-100 not stored")
	}
	if got := values["borrower_name"].(pgtype.Text).String; got != "Baker" {
		t.Fatalf("borrower = %q, want Baker", got)
	}
	if got := values["property_state"].(pgtype.Text).String; got != "TX" {
		t.Fatalf("state = %q, want TX", got)
	}
}

func TestRun_SemanticProposal(t *testing.T) {
	st := store.NewMemory()
	proposer := &stubProposer{mapping: mapping.ColumnMapping{
		"loan_number":   "Acct ID",
		"borrower_name": "Customer",
	}}
	imp := New(st, proposer, quiet())
	path := writeTape(t, t.TempDir(), "pool.csv",
		"Acct ID,Customer,Prin Bal",
		"A-1,Evans,10000",
		"A-2,Frank,20000",
	)

	res, err := imp.Run(context.Background(), Options{FilePath: path})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.MappingSource != "semantic" {
		t.Fatalf("mapping source = %q, want semantic", res.MappingSource)
	}
	if proposer.calls != 1 {
		t.Fatalf("proposer called %d times, want 1", proposer.calls)
	}
	if res.Created != 2 {
		t.Fatalf("created = %d, want 2", res.Created)
	}
	values, _ := st.LoanValues(res.Trade.ID, "A-1")
	if got := values["borrower_name"].(pgtype.Text).String; got != "Evans" {
		t.Fatalf("borrower = %q, want Evans", got)
	}
}

func TestRun_HallucinatedColumnFallsBack(t *testing.T) {
	st := store.NewMemory()
	proposer := &stubProposer{mapping: mapping.ColumnMapping{
		"loan_number":   "Acct ID",
		"borrower_name": "Imaginary Column",
	}}
	imp := New(st, proposer, quiet())
	path := writeTape(t, t.TempDir(), "pool.csv",
		"Acct ID,Customer,Borrower",
		"A-1,Evans,Evans Trust",
	)

	res, err := imp.Run(context.Background(), Options{FilePath: path, SemanticRetries: 1})
	if err != nil {
		t.Fatalf("run must complete despite the bad proposal: %v", err)
	}
	if proposer.calls != 2 {
		t.Fatalf("proposer called %d times, want retry budget of 2", proposer.calls)
	}
	if res.MappingSource != "semantic (pruned)" {
		t.Fatalf("mapping source = %q, want pruned", res.MappingSource)
	}
	if len(res.MappingWarnings) == 0 {
		t.Fatal("expected a mapping warning about the rejected proposal")
	}
	if res.Created != 1 {
		t.Fatalf("created = %d, want 1", res.Created)
	}
	// The valid entry survived the prune; the hallucinated one fell
	// back to the exact header match.
	if res.Mapping["loan_number"] != "Acct ID" {
		t.Fatalf("loan_number mapped to %q", res.Mapping["loan_number"])
	}
	if res.Mapping["borrower_name"] != "Borrower" {
		t.Fatalf("borrower_name mapped to %q, want exact fallback", res.Mapping["borrower_name"])
	}
}

func TestRun_ProposerErrorFallsBackToExact(t *testing.T) {
	st := store.NewMemory()
	proposer := &stubProposer{err: errors.New("api timeout")}
	imp := New(st, proposer, quiet())
	path := writeTape(t, t.TempDir(), "pool.csv",
		"Loan ID,Borrower",
		"L-1,Baker",
	)

	res, err := imp.Run(context.Background(), Options{FilePath: path})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.MappingSource != "exact" {
		t.Fatalf("mapping source = %q, want exact", res.MappingSource)
	}
	if len(res.MappingWarnings) == 0 {
		t.Fatal("expected a warning about the unavailable proposer")
	}
	if res.Created != 1 {
		t.Fatalf("created = %d, want 1", res.Created)
	}
}

func TestRun_NoLoanNumberColumnFails(t *testing.T) {
	st := store.NewMemory()
	imp := New(st, nil, quiet())
	path := writeTape(t, t.TempDir(), "pool.csv",
		"Fruit,Color",
		"apple,red",
	)

	res, err := imp.Run(context.Background(), Options{FilePath: path, NoSemantic: true})
	if err == nil {
		t.Fatal("expected an error for a tape without a loan number column")
	}
	if res.Phase != PhaseFailed {
		t.Fatalf("phase = %q, want failed", res.Phase)
	}
	if !strings.Contains(err.Error(), "no loan number column") {
		t.Fatalf("err = %v", err)
	}
	if got := MapError(err).Code; got != "MAP001" {
		t.Fatalf("code = %q, want MAP001", got)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	st := store.NewMemory()
	imp := New(st, nil, quiet())
	dir := t.TempDir()
	path := writeTape(t, dir, "pool.csv",
		"Loan ID,Borrower,Current UPB",
		"L-1,Baker,100",
		"L-2,Chen,200",
	)
	ctx := context.Background()

	res, err := imp.Run(ctx, Options{FilePath: path, NoSemantic: true, DryRun: true})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if res.Phase != PhaseComplete || !res.DryRun {
		t.Fatalf("phase=%q dry=%v", res.Phase, res.DryRun)
	}
	if res.Created != 2 {
		t.Fatalf("created = %d, want counts as if written", res.Created)
	}
	checkAccounting(t, res)
	if res.RunID != uuid.Nil {
		t.Fatal("dry run must not allocate a run ID")
	}
	if len(res.Preview) != 2 {
		t.Fatalf("preview rows = %d, want 2", len(res.Preview))
	}
	if res.Preview[0].Action != loader.ActionCreate {
		t.Fatalf("preview action = %q", res.Preview[0].Action)
	}

	if n, _ := st.CountLoansByTrade(ctx, res.Trade.ID); n != 0 {
		t.Fatalf("loan count = %d, dry run must not write", n)
	}
	runs, err := st.ListImportRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("history rows = %d, dry run must not record history", len(runs))
	}
}

func TestRun_SkipExistingRerun(t *testing.T) {
	st := store.NewMemory()
	imp := New(st, nil, quiet())
	path := writeTape(t, t.TempDir(), "pool.csv",
		"Loan ID,Borrower",
		"A1,Baker",
		"A2,Chen",
		"A2,Chen",
	)
	ctx := context.Background()
	opts := Options{FilePath: path, NoSemantic: true}

	first, err := imp.Run(ctx, opts)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Created != 2 || first.SkippedDuplicate != 1 {
		t.Fatalf("first run created=%d dup=%d, want 2/1", first.Created, first.SkippedDuplicate)
	}

	second, err := imp.Run(ctx, opts)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Created != 0 || second.SkippedExisting != 2 || second.SkippedDuplicate != 1 {
		t.Fatalf("second run created=%d existing=%d dup=%d, want 0/2/1",
			second.Created, second.SkippedExisting, second.SkippedDuplicate)
	}
	checkAccounting(t, second)
	if first.Trade.ID != second.Trade.ID {
		t.Fatal("re-run resolved a different trade")
	}
	if n, _ := st.CountLoansByTrade(ctx, first.Trade.ID); n != 2 {
		t.Fatalf("loan count = %d, want 2", n)
	}
}

func TestRun_UpdateExistingPolicy(t *testing.T) {
	st := store.NewMemory()
	imp := New(st, nil, quiet())
	dir := t.TempDir()
	ctx := context.Background()

	first := writeTape(t, dir, "pool.csv",
		"Loan ID,Borrower",
		"A1,Baker",
	)
	if _, err := imp.Run(ctx, Options{FilePath: first, NoSemantic: true}); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	res, err := imp.Run(ctx, Options{
		FilePath:   writeTape(t, dir, "pool.csv", "Loan ID,Borrower", "A1,Baker Family Trust"),
		NoSemantic: true,
		Policy:     loader.PolicyUpdateExisting,
	})
	if err != nil {
		t.Fatalf("update run: %v", err)
	}
	if res.Updated != 1 || res.Created != 0 {
		t.Fatalf("updated=%d created=%d, want 1/0", res.Updated, res.Created)
	}
	values, _ := st.LoanValues(res.Trade.ID, "A1")
	if got := values["borrower_name"].(pgtype.Text).String; got != "Baker Family Trust" {
		t.Fatalf("borrower = %q, want updated", got)
	}
}

func TestRun_InvalidRowsCounted(t *testing.T) {
	st := store.NewMemory()
	imp := New(st, nil, quiet())
	path := writeTape(t, t.TempDir(), "pool.csv",
		"Loan ID,Borrower",
		"A1,Baker",
		",No Loan Number",
		"A2,Chen",
	)

	res, err := imp.Run(context.Background(), Options{FilePath: path, NoSemantic: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Created != 2 || res.SkippedInvalid != 1 {
		t.Fatalf("created=%d invalid=%d, want 2/1", res.Created, res.SkippedInvalid)
	}
	checkAccounting(t, res)
	if len(res.Errors) == 0 {
		t.Fatal("expected an error sample for the rejected row")
	}
	if res.Errors[0].Row != 2 || res.Errors[0].Field != "loan_number" {
		t.Fatalf("error sample = %+v", res.Errors[0])
	}
}

func TestRun_FailedBatchKeepsRunGoing(t *testing.T) {
	st := store.NewMemory()
	calls := 0
	st.BatchErr = func(store.LoanBatch) error {
		calls++
		if calls == 1 {
			return errors.New("connection reset by peer")
		}
		return nil
	}
	imp := New(st, nil, quiet())
	path := writeTape(t, t.TempDir(), "pool.csv",
		"Loan ID,Borrower",
		"A1,Baker",
		"A2,Chen",
		"A3,Diaz",
		"A4,Evans",
	)

	res, err := imp.Run(context.Background(), Options{FilePath: path, NoSemantic: true, BatchSize: 2})
	if err != nil {
		t.Fatalf("run must complete despite a failed batch: %v", err)
	}
	if res.Errored != 2 || res.Created != 2 {
		t.Fatalf("errored=%d created=%d, want 2/2", res.Errored, res.Created)
	}
	checkAccounting(t, res)

	run, err := st.GetImportRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != store.RunStatusCompleted {
		t.Fatalf("run status = %q; errored rows do not fail the run", run.Status)
	}
}

func TestRun_MappingConfigRoundTrip(t *testing.T) {
	st := store.NewMemory()
	dir := t.TempDir()
	imp := New(st, nil, quiet())
	path := writeTape(t, dir, "pool.csv",
		"Loan ID,Borrower",
		"A1,Baker",
	)
	cfgPath := filepath.Join(dir, "mapping.yaml")
	ctx := context.Background()

	first, err := imp.Run(ctx, Options{FilePath: path, NoSemantic: true, SaveMappingPath: cfgPath})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	saved, err := mapping.Load(cfgPath)
	if err != nil {
		t.Fatalf("load saved mapping: %v", err)
	}
	if saved["loan_number"] != "Loan ID" {
		t.Fatalf("saved mapping = %v", saved)
	}

	second, err := imp.Run(ctx, Options{FilePath: path, MappingPath: cfgPath})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.MappingSource != "config" {
		t.Fatalf("mapping source = %q, want config", second.MappingSource)
	}
	if second.SkippedExisting != 1 {
		t.Fatalf("skipped existing = %d, want 1", second.SkippedExisting)
	}
	if first.Trade.ID != second.Trade.ID {
		t.Fatal("config run resolved a different trade")
	}
}

func TestRun_UnreadableFileFailsBeforeParents(t *testing.T) {
	st := store.NewMemory()
	imp := New(st, nil, quiet())

	res, err := imp.Run(context.Background(), Options{
		FilePath:   filepath.Join(t.TempDir(), "pool.pdf"),
		SellerName: "Acme Capital",
		NoSemantic: true,
	})
	if err == nil {
		t.Fatal("expected an unsupported format error")
	}
	if res.Phase != PhaseFailed {
		t.Fatalf("phase = %q, want failed", res.Phase)
	}
	if got := MapError(err).Code; got != "FILE001" {
		t.Fatalf("code = %q, want FILE001", got)
	}
	// The bad file must not have auto-created the seller.
	if _, err := st.GetSellerByName(context.Background(), "Acme Capital"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("seller lookup = %v, want not found", err)
	}
}
