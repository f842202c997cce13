package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crestlane/tapeload/internal/schema"
)

//go:embed schema.sql
var schemaSQL string

// PG is the Postgres-backed Store.
type PG struct {
	pool *pgxpool.Pool
}

// NewPG creates a Store backed by the given connection pool.
func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool}
}

var _ Store = (*PG)(nil)

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *PG) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Sellers and trades
// ---------------------------------------------------------------------------

func (s *PG) GetSellerByID(ctx context.Context, id uuid.UUID) (Seller, error) {
	var out Seller
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM sellers WHERE id = $1`, id,
	).Scan(&out.ID, &out.Name, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Seller{}, fmt.Errorf("seller %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Seller{}, fmt.Errorf("get seller: %w", err)
	}
	return out, nil
}

// GetSellerByName matches the name case-insensitively so tapes from
// "ACME Capital" and "Acme Capital" land under one seller.
func (s *PG) GetSellerByName(ctx context.Context, name string) (Seller, error) {
	var out Seller
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM sellers WHERE lower(name) = lower($1)`, name,
	).Scan(&out.ID, &out.Name, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Seller{}, fmt.Errorf("seller %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return Seller{}, fmt.Errorf("get seller by name: %w", err)
	}
	return out, nil
}

func (s *PG) CreateSeller(ctx context.Context, name string) (Seller, error) {
	var out Seller
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sellers (id, name) VALUES ($1, $2) RETURNING id, name, created_at`,
		uuid.New(), name,
	).Scan(&out.ID, &out.Name, &out.CreatedAt)
	if err != nil {
		return Seller{}, fmt.Errorf("create seller %q: %w", name, err)
	}
	return out, nil
}

func (s *PG) GetTradeByID(ctx context.Context, id uuid.UUID) (Trade, error) {
	var out Trade
	err := s.pool.QueryRow(ctx,
		`SELECT id, seller_id, name, created_at FROM trades WHERE id = $1`, id,
	).Scan(&out.ID, &out.SellerID, &out.Name, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Trade{}, fmt.Errorf("trade %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Trade{}, fmt.Errorf("get trade: %w", err)
	}
	return out, nil
}

func (s *PG) GetTradeByName(ctx context.Context, name string) (Trade, error) {
	var out Trade
	err := s.pool.QueryRow(ctx,
		`SELECT id, seller_id, name, created_at FROM trades WHERE lower(name) = lower($1)`, name,
	).Scan(&out.ID, &out.SellerID, &out.Name, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Trade{}, fmt.Errorf("trade %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return Trade{}, fmt.Errorf("get trade by name: %w", err)
	}
	return out, nil
}

func (s *PG) CreateTrade(ctx context.Context, sellerID uuid.UUID, name string) (Trade, error) {
	var out Trade
	err := s.pool.QueryRow(ctx,
		`INSERT INTO trades (id, seller_id, name) VALUES ($1, $2, $3) RETURNING id, seller_id, name, created_at`,
		uuid.New(), sellerID, name,
	).Scan(&out.ID, &out.SellerID, &out.Name, &out.CreatedAt)
	if err != nil {
		return Trade{}, fmt.Errorf("create trade %q: %w", name, err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Loans
// ---------------------------------------------------------------------------

// loanDataColumns lists the loans table data columns in schema order.
// The loan number is excluded; it lives on the asset hub record.
func loanDataColumns() []string {
	fields := schema.LoanTape().Fields()
	cols := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Name == schema.LoanNumberField {
			continue
		}
		cols = append(cols, f.Name)
	}
	return cols
}

var (
	loanColumns   = loanDataColumns()
	insertLoanSQL = buildInsertLoanSQL(loanColumns)
	updateLoanSQL = buildUpdateLoanSQL(loanColumns)
)

const insertAssetSQL = `INSERT INTO assets (id, trade_id, loan_number, import_run_id) VALUES ($1, $2, $3, $4)`

func buildInsertLoanSQL(dataCols []string) string {
	cols := append([]string{"id", "asset_id", "import_run_id"}, dataCols...)
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = quoteIdentifier(col)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO loans (%s) VALUES (%s)",
		strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
}

func buildUpdateLoanSQL(dataCols []string) string {
	sets := make([]string, 0, len(dataCols)+1)
	for i, col := range dataCols {
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdentifier(col), i+2))
	}
	sets = append(sets, "updated_at = now()")
	return fmt.Sprintf("UPDATE loans SET %s WHERE asset_id = $1", strings.Join(sets, ", "))
}

// quoteIdentifier quotes a SQL identifier to prevent injection.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ExistingLoanNumbers returns the asset ID for each of the given loan
// numbers that already exists in the trade.
func (s *PG) ExistingLoanNumbers(ctx context.Context, tradeID uuid.UUID, numbers []string) (map[string]uuid.UUID, error) {
	existing := make(map[string]uuid.UUID, len(numbers))
	if len(numbers) == 0 {
		return existing, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT loan_number, id FROM assets WHERE trade_id = $1 AND loan_number = ANY($2)`,
		tradeID, numbers,
	)
	if err != nil {
		return nil, fmt.Errorf("query existing loan numbers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var number string
		var assetID uuid.UUID
		if err := rows.Scan(&number, &assetID); err != nil {
			return nil, fmt.Errorf("scan loan number: %w", err)
		}
		existing[number] = assetID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return existing, nil
}

// ApplyLoanBatch writes one batch in a single transaction. Creates
// insert the asset before its loan; updates that match no asset are
// reported in the result rather than failing the batch. Any error
// rolls back the whole batch.
func (s *PG) ApplyLoanBatch(ctx context.Context, batch LoanBatch) (BatchResult, error) {
	var res BatchResult
	if len(batch.Creates) == 0 && len(batch.Updates) == 0 {
		return res, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, row := range batch.Creates {
		assetID := uuid.New()
		if _, err := tx.Exec(ctx, insertAssetSQL, assetID, batch.TradeID, row.LoanNumber, batch.RunID); err != nil {
			return BatchResult{}, fmt.Errorf("insert asset %q: %w", row.LoanNumber, describeWriteError(err))
		}

		args := make([]any, 0, len(loanColumns)+3)
		args = append(args, uuid.New(), assetID, batch.RunID)
		for _, col := range loanColumns {
			args = append(args, row.Values[col])
		}
		if _, err := tx.Exec(ctx, insertLoanSQL, args...); err != nil {
			return BatchResult{}, fmt.Errorf("insert loan %q: %w", row.LoanNumber, describeWriteError(err))
		}
		res.Created++
	}

	for _, u := range batch.Updates {
		args := make([]any, 0, len(loanColumns)+1)
		args = append(args, u.AssetID)
		for _, col := range loanColumns {
			args = append(args, u.Values[col])
		}
		tag, err := tx.Exec(ctx, updateLoanSQL, args...)
		if err != nil {
			return BatchResult{}, fmt.Errorf("update loan %q: %w", u.LoanNumber, describeWriteError(err))
		}
		if tag.RowsAffected() == 0 {
			res.NotFound = append(res.NotFound, u.LoanNumber)
			continue
		}
		res.Updated++
	}

	if err := tx.Commit(ctx); err != nil {
		return BatchResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

func (s *PG) CountLoansByTrade(ctx context.Context, tradeID uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM loans l JOIN assets a ON a.id = l.asset_id WHERE a.trade_id = $1`,
		tradeID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count loans: %w", err)
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// Import run history
// ---------------------------------------------------------------------------

func (s *PG) BeginImportRun(ctx context.Context, run ImportRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO import_runs (id, trade_id, file_name, sheet, status) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.TradeID, run.FileName, run.Sheet, string(RunStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("record import run: %w", err)
	}
	return nil
}

func (s *PG) FinishImportRun(ctx context.Context, id uuid.UUID, status RunStatus, created, updated, skipped, durationMs int32) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE import_runs
		 SET status = $2, rows_created = $3, rows_updated = $4, rows_skipped = $5, duration_ms = $6, finished_at = now()
		 WHERE id = $1`,
		id, string(status), created, updated, skipped, durationMs,
	)
	if err != nil {
		return fmt.Errorf("finish import run: %w", err)
	}
	return nil
}

const importRunColumns = `r.id, r.trade_id, t.name, r.file_name, r.sheet, r.status,
	r.rows_created, r.rows_updated, r.rows_skipped, r.duration_ms, r.started_at`

func scanImportRun(row pgx.Row) (ImportRun, error) {
	var run ImportRun
	var status string
	err := row.Scan(&run.ID, &run.TradeID, &run.TradeName, &run.FileName, &run.Sheet, &status,
		&run.RowsCreated, &run.RowsUpdated, &run.RowsSkipped, &run.DurationMs, &run.StartedAt)
	run.Status = RunStatus(status)
	return run, err
}

func (s *PG) GetImportRun(ctx context.Context, id uuid.UUID) (ImportRun, error) {
	run, err := scanImportRun(s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM import_runs r JOIN trades t ON t.id = r.trade_id WHERE r.id = $1`, importRunColumns),
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return ImportRun{}, fmt.Errorf("import run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ImportRun{}, fmt.Errorf("get import run: %w", err)
	}
	return run, nil
}

func (s *PG) ListImportRuns(ctx context.Context, limit int) ([]ImportRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM import_runs r JOIN trades t ON t.id = r.trade_id ORDER BY r.started_at DESC LIMIT $1`, importRunColumns),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	defer rows.Close()

	var runs []ImportRun
	for rows.Next() {
		run, err := scanImportRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return runs, nil
}

// RollbackImportRun deletes every loan and asset the run created and
// marks the run rolled back. Rows the run updated are left as they
// are. Returns the number of loans deleted.
func (s *PG) RollbackImportRun(ctx context.Context, id uuid.UUID) (int64, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM import_runs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("import run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("get import run: %w", err)
	}
	if RunStatus(status) == RunStatusRolledBack {
		return 0, fmt.Errorf("import run %s already rolled back", id)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM loans WHERE import_run_id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("delete loans: %w", err)
	}
	deleted := tag.RowsAffected()

	if _, err := tx.Exec(ctx, `DELETE FROM assets WHERE import_run_id = $1`, id); err != nil {
		return 0, fmt.Errorf("delete assets: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE import_runs SET status = $2 WHERE id = $1`, id, string(RunStatusRolledBack)); err != nil {
		return 0, fmt.Errorf("mark rolled back: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return deleted, nil
}
