// Package store persists sellers, trades, assets, and loans in Postgres.
// Assets are the hub records, one per trade and loan number; loan rows
// carry the tape data fields and hang off their asset. The Store
// interface has a Postgres implementation for production and an
// in-memory implementation for tests and dry-run verification.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("not found")

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Seller is a counterparty that delivers loan tapes.
type Seller struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Trade is a pool of loans purchased from a seller. Trade names are
// unique across sellers so a tape can be addressed by trade name alone.
type Trade struct {
	ID        uuid.UUID
	SellerID  uuid.UUID
	Name      string
	CreatedAt time.Time
}

// RunStatus indicates the lifecycle state of an import run.
type RunStatus string

const (
	RunStatusRunning    RunStatus = "running"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusRolledBack RunStatus = "rolled_back"
)

// ImportRun is one recorded import of a tape file into a trade.
// Rollback removes the rows a run created; rows it updated keep the
// run ID of the import that created them.
type ImportRun struct {
	ID          uuid.UUID
	TradeID     uuid.UUID
	TradeName   string
	FileName    string
	Sheet       string
	Status      RunStatus
	RowsCreated int32
	RowsUpdated int32
	RowsSkipped int32
	DurationMs  int32
	StartedAt   time.Time
}

// LoanRow is a new loan to insert along with its asset hub record.
// Values maps data column names to typed values; the loan number lives
// on the asset, not in Values.
type LoanRow struct {
	LoanNumber string
	Values     map[string]any
}

// LoanUpdate replaces the data fields of an existing loan, addressed by
// the asset resolved during the duplicate lookup.
type LoanUpdate struct {
	AssetID    uuid.UUID
	LoanNumber string
	Values     map[string]any
}

// LoanBatch is one atomic unit of work: either every create and update
// in it lands, or none do. Creates insert the asset hub record before
// the loan so the loan always references a live asset.
type LoanBatch struct {
	TradeID uuid.UUID
	RunID   uuid.UUID
	Creates []LoanRow
	Updates []LoanUpdate
}

// BatchResult reports what an applied batch did. NotFound lists loan
// numbers whose asset disappeared between lookup and update; these do
// not fail the batch.
type BatchResult struct {
	Created  int
	Updated  int
	NotFound []string
}

// Store is the persistence boundary for the import pipeline.
type Store interface {
	// Sellers and trades.
	GetSellerByID(ctx context.Context, id uuid.UUID) (Seller, error)
	GetSellerByName(ctx context.Context, name string) (Seller, error)
	CreateSeller(ctx context.Context, name string) (Seller, error)
	GetTradeByID(ctx context.Context, id uuid.UUID) (Trade, error)
	GetTradeByName(ctx context.Context, name string) (Trade, error)
	CreateTrade(ctx context.Context, sellerID uuid.UUID, name string) (Trade, error)

	// Loans.
	ExistingLoanNumbers(ctx context.Context, tradeID uuid.UUID, numbers []string) (map[string]uuid.UUID, error)
	ApplyLoanBatch(ctx context.Context, batch LoanBatch) (BatchResult, error)
	CountLoansByTrade(ctx context.Context, tradeID uuid.UUID) (int64, error)

	// Import run history.
	BeginImportRun(ctx context.Context, run ImportRun) error
	FinishImportRun(ctx context.Context, id uuid.UUID, status RunStatus, created, updated, skipped, durationMs int32) error
	GetImportRun(ctx context.Context, id uuid.UUID) (ImportRun, error)
	ListImportRuns(ctx context.Context, limit int) ([]ImportRun, error)
	RollbackImportRun(ctx context.Context, id uuid.UUID) (int64, error)
}
