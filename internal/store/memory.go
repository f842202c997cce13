package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type memAsset struct {
	ID         uuid.UUID
	TradeID    uuid.UUID
	LoanNumber string
	RunID      uuid.UUID
}

type memLoan struct {
	AssetID uuid.UUID
	RunID   uuid.UUID
	Values  map[string]any
}

// Memory is an in-memory Store with the same constraint behavior as the
// Postgres implementation: case-insensitive name uniqueness, one asset
// per trade and loan number, and all-or-nothing batches.
type Memory struct {
	mu       sync.Mutex
	sellers  map[uuid.UUID]Seller
	trades   map[uuid.UUID]Trade
	assets   map[uuid.UUID]*memAsset
	loans    map[uuid.UUID]*memLoan // keyed by asset ID
	runs     map[uuid.UUID]*ImportRun
	runOrder []uuid.UUID

	// BatchErr, when set, is consulted before each batch write; a
	// non-nil result fails that batch with nothing applied.
	BatchErr func(batch LoanBatch) error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sellers: make(map[uuid.UUID]Seller),
		trades:  make(map[uuid.UUID]Trade),
		assets:  make(map[uuid.UUID]*memAsset),
		loans:   make(map[uuid.UUID]*memLoan),
		runs:    make(map[uuid.UUID]*ImportRun),
	}
}

var _ Store = (*Memory)(nil)

// uniqueViolation mirrors the error shape Postgres produces so callers
// can classify it with IsUniqueViolation.
func uniqueViolation(detail string) error {
	return &pgconn.PgError{
		Code:    uniqueViolationCode,
		Message: "duplicate key value violates unique constraint",
		Detail:  detail,
	}
}

// ---------------------------------------------------------------------------
// Sellers and trades
// ---------------------------------------------------------------------------

func (m *Memory) GetSellerByID(_ context.Context, id uuid.UUID) (Seller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sellers[id]
	if !ok {
		return Seller{}, fmt.Errorf("seller %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (m *Memory) GetSellerByName(_ context.Context, name string) (Seller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sellers {
		if strings.EqualFold(s.Name, name) {
			return s, nil
		}
	}
	return Seller{}, fmt.Errorf("seller %q: %w", name, ErrNotFound)
}

func (m *Memory) CreateSeller(_ context.Context, name string) (Seller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sellers {
		if strings.EqualFold(s.Name, name) {
			return Seller{}, fmt.Errorf("create seller %q: %w", name, uniqueViolation("sellers_name_idx"))
		}
	}
	s := Seller{ID: uuid.New(), Name: name, CreatedAt: time.Now()}
	m.sellers[s.ID] = s
	return s, nil
}

func (m *Memory) GetTradeByID(_ context.Context, id uuid.UUID) (Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.trades[id]
	if !ok {
		return Trade{}, fmt.Errorf("trade %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (m *Memory) GetTradeByName(_ context.Context, name string) (Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.trades {
		if strings.EqualFold(t.Name, name) {
			return t, nil
		}
	}
	return Trade{}, fmt.Errorf("trade %q: %w", name, ErrNotFound)
}

func (m *Memory) CreateTrade(_ context.Context, sellerID uuid.UUID, name string) (Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sellers[sellerID]; !ok {
		return Trade{}, fmt.Errorf("seller %s: %w", sellerID, ErrNotFound)
	}
	for _, t := range m.trades {
		if strings.EqualFold(t.Name, name) {
			return Trade{}, fmt.Errorf("create trade %q: %w", name, uniqueViolation("trades_name_idx"))
		}
	}
	t := Trade{ID: uuid.New(), SellerID: sellerID, Name: name, CreatedAt: time.Now()}
	m.trades[t.ID] = t
	return t, nil
}

// ---------------------------------------------------------------------------
// Loans
// ---------------------------------------------------------------------------

func (m *Memory) ExistingLoanNumbers(_ context.Context, tradeID uuid.UUID, numbers []string) (map[string]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]bool, len(numbers))
	for _, n := range numbers {
		want[n] = true
	}

	existing := make(map[string]uuid.UUID)
	for _, a := range m.assets {
		if a.TradeID == tradeID && want[a.LoanNumber] {
			existing[a.LoanNumber] = a.ID
		}
	}
	return existing, nil
}

func (m *Memory) ApplyLoanBatch(_ context.Context, batch LoanBatch) (BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res BatchResult
	if len(batch.Creates) == 0 && len(batch.Updates) == 0 {
		return res, nil
	}

	if m.BatchErr != nil {
		if err := m.BatchErr(batch); err != nil {
			return BatchResult{}, err
		}
	}

	// Validate every create before mutating so a conflict leaves the
	// store untouched, matching the transactional behavior.
	taken := make(map[string]bool)
	for _, a := range m.assets {
		if a.TradeID == batch.TradeID {
			taken[a.LoanNumber] = true
		}
	}
	for _, row := range batch.Creates {
		if taken[row.LoanNumber] {
			return BatchResult{}, fmt.Errorf("insert asset %q: %w", row.LoanNumber, uniqueViolation("assets_trade_id_loan_number_key"))
		}
		taken[row.LoanNumber] = true
	}

	for _, row := range batch.Creates {
		asset := &memAsset{
			ID:         uuid.New(),
			TradeID:    batch.TradeID,
			LoanNumber: row.LoanNumber,
			RunID:      batch.RunID,
		}
		m.assets[asset.ID] = asset
		m.loans[asset.ID] = &memLoan{
			AssetID: asset.ID,
			RunID:   batch.RunID,
			Values:  cloneValues(row.Values),
		}
		res.Created++
	}

	for _, u := range batch.Updates {
		loan, ok := m.loans[u.AssetID]
		if !ok {
			res.NotFound = append(res.NotFound, u.LoanNumber)
			continue
		}
		loan.Values = cloneValues(u.Values)
		res.Updated++
	}

	return res, nil
}

func (m *Memory) CountLoansByTrade(_ context.Context, tradeID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, a := range m.assets {
		if a.TradeID != tradeID {
			continue
		}
		if _, ok := m.loans[a.ID]; ok {
			count++
		}
	}
	return count, nil
}

// LoanValues returns the stored data fields for a loan, for inspection
// in tests.
func (m *Memory) LoanValues(tradeID uuid.UUID, loanNumber string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.assets {
		if a.TradeID == tradeID && a.LoanNumber == loanNumber {
			if loan, ok := m.loans[a.ID]; ok {
				return cloneValues(loan.Values), true
			}
		}
	}
	return nil, false
}

func cloneValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// ---------------------------------------------------------------------------
// Import run history
// ---------------------------------------------------------------------------

func (m *Memory) BeginImportRun(_ context.Context, run ImportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.trades[run.TradeID]; ok {
		run.TradeName = t.Name
	}
	run.Status = RunStatusRunning
	run.StartedAt = time.Now()
	m.runs[run.ID] = &run
	m.runOrder = append(m.runOrder, run.ID)
	return nil
}

func (m *Memory) FinishImportRun(_ context.Context, id uuid.UUID, status RunStatus, created, updated, skipped, durationMs int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("import run %s: %w", id, ErrNotFound)
	}
	run.Status = status
	run.RowsCreated = created
	run.RowsUpdated = updated
	run.RowsSkipped = skipped
	run.DurationMs = durationMs
	return nil
}

func (m *Memory) GetImportRun(_ context.Context, id uuid.UUID) (ImportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return ImportRun{}, fmt.Errorf("import run %s: %w", id, ErrNotFound)
	}
	return *run, nil
}

func (m *Memory) ListImportRuns(_ context.Context, limit int) ([]ImportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}

	var runs []ImportRun
	for i := len(m.runOrder) - 1; i >= 0 && len(runs) < limit; i-- {
		if run, ok := m.runs[m.runOrder[i]]; ok {
			runs = append(runs, *run)
		}
	}
	return runs, nil
}

func (m *Memory) RollbackImportRun(_ context.Context, id uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return 0, fmt.Errorf("import run %s: %w", id, ErrNotFound)
	}
	if run.Status == RunStatusRolledBack {
		return 0, fmt.Errorf("import run %s already rolled back", id)
	}

	var deleted int64
	for assetID, loan := range m.loans {
		if loan.RunID == id {
			delete(m.loans, assetID)
			deleted++
		}
	}
	for assetID, asset := range m.assets {
		if asset.RunID == id {
			delete(m.assets, assetID)
		}
	}
	run.Status = RunStatusRolledBack
	return deleted, nil
}
