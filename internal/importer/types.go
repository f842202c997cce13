package importer

import (
	"time"

	"github.com/google/uuid"

	"github.com/crestlane/tapeload/internal/loader"
	"github.com/crestlane/tapeload/internal/mapping"
	"github.com/crestlane/tapeload/internal/store"
	"github.com/crestlane/tapeload/internal/transform"
)

// Phase tracks where a run is in its lifecycle.
type Phase string

const (
	PhaseInitialized  Phase = "initialized"
	PhaseReading      Phase = "reading"
	PhaseMapping      Phase = "mapping"
	PhaseTransforming Phase = "transforming"
	PhasePreviewing   Phase = "previewing"
	PhaseLoading      Phase = "loading"
	PhaseComplete     Phase = "complete"
	PhaseFailed       Phase = "failed"
)

// Options configure one import run.
type Options struct {
	FilePath string
	Sheet    string // XLSX worksheet; empty selects the first

	// Parent context. An explicit trade ID wins and must exist. An
	// explicit seller ID must exist; a seller name resolves or creates.
	// With neither, names derive from the tape file name.
	SellerID   uuid.UUID
	SellerName string
	TradeID    uuid.UUID

	// MappingPath loads a saved column mapping instead of proposing
	// one. SaveMappingPath writes the resolved mapping for later runs.
	MappingPath     string
	SaveMappingPath string

	BatchSize        int
	Policy           loader.Policy
	DryRun           bool
	PreviewLimit     int
	NoSemantic       bool // skip the mapping proposal call
	SemanticRetries  int  // extra proposal attempts after a rejected one
	ErrorSampleLimit int
	AsOf             time.Time // delinquency anchor date; zero means today
}

// RunResult is the full account of one run. Counters cover every data
// row of the tape exactly once.
type RunResult struct {
	RunID  uuid.UUID // zero for dry runs
	Phase  Phase
	Seller store.Seller
	Trade  store.Trade
	File   string
	Sheet  string
	DryRun bool

	// MappingSource says how the column mapping was resolved: "config",
	// "semantic", "semantic (pruned)", or "exact".
	MappingSource   string
	Mapping         mapping.ColumnMapping
	MappingWarnings []string

	Processed        int
	Created          int
	Updated          int
	SkippedExisting  int
	SkippedDuplicate int
	SkippedInvalid   int
	NotFound         int
	Errored          int
	Batches          int

	Errors   []transform.RowIssue // bounded sample of row failures
	Warnings []transform.RowIssue // bounded sample of conversion warnings
	Preview  []loader.RowPreview  // dry runs only
	Duration time.Duration
}

// Skipped is the total of all skip causes.
func (r *RunResult) Skipped() int {
	return r.SkippedExisting + r.SkippedDuplicate + r.SkippedInvalid
}
