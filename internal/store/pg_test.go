package store

import (
	"strings"
	"testing"

	"github.com/crestlane/tapeload/internal/schema"
)

// ---------------------------------------------------------------------------
// quoteIdentifier Tests
// ---------------------------------------------------------------------------

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "normal identifier",
			input: "loans",
			want:  `"loans"`,
		},
		{
			name:  "snake case column",
			input: "loan_number",
			want:  `"loan_number"`,
		},
		{
			name:  "embedded quote",
			input: `bad"name`,
			want:  `"bad""name"`,
		},
		{
			name:  "injection attempt",
			input: `loans"; DROP TABLE loans; --`,
			want:  `"loans""; DROP TABLE loans; --"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := quoteIdentifier(tt.input)
			if got != tt.want {
				t.Errorf("quoteIdentifier(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// SQL builder Tests
// ---------------------------------------------------------------------------

func TestLoanDataColumns(t *testing.T) {
	cols := loanDataColumns()

	want := len(schema.LoanTape().Fields()) - 1
	if len(cols) != want {
		t.Fatalf("loanDataColumns() returned %d columns, want %d", len(cols), want)
	}
	for _, col := range cols {
		if col == schema.LoanNumberField {
			t.Errorf("loanDataColumns() includes %q; the loan number belongs to the asset", col)
		}
	}

	// Derived fields are stored like any other data column.
	has := make(map[string]bool, len(cols))
	for _, col := range cols {
		has[col] = true
	}
	for _, derived := range []string{schema.TotalDebtField, schema.DelinquencyMonthsField} {
		if !has[derived] {
			t.Errorf("loanDataColumns() missing derived column %q", derived)
		}
	}
}

func TestBuildInsertLoanSQL(t *testing.T) {
	sql := buildInsertLoanSQL([]string{"borrower_name", "current_balance"})

	want := `INSERT INTO loans ("id", "asset_id", "import_run_id", "borrower_name", "current_balance") VALUES ($1, $2, $3, $4, $5)`
	if sql != want {
		t.Errorf("buildInsertLoanSQL() =\n%s\nwant\n%s", sql, want)
	}
}

func TestBuildUpdateLoanSQL(t *testing.T) {
	sql := buildUpdateLoanSQL([]string{"borrower_name", "current_balance"})

	want := `UPDATE loans SET "borrower_name" = $2, "current_balance" = $3, updated_at = now() WHERE asset_id = $1`
	if sql != want {
		t.Errorf("buildUpdateLoanSQL() =\n%s\nwant\n%s", sql, want)
	}
}

func TestInsertLoanSQLPlaceholderCount(t *testing.T) {
	// Three bookkeeping columns plus one placeholder per data column.
	wantArgs := len(loanColumns) + 3
	if got := strings.Count(insertLoanSQL, "$"); got != wantArgs {
		t.Errorf("insertLoanSQL has %d placeholders, want %d", got, wantArgs)
	}
}
