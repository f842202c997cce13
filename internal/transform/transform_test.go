package transform

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/crestlane/tapeload/internal/schema"
	"github.com/crestlane/tapeload/internal/tape"
)

var testAsOf = time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

func loanMapping() map[string]string {
	return map[string]string{
		"loan_number":      "Loan Number",
		"borrower_name":    "Borrower",
		"property_state":   "State",
		"current_balance":  "Current UPB",
		"accrued_interest": "Accrued Interest",
		"advances":         "Advances",
		"next_due_date":    "Next Due",
		"bankruptcy_flag":  "BK",
	}
}

func tapeTable(rows ...[]string) *tape.Table {
	return &tape.Table{
		Path: "test.csv",
		Columns: []string{
			"Loan Number", "Borrower", "State", "Current UPB",
			"Accrued Interest", "Advances", "Next Due", "BK",
		},
		Rows: rows,
	}
}

func numericFloat(t *testing.T, v any) float64 {
	t.Helper()
	n, ok := v.(pgtype.Numeric)
	if !ok {
		t.Fatalf("value %T is not pgtype.Numeric", v)
	}
	if !n.Valid {
		t.Fatal("numeric value is null")
	}
	f, err := n.Float64Value()
	if err != nil {
		t.Fatalf("Float64Value: %v", err)
	}
	return f.Float64
}

func TestApply_HappyPath(t *testing.T) {
	tr := New(schema.LoanTape(), testAsOf)
	res := tr.Apply(tapeTable(
		[]string{"A100", "Jane Doe", "california", "$1,234.56", "100.00", "", "10/31/2024", "No"},
	), loanMapping())

	if len(res.Skipped) != 0 {
		t.Fatalf("Skipped = %v, want none", res.Skipped)
	}
	if len(res.Records) != 1 {
		t.Fatalf("Records = %d, want 1", len(res.Records))
	}

	rec := res.Records[0]
	if rec.LoanNumber != "A100" {
		t.Errorf("LoanNumber = %q, want %q", rec.LoanNumber, "A100")
	}

	state := rec.Values["property_state"].(pgtype.Text)
	if !state.Valid || state.String != "CA" {
		t.Errorf("property_state = %+v, want CA", state)
	}

	if got := numericFloat(t, rec.Values["current_balance"]); got != 1234.56 {
		t.Errorf("current_balance = %v, want 1234.56", got)
	}

	bk := rec.Values["bankruptcy_flag"].(pgtype.Bool)
	if !bk.Valid || bk.Bool {
		t.Errorf("bankruptcy_flag = %+v, want valid false", bk)
	}

	// 1234.56 + 100.00 + null advances
	if got := numericFloat(t, rec.Values[schema.TotalDebtField]); got != 1334.56 {
		t.Errorf("total_debt = %v, want 1334.56", got)
	}

	// Due 10/31/2024, as of 12/31/2024
	dq := rec.Values[schema.DelinquencyMonthsField].(pgtype.Int4)
	if !dq.Valid || dq.Int32 != 2 {
		t.Errorf("delinquency_months = %+v, want 2", dq)
	}
}

func TestApply_MissingLoanNumberRejectsRow(t *testing.T) {
	tr := New(schema.LoanTape(), testAsOf)
	res := tr.Apply(tapeTable(
		[]string{"", "Jane Doe", "CA", "100", "", "", "", ""},
		[]string{"A2", "John Doe", "TX", "200", "", "", "", ""},
	), loanMapping())

	if len(res.Records) != 1 {
		t.Fatalf("Records = %d, want 1", len(res.Records))
	}
	if len(res.Skipped) != 1 {
		t.Fatalf("Skipped = %d, want 1", len(res.Skipped))
	}
	if res.Skipped[0].Row != 1 || res.Skipped[0].Field != schema.LoanNumberField {
		t.Errorf("Skipped[0] = %+v, want row 1 field loan_number", res.Skipped[0])
	}
}

func TestApply_OptionalFailuresAreWarnings(t *testing.T) {
	tr := New(schema.LoanTape(), testAsOf)
	res := tr.Apply(tapeTable(
		[]string{"A1", "", "Narnia", "not-money", "", "", "soon", "maybe"},
	), loanMapping())

	if len(res.Records) != 1 {
		t.Fatalf("Records = %d, want 1 (optional failures must not reject)", len(res.Records))
	}

	wantWarn := map[string]bool{
		"property_state":  true,
		"current_balance": true,
		"next_due_date":   true,
		"bankruptcy_flag": true,
	}
	for _, w := range res.Warnings {
		delete(wantWarn, w.Field)
	}
	if len(wantWarn) != 0 {
		t.Errorf("missing warnings for fields: %v (got %v)", wantWarn, res.Warnings)
	}

	rec := res.Records[0]
	if rec.Values["property_state"].(pgtype.Text).Valid {
		t.Error("property_state should be null for unknown state")
	}
	if rec.Values["current_balance"].(pgtype.Numeric).Valid {
		t.Error("current_balance should be null for unparseable input")
	}
	if rec.Values["bankruptcy_flag"].(pgtype.Bool).Valid {
		t.Error("bankruptcy_flag should be null for \"maybe\"")
	}
}

func TestApply_TotalDebtNullsAsZero(t *testing.T) {
	tr := New(schema.LoanTape(), testAsOf)
	res := tr.Apply(tapeTable(
		[]string{"A1", "", "", "", "", "", "", ""},
	), loanMapping())

	if len(res.Records) != 1 {
		t.Fatalf("Records = %d, want 1", len(res.Records))
	}
	if got := numericFloat(t, res.Records[0].Values[schema.TotalDebtField]); got != 0 {
		t.Errorf("total_debt = %v, want 0 when all components null", got)
	}
}

func TestApply_DelinquencyNullWithoutDueDate(t *testing.T) {
	tr := New(schema.LoanTape(), testAsOf)
	res := tr.Apply(tapeTable(
		[]string{"A1", "", "", "100", "", "", "", ""},
	), loanMapping())

	dq := res.Records[0].Values[schema.DelinquencyMonthsField].(pgtype.Int4)
	if dq.Valid {
		t.Errorf("delinquency_months = %+v, want null without a due date", dq)
	}
}

func TestApply_UnmappedFieldsNull(t *testing.T) {
	tr := New(schema.LoanTape(), testAsOf)
	res := tr.Apply(tapeTable(
		[]string{"A1", "", "", "100", "", "", "", ""},
	), loanMapping())

	rec := res.Records[0]
	for _, f := range schema.LoanTape().Fields() {
		if _, ok := rec.Values[f.Name]; !ok {
			t.Errorf("Values missing field %q", f.Name)
		}
	}

	zip := rec.Values["property_zip"].(pgtype.Text)
	if zip.Valid {
		t.Errorf("property_zip = %+v, want null when unmapped", zip)
	}
}

func TestSumNumerics(t *testing.T) {
	tests := []struct {
		name   string
		inputs []string
		want   float64
	}{
		{name: "mixed scales", inputs: []string{"100.50", "25", "0.25"}, want: 125.75},
		{name: "with negative", inputs: []string{"100.00", "-50.50"}, want: 49.5},
		{name: "all blank", inputs: []string{"", "", ""}, want: 0},
		{name: "one value", inputs: []string{"42.42"}, want: 42.42},
		{name: "blank treated as zero", inputs: []string{"", "10.01"}, want: 10.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vals := make([]pgtype.Numeric, len(tt.inputs))
			for i, s := range tt.inputs {
				vals[i] = ToPgNumeric(s)
			}

			sum := sumNumerics(vals...)
			if !sum.Valid {
				t.Fatal("sum is null, want valid")
			}
			f, err := sum.Float64Value()
			if err != nil {
				t.Fatalf("Float64Value: %v", err)
			}
			if f.Float64 != tt.want {
				t.Errorf("sumNumerics(%v) = %v, want %v", tt.inputs, f.Float64, tt.want)
			}
		})
	}
}

func TestMonthsPastDue(t *testing.T) {
	asOf := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		nextDue time.Time
		want    int32
	}{
		{name: "two months back", nextDue: time.Date(2024, 10, 31, 0, 0, 0, 0, time.UTC), want: 2},
		{name: "partial month floors", nextDue: time.Date(2024, 10, 15, 0, 0, 0, 0, time.UTC), want: 2},
		{name: "same day", nextDue: asOf, want: 0},
		{name: "due next year", nextDue: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), want: 0},
		{name: "year boundary", nextDue: time.Date(2023, 11, 30, 0, 0, 0, 0, time.UTC), want: 13},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := monthsPastDue(tt.nextDue, asOf); got != tt.want {
				t.Errorf("monthsPastDue(%v, %v) = %d, want %d",
					tt.nextDue.Format("2006-01-02"), asOf.Format("2006-01-02"), got, tt.want)
			}
		})
	}
}
