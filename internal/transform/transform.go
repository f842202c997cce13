// Package transform converts raw tape rows into typed, validated loan
// records using a resolved column mapping. Conversion failures on
// optional fields become warnings; a row missing its loan number is
// rejected.
package transform

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/crestlane/tapeload/internal/schema"
	"github.com/crestlane/tapeload/internal/tape"
)

// RowIssue describes a problem with one field of one tape row.
// Row numbers are 1-based over the data rows, header excluded.
type RowIssue struct {
	Row     int
	Field   string
	Message string
}

func (i RowIssue) String() string {
	if i.Field == "" {
		return fmt.Sprintf("row %d: %s", i.Row, i.Message)
	}
	return fmt.Sprintf("row %d, %s: %s", i.Row, i.Field, i.Message)
}

// Record is one transformed tape row. Values holds a typed pgtype value
// for every non-derived schema field plus the derived fields, keyed by
// field name; unmapped fields carry invalid (NULL) values.
type Record struct {
	Row        int
	LoanNumber string
	Values     map[string]any
}

// Result accumulates the outcome of transforming a whole tape.
type Result struct {
	Records  []Record
	Skipped  []RowIssue // rows rejected for a missing loan number
	Warnings []RowIssue // optional-field conversions that fell back to null
}

// Transformer applies the target schema's conversion rules to tape rows.
type Transformer struct {
	schema *schema.Schema
	asOf   time.Time
}

// New creates a Transformer. The as-of date anchors delinquency
// computation; a zero time means today.
func New(sch *schema.Schema, asOf time.Time) *Transformer {
	if asOf.IsZero() {
		asOf = time.Now()
	}
	return &Transformer{schema: sch, asOf: asOf}
}

// AsOf returns the delinquency anchor date.
func (t *Transformer) AsOf() time.Time {
	return t.asOf
}

// Apply transforms every row of the table using the given mapping
// (target field name to source column name). Rows whose loan number is
// blank after conversion are reported in Result.Skipped; all other
// conversion failures on optional fields become Result.Warnings.
func (t *Transformer) Apply(tbl *tape.Table, cols map[string]string) *Result {
	res := &Result{}
	headerIdx := MakeHeaderIndex(tbl.Columns)

	for i, row := range tbl.Rows {
		rowNum := i + 1
		rec := Record{
			Row:    rowNum,
			Values: make(map[string]any, len(t.schema.Fields())),
		}
		rejected := false

		for _, f := range t.schema.Fields() {
			if f.Derived {
				continue
			}

			raw := ""
			if src, ok := cols[f.Name]; ok {
				if pos, ok := headerIdx[schema.Canonical(CleanCell(src))]; ok && pos < len(row) {
					raw = CleanCell(row[pos])
				}
			}
			if f.Normalizer != nil && raw != "" {
				raw = f.Normalizer(raw)
			}

			value, issue := convertField(f, raw)
			if issue != "" {
				res.Warnings = append(res.Warnings, RowIssue{Row: rowNum, Field: f.Name, Message: issue})
			}
			rec.Values[f.Name] = value

			if f.Required && !valueValid(value) {
				res.Skipped = append(res.Skipped, RowIssue{
					Row:     rowNum,
					Field:   f.Name,
					Message: "missing required value",
				})
				rejected = true
				break
			}
		}
		if rejected {
			continue
		}

		rec.LoanNumber = rec.Values[schema.LoanNumberField].(pgtype.Text).String
		t.derive(&rec)
		res.Records = append(res.Records, rec)
	}

	return res
}

// convertField converts one cleaned cell per the field's type. A
// non-empty cell that fails conversion yields an invalid value and a
// warning message; blank cells yield invalid values silently.
func convertField(f schema.FieldSpec, raw string) (any, string) {
	switch f.Type {
	case schema.FieldCurrency, schema.FieldRate:
		v := ToPgNumeric(raw)
		if raw != "" && !v.Valid {
			return v, fmt.Sprintf("invalid %s value %q", f.Type, raw)
		}
		return v, ""
	case schema.FieldDate:
		v := ToPgDate(raw)
		if raw != "" && !v.Valid {
			return v, fmt.Sprintf("invalid date %q", raw)
		}
		return v, ""
	case schema.FieldBool:
		v := ToPgBool(raw)
		if raw != "" && !v.Valid {
			return v, fmt.Sprintf("unrecognized boolean %q", raw)
		}
		return v, ""
	case schema.FieldState:
		if raw == "" {
			return pgtype.Text{Valid: false}, ""
		}
		if !schema.IsUsStateCode(raw) {
			return pgtype.Text{Valid: false}, fmt.Sprintf("unknown state code %q", raw)
		}
		return ToPgText(strings.ToUpper(raw)), ""
	case schema.FieldInt:
		v := ToPgInt4(raw)
		if raw != "" && !v.Valid {
			return v, fmt.Sprintf("invalid integer %q", raw)
		}
		return v, ""
	default:
		return ToPgText(raw), ""
	}
}

func valueValid(v any) bool {
	switch x := v.(type) {
	case pgtype.Text:
		return x.Valid
	case pgtype.Date:
		return x.Valid
	case pgtype.Numeric:
		return x.Valid
	case pgtype.Bool:
		return x.Valid
	case pgtype.Int4:
		return x.Valid
	default:
		return false
	}
}

// derive computes the post-conversion fields: total debt and months
// delinquent.
func (t *Transformer) derive(rec *Record) {
	rec.Values[schema.TotalDebtField] = sumNumerics(
		numericValue(rec.Values[schema.CurrentBalanceField]),
		numericValue(rec.Values[schema.AccruedInterestField]),
		numericValue(rec.Values[schema.AdvancesField]),
	)

	nextDue, _ := rec.Values[schema.NextDueDateField].(pgtype.Date)
	if !nextDue.Valid {
		rec.Values[schema.DelinquencyMonthsField] = pgtype.Int4{Valid: false}
		return
	}
	rec.Values[schema.DelinquencyMonthsField] = pgtype.Int4{
		Int32: monthsPastDue(nextDue.Time, t.asOf),
		Valid: true,
	}
}

func numericValue(v any) pgtype.Numeric {
	n, _ := v.(pgtype.Numeric)
	return n
}

// sumNumerics adds decimals with null treated as zero. The result
// carries the smallest exponent among the operands so no precision is
// lost.
func sumNumerics(vals ...pgtype.Numeric) pgtype.Numeric {
	minExp := int32(0)
	for _, v := range vals {
		if v.Valid && v.Int != nil && v.Exp < minExp {
			minExp = v.Exp
		}
	}

	sum := new(big.Int)
	for _, v := range vals {
		if !v.Valid || v.Int == nil {
			continue
		}
		scaled := new(big.Int).Set(v.Int)
		if d := v.Exp - minExp; d > 0 {
			scaled.Mul(scaled, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d)), nil))
		}
		sum.Add(sum, scaled)
	}

	return pgtype.Numeric{Int: sum, Exp: minExp, Valid: true}
}

// monthsPastDue returns whole months from nextDue to asOf, floored at
// zero for loans due in the future.
func monthsPastDue(nextDue, asOf time.Time) int32 {
	months := (asOf.Year()-nextDue.Year())*12 + int(asOf.Month()) - int(nextDue.Month())
	if asOf.Day() < nextDue.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return int32(months)
}
