// Package schema defines the loan tape target schema: the fixed set of
// fields an imported tape row is mapped onto, their expected types, and
// the normalization rules applied before conversion.
package schema

import "strings"

// FieldType represents the expected data type for a tape field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldCurrency
	FieldRate
	FieldDate
	FieldBool
	FieldState
	FieldInt
)

// String returns the lowercase name of the field type, as shown in
// mapping prompts and validation messages.
func (t FieldType) String() string {
	switch t {
	case FieldText:
		return "text"
	case FieldCurrency:
		return "currency"
	case FieldRate:
		return "rate"
	case FieldDate:
		return "date"
	case FieldBool:
		return "boolean"
	case FieldState:
		return "state"
	case FieldInt:
		return "integer"
	default:
		return "unknown"
	}
}

// Well-known field names referenced outside the schema definition.
const (
	LoanNumberField        = "loan_number"
	CurrentBalanceField    = "current_balance"
	AccruedInterestField   = "accrued_interest"
	AdvancesField          = "advances"
	NextDueDateField       = "next_due_date"
	TotalDebtField         = "total_debt"
	DelinquencyMonthsField = "delinquency_months"
)

// FieldSpec defines one target field of the loan tape schema.
type FieldSpec struct {
	Name        string              // Target field name (also the database column)
	Type        FieldType           // Expected data type
	Required    bool                // Row is rejected when conversion yields null
	Description string              // Shown to the semantic mapper
	Aliases     []string            // Alternate header spellings for exact matching
	Normalizer  func(string) string // Optional transformation applied before conversion
	Derived     bool                // Computed after conversion, never mapped from a column
}

// Schema is an ordered collection of field specs with name lookup.
type Schema struct {
	fields []FieldSpec
	byName map[string]int
}

// New builds a Schema from an ordered field spec list.
func New(fields []FieldSpec) *Schema {
	s := &Schema{
		fields: fields,
		byName: make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		s.byName[f.Name] = i
	}
	return s
}

// LoanTape returns the loan tape target schema.
func LoanTape() *Schema {
	return New(LoanTapeFieldSpecs)
}

// Fields returns all field specs in schema order.
func (s *Schema) Fields() []FieldSpec {
	return s.fields
}

// Mappable returns the field specs a source column can map onto,
// excluding derived fields.
func (s *Schema) Mappable() []FieldSpec {
	out := make([]FieldSpec, 0, len(s.fields))
	for _, f := range s.fields {
		if !f.Derived {
			out = append(out, f)
		}
	}
	return out
}

// Field looks up a field spec by name.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	i, ok := s.byName[name]
	if !ok {
		return FieldSpec{}, false
	}
	return s.fields[i], true
}

// Has reports whether name is a schema field.
func (s *Schema) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Canonical normalizes a header or field name for case- and
// separator-insensitive comparison: lowercased, trimmed, with runs of
// spaces and underscores collapsed to a single space.
func Canonical(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}
