// Package mapping resolves a tape's source column names onto the loan
// tape target schema. Three strategies exist: exact header matching, a
// saved mapping configuration, and a semantic proposal from a language
// model. Every strategy produces the same ColumnMapping shape.
package mapping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/crestlane/tapeload/internal/schema"
)

// ColumnMapping maps target field names to source column names. Targets
// with no usable source column are absent.
type ColumnMapping map[string]string

// Clone returns a copy of the mapping.
func (m ColumnMapping) Clone() ColumnMapping {
	out := make(ColumnMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Targets returns the mapped target field names in sorted order.
func (m ColumnMapping) Targets() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Exact maps target fields to source columns by case- and
// separator-insensitive name equality, trying each field's name first
// and then its aliases. Unmatched targets are left unmapped.
func Exact(columns []string, sch *schema.Schema) ColumnMapping {
	byCanon := make(map[string]string, len(columns))
	for _, col := range columns {
		key := schema.Canonical(col)
		if key == "" {
			continue
		}
		if _, ok := byCanon[key]; !ok {
			byCanon[key] = col
		}
	}

	m := make(ColumnMapping)
	for _, f := range sch.Mappable() {
		if src, ok := byCanon[schema.Canonical(f.Name)]; ok {
			m[f.Name] = src
			continue
		}
		for _, alias := range f.Aliases {
			if src, ok := byCanon[schema.Canonical(alias)]; ok {
				m[f.Name] = src
				break
			}
		}
	}
	return m
}

// MappingValidationError reports mapping entries that reference a target
// field outside the schema or a source column absent from the tape.
type MappingValidationError struct {
	UnknownTargets []string          // proposed target fields not in the schema
	UnknownSources map[string]string // target -> source column absent from the tape
}

func (e *MappingValidationError) Error() string {
	var parts []string
	if len(e.UnknownTargets) > 0 {
		parts = append(parts, fmt.Sprintf("unknown target fields %v", e.UnknownTargets))
	}
	if len(e.UnknownSources) > 0 {
		srcs := make([]string, 0, len(e.UnknownSources))
		for target, src := range e.UnknownSources {
			srcs = append(srcs, fmt.Sprintf("%s->%q", target, src))
		}
		sort.Strings(srcs)
		parts = append(parts, fmt.Sprintf("source columns not in tape: %s", strings.Join(srcs, ", ")))
	}
	return "invalid column mapping: " + strings.Join(parts, "; ")
}

// Validate checks that every mapping entry names a mappable schema field
// and a source column present in the tape. Returns nil or a
// *MappingValidationError describing every violation.
func Validate(m ColumnMapping, columns []string, sch *schema.Schema) error {
	have := make(map[string]bool, len(columns))
	for _, col := range columns {
		have[schema.Canonical(col)] = true
	}

	verr := &MappingValidationError{UnknownSources: make(map[string]string)}
	for target, src := range m {
		f, ok := sch.Field(target)
		if !ok || f.Derived {
			verr.UnknownTargets = append(verr.UnknownTargets, target)
			continue
		}
		if !have[schema.Canonical(src)] {
			verr.UnknownSources[target] = src
		}
	}

	if len(verr.UnknownTargets) == 0 && len(verr.UnknownSources) == 0 {
		return nil
	}
	sort.Strings(verr.UnknownTargets)
	return verr
}

// Prune returns the subset of m that passes validation.
func Prune(m ColumnMapping, columns []string, sch *schema.Schema) ColumnMapping {
	have := make(map[string]bool, len(columns))
	for _, col := range columns {
		have[schema.Canonical(col)] = true
	}

	out := make(ColumnMapping, len(m))
	for target, src := range m {
		f, ok := sch.Field(target)
		if !ok || f.Derived {
			continue
		}
		if !have[schema.Canonical(src)] {
			continue
		}
		out[target] = src
	}
	return out
}

// Merge fills targets missing from primary with entries from fallback.
func Merge(primary, fallback ColumnMapping) ColumnMapping {
	out := primary.Clone()
	for target, src := range fallback {
		if _, ok := out[target]; !ok {
			out[target] = src
		}
	}
	return out
}
