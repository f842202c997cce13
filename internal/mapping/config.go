package mapping

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crestlane/tapeload/internal/schema"
)

// configFile is the on-disk shape of a saved mapping.
type configFile struct {
	Fields map[string]string `yaml:"fields"`
}

// Save writes the mapping to path as YAML, target field name to source
// column name.
func Save(path string, m ColumnMapping) error {
	data, err := yaml.Marshal(configFile{Fields: m})
	if err != nil {
		return fmt.Errorf("marshal mapping config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write mapping config: %w", err)
	}
	return nil
}

// Load reads a mapping config saved by a previous run.
func Load(path string) (ColumnMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping config: %w", err)
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse mapping config %s: %w", path, err)
	}
	if len(cf.Fields) == 0 {
		return nil, fmt.Errorf("mapping config %s has no fields", path)
	}
	return ColumnMapping(cf.Fields), nil
}

// ApplyConfig applies a loaded mapping to this tape's columns. Entries
// naming an unknown target field or a source column absent from the
// tape are dropped and reported as warnings; the rest apply verbatim.
func ApplyConfig(m ColumnMapping, columns []string, sch *schema.Schema) (ColumnMapping, []string) {
	have := make(map[string]bool, len(columns))
	for _, col := range columns {
		have[schema.Canonical(col)] = true
	}

	out := make(ColumnMapping, len(m))
	var warnings []string
	for _, target := range m.Targets() {
		src := m[target]
		f, ok := sch.Field(target)
		if !ok || f.Derived {
			warnings = append(warnings, fmt.Sprintf("config maps unknown field %q; ignored", target))
			continue
		}
		if !have[schema.Canonical(src)] {
			warnings = append(warnings, fmt.Sprintf("config maps %q to column %q not present in tape; ignored", target, src))
			continue
		}
		out[target] = src
	}
	return out, warnings
}
