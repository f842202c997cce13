// Package tape reads seller loan tapes from disk into a tabular
// in-memory form. CSV and XLSX inputs are supported; both produce the
// same Table shape for the rest of the pipeline.
package tape

import (
	"path/filepath"
	"strings"
)

// Table holds one parsed tape: the ordered source column names and the
// data rows. Rows are padded or truncated to the column count, so every
// row has exactly len(Columns) cells.
type Table struct {
	Path    string
	Sheet   string // XLSX sheet the data came from, empty for CSV
	Columns []string
	Rows    [][]string
}

// RowCount returns the number of data rows.
func (t *Table) RowCount() int {
	return len(t.Rows)
}

// Read loads the tape at path. For XLSX files, sheet selects the
// worksheet; an empty sheet means the first one. CSV files ignore sheet.
//
// Returns *UnsupportedFormatError for unknown extensions,
// *SheetNotFoundError for a missing worksheet, and *EmptyFileError when
// no data rows are found after the header.
func Read(path, sheet string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSV(path)
	case ".xlsx":
		return readXLSX(path, sheet)
	default:
		return nil, &UnsupportedFormatError{Path: path, Ext: filepath.Ext(path)}
	}
}

// normalize trims the header row, pads short rows, truncates long ones,
// and drops rows that are entirely blank. The first non-empty record is
// the header.
func normalize(path, sheet string, records [][]string) (*Table, error) {
	headerIdx := -1
	for i, rec := range records {
		if !isEmptyRow(rec) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, &EmptyFileError{Path: path}
	}

	columns := make([]string, len(records[headerIdx]))
	for i, c := range records[headerIdx] {
		columns[i] = strings.TrimSpace(c)
	}

	var rows [][]string
	for _, rec := range records[headerIdx+1:] {
		if isEmptyRow(rec) {
			continue
		}
		row := make([]string, len(columns))
		copy(row, rec)
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, &EmptyFileError{Path: path}
	}

	return &Table{
		Path:    path,
		Sheet:   sheet,
		Columns: columns,
		Rows:    rows,
	}, nil
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
