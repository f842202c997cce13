package tape

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeTempCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp csv: %v", err)
	}
	return path
}

func writeTempXLSX(t *testing.T, sheets map[string][][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	first := true
	for name, rows := range sheets {
		if first {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				t.Fatalf("rename sheet: %v", err)
			}
			first = false
		} else {
			if _, err := f.NewSheet(name); err != nil {
				t.Fatalf("new sheet: %v", err)
			}
		}
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := f.SetSheetRow(name, cell, &row); err != nil {
				t.Fatalf("set row: %v", err)
			}
		}
	}

	path := filepath.Join(t.TempDir(), "tape.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save xlsx: %v", err)
	}
	return path
}

func TestRead_CSV(t *testing.T) {
	path := writeTempCSV(t, "tape.csv",
		"Loan Number,Current UPB,State\nA1,100.50,CA\nA2,200,TX\n")

	tbl, err := Read(path, "")
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}

	wantCols := []string{"Loan Number", "Current UPB", "State"}
	if len(tbl.Columns) != len(wantCols) {
		t.Fatalf("Columns = %v, want %v", tbl.Columns, wantCols)
	}
	for i, c := range wantCols {
		if tbl.Columns[i] != c {
			t.Errorf("Columns[%d] = %q, want %q", i, tbl.Columns[i], c)
		}
	}

	if tbl.RowCount() != 2 {
		t.Fatalf("RowCount = %d, want 2", tbl.RowCount())
	}
	if tbl.Rows[0][0] != "A1" || tbl.Rows[1][2] != "TX" {
		t.Errorf("unexpected row data: %v", tbl.Rows)
	}
}

func TestRead_CSVWithBOM(t *testing.T) {
	path := writeTempCSV(t, "bom.csv",
		"\xEF\xBB\xBFLoan Number,State\nA1,CA\n")

	tbl, err := Read(path, "")
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if tbl.Columns[0] != "Loan Number" {
		t.Errorf("Columns[0] = %q, want %q (BOM not stripped)", tbl.Columns[0], "Loan Number")
	}
}

func TestRead_CSVBlankRowsSkipped(t *testing.T) {
	path := writeTempCSV(t, "blank.csv",
		"\nLoan Number,State\nA1,CA\n,,\n\nA2,TX\n")

	tbl, err := Read(path, "")
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if tbl.RowCount() != 2 {
		t.Errorf("RowCount = %d, want 2 (blank rows should be dropped)", tbl.RowCount())
	}
}

func TestRead_CSVRaggedRows(t *testing.T) {
	path := writeTempCSV(t, "ragged.csv",
		"Loan Number,State,Zip\nA1,CA\nA2,TX,78701,extra\n")

	tbl, err := Read(path, "")
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}

	for i, row := range tbl.Rows {
		if len(row) != len(tbl.Columns) {
			t.Errorf("row %d has %d cells, want %d", i, len(row), len(tbl.Columns))
		}
	}
	if tbl.Rows[0][2] != "" {
		t.Errorf("short row not padded: %v", tbl.Rows[0])
	}
	if tbl.Rows[1][2] != "78701" {
		t.Errorf("long row mangled: %v", tbl.Rows[1])
	}
}

func TestRead_CSVHeaderOnly(t *testing.T) {
	path := writeTempCSV(t, "empty.csv", "Loan Number,State\n")

	_, err := Read(path, "")
	var emptyErr *EmptyFileError
	if !errors.As(err, &emptyErr) {
		t.Fatalf("Read error = %v, want *EmptyFileError", err)
	}
}

func TestRead_UnsupportedFormat(t *testing.T) {
	path := writeTempCSV(t, "tape.txt", "Loan Number\nA1\n")

	_, err := Read(path, "")
	var formatErr *UnsupportedFormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("Read error = %v, want *UnsupportedFormatError", err)
	}
	if formatErr.Ext != ".txt" {
		t.Errorf("Ext = %q, want %q", formatErr.Ext, ".txt")
	}
}

func TestRead_XLSX(t *testing.T) {
	path := writeTempXLSX(t, map[string][][]interface{}{
		"Tape": {
			{"Loan Number", "Current UPB"},
			{"A1", 100.5},
			{"A2", 200},
		},
	})

	tbl, err := Read(path, "")
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if tbl.Sheet != "Tape" {
		t.Errorf("Sheet = %q, want %q", tbl.Sheet, "Tape")
	}
	if tbl.RowCount() != 2 {
		t.Fatalf("RowCount = %d, want 2", tbl.RowCount())
	}
	if tbl.Rows[0][0] != "A1" {
		t.Errorf("Rows[0][0] = %q, want %q", tbl.Rows[0][0], "A1")
	}
}

func TestRead_XLSXNamedSheet(t *testing.T) {
	path := writeTempXLSX(t, map[string][][]interface{}{
		"Summary": {
			{"nothing useful"},
		},
		"Loans": {
			{"Loan Number"},
			{"B7"},
		},
	})

	tbl, err := Read(path, "Loans")
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if tbl.Sheet != "Loans" {
		t.Errorf("Sheet = %q, want %q", tbl.Sheet, "Loans")
	}
	if tbl.Rows[0][0] != "B7" {
		t.Errorf("Rows[0][0] = %q, want %q", tbl.Rows[0][0], "B7")
	}
}

func TestRead_XLSXSheetNotFound(t *testing.T) {
	path := writeTempXLSX(t, map[string][][]interface{}{
		"Tape": {
			{"Loan Number"},
			{"A1"},
		},
	})

	_, err := Read(path, "Missing")
	var sheetErr *SheetNotFoundError
	if !errors.As(err, &sheetErr) {
		t.Fatalf("Read error = %v, want *SheetNotFoundError", err)
	}
	if sheetErr.Sheet != "Missing" {
		t.Errorf("Sheet = %q, want %q", sheetErr.Sheet, "Missing")
	}
	if len(sheetErr.Available) == 0 {
		t.Error("Available sheet list is empty")
	}
}

func TestRead_XLSXEmptySheet(t *testing.T) {
	path := writeTempXLSX(t, map[string][][]interface{}{
		"Tape": {
			{"Loan Number"},
		},
	})

	_, err := Read(path, "")
	var emptyErr *EmptyFileError
	if !errors.As(err, &emptyErr) {
		t.Fatalf("Read error = %v, want *EmptyFileError", err)
	}
}
