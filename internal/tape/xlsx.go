package tape

import (
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"
)

func readXLSX(path, sheet string) (*Table, error) {
	if info, err := os.Stat(path); err == nil && info.Size() > MaxFileSize {
		return nil, fmt.Errorf("tape exceeds %dMB limit: %s", MaxFileSize/(1024*1024), path)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	available := f.GetSheetList()
	if sheet == "" {
		sheet = f.GetSheetName(0)
	} else if !containsSheet(available, sheet) {
		return nil, &SheetNotFoundError{Path: path, Sheet: sheet, Available: available}
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q from %s: %w", sheet, path, err)
	}

	return normalize(path, sheet, rows)
}

func containsSheet(sheets []string, name string) bool {
	for _, s := range sheets {
		if s == name {
			return true
		}
	}
	return false
}
