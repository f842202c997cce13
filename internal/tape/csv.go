package tape

import (
	"encoding/csv"
	"fmt"
	"os"
)

// MaxFileSize is the maximum allowed tape file size (100MB).
var MaxFileSize int64 = 100 * 1024 * 1024

func readCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tape: %w", err)
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() > MaxFileSize {
		return nil, fmt.Errorf("tape exceeds %dMB limit: %s", MaxFileSize/(1024*1024), path)
	}

	r := csv.NewReader(WrapReader(f))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV %s: %w", path, err)
	}

	return normalize(path, "", records)
}
