package loader

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/crestlane/tapeload/internal/transform"
)

// DefaultPreviewLimit bounds how many records a dry run keeps for
// display.
const DefaultPreviewLimit = 10

// Row actions reported in dry-run previews.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionSkip   = "skip"
)

// RowPreview is one record of a dry run, formatted for display.
type RowPreview struct {
	Row        int
	LoanNumber string
	Action     string
	Values     map[string]string
}

// DryRun walks records through the same partitioning as Load without
// writing anything. Counters come back as if the writes had happened,
// including loans a real run would have created in an earlier batch.
// The preview holds up to limit records; limit <= 0 selects the
// default.
func (l *Loader) DryRun(ctx context.Context, tradeID uuid.UUID, records []transform.Record, limit int) (*Result, []RowPreview, error) {
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}
	res := &Result{}
	previews := make([]RowPreview, 0, limit)
	carried := make(map[string]bool)
	for start := 0; start < len(records); start += l.batchSize {
		if err := ctx.Err(); err != nil {
			return res, previews, fmt.Errorf("dry run aborted after %d batches: %w", res.Batches, err)
		}
		end := start + l.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		numbers := make([]string, 0, len(batch))
		for _, rec := range batch {
			numbers = append(numbers, rec.LoanNumber)
		}
		existing, err := l.store.ExistingLoanNumbers(ctx, tradeID, numbers)
		if err != nil {
			l.failBatch(res, batch, len(batch), fmt.Errorf("look up existing loans: %w", err))
			res.Batches++
			continue
		}

		seen := make(map[string]bool)
		for _, rec := range batch {
			action := ActionCreate
			switch {
			case seen[rec.LoanNumber]:
				// Duplicate within the batch; a real run would let the
				// last row's values win and count the repeat here.
				action = ActionSkip
				res.SkippedDuplicate++
			case existing[rec.LoanNumber] != uuid.Nil || carried[rec.LoanNumber]:
				if l.policy == PolicyUpdateExisting {
					action = ActionUpdate
					res.Updated++
				} else {
					action = ActionSkip
					res.SkippedExisting++
				}
			default:
				carried[rec.LoanNumber] = true
				res.Created++
			}
			seen[rec.LoanNumber] = true
			if len(previews) < limit {
				previews = append(previews, RowPreview{
					Row:        rec.Row,
					LoanNumber: rec.LoanNumber,
					Action:     action,
					Values:     formatRecordValues(rec),
				})
			}
		}
		res.Batches++
	}
	return res, previews, nil
}

func formatRecordValues(rec transform.Record) map[string]string {
	out := make(map[string]string, len(rec.Values))
	for field, v := range rec.Values {
		if s := FormatValue(v); s != "" {
			out[field] = s
		}
	}
	return out
}

// FormatValue renders a stored loan value for human display. Null
// values of any type come out as the empty string.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case pgtype.Text:
		if !val.Valid {
			return ""
		}
		return val.String
	case pgtype.Numeric:
		if !val.Valid {
			return ""
		}
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return ""
		}
		s := strconv.FormatFloat(f.Float64, 'f', 2, 64)
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
		return s
	case pgtype.Date:
		if !val.Valid {
			return ""
		}
		return val.Time.Format("2006-01-02")
	case pgtype.Bool:
		if !val.Valid {
			return ""
		}
		if val.Bool {
			return "Yes"
		}
		return "No"
	case pgtype.Int4:
		if !val.Valid {
			return ""
		}
		return strconv.FormatInt(int64(val.Int32), 10)
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}
