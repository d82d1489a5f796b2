package reconcile

import (
	"fmt"
	"time"

	"epochsync/internal/model"
)

// Matcher selects the 0-indexed rows of t that a replace owns.
type Matcher func(t model.Table) ([]int, error)

func matchColumn(column string, keep func(v any) bool) Matcher {
	return func(t model.Table) ([]int, error) {
		if t.Len() == 0 {
			return nil, nil
		}
		col := t.Column(column)
		if col < 0 {
			return nil, fmt.Errorf("column %q not found", column)
		}
		var out []int
		for i := range t.Rows {
			if keep(t.Cell(i, col)) {
				out = append(out, i)
			}
		}
		return out, nil
	}
}

// EpochEquals matches rows whose column equals epoch.
func EpochEquals(column string, epoch int) Matcher {
	return matchColumn(column, func(v any) bool {
		n, ok := model.CellInt(v)
		return ok && n == int64(epoch)
	})
}

// EpochAtLeast matches rows whose column is >= epoch.
func EpochAtLeast(column string, epoch int) Matcher {
	return matchColumn(column, func(v any) bool {
		n, ok := model.CellInt(v)
		return ok && n >= int64(epoch)
	})
}

// DateAfter matches rows dated strictly after start.
func DateAfter(column string, start time.Time) Matcher {
	return matchColumn(column, func(v any) bool {
		tm, ok := model.CellTime(v)
		return ok && tm.After(start)
	})
}

// TimestampAtLeast matches rows whose unix timestamp is >= ts.
func TimestampAtLeast(column string, ts int64) Matcher {
	return matchColumn(column, func(v any) bool {
		n, ok := model.CellInt(v)
		return ok && n >= ts
	})
}

// Span is an inclusive range of store rows.
type Span struct {
	Start int
	End   int
}

// Spans groups sorted memory rows into contiguous store-row spans, last span first.
func Spans(rows []int) []Span {
	var spans []Span
	for _, i := range rows {
		row := StoreRow(i)
		if n := len(spans); n > 0 && spans[n-1].End+1 == row {
			spans[n-1].End = row
			continue
		}
		spans = append(spans, Span{Start: row, End: row})
	}
	for l, r := 0, len(spans)-1; l < r; l, r = l+1, r-1 {
		spans[l], spans[r] = spans[r], spans[l]
	}
	return spans
}
