package epoch

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"epochsync/internal/model"
)

// DateLayout is the canonical date format used in persisted tables.
const DateLayout = "2006-01-02"

// ErrEpochNotFound means the reference table has no row for the requested boundary.
var ErrEpochNotFound = errors.New("epoch not found in reference table")

// Row is one epoch reference row.
type Row struct {
	Epoch     int
	Timestamp int64
	Date      string
}

// Table is the epoch reference table, sorted by timestamp.
type Table struct {
	rows []Row
}

// NewTable sorts rows by boundary timestamp.
func NewTable(rows []Row) *Table {
	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })
	return &Table{rows: sorted}
}

// FromModel reads epoch, timestamp and date columns. Either timestamp or date may be absent,
// but not both; the missing one is derived from the other.
func FromModel(t model.Table) (*Table, error) {
	epochCol := t.Column("epoch")
	if epochCol < 0 {
		return nil, fmt.Errorf("epoch table: missing epoch column")
	}
	tsCol := t.Column("timestamp")
	dateCol := t.Column("date")
	if tsCol < 0 && dateCol < 0 {
		return nil, fmt.Errorf("epoch table: need timestamp or date column")
	}

	rows := make([]Row, 0, t.Len())
	for i := range t.Rows {
		n, ok := model.CellInt(t.Cell(i, epochCol))
		if !ok {
			continue
		}
		row := Row{Epoch: int(n)}
		if tsCol >= 0 {
			if ts, ok := model.CellInt(t.Cell(i, tsCol)); ok {
				row.Timestamp = ts
			}
		}
		if dateCol >= 0 {
			row.Date = model.CellString(t.Cell(i, dateCol))
		}
		if err := row.fill(); err != nil {
			return nil, fmt.Errorf("epoch table row %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	return NewTable(rows), nil
}

func (r *Row) fill() error {
	if r.Timestamp == 0 && r.Date != "" {
		tm, err := ParseDate(r.Date)
		if err != nil {
			return err
		}
		r.Timestamp = tm.Unix()
	}
	if r.Timestamp != 0 {
		r.Date = time.Unix(r.Timestamp, 0).UTC().Format(DateLayout)
	}
	return nil
}

// ParseDate accepts YYYY-MM-DD and the legacy DD-MM-YYYY.
func ParseDate(input string) (time.Time, error) {
	input = strings.TrimSpace(input)
	for _, layout := range []string{DateLayout, "02-01-2006"} {
		if tm, err := time.Parse(layout, input); err == nil {
			return tm.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date: %q", input)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// ByTimestamp finds the row whose boundary equals ts.
func (t *Table) ByTimestamp(ts int64) (Row, error) {
	i := sort.Search(len(t.rows), func(i int) bool { return t.rows[i].Timestamp >= ts })
	if i < len(t.rows) && t.rows[i].Timestamp == ts {
		return t.rows[i], nil
	}
	return Row{}, fmt.Errorf("timestamp %d: %w", ts, ErrEpochNotFound)
}

// ByDate finds the row whose boundary date equals date.
func (t *Table) ByDate(date string) (Row, error) {
	tm, err := ParseDate(date)
	if err != nil {
		return Row{}, err
	}
	row, err := t.ByTimestamp(tm.Unix())
	if err != nil {
		return Row{}, fmt.Errorf("date %s: %w", date, ErrEpochNotFound)
	}
	return row, nil
}

// ForTime returns the epoch whose boundary is the latest one not after tm.
func (t *Table) ForTime(tm time.Time) (Row, error) {
	ts := tm.Unix()
	i := sort.Search(len(t.rows), func(i int) bool { return t.rows[i].Timestamp > ts })
	if i == 0 {
		return Row{}, fmt.Errorf("time %s precedes first epoch: %w", tm.UTC().Format(time.RFC3339), ErrEpochNotFound)
	}
	return t.rows[i-1], nil
}
