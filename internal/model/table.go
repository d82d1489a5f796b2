package model

import "strings"

// Table is an in-memory copy of a tabular grid: a header row followed by data rows.
// Rows are 0-indexed here; the store that persists them decides its own addressing.
type Table struct {
	Header []string `json:"header"`
	Rows   [][]any  `json:"rows"`
}

// NewTable builds a table with the given header.
func NewTable(header ...string) Table {
	return Table{Header: header}
}

// Len returns the number of data rows.
func (t Table) Len() int {
	return len(t.Rows)
}

// Column returns the index of the named column, or -1.
func (t Table) Column(name string) int {
	for i, h := range t.Header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

// Cell returns the value at row/column, or nil when the row is short.
func (t Table) Cell(row, col int) any {
	if row < 0 || row >= len(t.Rows) || col < 0 {
		return nil
	}
	values := t.Rows[row]
	if col >= len(values) {
		return nil
	}
	return values[col]
}

// Append adds a row.
func (t *Table) Append(values ...any) {
	t.Rows = append(t.Rows, values)
}

// Grid returns header plus rows, ready to be written to a store.
func (t Table) Grid() [][]any {
	out := make([][]any, 0, len(t.Rows)+1)
	header := make([]any, 0, len(t.Header))
	for _, h := range t.Header {
		header = append(header, h)
	}
	out = append(out, header)
	return append(out, t.Rows...)
}

// FromGrid splits a raw grid into header and rows. An empty grid yields an empty table.
func FromGrid(grid [][]any) Table {
	if len(grid) == 0 {
		return Table{}
	}
	header := make([]string, 0, len(grid[0]))
	for _, h := range grid[0] {
		header = append(header, CellString(h))
	}
	rows := make([][]any, 0, len(grid)-1)
	for _, r := range grid[1:] {
		rows = append(rows, r)
	}
	return Table{Header: header, Rows: rows}
}
