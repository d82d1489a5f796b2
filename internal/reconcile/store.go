package reconcile

import (
	"context"
	"fmt"

	"epochsync/internal/model"
)

// HeaderOffset turns a 0-indexed in-memory data row into a 1-indexed store row below the header.
const HeaderOffset = 2

// StoreRow maps memory row i to its store row.
func StoreRow(i int) int {
	return i + HeaderOffset
}

// TableRef names one persisted table: a spreadsheet and a sheet inside it.
type TableRef struct {
	SpreadsheetID string
	Sheet         string
}

func (r TableRef) String() string {
	return fmt.Sprintf("%s/%s", r.SpreadsheetID, r.Sheet)
}

// Store is the persisted tabular grid. Row numbers are 1-indexed and include the header row.
type Store interface {
	Read(ctx context.Context, ref TableRef) (model.Table, error)
	DeleteRows(ctx context.Context, ref TableRef, start, end int) error
	Append(ctx context.Context, ref TableRef, rows [][]any) error
	Overwrite(ctx context.Context, ref TableRef, table model.Table) error
}
