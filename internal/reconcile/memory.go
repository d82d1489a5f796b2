package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"epochsync/internal/model"
)

// ErrInjected is returned by MemoryStore for injected failures.
var ErrInjected = errors.New("injected store failure")

// MemoryStore keeps tables in process. It backs tests and dry runs.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]model.Table

	// FailAppends makes the next n Append calls fail.
	FailAppends int
	// FailDeletes makes the next n DeleteRows calls fail.
	FailDeletes int
	// Ops records every mutating call in order.
	Ops []string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]model.Table)}
}

// Seed replaces the content of ref.
func (s *MemoryStore) Seed(ref TableRef, table model.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[ref.String()] = cloneTable(table)
}

// Table returns a copy of ref.
func (s *MemoryStore) Table(ref TableRef) model.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTable(s.tables[ref.String()])
}

func (s *MemoryStore) Read(_ context.Context, ref TableRef) (model.Table, error) {
	return s.Table(ref), nil
}

func (s *MemoryStore) DeleteRows(_ context.Context, ref TableRef, start, end int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Ops = append(s.Ops, fmt.Sprintf("delete %d-%d", start, end))
	if s.FailDeletes > 0 {
		s.FailDeletes--
		return ErrInjected
	}
	t := s.tables[ref.String()]
	from, to := start-HeaderOffset, end-HeaderOffset
	if from < 0 || to >= t.Len() || from > to {
		return fmt.Errorf("rows %d-%d out of range for %d data rows", start, end, t.Len())
	}
	rows := make([][]any, 0, t.Len()-(to-from+1))
	rows = append(rows, t.Rows[:from]...)
	rows = append(rows, t.Rows[to+1:]...)
	t.Rows = rows
	s.tables[ref.String()] = t
	return nil
}

func (s *MemoryStore) Append(_ context.Context, ref TableRef, rows [][]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Ops = append(s.Ops, fmt.Sprintf("append %d", len(rows)))
	if s.FailAppends > 0 {
		s.FailAppends--
		return ErrInjected
	}
	t := s.tables[ref.String()]
	for _, r := range rows {
		t.Rows = append(t.Rows, append([]any(nil), r...))
	}
	s.tables[ref.String()] = t
	return nil
}

func (s *MemoryStore) Overwrite(_ context.Context, ref TableRef, table model.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Ops = append(s.Ops, fmt.Sprintf("overwrite %d", table.Len()))
	s.tables[ref.String()] = cloneTable(table)
	return nil
}

func cloneTable(t model.Table) model.Table {
	out := model.Table{Header: append([]string(nil), t.Header...)}
	for _, r := range t.Rows {
		out.Rows = append(out.Rows, append([]any(nil), r...))
	}
	return out
}
