package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"epochsync/internal/fetcher"
	"epochsync/internal/model"
	"epochsync/internal/retry"
)

// DefaultPolicy retries appends and rewrites three times, 30 seconds apart.
var DefaultPolicy = retry.Fixed(3, 30*time.Second)

// Result summarizes one reconcile.
type Result struct {
	Deleted  int
	Appended int
}

// Reconciler replaces epoch- or date-scoped row ranges in a Store.
type Reconciler struct {
	store  Store
	logger *zap.Logger
	policy retry.Policy
}

// New returns a reconciler over store.
func New(store Store, logger *zap.Logger, policy retry.Policy) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, logger: logger, policy: policy}
}

// Replace deletes the rows selected by match and appends table's rows.
// Deletes are not retried; the append is. A failed append leaves the range deleted.
func (r *Reconciler) Replace(ctx context.Context, ref TableRef, match Matcher, table model.Table) (Result, error) {
	if table.Len() == 0 {
		return Result{}, fmt.Errorf("replace %s: %w", ref, fetcher.ErrEmptyResult)
	}

	current, err := r.store.Read(ctx, ref)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", ref, err)
	}
	if len(current.Header) == 0 {
		r.logger.Info("table empty, writing header", zap.String("table", ref.String()))
		if err := r.overwrite(ctx, ref, table); err != nil {
			return Result{}, err
		}
		return Result{Appended: table.Len()}, nil
	}

	rows, err := match(current)
	if err != nil {
		return Result{}, fmt.Errorf("match %s: %w", ref, err)
	}
	sort.Ints(rows)

	for _, span := range Spans(rows) {
		if err := r.store.DeleteRows(ctx, ref, span.Start, span.End); err != nil {
			return Result{}, fmt.Errorf("delete rows %d-%d of %s: %w", span.Start, span.End, ref, err)
		}
	}
	r.logger.Info("rows deleted", zap.String("table", ref.String()), zap.Int("rows", len(rows)))

	values := alignRows(current.Header, table)
	err = retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return r.store.Append(ctx, ref, values)
	}, r.logFailure("append failed", ref))
	if err != nil {
		return Result{Deleted: len(rows)}, fmt.Errorf("append %s: %w", ref, err)
	}
	r.logger.Info("rows appended", zap.String("table", ref.String()), zap.Int("rows", len(values)))
	return Result{Deleted: len(rows), Appended: len(values)}, nil
}

// Rewrite clears ref and writes table with its header.
func (r *Reconciler) Rewrite(ctx context.Context, ref TableRef, table model.Table) (Result, error) {
	if table.Len() == 0 {
		return Result{}, fmt.Errorf("rewrite %s: %w", ref, fetcher.ErrEmptyResult)
	}
	if err := r.overwrite(ctx, ref, table); err != nil {
		return Result{}, err
	}
	r.logger.Info("table rewritten", zap.String("table", ref.String()), zap.Int("rows", table.Len()))
	return Result{Appended: table.Len()}, nil
}

func (r *Reconciler) overwrite(ctx context.Context, ref TableRef, table model.Table) error {
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return r.store.Overwrite(ctx, ref, table)
	}, r.logFailure("overwrite failed", ref))
	if err != nil {
		return fmt.Errorf("overwrite %s: %w", ref, err)
	}
	return nil
}

func (r *Reconciler) logFailure(msg string, ref TableRef) func(int, error) {
	return func(attempt int, err error) {
		r.logger.Warn(msg,
			zap.String("table", ref.String()),
			zap.Int("attempt", attempt),
			zap.Int("attempts", r.policy.Attempts),
			zap.Error(err),
		)
	}
}

// alignRows reorders table's columns to the persisted header. Columns the store lacks are dropped.
func alignRows(header []string, table model.Table) [][]any {
	index := make([]int, len(header))
	identity := len(header) == len(table.Header)
	for i, h := range header {
		index[i] = table.Column(h)
		if index[i] != i {
			identity = false
		}
	}
	if identity {
		return table.Rows
	}
	out := make([][]any, 0, table.Len())
	for row := range table.Rows {
		values := make([]any, len(header))
		for i, col := range index {
			if col >= 0 {
				values[i] = table.Cell(row, col)
			} else {
				values[i] = ""
			}
		}
		out = append(out, values)
	}
	return out
}
