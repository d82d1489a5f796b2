package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrEmptyResult marks a fetch that produced no rows where rows were expected.
var ErrEmptyResult = errors.New("empty result")

// ErrNoEndpoints is returned by FirstSuccess when the endpoint list is empty.
var ErrNoEndpoints = errors.New("no endpoints configured")

// FirstSuccess calls fn against each endpoint in order and returns the first success.
// Every attempt runs under its own timeout; a failed or slow endpoint is logged and the next one is tried.
func FirstSuccess[T any](ctx context.Context, logger *zap.Logger, endpoints []string, timeout time.Duration, fn func(ctx context.Context, endpoint string) (T, error)) (T, error) {
	var zero T
	if len(endpoints) == 0 {
		return zero, ErrNoEndpoints
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var errs []error
	for i, endpoint := range endpoints {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		result, err := attempt(ctx, endpoint, timeout, fn)
		if err == nil {
			return result, nil
		}
		logger.Warn("endpoint failed",
			zap.Int("candidate", i+1),
			zap.Int("candidates", len(endpoints)),
			zap.Error(err),
		)
		errs = append(errs, fmt.Errorf("endpoint %d: %w", i+1, err))
	}
	return zero, fmt.Errorf("all %d endpoints failed: %w", len(endpoints), errors.Join(errs...))
}

func attempt[T any](ctx context.Context, endpoint string, timeout time.Duration, fn func(ctx context.Context, endpoint string) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx, endpoint)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(attemptCtx, endpoint)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-attemptCtx.Done():
		var zero T
		return zero, attemptCtx.Err()
	}
}

// Paginate requests pages by offset until a page comes back empty.
// maxPages bounds the loop; zero means unbounded.
func Paginate[T any](ctx context.Context, pageSize, maxPages int, page func(ctx context.Context, skip int) ([]T, error)) ([]T, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive")
	}
	var out []T
	for n := 0; maxPages <= 0 || n < maxPages; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		skip := n * pageSize
		rows, err := page(ctx, skip)
		if err != nil {
			return nil, fmt.Errorf("page skip=%d: %w", skip, err)
		}
		if len(rows) == 0 {
			return out, nil
		}
		out = append(out, rows...)
	}
	return out, nil
}

// Result pairs an item with what fn produced for it.
type Result[T, R any] struct {
	Item  T
	Value R
}

// ForEach runs fn over items with at most limit in flight.
// Failing or panicking items are logged and skipped; the successful results keep the input order.
func ForEach[T, R any](ctx context.Context, logger *zap.Logger, items []T, limit int, label func(T) string, fn func(ctx context.Context, item T) (R, error)) ([]Result[T, R], int) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = 1
	}

	slots := make([]*Result[T, R], len(items))
	var mu sync.Mutex
	failed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			value, err := call(gctx, item, fn)
			if err != nil {
				name := ""
				if label != nil {
					name = label(item)
				}
				logger.Warn("item skipped", zap.String("item", name), zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			slots[i] = &Result[T, R]{Item: item, Value: value}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Result[T, R], 0, len(items))
	for _, slot := range slots {
		if slot != nil {
			out = append(out, *slot)
		}
	}
	return out, failed
}

// call runs fn, reporting a panic as an error.
func call[T, R any](ctx context.Context, item T, fn func(ctx context.Context, item T) (R, error)) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, item)
}

// RequireRows returns ErrEmptyResult when n is zero.
func RequireRows(what string, n int) error {
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrEmptyResult)
	}
	return nil
}
