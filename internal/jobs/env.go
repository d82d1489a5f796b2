package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"epochsync/internal/chain"
	"epochsync/internal/config"
	"epochsync/internal/epoch"
	"epochsync/internal/lock"
	"epochsync/internal/model"
	"epochsync/internal/price"
	"epochsync/internal/reconcile"
	"epochsync/internal/storage"
	"epochsync/internal/subgraph"
	"epochsync/internal/transform"
)

// GraphSource is the subset of the subgraph client jobs depend on.
type GraphSource interface {
	PairDayDatas(ctx context.Context, q subgraph.Query, pair string, start int64) ([]subgraph.PairDayData, error)
	DayDatas(ctx context.Context, q subgraph.Query, start int64) ([]subgraph.DayData, error)
	FusionDayDatas(ctx context.Context, q subgraph.Query, start int64) ([]subgraph.FusionDayData, error)
	LiquidityEvents(ctx context.Context, q subgraph.Query, container, events, addressVar, pool string, start int64) ([]subgraph.LiquidityEvent, error)
}

// PriceSource serves token quotes and the pool list.
type PriceSource interface {
	Book(ctx context.Context, url string) (*transform.PriceBook, error)
	Pools(ctx context.Context, url string) ([]price.Pool, error)
}

// Mirror keeps a queryable copy of metric rows and run state.
type Mirror interface {
	UpsertMetricRows(ctx context.Context, job string, rows []model.MetricRow) error
	LoadRun(ctx context.Context, job string) (model.RunRecord, bool, error)
	SaveRun(ctx context.Context, run model.RunRecord) error
}

// Env carries everything a job touches. Optional collaborators may be nil.
type Env struct {
	Config config.Config
	Logger *zap.Logger
	Now    func() time.Time

	Chain       chain.Caller
	Graph       GraphSource
	FusionGraph GraphSource
	Prices      PriceSource

	Store      reconcile.Store
	Reconciler *reconcile.Reconciler

	Snapshots storage.Snapshotter
	Journal   storage.Journal
	Mirror    Mirror
	Locker    lock.Locker

	// Epochs and Identifiers are read from files.epoch_data and files.id_data when nil.
	Epochs      *epoch.Table
	Identifiers []model.Identifier
}

func (e *Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Env) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

func (e *Env) concurrency() int {
	if e.Config.Concurrency <= 0 {
		return 1
	}
	return e.Config.Concurrency
}

func (e *Env) epochTable() (*epoch.Table, error) {
	if e.Epochs != nil {
		return e.Epochs, nil
	}
	if e.Config.Files.EpochData == "" {
		return nil, config.Missing("files.epoch_data")
	}
	raw, err := storage.ReadCSV(e.Config.Files.EpochData)
	if err != nil {
		return nil, fmt.Errorf("epoch table: %w", err)
	}
	table, err := epoch.FromModel(raw)
	if err != nil {
		return nil, err
	}
	e.Epochs = table
	return table, nil
}

func (e *Env) resolver() (epoch.Resolver, error) {
	table, err := e.epochTable()
	if err != nil {
		return epoch.Resolver{}, err
	}
	return epoch.Resolver{Table: table, Anchor: e.Config.Anchor}, nil
}

func (e *Env) identifiers() ([]model.Identifier, error) {
	if e.Identifiers != nil {
		return e.Identifiers, nil
	}
	if e.Config.Files.IDData == "" {
		return nil, config.Missing("files.id_data")
	}
	raw, err := storage.ReadCSV(e.Config.Files.IDData)
	if err != nil {
		return nil, fmt.Errorf("identifier table: %w", err)
	}
	ids, err := model.IdentifiersFromTable(raw)
	if err != nil {
		return nil, err
	}
	e.Identifiers = ids
	return ids, nil
}

func (e *Env) ref(key, sheet string) (reconcile.TableRef, error) {
	if sheet == "" {
		return reconcile.TableRef{}, config.Missing(key)
	}
	return reconcile.TableRef{SpreadsheetID: sheet, Sheet: e.Config.Worksheet()}, nil
}

func (e *Env) read(ctx context.Context, key, sheet string) (model.Table, error) {
	ref, err := e.ref(key, sheet)
	if err != nil {
		return model.Table{}, err
	}
	table, err := e.Store.Read(ctx, ref)
	if err != nil {
		return model.Table{}, fmt.Errorf("read %s: %w", ref, err)
	}
	return table, nil
}

// replace snapshots table locally, then reconciles it into the sheet behind key.
func (e *Env) replace(ctx context.Context, job, key, sheet string, match reconcile.Matcher, table model.Table) (reconcile.Result, error) {
	ref, err := e.ref(key, sheet)
	if err != nil {
		return reconcile.Result{}, err
	}
	e.snapshot(job, table)
	return e.Reconciler.Replace(ctx, ref, match, table)
}

func (e *Env) rewrite(ctx context.Context, job, key, sheet string, table model.Table) (reconcile.Result, error) {
	ref, err := e.ref(key, sheet)
	if err != nil {
		return reconcile.Result{}, err
	}
	e.snapshot(job, table)
	return e.Reconciler.Rewrite(ctx, ref, table)
}

func (e *Env) snapshot(name string, table model.Table) {
	if e.Snapshots == nil {
		return
	}
	if err := e.Snapshots.PutTable(name, table); err != nil {
		e.logger().Warn("snapshot failed", zap.String("table", name), zap.Error(err))
	}
}

func (e *Env) mirror(ctx context.Context, job string, rows []model.MetricRow) {
	if e.Mirror == nil {
		return
	}
	if err := e.Mirror.UpsertMetricRows(ctx, job, rows); err != nil {
		e.logger().Warn("mirror failed", zap.String("job", job), zap.Error(err))
	}
}
