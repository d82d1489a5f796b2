package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"epochsync/internal/chain"
	"epochsync/internal/config"
	"epochsync/internal/jobs"
	"epochsync/internal/lock"
	"epochsync/internal/price"
	"epochsync/internal/reconcile"
	"epochsync/internal/retry"
	"epochsync/internal/sheets"
	"epochsync/internal/storage"
	"epochsync/internal/storage/postgres"
	"epochsync/internal/subgraph"
)

// buildEnv wires collaborators from cfg. The returned cleanup closes them in reverse order.
func buildEnv(ctx context.Context, cfg config.Config, logger *zap.Logger) (*jobs.Env, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*jobs.Env, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	var store reconcile.Store
	if cfg.DryRun {
		logger.Warn("dry run, spreadsheets are read and written in memory only")
		store = reconcile.NewMemoryStore()
	} else {
		if cfg.Secrets.GKey == "" {
			return fail(config.Missing("GKEY"))
		}
		s, err := sheets.New(ctx, []byte(cfg.Secrets.GKey))
		if err != nil {
			return fail(err)
		}
		store = s
	}

	caller := chain.NewFallbackCaller(cfg.ProviderURLs, cfg.Timeouts.RPC, logger)
	closers = append(closers, caller.Close)

	env := &jobs.Env{
		Config:      cfg,
		Logger:      logger,
		Chain:       caller,
		Graph:       subgraph.NewClient(cfg.Subgraphs, cfg.Secrets.GraphKey, cfg.Timeouts.Subgraph, logger),
		FusionGraph: subgraph.NewClient(cfg.FusionSubgraphs, cfg.Secrets.GraphKey, cfg.Timeouts.Subgraph, logger),
		Prices:      price.NewClient(cfg.Timeouts.Price),
		Store:       store,
		Reconciler:  reconcile.New(store, logger, retry.Fixed(cfg.ReconcileAttempts, cfg.ReconcileDelay)),
		Locker:      lock.NopLocker{},
	}
	if cfg.Files.SnapshotDir != "" {
		env.Snapshots = storage.NewCSVStorage(cfg.Files.SnapshotDir)
	}
	if cfg.Files.Journal != "" {
		env.Journal = storage.NewJsonlJournal(cfg.Files.Journal)
	}

	var pg *postgres.Store
	if cfg.PGDSN != "" {
		var err error
		pg, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fail(fmt.Errorf("connect postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fail(fmt.Errorf("ensure schema: %w", err))
		}
		env.Mirror = pg
	}

	switch cfg.Lock.Backend {
	case "", "none":
	case "redis":
		if cfg.RedisAddr == "" {
			return fail(config.Missing("redis-addr"))
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		closers = append(closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		env.Locker = lock.NewRedisLocker(client, cfg.Lock.Prefix, cfg.Lock.TTL, logger)
	case "postgres":
		if pg == nil {
			return fail(config.Missing("pg-dsn"))
		}
		env.Locker = lock.NewPostgresLocker(pg, logger)
	default:
		return fail(fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend))
	}

	return env, cleanup, nil
}
