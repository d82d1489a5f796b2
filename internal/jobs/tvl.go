package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"epochsync/internal/epoch"
	"epochsync/internal/fetcher"
	"epochsync/internal/model"
	"epochsync/internal/price"
	"epochsync/internal/reconcile"
	"epochsync/internal/subgraph"
)

var tvlHeader = []string{
	"id", "timestamp", "amountUSD", "Tx Type", "Pool Name", "Pool Address", "Pool Type",
	"date", "TVL_inflow", "TVL_outflow", "TVL_change",
}

func init() {
	register(Job{
		Name:  "tvl",
		Short: "Reconcile liquidity inflows and outflows per pool",
		Run:   runTVL,
	})
}

// tvlPool is one pool to page mints and burns for.
type tvlPool struct {
	name       string
	address    string
	poolType   string
	source     GraphSource
	container  string
	addressVar string
	mint       subgraph.Query
	burn       subgraph.Query
}

type tvlEvent struct {
	pool   tvlPool
	kind   string
	record subgraph.LiquidityEvent
}

func runTVL(ctx context.Context, env *Env) (Outcome, error) {
	logger := env.logger().With(zap.String("job", "tvl"))
	start := epoch.DaysAgo(env.now(), env.Config.Delta.TVLData)

	pools, err := env.Prices.Pools(ctx, env.Config.FusionAPI)
	if err != nil {
		return Outcome{}, fmt.Errorf("pool list: %w", err)
	}
	ids, err := env.identifiers()
	if err != nil {
		return Outcome{}, err
	}
	targets := tvlPools(env, pools, ids)

	results, failed := fetcher.ForEach(ctx, logger, targets, env.concurrency(),
		func(p tvlPool) string { return p.name },
		func(ctx context.Context, p tvlPool) ([]tvlEvent, error) {
			var out []tvlEvent
			for _, kind := range []struct {
				label  string
				events string
				q      subgraph.Query
			}{
				{"Mint", "mints", p.mint},
				{"Burn", "burns", p.burn},
			} {
				records, err := p.source.LiquidityEvents(ctx, kind.q, p.container, kind.events, p.addressVar, p.address, start.Unix())
				if err != nil {
					return nil, fmt.Errorf("%s: %w", kind.events, err)
				}
				for _, r := range records {
					out = append(out, tvlEvent{pool: p, kind: kind.label, record: r})
				}
			}
			return out, nil
		})

	var events []tvlEvent
	for _, r := range results {
		events = append(events, r.Value...)
	}
	logger.Info("liquidity events fetched", zap.Int("pools", len(targets)), zap.Int("failed", failed), zap.Int("events", len(events)))

	table := tvlTable(events)
	if err := fetcher.RequireRows("tvl", table.Len()); err != nil {
		return Outcome{}, err
	}
	res, err := env.replace(ctx, "tvl", "gsheets.tvl_data_sheet_key", env.Config.Sheets.TVL,
		reconcile.TimestampAtLeast("timestamp", start.Unix()), table)
	if err != nil {
		return Outcome{Deleted: res.Deleted}, err
	}
	return Outcome{Rows: res.Appended, Deleted: res.Deleted}, nil
}

// tvlPools splits the pool list: v1 pairs are paged on the main subgraph by pair address,
// concentrated pools on the fusion subgraph by their algebra pool, once per pool.
func tvlPools(env *Env, pools []price.Pool, ids []model.Identifier) []tvlPool {
	algebra := map[string]string{}
	for _, id := range ids {
		if id.AlgebraPool == "" {
			continue
		}
		addr := strings.ToLower(id.Address)
		if _, ok := algebra[addr]; !ok {
			algebra[addr] = strings.ToLower(id.AlgebraPool)
		}
	}
	skip := map[string]struct{}{}
	for _, addr := range env.Config.SkipPools {
		skip[strings.ToLower(addr)] = struct{}{}
	}

	q := env.Config.Queries
	var out []tvlPool
	seen := map[string]struct{}{}
	for _, p := range pools {
		if p.IsV1() {
			out = append(out, tvlPool{
				name: p.Symbol, address: p.Address, poolType: p.Type,
				source: env.Graph, container: "pairs", addressVar: "pairAddress",
				mint: q.V1Mint, burn: q.V1Burn,
			})
			continue
		}
		pool, ok := algebra[strings.ToLower(p.Address)]
		if !ok {
			continue
		}
		if _, dup := seen[pool]; dup {
			continue
		}
		seen[pool] = struct{}{}
		if _, ok := skip[pool]; ok {
			continue
		}
		out = append(out, tvlPool{
			name: p.Symbol, address: pool, poolType: "CL",
			source: env.FusionGraph, container: "pools", addressVar: "poolAddress",
			mint: q.CLMint, burn: q.CLBurn,
		})
	}
	return out
}

func tvlTable(events []tvlEvent) model.Table {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].record.Timestamp.Int64() < events[j].record.Timestamp.Int64()
	})
	table := model.NewTable(tvlHeader...)
	for _, e := range events {
		ts := e.record.Timestamp.Int64()
		amount := e.record.AmountUSD.Decimal
		inflow, outflow, change := decimal.Zero, decimal.Zero, amount
		if e.kind == "Mint" {
			inflow = amount
		} else {
			outflow = amount
			change = amount.Neg()
		}
		table.Append(
			e.record.ID,
			ts,
			amount.InexactFloat64(),
			e.kind,
			e.pool.name,
			e.pool.address,
			e.pool.poolType,
			time.Unix(ts, 0).UTC().Format(epoch.DateLayout),
			inflow.InexactFloat64(),
			outflow.InexactFloat64(),
			change.InexactFloat64(),
		)
	}
	return table
}
