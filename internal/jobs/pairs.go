package jobs

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"epochsync/internal/epoch"
	"epochsync/internal/fetcher"
	"epochsync/internal/model"
	"epochsync/internal/reconcile"
	"epochsync/internal/subgraph"
	"epochsync/internal/transform"
)

var pairHeader = []string{
	"id", "date", "dailyVolumeToken0", "dailyVolumeToken1", "dailyVolumeUSD", "reserveUSD",
	"__typename", "name", "address", "type", "epoch", "fee %", "fee",
}

func init() {
	register(Job{
		Name:  "pairs",
		Short: "Reconcile daily pair volume and fees over the lookback window",
		Run:   runPairs,
	})
}

type pairDay struct {
	id     model.Identifier
	record subgraph.PairDayData
	date   time.Time
}

func runPairs(ctx context.Context, env *Env) (Outcome, error) {
	logger := env.logger().With(zap.String("job", "pairs"))

	epochs, err := env.epochTable()
	if err != nil {
		return Outcome{}, err
	}
	ids, err := env.identifiers()
	if err != nil {
		return Outcome{}, err
	}
	start := epoch.DaysAgo(env.now(), env.Config.Delta.PairData)

	var pools []model.Identifier
	for _, id := range ids {
		if !strings.EqualFold(id.Type, "CL") {
			pools = append(pools, id)
		}
	}

	q := env.Config.Queries.PairData
	results, failed := fetcher.ForEach(ctx, logger, pools, env.concurrency(),
		func(id model.Identifier) string { return id.Name },
		func(ctx context.Context, id model.Identifier) ([]subgraph.PairDayData, error) {
			return env.Graph.PairDayDatas(ctx, q, id.Address, start.Unix())
		})

	var days []pairDay
	for _, r := range results {
		for _, rec := range r.Value {
			days = append(days, pairDay{id: r.Item, record: rec, date: unixDate(rec.Date.Int64())})
		}
	}
	logger.Info("pair days fetched", zap.Int("pools", len(pools)), zap.Int("failed", failed), zap.Int("days", len(days)))

	table := pairTable(days, start, epochs, transform.FeeRatesFromMap(env.Config.FeeRates), logger)
	if err := fetcher.RequireRows("pairs", table.Len()); err != nil {
		return Outcome{}, err
	}

	res, err := env.replace(ctx, "pairs", "gsheets.pair_data_sheet_key", env.Config.Sheets.Pairs,
		reconcile.DateAfter("date", start), table)
	if err != nil {
		return Outcome{Deleted: res.Deleted}, err
	}
	out := Outcome{Rows: res.Appended, Deleted: res.Deleted}
	if cur, err := epochs.ForTime(env.now()); err == nil {
		out.Epoch = cur.Epoch
	}

	if env.Config.Sheets.PairsCombined == "" {
		return out, nil
	}
	persisted, err := env.read(ctx, "gsheets.pair_data_sheet_key", env.Config.Sheets.Pairs)
	if err != nil {
		return out, err
	}
	if _, err := env.rewrite(ctx, "pairs_combined", "gsheets.pair_data_combined_sheet_key",
		env.Config.Sheets.PairsCombined, withAlgebraNames(persisted, ids)); err != nil {
		return out, err
	}
	return out, nil
}

// pairTable keeps days strictly after start so that the delete range and the
// appended rows cover the same dates.
func pairTable(days []pairDay, start time.Time, epochs *epoch.Table, rates transform.FeeRates, logger *zap.Logger) model.Table {
	sort.SliceStable(days, func(i, j int) bool { return days[i].date.Before(days[j].date) })

	unmapped := map[string]int{}
	table := model.NewTable(pairHeader...)
	for _, d := range days {
		if !d.date.After(start) {
			continue
		}
		var epochCell any
		if row, err := epochs.ForTime(d.date); err == nil {
			epochCell = row.Epoch
		}

		volume := d.record.DailyVolumeUSD.Decimal
		var pctCell any
		fee, ok := rates.Fee(d.id.Type, volume)
		if ok {
			pct, _ := rates.Rate(d.id.Type)
			pctCell = pct.InexactFloat64()
		} else {
			unmapped[d.id.Type]++
		}

		table.Append(
			d.record.ID,
			d.date.Format(epoch.DateLayout),
			d.record.DailyVolumeToken0.InexactFloat64(),
			d.record.DailyVolumeToken1.InexactFloat64(),
			volume.InexactFloat64(),
			d.record.ReserveUSD.InexactFloat64(),
			"V1",
			d.id.Name,
			d.id.Address,
			d.id.Type,
			epochCell,
			pctCell,
			fee.InexactFloat64(),
		)
	}
	for poolType, n := range unmapped {
		logger.Warn("fee rate missing", zap.String("type", poolType), zap.Int("rows", n), zap.Bool("fee_rate_missing", true))
	}
	return table
}

// withAlgebraNames appends an algebra_name column: the pool name for v1 pairs,
// otherwise the name registered for the address or its concentrated-liquidity pool.
func withAlgebraNames(pairs model.Table, ids []model.Identifier) model.Table {
	byAddress := map[string]string{}
	byPool := map[string]string{}
	for _, id := range ids {
		if id.AlgebraName == "" {
			continue
		}
		if _, ok := byAddress[strings.ToLower(id.Address)]; !ok {
			byAddress[strings.ToLower(id.Address)] = id.AlgebraName
		}
		if id.AlgebraPool != "" {
			if _, ok := byPool[strings.ToLower(id.AlgebraPool)]; !ok {
				byPool[strings.ToLower(id.AlgebraPool)] = id.AlgebraName
			}
		}
	}

	nameCol := pairs.Column("name")
	addrCol := pairs.Column("address")
	typeCol := pairs.Column("type")

	out := model.NewTable(append(append([]string{}, pairs.Header...), "algebra_name")...)
	for i, row := range pairs.Rows {
		values := make([]any, len(pairs.Header), len(pairs.Header)+1)
		copy(values, row)

		addr := strings.ToLower(model.CellString(pairs.Cell(i, addrCol)))
		name := byAddress[addr]
		if n, ok := byPool[addr]; ok {
			name = n
		}
		switch strings.ToLower(model.CellString(pairs.Cell(i, typeCol))) {
		case "vamm", "samm":
			name = model.CellString(pairs.Cell(i, nameCol))
		}
		out.Append(append(values, name)...)
	}
	return out
}

func unixDate(ts int64) time.Time {
	return epoch.Midnight(time.Unix(ts, 0))
}
