package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"epochsync/internal/epoch"
	"epochsync/internal/fetcher"
	"epochsync/internal/model"
	"epochsync/internal/reconcile"
	"epochsync/internal/subgraph"
)

var (
	dayHeader = []string{
		"id", "date", "totalVolumeUSD", "dailyVolumeUSD", "dailyVolumeETH",
		"totalLiquidityUSD", "totalLiquidityETH", "__typename",
	}
	fusionDayHeader   = []string{"id", "date", "volumeUSD", "feesUSD", "tvlUSD", "__typename"}
	combinedDayHeader = []string{"id", "date", "dailyVolumeUSD", "totalLiquidityUSD", "__typename"}
)

func init() {
	register(Job{
		Name:  "days",
		Short: "Reconcile protocol-wide daily volume and liquidity",
		Run:   runDays,
	})
}

// runDays reconciles the v1 and fusion day tables independently, then rebuilds
// the combined table from whatever both sheets now hold.
func runDays(ctx context.Context, env *Env) (Outcome, error) {
	logger := env.logger().With(zap.String("job", "days"))
	now := env.now()
	var out Outcome
	var errs []error

	v1Start := epoch.DaysAgo(now, env.Config.Delta.DayData)
	res, err := reconcileDays(ctx, env, "days", "gsheets.daily_data_sheet_key", env.Config.Sheets.Days, v1Start,
		func(ctx context.Context) (model.Table, error) {
			records, err := env.Graph.DayDatas(ctx, env.Config.Queries.DayData, v1Start.Unix())
			if err != nil {
				return model.Table{}, err
			}
			return dayTable(records, v1Start), nil
		})
	if err != nil {
		logger.Error("v1 day data failed", zap.Error(err))
		errs = append(errs, err)
	}
	out.Rows += res.Appended
	out.Deleted += res.Deleted

	fusionStart := epoch.DaysAgo(now, env.Config.Delta.FusionData)
	res, err = reconcileDays(ctx, env, "days_fusion", "gsheets.daily_data_fusion_sheet_key", env.Config.Sheets.DaysFusion, fusionStart,
		func(ctx context.Context) (model.Table, error) {
			records, err := env.FusionGraph.FusionDayDatas(ctx, env.Config.Queries.DayDataFusion, fusionStart.Unix())
			if err != nil {
				return model.Table{}, err
			}
			return fusionDayTable(records, fusionStart), nil
		})
	if err != nil {
		logger.Error("fusion day data failed", zap.Error(err))
		errs = append(errs, err)
	}
	out.Rows += res.Appended
	out.Deleted += res.Deleted

	if env.Config.Sheets.DaysCombined != "" {
		if err := rewriteCombinedDays(ctx, env); err != nil {
			logger.Error("combined day data failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

func reconcileDays(ctx context.Context, env *Env, job, key, sheet string, start time.Time, fetch func(context.Context) (model.Table, error)) (reconcile.Result, error) {
	table, err := fetch(ctx)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("%s: %w", job, err)
	}
	if err := fetcher.RequireRows(job, table.Len()); err != nil {
		return reconcile.Result{}, err
	}
	return env.replace(ctx, job, key, sheet, reconcile.DateAfter("date", start), table)
}

func dayTable(records []subgraph.DayData, start time.Time) model.Table {
	table := model.NewTable(dayHeader...)
	for _, r := range records {
		date := unixDate(r.Date.Int64())
		if !date.After(start) {
			continue
		}
		table.Append(
			r.ID,
			date.Format(epoch.DateLayout),
			r.TotalVolumeUSD.InexactFloat64(),
			r.DailyVolumeUSD.InexactFloat64(),
			r.DailyVolumeETH.InexactFloat64(),
			r.TotalLiquidityUSD.InexactFloat64(),
			r.TotalLiquidityETH.InexactFloat64(),
			"V1",
		)
	}
	return table
}

// fusionDayTable zeroes feesUSD; fees of concentrated pools are reported elsewhere.
func fusionDayTable(records []subgraph.FusionDayData, start time.Time) model.Table {
	table := model.NewTable(fusionDayHeader...)
	for _, r := range records {
		date := unixDate(r.Date.Int64())
		if !date.After(start) {
			continue
		}
		table.Append(
			r.ID,
			date.Format(epoch.DateLayout),
			r.VolumeUSD.InexactFloat64(),
			0,
			r.TvlUSD.InexactFloat64(),
			"Fusion",
		)
	}
	return table
}

func rewriteCombinedDays(ctx context.Context, env *Env) error {
	v1, err := env.read(ctx, "gsheets.daily_data_sheet_key", env.Config.Sheets.Days)
	if err != nil {
		return err
	}
	fusion, err := env.read(ctx, "gsheets.daily_data_fusion_sheet_key", env.Config.Sheets.DaysFusion)
	if err != nil {
		return err
	}
	combined := model.NewTable(combinedDayHeader...)
	project(&combined, v1, "id", "date", "dailyVolumeUSD", "totalLiquidityUSD", "__typename")
	project(&combined, fusion, "id", "date", "volumeUSD", "tvlUSD", "__typename")
	_, err = env.rewrite(ctx, "days_combined", "gsheets.daily_data_combined_sheet_key", env.Config.Sheets.DaysCombined, combined)
	return err
}

// project appends the named columns of src to dst, in order. Missing columns yield nil cells.
func project(dst *model.Table, src model.Table, columns ...string) {
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = src.Column(c)
	}
	for row := range src.Rows {
		values := make([]any, len(idx))
		for i, col := range idx {
			values[i] = src.Cell(row, col)
		}
		dst.Append(values...)
	}
}
