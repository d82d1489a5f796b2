package jobs

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"epochsync/internal/epoch"
	"epochsync/internal/fetcher"
	"epochsync/internal/model"
	"epochsync/internal/reconcile"
)

var feeTVLHeader = []string{"epoch", "fee", "Average TVL", "Fee/TVL"}

// feeTVLWindow is how many epochs before the current one are recomputed.
const feeTVLWindow = 2

func init() {
	register(Job{
		Name:  "fee-tvl",
		Short: "Recompute fee over average TVL for the most recent epochs",
		Run:   runFeeTVL,
	})
}

func runFeeTVL(ctx context.Context, env *Env) (Outcome, error) {
	logger := env.logger().With(zap.String("job", "fee-tvl"))

	epochs, err := env.epochTable()
	if err != nil {
		return Outcome{}, err
	}
	current, err := epochs.ForTime(epoch.Midnight(env.now()))
	if err != nil {
		return Outcome{}, err
	}
	key, sheet := pairSource(env)
	pairs, err := env.read(ctx, key, sheet)
	if err != nil {
		return Outcome{}, err
	}
	if err := fetcher.RequireRows("pair table", pairs.Len()); err != nil {
		return Outcome{}, err
	}

	from := current.Epoch - feeTVLWindow
	table, err := feeTVLTable(pairs, from)
	if err != nil {
		return Outcome{}, err
	}
	logger.Info("fee/tvl computed", zap.Int("epoch", current.Epoch), zap.Int("epochs", table.Len()))
	if err := fetcher.RequireRows("fee-tvl", table.Len()); err != nil {
		return Outcome{Epoch: current.Epoch}, err
	}

	res, err := env.replace(ctx, "fee-tvl", "gsheets.fee_tvl_data_sheet_key", env.Config.Sheets.FeeTVL,
		reconcile.EpochAtLeast("epoch", from), table)
	if err != nil {
		return Outcome{Epoch: current.Epoch, Deleted: res.Deleted}, err
	}
	return Outcome{Epoch: current.Epoch, Rows: res.Appended, Deleted: res.Deleted}, nil
}

// pairSource prefers the combined pair table when one is configured.
func pairSource(env *Env) (string, string) {
	if env.Config.Sheets.PairsCombined != "" {
		return "gsheets.pair_data_combined_sheet_key", env.Config.Sheets.PairsCombined
	}
	return "gsheets.pair_data_sheet_key", env.Config.Sheets.Pairs
}

// feeTVLTable sums fee and reserveUSD per epoch >= from. Average TVL is the
// summed daily reserve over the seven days of an epoch.
func feeTVLTable(pairs model.Table, from int) (model.Table, error) {
	epochCol := pairs.Column("epoch")
	feeCol := pairs.Column("fee")
	reserveCol := pairs.Column("reserveUSD")
	if epochCol < 0 || feeCol < 0 || reserveCol < 0 {
		return model.Table{}, fmt.Errorf("pair table needs epoch, fee and reserveUSD columns")
	}

	type sums struct{ fee, reserve decimal.Decimal }
	byEpoch := map[int]*sums{}
	for i := range pairs.Rows {
		n, ok := model.CellInt(pairs.Cell(i, epochCol))
		if !ok || int(n) < from {
			continue
		}
		s, ok := byEpoch[int(n)]
		if !ok {
			s = &sums{}
			byEpoch[int(n)] = s
		}
		s.fee = s.fee.Add(model.CellDecimal(pairs.Cell(i, feeCol)))
		s.reserve = s.reserve.Add(model.CellDecimal(pairs.Cell(i, reserveCol)))
	}

	keys := make([]int, 0, len(byEpoch))
	for k := range byEpoch {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	days := decimal.NewFromInt(7)
	table := model.NewTable(feeTVLHeader...)
	for _, k := range keys {
		s := byEpoch[k]
		avg := s.reserve.Div(days)
		ratio := decimal.Zero
		if !avg.IsZero() {
			ratio = s.fee.Div(avg)
		}
		table.Append(k, s.fee.InexactFloat64(), avg.InexactFloat64(), ratio.InexactFloat64())
	}
	return table, nil
}
