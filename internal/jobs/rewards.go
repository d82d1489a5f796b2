package jobs

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"epochsync/internal/chain"
	"epochsync/internal/fetcher"
	"epochsync/internal/model"
	"epochsync/internal/reconcile"
	"epochsync/internal/transform"
)

func init() {
	register(Job{
		Name:  "bribes",
		Short: "Reconcile per-pool bribe value of the previous epoch",
		Run: func(ctx context.Context, env *Env) (Outcome, error) {
			return runRewards(ctx, env, rewardSpec{
				job:      "bribes",
				column:   "bribe_amount",
				sheetKey: "gsheets.bribe_data_sheet_key",
				sheet:    env.Config.Sheets.Bribes,
				contract: func(id model.Identifier) string { return id.Bribe },
			})
		},
	})
	register(Job{
		Name:  "fees",
		Short: "Reconcile per-pool fee value of the previous epoch",
		Run: func(ctx context.Context, env *Env) (Outcome, error) {
			return runRewards(ctx, env, rewardSpec{
				job:      "fees",
				column:   "fee_amount",
				sheetKey: "gsheets.fee_data_sheet_key",
				sheet:    env.Config.Sheets.Fees,
				contract: func(id model.Identifier) string { return id.Fee },
			})
		},
	})
}

type rewardSpec struct {
	job      string
	column   string
	sheetKey string
	sheet    string
	contract func(model.Identifier) string
}

// runRewards reads reward distributor contracts for the epoch that just ended,
// values every positive reward with the price book and replaces that epoch's rows.
func runRewards(ctx context.Context, env *Env, spec rewardSpec) (Outcome, error) {
	logger := env.logger().With(zap.String("job", spec.job))

	resolver, err := env.resolver()
	if err != nil {
		return Outcome{}, err
	}
	target, err := resolver.Resolve(env.now(), -1)
	if err != nil {
		return Outcome{}, err
	}
	ids, err := env.identifiers()
	if err != nil {
		return Outcome{}, err
	}
	parsed, err := chain.ParseABI(env.Config.BribeABI, chain.BribeABI)
	if err != nil {
		return Outcome{}, err
	}
	reader := chain.NewBribeReader(env.Chain, parsed)

	var targets []model.Identifier
	for _, id := range ids {
		if model.HasContract(spec.contract(id)) {
			targets = append(targets, id)
		}
	}

	ts := target.Boundary.Unix()
	results, failed := fetcher.ForEach(ctx, logger, targets, env.concurrency(),
		func(id model.Identifier) string { return id.Name },
		func(ctx context.Context, id model.Identifier) ([]chain.Reward, error) {
			return reader.Rewards(ctx, common.HexToAddress(spec.contract(id)), ts)
		})

	var raws []transform.RawAmount
	for _, r := range results {
		for _, reward := range r.Value {
			raws = append(raws, transform.RawAmount{
				Name:  r.Item.Name,
				Token: reward.Token.Hex(),
				Raw:   reward.Amount,
			})
		}
	}
	logger.Info("rewards fetched",
		zap.Int("epoch", target.Epoch),
		zap.Int("contracts", len(targets)),
		zap.Int("failed", failed),
		zap.Int("rewards", len(raws)),
	)
	if err := fetcher.RequireRows(spec.job, len(raws)); err != nil {
		return Outcome{Epoch: target.Epoch}, err
	}

	book, err := env.Prices.Book(ctx, env.Config.PriceAPI)
	if err != nil {
		return Outcome{Epoch: target.Epoch}, fmt.Errorf("price book: %w", err)
	}
	amounts, missing := transform.NormalizeAll(raws, book)
	for _, a := range amounts {
		if a.Missing {
			logger.Warn("price missing", zap.String("pool", a.Name), zap.String("token", a.Token))
		}
	}
	if missing > 0 {
		logger.Warn("rewards without price", zap.Int("count", missing))
	}

	rows := transform.GroupSum(amounts, target.Epoch)
	table := model.MetricTable(spec.column, rows)
	res, err := env.replace(ctx, spec.job, spec.sheetKey, spec.sheet, reconcile.EpochEquals("epoch", target.Epoch), table)
	if err != nil {
		return Outcome{Epoch: target.Epoch, Deleted: res.Deleted}, err
	}
	env.mirror(ctx, spec.job, rows)
	return Outcome{Epoch: target.Epoch, Rows: res.Appended, Deleted: res.Deleted}, nil
}
