package jobs

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"epochsync/internal/chain"
	"epochsync/internal/fetcher"
	"epochsync/internal/model"
	"epochsync/internal/reconcile"
)

// GovPriceColumn holds the governance token price used to value emissions.
const GovPriceColumn = "THE_price"

var emissionsHeader = []string{"epoch", "name", "voteweight", "emissions", "value", GovPriceColumn}

func init() {
	register(Job{
		Name:  "emissions",
		Short: "Reconcile gauge emissions and vote weight of the current epoch",
		Run:   runEmissions,
	})
}

type emission struct {
	weight    decimal.Decimal
	emissions decimal.Decimal
}

func runEmissions(ctx context.Context, env *Env) (Outcome, error) {
	logger := env.logger().With(zap.String("job", "emissions"))

	resolver, err := env.resolver()
	if err != nil {
		return Outcome{}, err
	}
	target, err := resolver.Current(env.now())
	if err != nil {
		return Outcome{}, err
	}
	ids, err := env.identifiers()
	if err != nil {
		return Outcome{}, err
	}
	bribeABI, err := chain.ParseABI(env.Config.BribeABI, chain.BribeABI)
	if err != nil {
		return Outcome{}, err
	}
	gaugeABI, err := chain.ParseABI(env.Config.GaugeABI, chain.GaugeABI)
	if err != nil {
		return Outcome{}, err
	}
	bribes := chain.NewBribeReader(env.Chain, bribeABI)
	gauges := chain.NewGaugeReader(env.Chain, gaugeABI)

	ts := target.Boundary.Unix()
	results, failed := fetcher.ForEach(ctx, logger, ids, env.concurrency(),
		func(id model.Identifier) string { return id.Name },
		func(ctx context.Context, id model.Identifier) (emission, error) {
			out := emission{weight: decimal.Zero, emissions: decimal.Zero}
			if model.HasContract(id.Gauge) {
				reward, err := gauges.RewardForDuration(ctx, common.HexToAddress(id.Gauge))
				if err != nil {
					return out, fmt.Errorf("gauge %s: %w", id.Gauge, err)
				}
				out.emissions = wei(reward)
			}
			if model.HasContract(id.Bribe) {
				supply, err := bribes.TotalSupply(ctx, common.HexToAddress(id.Bribe), ts)
				if err != nil {
					return out, fmt.Errorf("bribe %s: %w", id.Bribe, err)
				}
				out.weight = wei(supply)
			}
			return out, nil
		})
	logger.Info("emissions fetched", zap.Int("epoch", target.Epoch), zap.Int("pools", len(ids)), zap.Int("failed", failed))

	book, err := env.Prices.Book(ctx, env.Config.PriceAPI)
	if err != nil {
		return Outcome{Epoch: target.Epoch}, fmt.Errorf("price book: %w", err)
	}
	quote, ok := book.ByName(env.Config.GovToken)
	if !ok {
		return Outcome{Epoch: target.Epoch}, fmt.Errorf("no price for %q", env.Config.GovToken)
	}

	table := model.NewTable(emissionsHeader...)
	for _, r := range results {
		if !r.Value.weight.IsPositive() {
			continue
		}
		value := r.Value.emissions.Mul(quote.Price)
		table.Append(
			target.Epoch,
			r.Item.Name,
			r.Value.weight.InexactFloat64(),
			r.Value.emissions.InexactFloat64(),
			value.InexactFloat64(),
			quote.Price.InexactFloat64(),
		)
	}
	if err := fetcher.RequireRows("emissions", table.Len()); err != nil {
		return Outcome{Epoch: target.Epoch}, err
	}

	res, err := env.replace(ctx, "emissions", "gsheets.emissions_data_sheet_key", env.Config.Sheets.Emissions,
		reconcile.EpochEquals("epoch", target.Epoch), table)
	if err != nil {
		return Outcome{Epoch: target.Epoch, Deleted: res.Deleted}, err
	}
	return Outcome{Epoch: target.Epoch, Rows: res.Appended, Deleted: res.Deleted}, nil
}

// wei scales an 18-decimal integer.
func wei(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -18)
}
