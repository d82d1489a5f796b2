package jobs

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"epochsync/internal/config"
	"epochsync/internal/epoch"
	"epochsync/internal/model"
	"epochsync/internal/price"
	"epochsync/internal/reconcile"
	"epochsync/internal/retry"
	"epochsync/internal/subgraph"
	"epochsync/internal/transform"
)

var (
	tokenA = common.HexToAddress("0xA000000000000000000000000000000000000001")
	tokenB = common.HexToAddress("0xB000000000000000000000000000000000000002")
	bribeA = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bribeB = common.HexToAddress("0x1000000000000000000000000000000000000002")
	gaugeA = common.HexToAddress("0x2000000000000000000000000000000000000001")
)

// tuesday falls in epoch 10; the next boundary opens epoch 11.
var tuesday = time.Date(2024, 1, 9, 12, 0, 0, 0, time.UTC)

func testEpochs() *epoch.Table {
	return epoch.NewTable([]epoch.Row{
		{Epoch: 9, Timestamp: time.Date(2023, 12, 28, 0, 0, 0, 0, time.UTC).Unix(), Date: "2023-12-28"},
		{Epoch: 10, Timestamp: time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC).Unix(), Date: "2024-01-04"},
		{Epoch: 11, Timestamp: time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC).Unix(), Date: "2024-01-11"},
		{Epoch: 12, Timestamp: time.Date(2024, 1, 18, 0, 0, 0, 0, time.UTC).Unix(), Date: "2024-01-18"},
	})
}

func testIdentifiers() []model.Identifier {
	return []model.Identifier{
		{Name: "vAMM-A/B", Address: "0xpair1", Type: "vAMM", Gauge: gaugeA.Hex(), Bribe: bribeA.Hex(), Fee: model.ZeroAddress},
		{Name: "sAMM-C/D", Address: "0xpair2", Type: "sAMM", Gauge: model.ZeroAddress, Bribe: bribeB.Hex(), Fee: model.ZeroAddress},
		{Name: "CL-E/F", Address: "0xgauge3", Type: "CL", Gauge: model.ZeroAddress, Bribe: model.ZeroAddress,
			AlgebraPool: "0xPOOL3", AlgebraName: "E/F"},
	}
}

type fakeCaller struct {
	mu      sync.Mutex
	calls   int
	rewards map[common.Address]map[common.Address]int64
	supply  map[common.Address]*big.Int
	gauge   map[common.Address]*big.Int
}

func (f *fakeCaller) Call(_ context.Context, contract common.Address, _ abi.ABI, method string, args ...any) ([]any, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	tokens := sortedTokens(f.rewards[contract])
	switch method {
	case "rewardsListLength":
		return []any{big.NewInt(int64(len(tokens)))}, nil
	case "rewardTokens":
		return []any{tokens[args[0].(*big.Int).Int64()]}, nil
	case "rewardData":
		amount := f.rewards[contract][args[0].(common.Address)]
		return []any{big.NewInt(0), big.NewInt(amount), big.NewInt(0)}, nil
	case "_totalSupply":
		if v, ok := f.supply[contract]; ok {
			return []any{v}, nil
		}
		return []any{big.NewInt(0)}, nil
	case "rewardForDuration":
		if v, ok := f.gauge[contract]; ok {
			return []any{v}, nil
		}
		return nil, fmt.Errorf("execution reverted")
	}
	return nil, fmt.Errorf("unexpected method %s", method)
}

func sortedTokens(m map[common.Address]int64) []common.Address {
	var out []common.Address
	for _, t := range []common.Address{tokenA, tokenB} {
		if _, ok := m[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

type fakePrices struct {
	tokens []price.Token
	pools  []price.Pool
	err    error
}

func (f fakePrices) Book(context.Context, string) (*transform.PriceBook, error) {
	if f.err != nil {
		return nil, f.err
	}
	return price.BookFromTokens(f.tokens), nil
}

func (f fakePrices) Pools(context.Context, string) ([]price.Pool, error) {
	return f.pools, f.err
}

func testPrices() fakePrices {
	return fakePrices{tokens: []price.Token{
		quoted("TKA", strings.ToLower(tokenA.Hex()), decimal.NewFromInt(2), 18),
		quoted("TKB", tokenB.Hex(), decimal.NewFromInt(1), 6),
		quoted("THENA", "0xthe", decimal.RequireFromString("0.5"), 18),
	}}
}

func quoted(name, address string, p decimal.Decimal, decimals int32) price.Token {
	return price.Token{
		Name:     name,
		Address:  address,
		Price:    decimal.NewNullDecimal(p),
		Decimals: &decimals,
	}
}

type fakeGraph struct {
	pairs  map[string][]subgraph.PairDayData
	days   []subgraph.DayData
	fusion []subgraph.FusionDayData
	events map[string][]subgraph.LiquidityEvent // key: pool + "/" + events
	err    error
}

func (f *fakeGraph) PairDayDatas(_ context.Context, _ subgraph.Query, pair string, _ int64) ([]subgraph.PairDayData, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pairs[pair], nil
}

func (f *fakeGraph) DayDatas(context.Context, subgraph.Query, int64) ([]subgraph.DayData, error) {
	return f.days, f.err
}

func (f *fakeGraph) FusionDayDatas(context.Context, subgraph.Query, int64) ([]subgraph.FusionDayData, error) {
	return f.fusion, f.err
}

func (f *fakeGraph) LiquidityEvents(_ context.Context, _ subgraph.Query, _, events, _, pool string, _ int64) ([]subgraph.LiquidityEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events[pool+"/"+events], nil
}

type fakeJournal struct {
	mu   sync.Mutex
	runs []model.RunRecord
}

func (f *fakeJournal) PutRuns(runs []model.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, runs...)
	return nil
}

func num(s string) subgraph.Number {
	return subgraph.Number{Decimal: decimal.RequireFromString(s)}
}

func testEnv(store *reconcile.MemoryStore, logger *zap.Logger) *Env {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := config.Config{
		Anchor:      time.Thursday,
		Concurrency: 2,
		GovToken:    "THENA",
		Delta:       config.Delta{PairData: 3, DayData: 3, FusionData: 3, TVLData: 3},
		Sheets: config.Sheets{
			Worksheet:    "Master",
			Bribes:       "bribes-sheet",
			Fees:         "fees-sheet",
			Emissions:    "emissions-sheet",
			Pairs:        "pairs-sheet",
			Days:         "days-sheet",
			DaysFusion:   "days-fusion-sheet",
			DaysCombined: "days-combined-sheet",
			TVL:          "tvl-sheet",
			FeeTVL:       "fee-tvl-sheet",
			Revenue:      "revenue-sheet",
		},
	}
	return &Env{
		Config:      cfg,
		Logger:      logger,
		Now:         func() time.Time { return tuesday },
		Prices:      testPrices(),
		Store:       store,
		Reconciler:  reconcile.New(store, logger, retry.Fixed(3, time.Millisecond)),
		Epochs:      testEpochs(),
		Identifiers: testIdentifiers(),
	}
}

func sheet(id string) reconcile.TableRef {
	return reconcile.TableRef{SpreadsheetID: id, Sheet: "Master"}
}
