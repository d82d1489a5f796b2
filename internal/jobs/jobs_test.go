package jobs

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"epochsync/internal/fetcher"
	"epochsync/internal/lock"
	"epochsync/internal/model"
	"epochsync/internal/price"
	"epochsync/internal/reconcile"
	"epochsync/internal/subgraph"
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func bribeCaller() *fakeCaller {
	return &fakeCaller{rewards: map[common.Address]map[common.Address]int64{
		bribeA: {tokenA: 2_000_000_000_000_000_000},
		bribeB: {tokenA: 1_000_000_000_000_000_000, tokenB: 5_000_000},
	}}
}

func seedBribes(store *reconcile.MemoryStore) {
	seed := model.NewTable("name", "bribe_amount", "epoch")
	seed.Append("vAMM-A/B", 1.0, 9)
	seed.Append("vAMM-A/B", 99.0, 10)
	seed.Append("Z", 3.0, 10)
	store.Seed(sheet("bribes-sheet"), seed)
}

func TestRegistry(t *testing.T) {
	var names []string
	for _, job := range All() {
		names = append(names, job.Name)
	}
	require.Equal(t, []string{"bribes", "days", "emissions", "fee-tvl", "fees", "pairs", "revenue", "tvl"}, names)

	_, ok := Lookup("bribes")
	require.True(t, ok)
	_, ok = Lookup("nope")
	require.False(t, ok)
}

func TestBribesReplacesPreviousEpochAndIsIdempotent(t *testing.T) {
	store := reconcile.NewMemoryStore()
	seedBribes(store)
	env := testEnv(store, nil)
	env.Chain = bribeCaller()
	journal := &fakeJournal{}
	env.Journal = journal

	job, _ := Lookup("bribes")
	require.NoError(t, Execute(context.Background(), env, job))

	want := [][]any{
		{"vAMM-A/B", 1.0, 9},
		{"sAMM-C/D", 7.0, 10},
		{"vAMM-A/B", 4.0, 10},
	}
	require.Equal(t, want, store.Table(sheet("bribes-sheet")).Rows)
	require.Equal(t, []string{"delete 3-4", "append 2"}, store.Ops)

	require.NoError(t, Execute(context.Background(), env, job))
	require.Equal(t, want, store.Table(sheet("bribes-sheet")).Rows)

	require.Len(t, journal.runs, 2)
	require.True(t, journal.runs[0].OK())
	require.Equal(t, 10, journal.runs[0].Epoch)
	require.Equal(t, 2, journal.runs[0].Rows)
	require.Equal(t, 2, journal.runs[1].Deleted)
}

func TestFeesUseFeeDistributors(t *testing.T) {
	store := reconcile.NewMemoryStore()
	env := testEnv(store, nil)
	ids := testIdentifiers()
	ids[0].Fee = bribeA.Hex()
	env.Identifiers = ids
	env.Chain = bribeCaller()

	job, _ := Lookup("fees")
	require.NoError(t, Execute(context.Background(), env, job))

	table := store.Table(sheet("fees-sheet"))
	require.Equal(t, []string{"name", "fee_amount", "epoch"}, table.Header)
	require.Equal(t, [][]any{{"vAMM-A/B", 4.0, 10}}, table.Rows)
}

func TestEmptyFetchLeavesStoreUntouched(t *testing.T) {
	store := reconcile.NewMemoryStore()
	seedBribes(store)
	before := store.Table(sheet("bribes-sheet"))

	core, logs := observer.New(zapcore.InfoLevel)
	env := testEnv(store, zap.New(core))
	env.Chain = &fakeCaller{}
	journal := &fakeJournal{}
	env.Journal = journal

	job, _ := Lookup("bribes")
	err := Execute(context.Background(), env, job)
	require.ErrorIs(t, err, fetcher.ErrEmptyResult)
	require.Equal(t, before, store.Table(sheet("bribes-sheet")))
	require.Empty(t, store.Ops)
	require.Equal(t, 1, logs.FilterMessage("job failed").Len())
	require.Len(t, journal.runs, 1)
	require.False(t, journal.runs[0].OK())
}

func TestPriceFailureAbortsBeforeReconcile(t *testing.T) {
	store := reconcile.NewMemoryStore()
	seedBribes(store)
	env := testEnv(store, nil)
	env.Chain = bribeCaller()
	env.Prices = fakePrices{err: errors.New("price api down")}

	job, _ := Lookup("bribes")
	require.Error(t, Execute(context.Background(), env, job))
	require.Empty(t, store.Ops)
}

func TestMissingSheetKey(t *testing.T) {
	env := testEnv(reconcile.NewMemoryStore(), nil)
	env.Config.Sheets.Bribes = ""
	env.Chain = bribeCaller()

	job, _ := Lookup("bribes")
	err := Execute(context.Background(), env, job)
	require.ErrorContains(t, err, "gsheets.bribe_data_sheet_key")
}

func TestExecuteRecoversPanics(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	env := testEnv(reconcile.NewMemoryStore(), zap.New(core))
	journal := &fakeJournal{}
	env.Journal = journal

	job := Job{Name: "boom", Run: func(context.Context, *Env) (Outcome, error) {
		panic("nil map")
	}}
	err := Execute(context.Background(), env, job)
	require.ErrorContains(t, err, "panicked")
	require.Equal(t, 1, logs.FilterMessage("job failed").Len())
	require.Len(t, journal.runs, 1)
	require.Contains(t, journal.runs[0].Error, "nil map")
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string) (func(), error) {
	return nil, lock.ErrLocked
}

func TestExecuteSkipsWhenLocked(t *testing.T) {
	env := testEnv(reconcile.NewMemoryStore(), nil)
	env.Locker = heldLocker{}
	ran := false
	job := Job{Name: "locked", Run: func(context.Context, *Env) (Outcome, error) {
		ran = true
		return Outcome{}, nil
	}}
	require.ErrorIs(t, Execute(context.Background(), env, job), lock.ErrLocked)
	require.False(t, ran)
}

func TestEmissionsCurrentEpoch(t *testing.T) {
	store := reconcile.NewMemoryStore()
	env := testEnv(store, nil)
	env.Chain = &fakeCaller{
		gauge:  map[common.Address]*big.Int{gaugeA: ether(1000)},
		supply: map[common.Address]*big.Int{bribeA: ether(50), bribeB: big.NewInt(0)},
	}

	job, _ := Lookup("emissions")
	require.NoError(t, Execute(context.Background(), env, job))

	table := store.Table(sheet("emissions-sheet"))
	require.Equal(t, emissionsHeader, table.Header)
	require.Equal(t, [][]any{{10, "vAMM-A/B", 50.0, 1000.0, 500.0, 0.5}}, table.Rows)
}

func TestPairsLookbackAndFees(t *testing.T) {
	store := reconcile.NewMemoryStore()
	seed := model.NewTable(pairHeader...)
	seed.Append("old", "2024-01-05", 0, 0, 0, 0, "V1", "vAMM-A/B", "0xpair1", "vAMM", 10, 0.2, 0)
	seed.Append("stale", "2024-01-07", 0, 0, 0, 0, "V1", "vAMM-A/B", "0xpair1", "vAMM", 10, 0.2, 0)
	store.Seed(sheet("pairs-sheet"), seed)

	day := func(id string, d int) subgraph.PairDayData {
		return subgraph.PairDayData{
			ID:             id,
			Date:           num(big.NewInt(time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC).Unix()).String()),
			DailyVolumeUSD: num("1000"),
			ReserveUSD:     num("5000"),
		}
	}
	env := testEnv(store, nil)
	env.Graph = &fakeGraph{pairs: map[string][]subgraph.PairDayData{
		"0xpair1": {day("p1-6", 6), day("p1-8", 8), day("p1-7", 7)},
		"0xpair2": {day("p2-8", 8)},
	}}

	job, _ := Lookup("pairs")
	require.NoError(t, Execute(context.Background(), env, job))

	table := store.Table(sheet("pairs-sheet"))
	require.Len(t, table.Rows, 4)
	ids := []any{}
	for i := range table.Rows {
		ids = append(ids, table.Cell(i, 0))
	}
	require.Equal(t, []any{"old", "p1-7", "p1-8", "p2-8"}, ids)

	feeCol := table.Column("fee")
	require.Equal(t, 2.0, table.Cell(1, feeCol))
	require.Equal(t, 0.1, table.Cell(3, feeCol))
	require.Equal(t, 10, table.Cell(3, table.Column("epoch")))
	require.Equal(t, "V1", table.Cell(3, table.Column("__typename")))
}

func TestPairTableFlagsUnmappedPoolType(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	start := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	days := []pairDay{{
		id:     model.Identifier{Name: "x", Type: "exotic"},
		record: subgraph.PairDayData{ID: "x-7", DailyVolumeUSD: num("100")},
		date:   start.AddDate(0, 0, 1),
	}}
	table := pairTable(days, start, testEpochs(), nil, zap.New(core))
	require.Equal(t, 1, table.Len())
	require.Equal(t, 0.0, table.Cell(0, table.Column("fee")))
	require.Nil(t, table.Cell(0, table.Column("fee %")))
	require.Equal(t, 1, logs.FilterMessage("fee rate missing").Len())
}

func TestWithAlgebraNames(t *testing.T) {
	pairs := model.NewTable("name", "address", "type")
	pairs.Append("vAMM-A/B", "0xpair1", "vAMM")
	pairs.Append("CL-E/F", "0xpool3", "CL")
	pairs.Append("CL-G/H", "0xgauge3", "CL")

	out := withAlgebraNames(pairs, testIdentifiers())
	require.Equal(t, []string{"name", "address", "type", "algebra_name"}, out.Header)
	col := out.Column("algebra_name")
	require.Equal(t, "vAMM-A/B", out.Cell(0, col))
	require.Equal(t, "E/F", out.Cell(1, col))
	require.Equal(t, "E/F", out.Cell(2, col))
}

func TestDaysReconcilesBothSourcesAndCombines(t *testing.T) {
	store := reconcile.NewMemoryStore()
	env := testEnv(store, nil)
	ts := func(d int) subgraph.Number {
		return num(big.NewInt(time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC).Unix()).String())
	}
	graph := &fakeGraph{
		days: []subgraph.DayData{
			{ID: "d6", Date: ts(6), DailyVolumeUSD: num("1")},
			{ID: "d7", Date: ts(7), DailyVolumeUSD: num("2"), TotalLiquidityUSD: num("20")},
			{ID: "d8", Date: ts(8), DailyVolumeUSD: num("3")},
		},
		fusion: []subgraph.FusionDayData{
			{ID: "f8", Date: ts(8), VolumeUSD: num("9"), FeesUSD: num("4"), TvlUSD: num("90")},
		},
	}
	env.Graph = graph
	env.FusionGraph = graph

	job, _ := Lookup("days")
	require.NoError(t, Execute(context.Background(), env, job))

	v1 := store.Table(sheet("days-sheet"))
	require.Equal(t, dayHeader, v1.Header)
	require.Len(t, v1.Rows, 2)
	require.Equal(t, "2024-01-07", v1.Cell(0, 1))

	fusion := store.Table(sheet("days-fusion-sheet"))
	require.Equal(t, []any{"f8", "2024-01-08", 9.0, 0, 90.0, "Fusion"}, fusion.Rows[0])

	combined := store.Table(sheet("days-combined-sheet"))
	require.Equal(t, combinedDayHeader, combined.Header)
	require.Len(t, combined.Rows, 3)
	require.Equal(t, []any{"f8", "2024-01-08", 9.0, 90.0, "Fusion"}, combined.Rows[2])
}

func TestDaysKeepsGoingWhenOneSourceFails(t *testing.T) {
	store := reconcile.NewMemoryStore()
	env := testEnv(store, nil)
	env.Graph = &fakeGraph{err: errors.New("subgraph down")}
	env.FusionGraph = &fakeGraph{fusion: []subgraph.FusionDayData{
		{ID: "f8", Date: num("1704672000"), VolumeUSD: num("9"), TvlUSD: num("90")},
	}}

	job, _ := Lookup("days")
	err := Execute(context.Background(), env, job)
	require.ErrorContains(t, err, "subgraph down")
	require.Len(t, store.Table(sheet("days-fusion-sheet")).Rows, 1)
}

func TestTVLSplitsPoolsBySubgraph(t *testing.T) {
	store := reconcile.NewMemoryStore()
	env := testEnv(store, nil)
	env.Prices = fakePrices{pools: []price.Pool{
		{Symbol: "vAMM-A/B", Type: "Volatile", Address: "0xpair1"},
		{Symbol: "CL-E/F", Type: "CL", Address: "0xGAUGE3"},
		{Symbol: "CL-unknown", Type: "CL", Address: "0xunmapped"},
	}}
	at := func(d, h int) subgraph.Number {
		return num(big.NewInt(time.Date(2024, 1, d, h, 0, 0, 0, time.UTC).Unix()).String())
	}
	v1 := &fakeGraph{events: map[string][]subgraph.LiquidityEvent{
		"0xpair1/mints": {{ID: "m1", Timestamp: at(8, 10), AmountUSD: num("100")}},
		"0xpair1/burns": {{ID: "b1", Timestamp: at(7, 10), AmountUSD: num("40")}},
	}}
	cl := &fakeGraph{events: map[string][]subgraph.LiquidityEvent{
		"0xpool3/mints": {{ID: "m2", Timestamp: at(9, 1), AmountUSD: num("10")}},
	}}
	env.Graph = v1
	env.FusionGraph = cl

	job, _ := Lookup("tvl")
	require.NoError(t, Execute(context.Background(), env, job))

	table := store.Table(sheet("tvl-sheet"))
	require.Equal(t, tvlHeader, table.Header)
	require.Len(t, table.Rows, 3)
	require.Equal(t, "b1", table.Cell(0, 0))
	require.Equal(t, -40.0, table.Cell(0, table.Column("TVL_change")))
	require.Equal(t, 40.0, table.Cell(0, table.Column("TVL_outflow")))
	require.Equal(t, "0xpool3", table.Cell(2, table.Column("Pool Address")))
	require.Equal(t, "CL", table.Cell(2, table.Column("Pool Type")))
	require.Equal(t, "2024-01-09", table.Cell(2, table.Column("date")))

	env.Config.SkipPools = []string{"0xPOOL3"}
	pools := tvlPools(env, []price.Pool{{Symbol: "CL-E/F", Type: "CL", Address: "0xgauge3"}}, testIdentifiers())
	require.Empty(t, pools)
}

func TestFeeTVLRecomputesRecentEpochs(t *testing.T) {
	store := reconcile.NewMemoryStore()
	pairs := model.NewTable("epoch", "fee", "reserveUSD")
	pairs.Append(7, 100.0, 700.0)
	pairs.Append(8, 1.0, 70.0)
	pairs.Append(9, 2.0, 70.0)
	pairs.Append(9, 1.0, 70.0)
	pairs.Append(10, 7.0, 0.0)
	store.Seed(sheet("pairs-sheet"), pairs)

	old := model.NewTable(feeTVLHeader...)
	old.Append(7, 100.0, 100.0, 1.0)
	old.Append(8, 0.5, 10.0, 0.05)
	store.Seed(sheet("fee-tvl-sheet"), old)

	env := testEnv(store, nil)
	job, _ := Lookup("fee-tvl")
	require.NoError(t, Execute(context.Background(), env, job))

	require.Equal(t, [][]any{
		{7, 100.0, 100.0, 1.0},
		{8, 1.0, 10.0, 0.1},
		{9, 3.0, 20.0, 0.15},
		{10, 7.0, 0.0, 0.0},
	}, store.Table(sheet("fee-tvl-sheet")).Rows)
}

func TestRevenueJoinsAndDropsLatestEpoch(t *testing.T) {
	pairs := model.NewTable("epoch", "name", "fee")
	pairs.Append(9, "A", 1.0)
	pairs.Append(9, "A", 2.0)
	pairs.Append(10, "A", 5.0)
	pairs.Append(11, "A", 1.0)

	bribes := model.MetricTable("bribe_amount", []model.MetricRow{{Name: "A", Epoch: 9, Amount: num("10").Decimal}})

	emissions := model.NewTable(emissionsHeader...)
	emissions.Append(10, "A", 5.0, 100.0, 50.0, 0.5)

	table, latest := revenueTable(pairs, bribes, emissions, nil)
	require.Equal(t, 11, latest)
	require.Equal(t, revenueHeader, table.Header)
	require.Equal(t, [][]any{
		{9, "A", 3.0, 10.0, 13.0, 0.0, 0.0, 0.0, 0.0, 0.0},
		{10, "A", 5.0, 0.0, 5.0, 10.0, 5.0, 100.0, 50.0, 0.5},
	}, table.Rows)
}

func TestRevenueConsolidatesPoolNames(t *testing.T) {
	ids := []model.Identifier{
		{Name: "vAMM-A/B", Address: "0xpair1", Type: "vAMM", AlgebraName: "vAMM-A/B"},
		{Name: "CL-E/F Narrow", Address: "0xgauge3", Type: "CL", AlgebraPool: "0xPOOL3", AlgebraName: "E/F Narrow"},
		{Name: "ALM-E/F Wide", Address: "0xgauge4", Type: "CL", AlgebraPool: "0xPOOL3", AlgebraName: "E/F Wide"},
	}

	pairs := withAlgebraNames(func() model.Table {
		t := model.NewTable("epoch", "name", "address", "type", "fee")
		t.Append(9, "vAMM-A/B", "0xpair1", "vAMM", 1.0)
		t.Append(9, "WETH/E-F pool", "0xpool3", "CL", 2.0)
		t.Append(10, "vAMM-A/B", "0xpair1", "vAMM", 1.0)
		return t
	}(), ids)

	bribes := model.MetricTable("bribe_amount", []model.MetricRow{
		{Name: "CL-E/F Narrow", Epoch: 9, Amount: num("3").Decimal},
		{Name: "ALM-E/F Wide", Epoch: 9, Amount: num("4").Decimal},
		{Name: "vAMM-A/B", Epoch: 9, Amount: num("1").Decimal},
	})

	emissions := model.NewTable(emissionsHeader...)
	emissions.Append(9, "CL-E/F Narrow", 2.0, 10.0, 5.0, 0.5)
	emissions.Append(9, "ALM-E/F Wide", 3.0, 20.0, 10.0, 0.5)

	table, latest := revenueTable(pairs, bribes, emissions, ids)
	require.Equal(t, 10, latest)
	require.Equal(t, [][]any{
		{9, "E/F", 2.0, 7.0, 9.0, 0.0, 5.0, 30.0, 15.0, 0.5},
		{9, "vAMM-A/B", 1.0, 1.0, 2.0, 0.0, 0.0, 0.0, 0.0, 0.0},
	}, table.Rows)
}

func TestRevenueRewritesTable(t *testing.T) {
	store := reconcile.NewMemoryStore()
	pairs := model.NewTable("epoch", "name", "fee")
	pairs.Append(9, "A", 1.0)
	pairs.Append(10, "A", 1.0)
	store.Seed(sheet("pairs-sheet"), pairs)
	store.Seed(sheet("revenue-sheet"), model.NewTable("stale"))

	env := testEnv(store, nil)
	job, _ := Lookup("revenue")
	require.NoError(t, Execute(context.Background(), env, job))

	out := store.Table(sheet("revenue-sheet"))
	require.Equal(t, revenueHeader, out.Header)
	require.Len(t, out.Rows, 1)
	require.Equal(t, []string{"overwrite 1"}, store.Ops)
}
