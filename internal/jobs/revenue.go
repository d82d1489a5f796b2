package jobs

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"epochsync/internal/config"
	"epochsync/internal/fetcher"
	"epochsync/internal/model"
)

var revenueHeader = []string{
	"epoch", "name", "fee", "bribe_amount", "revenue", "bribe_amount_offset",
	"voteweight", "emissions", "value", GovPriceColumn,
}

func init() {
	register(Job{
		Name:  "revenue",
		Short: "Rebuild per-pool revenue from pair fees, bribes and emissions",
		Run:   runRevenue,
	})
}

type revenueKey struct {
	epoch int
	name  string
}

type revenueRow struct {
	fee, bribe, offset                 decimal.Decimal
	weight, emissions, value, govPrice decimal.Decimal
}

func runRevenue(ctx context.Context, env *Env) (Outcome, error) {
	logger := env.logger().With(zap.String("job", "revenue"))

	key, sheet := pairSource(env)
	pairs, err := env.read(ctx, key, sheet)
	if err != nil {
		return Outcome{}, err
	}
	bribes, err := env.read(ctx, "gsheets.bribe_data_sheet_key", env.Config.Sheets.Bribes)
	if err != nil {
		return Outcome{}, err
	}
	emissions, err := env.read(ctx, "gsheets.emissions_data_sheet_key", env.Config.Sheets.Emissions)
	if err != nil {
		return Outcome{}, err
	}

	ids, err := env.identifiers()
	if err != nil {
		if !errors.Is(err, config.ErrMissingKey) {
			return Outcome{}, err
		}
		logger.Warn("identifier table not configured, pool names are not consolidated", zap.Error(err))
	}

	table, latest := revenueTable(pairs, bribes, emissions, ids)
	logger.Info("revenue computed", zap.Int("rows", table.Len()), zap.Int("dropped_epoch", latest))
	if err := fetcher.RequireRows("revenue", table.Len()); err != nil {
		return Outcome{}, err
	}
	res, err := env.rewrite(ctx, "revenue", "gsheets.revenue_data_sheet_key", env.Config.Sheets.Revenue, table)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Epoch: latest - 1, Rows: res.Appended}, nil
}

// revenueTable outer-joins fees, bribes, next-epoch bribes and emissions on
// (epoch, name). Fees are keyed by algebra_name when the pair table has it, and
// every name goes through poolNames. The latest epoch is incomplete and left
// out; it is returned.
func revenueTable(pairs, bribes, emissions model.Table, ids []model.Identifier) (model.Table, int) {
	rows := map[revenueKey]*revenueRow{}
	get := func(k revenueKey) *revenueRow {
		r, ok := rows[k]
		if !ok {
			r = &revenueRow{}
			rows[k] = r
		}
		return r
	}
	rename := poolNames(ids)

	eachRow(pairs, []string{"algebra_name", "name"}, rename, func(k revenueKey, cell func(string) decimal.Decimal) {
		r := get(k)
		r.fee = r.fee.Add(cell("fee"))
	})
	eachRow(bribes, []string{"name"}, rename, func(k revenueKey, cell func(string) decimal.Decimal) {
		amount := cell("bribe_amount")
		r := get(k)
		r.bribe = r.bribe.Add(amount)
		next := get(revenueKey{epoch: k.epoch + 1, name: k.name})
		next.offset = next.offset.Add(amount)
	})
	eachRow(emissions, []string{"name"}, rename, func(k revenueKey, cell func(string) decimal.Decimal) {
		r := get(k)
		r.weight = r.weight.Add(cell("voteweight"))
		r.emissions = r.emissions.Add(cell("emissions"))
		r.value = r.value.Add(cell("value"))
		if r.govPrice.IsZero() {
			r.govPrice = cell(GovPriceColumn)
		}
	})

	keys := make([]revenueKey, 0, len(rows))
	latest := 0
	for k := range rows {
		keys = append(keys, k)
		if len(keys) == 1 || k.epoch > latest {
			latest = k.epoch
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].epoch != keys[j].epoch {
			return keys[i].epoch < keys[j].epoch
		}
		return keys[i].name < keys[j].name
	})

	table := model.NewTable(revenueHeader...)
	for _, k := range keys {
		if k.epoch == latest {
			continue
		}
		r := rows[k]
		table.Append(
			k.epoch,
			k.name,
			r.fee.InexactFloat64(),
			r.bribe.InexactFloat64(),
			r.fee.Add(r.bribe).InexactFloat64(),
			r.offset.InexactFloat64(),
			r.weight.InexactFloat64(),
			r.emissions.InexactFloat64(),
			r.value.InexactFloat64(),
			r.govPrice.InexactFloat64(),
		)
	}
	return table, latest
}

// poolNames maps an identifier name to the pool it is reported under: the
// algebra name registered for it (else the name itself), cut to its first word
// unless it is a v1 pair.
func poolNames(ids []model.Identifier) func(string) string {
	consolidated := make(map[string]string, len(ids))
	for _, id := range ids {
		if id.AlgebraName != "" {
			consolidated[id.Name] = id.AlgebraName
		}
	}
	return func(name string) string {
		if n, ok := consolidated[name]; ok {
			name = n
		}
		if strings.HasPrefix(name, "vAMM") || strings.HasPrefix(name, "sAMM") {
			return name
		}
		if fields := strings.Fields(name); len(fields) > 0 {
			return fields[0]
		}
		return name
	}
}

// eachRow visits rows that carry an epoch and a name. The name is the first
// non-empty value among nameColumns, passed through rename.
func eachRow(t model.Table, nameColumns []string, rename func(string) string, fn func(k revenueKey, cell func(string) decimal.Decimal)) {
	epochCol := t.Column("epoch")
	if epochCol < 0 {
		return
	}
	cols := make([]int, 0, len(nameColumns))
	for _, c := range nameColumns {
		if idx := t.Column(c); idx >= 0 {
			cols = append(cols, idx)
		}
	}
	if len(cols) == 0 {
		return
	}
	for i := range t.Rows {
		n, ok := model.CellInt(t.Cell(i, epochCol))
		if !ok {
			continue
		}
		name := ""
		for _, c := range cols {
			if name = model.CellString(t.Cell(i, c)); name != "" {
				break
			}
		}
		if name == "" {
			continue
		}
		row := i
		fn(revenueKey{epoch: int(n), name: rename(name)}, func(column string) decimal.Decimal {
			return model.CellDecimal(t.Cell(row, t.Column(column)))
		})
	}
}
