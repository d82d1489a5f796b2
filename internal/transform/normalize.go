package transform

import (
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"epochsync/internal/model"
)

// RawAmount is one fetched token amount attributed to a pool name.
type RawAmount struct {
	Name  string
	Token string
	Raw   *big.Int
}

// Amount is a RawAmount converted to the reference currency.
type Amount struct {
	Name    string
	Token   string
	Value   decimal.Decimal
	Missing bool
}

// Normalize returns raw × price / 10^decimals.
// A missing quote contributes zero and sets Missing.
func Normalize(raw RawAmount, book *PriceBook) Amount {
	out := Amount{Name: raw.Name, Token: raw.Token, Value: decimal.Zero}
	q, ok := book.Lookup(raw.Token)
	if !ok || raw.Raw == nil {
		out.Missing = !ok
		return out
	}
	out.Value = decimal.NewFromBigInt(raw.Raw, 0).Mul(q.Price).Shift(-q.Decimals)
	return out
}

// NormalizeAll converts every raw amount and reports how many had no quote.
func NormalizeAll(raws []RawAmount, book *PriceBook) ([]Amount, int) {
	out := make([]Amount, 0, len(raws))
	missing := 0
	for _, r := range raws {
		a := Normalize(r, book)
		if a.Missing {
			missing++
		}
		out = append(out, a)
	}
	return out, missing
}

// GroupSum sums amounts per name and stamps the epoch. Rows are ordered by name.
func GroupSum(amounts []Amount, epoch int) []model.MetricRow {
	sums := make(map[string]decimal.Decimal)
	for _, a := range amounts {
		sums[a.Name] = sums[a.Name].Add(a.Value)
	}
	names := make([]string, 0, len(sums))
	for name := range sums {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]model.MetricRow, 0, len(names))
	for _, name := range names {
		out = append(out, model.MetricRow{Name: name, Epoch: epoch, Amount: sums[name]})
	}
	return out
}
