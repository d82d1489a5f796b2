package model

import "github.com/shopspring/decimal"

// MetricRow is one computed value per (name, epoch).
type MetricRow struct {
	Name   string
	Epoch  int
	Amount decimal.Decimal
}

// Values renders the row in the persisted column order: name, amount, epoch.
func (m MetricRow) Values() []any {
	return []any{m.Name, m.Amount.InexactFloat64(), m.Epoch}
}

// MetricTable renders metric rows under the given amount column name.
func MetricTable(amountColumn string, rows []MetricRow) Table {
	t := NewTable("name", amountColumn, "epoch")
	for _, r := range rows {
		t.Append(r.Values()...)
	}
	return t
}
