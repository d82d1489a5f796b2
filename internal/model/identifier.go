package model

import (
	"fmt"
	"strings"
)

// ZeroAddress marks a missing dependent contract in the identifier table.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Identifier is one tracked pool with its dependent contracts.
type Identifier struct {
	Name    string
	Address string
	Type    string
	Gauge   string
	Bribe   string
	Fee     string

	// AlgebraPool and AlgebraName identify the concentrated-liquidity pool behind a gauge, if any.
	AlgebraPool string
	AlgebraName string
}

// HasContract reports whether addr is set and not the zero address.
func HasContract(addr string) bool {
	addr = strings.TrimSpace(addr)
	return addr != "" && !strings.EqualFold(addr, ZeroAddress)
}

// IdentifiersFromTable reads the identifier table columns name, address, type, gauges, bribe_ca, fee_ca,
// algebra_pool and algebra_name. Only name and address are required.
func IdentifiersFromTable(t Table) ([]Identifier, error) {
	nameCol := t.Column("name")
	addrCol := t.Column("address")
	if nameCol < 0 || addrCol < 0 {
		return nil, fmt.Errorf("identifier table requires name and address columns")
	}
	typeCol := t.Column("type")
	gaugeCol := t.Column("gauges")
	bribeCol := t.Column("bribe_ca")
	feeCol := t.Column("fee_ca")
	algebraPoolCol := t.Column("algebra_pool")
	algebraNameCol := t.Column("algebra_name")

	out := make([]Identifier, 0, t.Len())
	for i := range t.Rows {
		id := Identifier{
			Name:    CellString(t.Cell(i, nameCol)),
			Address: CellString(t.Cell(i, addrCol)),
			Type:    CellString(t.Cell(i, typeCol)),
			Gauge:   CellString(t.Cell(i, gaugeCol)),
			Bribe:   CellString(t.Cell(i, bribeCol)),
			Fee:     CellString(t.Cell(i, feeCol)),

			AlgebraPool: CellString(t.Cell(i, algebraPoolCol)),
			AlgebraName: CellString(t.Cell(i, algebraNameCol)),
		}
		if id.Name == "" {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
