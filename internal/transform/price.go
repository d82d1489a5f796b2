package transform

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Quote is the unit price and decimals of one token.
type Quote struct {
	Name     string
	Price    decimal.Decimal
	Decimals int32
}

// PriceBook maps token addresses to quotes. Address keys are case-insensitive.
type PriceBook struct {
	byAddress map[string]Quote
}

// NewPriceBook returns an empty book.
func NewPriceBook() *PriceBook {
	return &PriceBook{byAddress: make(map[string]Quote)}
}

// Set stores q under address, replacing any earlier quote.
func (b *PriceBook) Set(address string, q Quote) {
	b.byAddress[normalizeAddress(address)] = q
}

// Lookup returns the quote for address.
func (b *PriceBook) Lookup(address string) (Quote, bool) {
	if b == nil {
		return Quote{}, false
	}
	q, ok := b.byAddress[normalizeAddress(address)]
	return q, ok
}

// ByName returns the first quote whose token name matches, ignoring case.
func (b *PriceBook) ByName(name string) (Quote, bool) {
	if b == nil {
		return Quote{}, false
	}
	for _, q := range b.byAddress {
		if strings.EqualFold(q.Name, name) {
			return q, true
		}
	}
	return Quote{}, false
}

// Len returns the number of quoted tokens.
func (b *PriceBook) Len() int {
	if b == nil {
		return 0
	}
	return len(b.byAddress)
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
