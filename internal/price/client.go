package price

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"epochsync/internal/transform"
)

// Token is one entry of the price API. Price and Decimals stay unset when the API omits them or sends null.
type Token struct {
	Name     string              `json:"name"`
	Address  string              `json:"address"`
	Price    decimal.NullDecimal `json:"price"`
	Decimals *int32              `json:"decimals"`
}

// Quotable reports whether the token carries an address, a price and decimals.
func (t Token) Quotable() bool {
	return t.Address != "" && t.Price.Valid && t.Decimals != nil
}

// Pool is one entry of the pools API.
type Pool struct {
	Symbol  string `json:"symbol"`
	Type    string `json:"type"`
	Address string `json:"address"`
}

// IsV1 reports whether the pool is a volatile or stable v1 pair.
func (p Pool) IsV1() bool {
	return strings.EqualFold(p.Type, "Volatile") || strings.EqualFold(p.Type, "Stable")
}

type envelope[T any] struct {
	Data []T `json:"data"`
}

// Client reads token prices and pool lists.
type Client struct {
	http *resty.Client
}

// NewClient returns a client with the given request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{http: resty.New().
		SetTimeout(timeout).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)}
}

// Tokens fetches the raw token list.
func (c *Client) Tokens(ctx context.Context, url string) ([]Token, error) {
	return get[Token](ctx, c.http, url)
}

// Book fetches the token list and indexes it by address.
func (c *Client) Book(ctx context.Context, url string) (*transform.PriceBook, error) {
	tokens, err := c.Tokens(ctx, url)
	if err != nil {
		return nil, err
	}
	return BookFromTokens(tokens), nil
}

// BookFromTokens indexes tokens by address. Later duplicates win.
// Tokens without a price or decimals are left out so lookups for them miss.
func BookFromTokens(tokens []Token) *transform.PriceBook {
	book := transform.NewPriceBook()
	for _, t := range tokens {
		if !t.Quotable() {
			continue
		}
		book.Set(t.Address, transform.Quote{Name: t.Name, Price: t.Price.Decimal, Decimals: *t.Decimals})
	}
	return book
}

// Pools fetches the pool list.
func (c *Client) Pools(ctx context.Context, url string) ([]Pool, error) {
	return get[Pool](ctx, c.http, url)
}

func get[T any](ctx context.Context, http *resty.Client, url string) ([]T, error) {
	var out envelope[T]
	resp, err := http.R().SetContext(ctx).SetResult(&out).Get(url)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get %s: status %d", url, resp.StatusCode())
	}
	return out.Data, nil
}
