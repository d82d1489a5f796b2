package subgraph

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"epochsync/internal/fetcher"
)

// Number decodes subgraph numerics, which arrive as JSON strings or numbers.
type Number struct {
	decimal.Decimal
}

func (n *Number) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		n.Decimal = decimal.Zero
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			n.Decimal = decimal.Zero
			return nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("number %q: %w", s, err)
		}
		n.Decimal = d
		return nil
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return fmt.Errorf("number %s: %w", b, err)
	}
	n.Decimal = d
	return nil
}

// Int64 returns the integer part.
func (n Number) Int64() int64 {
	return n.IntPart()
}

// PairDayData is one daily snapshot of a v1 pair.
type PairDayData struct {
	ID                string `json:"id"`
	Date              Number `json:"date"`
	DailyVolumeToken0 Number `json:"dailyVolumeToken0"`
	DailyVolumeToken1 Number `json:"dailyVolumeToken1"`
	DailyVolumeUSD    Number `json:"dailyVolumeUSD"`
	ReserveUSD        Number `json:"reserveUSD"`
	Typename          string `json:"__typename"`
}

// DayData is one protocol-wide v1 daily snapshot.
type DayData struct {
	ID                string `json:"id"`
	Date              Number `json:"date"`
	TotalVolumeUSD    Number `json:"totalVolumeUSD"`
	DailyVolumeUSD    Number `json:"dailyVolumeUSD"`
	DailyVolumeETH    Number `json:"dailyVolumeETH"`
	TotalLiquidityUSD Number `json:"totalLiquidityUSD"`
	TotalLiquidityETH Number `json:"totalLiquidityETH"`
	Typename          string `json:"__typename"`
}

// FusionDayData is one protocol-wide concentrated-liquidity daily snapshot.
type FusionDayData struct {
	ID        string `json:"id"`
	Date      Number `json:"date"`
	VolumeUSD Number `json:"volumeUSD"`
	FeesUSD   Number `json:"feesUSD"`
	TvlUSD    Number `json:"tvlUSD"`
	Typename  string `json:"__typename"`
}

// LiquidityEvent is a mint or burn.
type LiquidityEvent struct {
	ID        string `json:"id"`
	Timestamp Number `json:"timestamp"`
	AmountUSD Number `json:"amountUSD"`
}

// PageSize is the subgraph page size used for offset pagination.
const PageSize = 100

// PairDayDatas fetches daily snapshots of pair since start.
func (c *Client) PairDayDatas(ctx context.Context, q Query, pair string, start int64) ([]PairDayData, error) {
	var out []PairDayData
	err := c.Fetch(ctx, q, map[string]any{"pairAddress": pair, "startTime": start}, "pairDayDatas", &out)
	return out, err
}

// DayDatas fetches v1 protocol snapshots since start.
func (c *Client) DayDatas(ctx context.Context, q Query, start int64) ([]DayData, error) {
	var out []DayData
	err := c.Fetch(ctx, q, map[string]any{"startTime": start}, "dayDatas", &out)
	return out, err
}

// FusionDayDatas fetches concentrated-liquidity protocol snapshots since start.
func (c *Client) FusionDayDatas(ctx context.Context, q Query, start int64) ([]FusionDayData, error) {
	var out []FusionDayData
	err := c.Fetch(ctx, q, map[string]any{"startTime": start}, "fusionDayData", &out)
	return out, err
}

// LiquidityEvents pages through the mints or burns of one pool.
// container is the top-level field ("pairs" or "pools"), events is "mints" or "burns",
// and addressVar names the pool variable of the query.
func (c *Client) LiquidityEvents(ctx context.Context, q Query, container, events, addressVar, pool string, start int64) ([]LiquidityEvent, error) {
	return fetcher.Paginate(ctx, PageSize, 0, func(ctx context.Context, skip int) ([]LiquidityEvent, error) {
		var holders []map[string]json.RawMessage
		vars := map[string]any{addressVar: pool, "startTime": start, "skip": skip}
		if err := c.Fetch(ctx, q, vars, container, &holders); err != nil {
			return nil, err
		}
		if len(holders) == 0 {
			return nil, nil
		}
		raw, ok := holders[0][events]
		if !ok {
			return nil, nil
		}
		var page []LiquidityEvent
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decode %s: %w", events, err)
		}
		return page, nil
	})
}
