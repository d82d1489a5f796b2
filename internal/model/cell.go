package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CellString renders a cell value as text.
func CellString(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case decimal.Decimal:
		return typed.String()
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", typed))
	}
}

// CellInt parses a cell as an integer. Spreadsheet numbers arrive as float64.
func CellInt(v any) (int64, bool) {
	switch typed := v.(type) {
	case int:
		return int64(typed), true
	case int64:
		return typed, true
	case float64:
		return int64(typed), true
	}
	text := strings.ReplaceAll(CellString(v), ",", "")
	if text == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, true
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, false
	}
	return d.IntPart(), true
}

// CellDecimal parses a cell as a decimal; blanks and garbage are zero.
func CellDecimal(v any) decimal.Decimal {
	switch typed := v.(type) {
	case decimal.Decimal:
		return typed
	case float64:
		return decimal.NewFromFloat(typed)
	case int:
		return decimal.NewFromInt(int64(typed))
	case int64:
		return decimal.NewFromInt(typed)
	}
	text := strings.ReplaceAll(CellString(v), ",", "")
	if text == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// sheetsEpoch is day zero of spreadsheet serial dates.
var sheetsEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var dateLayouts = []string{"2006-01-02", "02-01-2006", "1/2/2006", "2006-01-02 15:04:05", time.RFC3339}

// CellTime parses a date cell: ISO and legacy text layouts, or a spreadsheet serial day number.
func CellTime(v any) (time.Time, bool) {
	switch typed := v.(type) {
	case time.Time:
		return typed.UTC(), true
	case float64:
		return sheetsEpoch.Add(time.Duration(typed * float64(24*time.Hour))), true
	}
	text := CellString(v)
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if tm, err := time.Parse(layout, text); err == nil {
			return tm.UTC(), true
		}
	}
	return time.Time{}, false
}
