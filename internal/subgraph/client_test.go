package subgraph

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeRequest(t *testing.T, r *http.Request) request {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var req request
	require.NoError(t, json.Unmarshal(body, &req))
	return req
}

func TestFetchMergesVariablesAndResolvesKey(t *testing.T) {
	var gotPath string
	var got request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		got = decodeRequest(t, r)
		_, _ = io.WriteString(w, `{"data":{"pairDayDatas":[{"id":"p-1","date":1704326400,"dailyVolumeUSD":"1000.5","reserveUSD":"20000","__typename":"PairDayData"}]}}`)
	}))
	defer server.Close()

	client := NewClient([]string{server.URL + "/api/[api-key]/subgraphs"}, "secret", time.Second, zap.NewNop())
	q := Query{Text: "query Pair($pairAddress: String!)", Variables: map[string]any{"first": 1000, "pairAddress": "old"}}

	rows, err := client.PairDayDatas(context.Background(), q, "0xabc", 1704067200)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(1704326400), rows[0].Date.Int64())
	require.Equal(t, "1000.5", rows[0].DailyVolumeUSD.String())

	require.Equal(t, "/api/secret/subgraphs", gotPath)
	require.Equal(t, q.Text, got.Query)
	require.Equal(t, "0xabc", got.Variables["pairAddress"])
	require.EqualValues(t, 1000, got.Variables["first"])
	require.EqualValues(t, 1704067200, got.Variables["startTime"])
	require.Equal(t, "old", q.Variables["pairAddress"])
}

func TestFetchFallsBackOnErrors(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	graphErr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"errors":[{"message":"indexer unavailable"}]}`)
	}))
	defer graphErr.Close()
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"dayDatas":[{"id":"d-1","date":"1704326400","dailyVolumeUSD":"5"}]}}`)
	}))
	defer ok.Close()

	client := NewClient([]string{failing.URL, graphErr.URL, ok.URL}, "", time.Second, zap.NewNop())
	rows, err := client.DayDatas(context.Background(), Query{Text: "q"}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "d-1", rows[0].ID)

	single := NewClient([]string{graphErr.URL}, "", time.Second, zap.NewNop())
	_, err = single.DayDatas(context.Background(), Query{Text: "q"}, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "indexer unavailable")
}

func TestFetchRejectsUnresolvedKey(t *testing.T) {
	client := NewClient([]string{"https://gateway.example/api/[api-key]/x"}, "", time.Second, zap.NewNop())
	_, err := client.DayDatas(context.Background(), Query{Text: "q"}, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "api key")
}

func TestLiquidityEventsPaginates(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		req := decodeRequest(t, r)
		skip := int(req.Variables["skip"].(float64))
		var events []string
		if skip < 200 {
			for i := 0; i < PageSize; i++ {
				events = append(events, fmt.Sprintf(`{"id":"m-%d","timestamp":"1704326400","amountUSD":"1.5"}`, skip+i))
			}
		}
		fmt.Fprintf(w, `{"data":{"pairs":[{"mints":[%s]}]}}`, strings.Join(events, ","))
	}))
	defer server.Close()

	client := NewClient([]string{server.URL}, "", time.Second, zap.NewNop())
	events, err := client.LiquidityEvents(context.Background(), Query{Text: "q"}, "pairs", "mints", "pairAddress", "0xabc", 0)
	require.NoError(t, err)
	require.Len(t, events, 200)
	require.Equal(t, "m-199", events[199].ID)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestLiquidityEventsEmptyContainer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"pools":[]}}`)
	}))
	defer server.Close()

	client := NewClient([]string{server.URL}, "", time.Second, zap.NewNop())
	events, err := client.LiquidityEvents(context.Background(), Query{Text: "q"}, "pools", "burns", "poolAddress", "0xabc", 0)
	require.NoError(t, err)
	require.Empty(t, events)
}
