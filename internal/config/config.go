package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"epochsync/internal/epoch"
	"epochsync/internal/subgraph"
)

// ErrMissingKey marks a required configuration key that is absent or blank.
var ErrMissingKey = errors.New("missing config key")

// Missing wraps ErrMissingKey with the key name.
func Missing(key string) error {
	return fmt.Errorf("%s: %w", key, ErrMissingKey)
}

// Queries holds the GraphQL templates, keyed like the YAML file.
type Queries struct {
	PairData      subgraph.Query
	DayData       subgraph.Query
	DayDataFusion subgraph.Query
	V1Mint        subgraph.Query
	V1Burn        subgraph.Query
	CLMint        subgraph.Query
	CLBurn        subgraph.Query
}

// Files are local reference inputs and outputs.
type Files struct {
	IDData      string
	EpochData   string
	SnapshotDir string
	Journal     string
}

// Sheets are spreadsheet keys per persisted table.
type Sheets struct {
	Worksheet     string
	Bribes        string
	Fees          string
	Emissions     string
	Pairs         string
	PairsCombined string
	Days          string
	DaysFusion    string
	DaysCombined  string
	TVL           string
	FeeTVL        string
	Revenue       string
}

// Delta are lookback windows in days.
type Delta struct {
	PairData   int
	DayData    int
	FusionData int
	TVLData    int
}

// Timeouts bound each remote call.
type Timeouts struct {
	RPC      time.Duration
	Subgraph time.Duration
	Price    time.Duration
}

// Lock selects the mutual-exclusion backend.
type Lock struct {
	Backend string
	Prefix  string
	TTL     time.Duration
}

// Secrets come from the process environment only.
type Secrets struct {
	GKey     string
	GraphKey string
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	LogLevel string
	LogDir   string
	DryRun   bool

	Subgraphs       []string
	FusionSubgraphs []string
	Queries         Queries

	ProviderURLs []string
	BribeABI     string
	GaugeABI     string

	PriceAPI  string
	FusionAPI string

	Files    Files
	Sheets   Sheets
	Delta    Delta
	Anchor   time.Weekday
	Timeouts Timeouts

	ReconcileAttempts int
	ReconcileDelay    time.Duration

	FeeRates    map[string]float64
	Concurrency int
	SkipPools   []string
	GovToken    string

	PGDSN     string
	RedisAddr string
	Lock      Lock
	Schedule  map[string]string

	Secrets Secrets
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EPOCHSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("secrets.gkey", "GKEY")
	_ = v.BindEnv("secrets.graph_key", "GRAPH_KEY")

	v.SetDefault("log-level", "info")
	v.SetDefault("log-dir", "logs")
	v.SetDefault("epoch.anchor", "thursday")
	v.SetDefault("gsheets.worksheet", "Master")
	v.SetDefault("delta.pair_data", 30)
	v.SetDefault("delta.day_data", 10)
	v.SetDefault("delta.fusion_data", 10)
	v.SetDefault("delta.tvl_data", 10)
	v.SetDefault("timeouts.rpc", 5*time.Second)
	v.SetDefault("timeouts.subgraph", 5*time.Second)
	v.SetDefault("timeouts.price", 30*time.Second)
	v.SetDefault("reconcile.attempts", 3)
	v.SetDefault("reconcile.delay", 30*time.Second)
	v.SetDefault("concurrency", 4)
	v.SetDefault("emissions.gov_token", "THENA")
	v.SetDefault("lock.backend", "none")
	v.SetDefault("lock.prefix", "epochsync:lock:")
	v.SetDefault("lock.ttl", 30*time.Minute)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("params")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	anchor, err := epoch.ParseWeekday(v.GetString("epoch.anchor"))
	if err != nil {
		return Config{}, fmt.Errorf("epoch.anchor: %w", err)
	}

	queries, err := loadQueries(v)
	if err != nil {
		return Config{}, err
	}
	bribeABI, err := getJSONText(v, "web3.bribe_abi")
	if err != nil {
		return Config{}, err
	}
	gaugeABI, err := getJSONText(v, "web3.gauge_abi")
	if err != nil {
		return Config{}, err
	}

	providers := getStringSlice(v, "web3.provider_url")
	providers = appendUnique(providers, getStringSlice(v, "web3.provider_urls")...)

	cfg := Config{
		LogLevel: v.GetString("log-level"),
		LogDir:   v.GetString("log-dir"),
		DryRun:   v.GetBool("dry-run"),

		Subgraphs:       getStringSlice(v, "query.subgraph"),
		FusionSubgraphs: getStringSlice(v, "query.fusion_subgraph"),
		Queries:         queries,

		ProviderURLs: providers,
		BribeABI:     bribeABI,
		GaugeABI:     gaugeABI,

		PriceAPI:  v.GetString("api.price_api"),
		FusionAPI: v.GetString("api.fusion_api"),

		Files: Files{
			IDData:      v.GetString("files.id_data"),
			EpochData:   v.GetString("files.epoch_data"),
			SnapshotDir: v.GetString("files.snapshot_dir"),
			Journal:     v.GetString("files.journal"),
		},
		Sheets: Sheets{
			Worksheet:     v.GetString("gsheets.worksheet"),
			Bribes:        v.GetString("gsheets.bribe_data_sheet_key"),
			Fees:          v.GetString("gsheets.fee_data_sheet_key"),
			Emissions:     v.GetString("gsheets.emissions_data_sheet_key"),
			Pairs:         v.GetString("gsheets.pair_data_sheet_key"),
			PairsCombined: v.GetString("gsheets.pair_data_combined_sheet_key"),
			Days:          v.GetString("gsheets.daily_data_sheet_key"),
			DaysFusion:    v.GetString("gsheets.daily_data_fusion_sheet_key"),
			DaysCombined:  v.GetString("gsheets.daily_data_combined_sheet_key"),
			TVL:           v.GetString("gsheets.tvl_data_sheet_key"),
			FeeTVL:        v.GetString("gsheets.fee_tvl_data_sheet_key"),
			Revenue:       v.GetString("gsheets.revenue_data_sheet_key"),
		},
		Delta: Delta{
			PairData:   v.GetInt("delta.pair_data"),
			DayData:    v.GetInt("delta.day_data"),
			FusionData: v.GetInt("delta.fusion_data"),
			TVLData:    v.GetInt("delta.tvl_data"),
		},
		Anchor: anchor,
		Timeouts: Timeouts{
			RPC:      v.GetDuration("timeouts.rpc"),
			Subgraph: v.GetDuration("timeouts.subgraph"),
			Price:    v.GetDuration("timeouts.price"),
		},

		ReconcileAttempts: v.GetInt("reconcile.attempts"),
		ReconcileDelay:    v.GetDuration("reconcile.delay"),

		FeeRates:    getFloatMap(v, "fee_rates"),
		Concurrency: v.GetInt("concurrency"),
		SkipPools:   getStringSlice(v, "tvl.skip_pools"),
		GovToken:    v.GetString("emissions.gov_token"),

		PGDSN:     v.GetString("pg-dsn"),
		RedisAddr: v.GetString("redis-addr"),
		Lock: Lock{
			Backend: strings.ToLower(v.GetString("lock.backend")),
			Prefix:  v.GetString("lock.prefix"),
			TTL:     v.GetDuration("lock.ttl"),
		},
		Schedule: v.GetStringMapString("schedule"),

		Secrets: Secrets{
			GKey:     v.GetString("secrets.gkey"),
			GraphKey: v.GetString("secrets.graph_key"),
		},
	}

	return cfg, nil
}

// Worksheet returns the sheet name tables live in.
func (c Config) Worksheet() string {
	if c.Sheets.Worksheet == "" {
		return "Master"
	}
	return c.Sheets.Worksheet
}

func loadQueries(v *viper.Viper) (Queries, error) {
	var q Queries
	targets := map[string]*subgraph.Query{
		"query.pair_data_query":       &q.PairData,
		"query.day_data_query":        &q.DayData,
		"query.day_data_fusion_query": &q.DayDataFusion,
		"query.v1_mint_query":         &q.V1Mint,
		"query.v1_burn_query":         &q.V1Burn,
		"query.cl_mint_query":         &q.CLMint,
		"query.cl_burn_query":         &q.CLBurn,
	}
	for key, target := range targets {
		if !v.IsSet(key) {
			continue
		}
		if err := v.UnmarshalKey(key, target); err != nil {
			return Queries{}, fmt.Errorf("%s: %w", key, err)
		}
	}
	return q, nil
}

// getJSONText returns a string value as is, or re-encodes structured YAML as JSON.
func getJSONText(v *viper.Viper, key string) (string, error) {
	if !v.IsSet(key) {
		return "", nil
	}
	switch typed := v.Get(key).(type) {
	case string:
		return typed, nil
	default:
		b, err := json.Marshal(typed)
		if err != nil {
			return "", fmt.Errorf("%s: %w", key, err)
		}
		return string(b), nil
	}
}

func getFloatMap(v *viper.Viper, key string) map[string]float64 {
	raw := v.GetStringMap(key)
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k := range raw {
		out[k] = v.GetFloat64(key + "." + k)
	}
	return out
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func appendUnique(items []string, more ...string) []string {
	seen := make(map[string]struct{}, len(items)+len(more))
	out := make([]string, 0, len(items)+len(more))
	for _, item := range append(items, more...) {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
