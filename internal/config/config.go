package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of named options recognized by the trader.
type Config struct {
	RunMode       string `yaml:"run_mode"`       // paper | scanner
	ExecutionMode string `yaml:"execution_mode"` // paper | shadow
	LogLevel      string `yaml:"log_level"`

	LoopMs             int64         `yaml:"loop_ms"`
	EvalIntervalSecs   int64         `yaml:"eval_interval_secs"`
	MarketRefreshSecs  int64         `yaml:"market_refresh_secs"`
	SnapshotIntervalMs int64         `yaml:"snapshot_interval_ms"`
	BasketArbSecs      int64         `yaml:"basket_arb_secs"`
	PollInterval       time.Duration `yaml:"poll_interval"`

	Selector SelectorConfig `yaml:"selector"`
	Risk     RiskConfig     `yaml:"risk"`
	Strategy StrategyConfig `yaml:"strategy"`
	Paper    PaperConfig    `yaml:"paper"`
	API      APIConfig      `yaml:"api"`
	Venue    VenueConfig    `yaml:"venue"`
}

// VenueConfig names the endpoints and request limits internal/venue uses
// for market discovery, REST polling, and the streaming feed.
type VenueConfig struct {
	GammaBaseURL      string        `yaml:"gamma_base_url"`
	CLOBBaseURL       string        `yaml:"clob_base_url"`
	WSURL             string        `yaml:"ws_url"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
}

// SelectorConfig controls market eligibility and watchlist sizing.
type SelectorConfig struct {
	TopNMarkets          int     `yaml:"top_n_markets"`
	MaxMarketsSubscribed int     `yaml:"max_markets_subscribed"`
	Min24hVolumeUSD      float64 `yaml:"min_24h_volume_usd"`
	MinLiquidityUSD      float64 `yaml:"min_liquidity_usd"`
	MinSpreadBps         float64 `yaml:"min_spread_bps"`
	MinUpdatesMin        float64 `yaml:"min_updates_min"`
	CandidatePageCap     int     `yaml:"candidate_page_cap"`
}

// RiskConfig drives the risk gate and the execution cost model.
type RiskConfig struct {
	FeesBps            float64 `yaml:"fees_bps"`
	SlippageBps        float64 `yaml:"slippage_bps"`
	LatencyBps         float64 `yaml:"latency_bps"`
	MaxFeedLagSecs     float64 `yaml:"max_feed_lag_secs"`
	RejectFeedLagMs    float64 `yaml:"reject_feed_lag_ms"`
	RejectAbsImbalance float64 `yaml:"reject_abs_imbalance"`
	MaxInventoryUSD    float64 `yaml:"max_inventory_usd"`
}

// StrategyConfig drives the fair-value and quote-grid computation.
type StrategyConfig struct {
	PriceTick          float64 `yaml:"price_tick"`
	MMQuoteWidth       float64 `yaml:"mm_quote_width"`
	MMLevels           int     `yaml:"mm_levels"`
	MMMinQuoteLifeSecs float64 `yaml:"mm_min_quote_life_secs"`
	MMRepriceThreshold float64 `yaml:"mm_reprice_threshold"`
	InventorySkewCap   float64 `yaml:"inventory_skew_cap"`
	BaseOrderSize      float64 `yaml:"base_order_size"`
}

// PaperConfig drives the paper broker's fill simulator and startup policy.
type PaperConfig struct {
	FillModel           string  `yaml:"paper_fill_model"` // must be "maker_touch"
	MinRestSecs         float64 `yaml:"paper_min_rest_secs"`
	PoissonLambdaPerSec float64 `yaml:"paper_poisson_lambda_per_sec"`
	FaultRate           float64 `yaml:"paper_fault_rate"`
	NonAtomicFailRate   float64 `yaml:"paper_non_atomic_fail_rate"`
	RehydratePortfolio  bool    `yaml:"paper_rehydrate_portfolio"`
	ResetOnStart        bool    `yaml:"paper_reset_on_start"`
	RandomSeed          int64   `yaml:"random_seed"`
}

// APIConfig controls the dashboard/metrics HTTP surface.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		RunMode:            "paper",
		ExecutionMode:      "paper",
		LogLevel:           "info",
		LoopMs:             250,
		EvalIntervalSecs:   60,
		MarketRefreshSecs:  120,
		SnapshotIntervalMs: 1000,
		BasketArbSecs:      5,
		PollInterval:       15 * time.Second,
		Selector: SelectorConfig{
			TopNMarkets:          20,
			MaxMarketsSubscribed: 30,
			Min24hVolumeUSD:      2000,
			MinLiquidityUSD:      2000,
			MinSpreadBps:         20,
			MinUpdatesMin:        1,
			CandidatePageCap:     500,
		},
		Risk: RiskConfig{
			FeesBps:            0,
			SlippageBps:        10,
			LatencyBps:         5,
			MaxFeedLagSecs:     30,
			RejectFeedLagMs:    3000,
			RejectAbsImbalance: 0.9,
			MaxInventoryUSD:    100,
		},
		Strategy: StrategyConfig{
			PriceTick:          0.001,
			MMQuoteWidth:       0.02,
			MMLevels:           5,
			MMMinQuoteLifeSecs: 2,
			MMRepriceThreshold: 0.002,
			InventorySkewCap:   0.01,
			BaseOrderSize:      10,
		},
		Paper: PaperConfig{
			FillModel:           "maker_touch",
			MinRestSecs:         0.5,
			PoissonLambdaPerSec: 2,
			FaultRate:           0.01,
			NonAtomicFailRate:   0.01,
			RehydratePortfolio:  true,
			ResetOnStart:        false,
			RandomSeed:          1,
		},
		API: APIConfig{
			Enabled: true,
			Addr:    ":8090",
		},
		Venue: VenueConfig{
			GammaBaseURL:      "https://gamma-api.polymarket.com",
			CLOBBaseURL:       "https://clob.polymarket.com",
			WSURL:             "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			RequestsPerSecond: 5,
			Burst:             10,
			Timeout:           10 * time.Second,
		},
	}
}

// LoadFile reads a YAML config file, overlaying it onto the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays a small set of environment variables onto cfg, mirroring
// the teacher's env-override convention.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("SPREADKEEPER_RUN_MODE")); v != "" {
		c.RunMode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("SPREADKEEPER_EXECUTION_MODE")); v != "" {
		c.ExecutionMode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("SPREADKEEPER_API_ADDR")); v != "" {
		c.API.Addr = v
	}
}

// CostBps is the modelled round-trip execution cost used by the risk gate's
// profit floor and the basket-arb edge threshold. The broker's per-fill cost
// deduction uses only the slippage and latency parts.
func (c Config) CostBps() float64 {
	return c.Risk.FeesBps + c.Risk.SlippageBps + c.Risk.LatencyBps
}

// MinProfitableSpreadBps is 1.5x the modelled round-trip cost.
func (c Config) MinProfitableSpreadBps() float64 {
	return 1.5 * c.CostBps()
}
