package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Default()
	if cfg.RunMode != "paper" {
		t.Fatalf("expected run_mode=paper by default, got %q", cfg.RunMode)
	}
	if cfg.ExecutionMode != "paper" {
		t.Fatalf("expected execution_mode=paper by default, got %q", cfg.ExecutionMode)
	}
	if cfg.Strategy.PriceTick <= 0 {
		t.Fatal("expected positive price_tick")
	}
	if cfg.Strategy.MMLevels <= 0 {
		t.Fatal("expected positive mm_levels")
	}
	if cfg.Paper.FillModel != "maker_touch" {
		t.Fatalf("expected paper_fill_model=maker_touch, got %q", cfg.Paper.FillModel)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	yaml := `
run_mode: scanner
loop_ms: 500
selector:
  top_n_markets: 5
  max_markets_subscribed: 10
strategy:
  price_tick: 0.01
  mm_quote_width: 0.05
  mm_levels: 3
risk:
  max_inventory_usd: 250
`
	f, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write([]byte(yaml)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cfg, err := LoadFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RunMode != "scanner" {
		t.Fatalf("expected run_mode scanner, got %q", cfg.RunMode)
	}
	if cfg.LoopMs != 500 {
		t.Fatalf("expected loop_ms 500, got %d", cfg.LoopMs)
	}
	if cfg.Selector.TopNMarkets != 5 {
		t.Fatalf("expected top_n_markets 5, got %d", cfg.Selector.TopNMarkets)
	}
	if cfg.Strategy.PriceTick != 0.01 {
		t.Fatalf("expected price_tick 0.01, got %f", cfg.Strategy.PriceTick)
	}
	if cfg.Risk.MaxInventoryUSD != 250 {
		t.Fatalf("expected max_inventory_usd 250, got %f", cfg.Risk.MaxInventoryUSD)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config should validate, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SPREADKEEPER_RUN_MODE", "scanner")
	t.Setenv("SPREADKEEPER_EXECUTION_MODE", "shadow")
	cfg := Default()
	cfg.ApplyEnv()
	if cfg.RunMode != "scanner" {
		t.Fatal("expected run_mode scanner from env")
	}
	if cfg.ExecutionMode != "shadow" {
		t.Fatal("expected execution_mode shadow from env")
	}
}

func TestLoadFileInvalidPath(t *testing.T) {
	_, err := LoadFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for invalid path")
	}
}

func TestLoadFileInvalidYAML(t *testing.T) {
	f, err := os.CreateTemp("", "bad-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write([]byte("{{invalid yaml")); err != nil {
		t.Fatal(err)
	}
	f.Close()

	_, err = LoadFile(f.Name())
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestCostBps(t *testing.T) {
	cfg := Default()
	cfg.Risk.FeesBps = 1
	cfg.Risk.SlippageBps = 2
	cfg.Risk.LatencyBps = 3
	if cfg.CostBps() != 6 {
		t.Fatalf("expected cost_bps 6, got %f", cfg.CostBps())
	}
	if cfg.MinProfitableSpreadBps() != 9 {
		t.Fatalf("expected min_profitable_spread_bps 9, got %f", cfg.MinProfitableSpreadBps())
	}
}
