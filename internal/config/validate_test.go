package config

import "testing"

func TestValidateDefaultConfig(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got: %v", err)
	}
}

func TestValidateInvalidRunMode(t *testing.T) {
	cfg := Default()
	cfg.RunMode = "live"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid run_mode to fail validation")
	}
}

func TestValidateQuoteWidthBelowTick(t *testing.T) {
	cfg := Default()
	cfg.Strategy.PriceTick = 0.05
	cfg.Strategy.MMQuoteWidth = 0.01
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected mm_quote_width < price_tick to fail validation")
	}
}

func TestValidateInvalidFillModel(t *testing.T) {
	cfg := Default()
	cfg.Paper.FillModel = "instant"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected non maker_touch fill model to fail validation")
	}
}

func TestValidateZeroLevels(t *testing.T) {
	cfg := Default()
	cfg.Strategy.MMLevels = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected zero mm_levels to fail validation")
	}
}
