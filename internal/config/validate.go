package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration constraints named in the configuration
// table: tick/width/level relationships, cadence floors, and enum values.
func (c Config) Validate() error {
	mode := strings.ToLower(strings.TrimSpace(c.RunMode))
	if mode != "paper" && mode != "scanner" {
		return fmt.Errorf("run_mode must be 'paper' or 'scanner', got %q", c.RunMode)
	}
	exec := strings.ToLower(strings.TrimSpace(c.ExecutionMode))
	if exec != "paper" && exec != "shadow" {
		return fmt.Errorf("execution_mode must be 'paper' or 'shadow', got %q", c.ExecutionMode)
	}

	if c.LoopMs < 1 {
		return fmt.Errorf("loop_ms must be >= 1, got %d", c.LoopMs)
	}
	if c.EvalIntervalSecs < 1 {
		return fmt.Errorf("eval_interval_secs must be >= 1, got %d", c.EvalIntervalSecs)
	}
	if c.MarketRefreshSecs < 1 {
		return fmt.Errorf("market_refresh_secs must be >= 1, got %d", c.MarketRefreshSecs)
	}
	if c.BasketArbSecs < 1 {
		return fmt.Errorf("basket_arb_secs must be >= 1, got %d", c.BasketArbSecs)
	}

	if c.Strategy.PriceTick <= 0 {
		return fmt.Errorf("strategy.price_tick must be > 0, got %f", c.Strategy.PriceTick)
	}
	if c.Strategy.MMQuoteWidth < c.Strategy.PriceTick {
		return fmt.Errorf("strategy.mm_quote_width must be >= price_tick, got %f < %f", c.Strategy.MMQuoteWidth, c.Strategy.PriceTick)
	}
	if c.Strategy.MMLevels < 1 {
		return fmt.Errorf("strategy.mm_levels must be >= 1, got %d", c.Strategy.MMLevels)
	}
	if c.Strategy.MMMinQuoteLifeSecs < 0 {
		return fmt.Errorf("strategy.mm_min_quote_life_secs must be >= 0, got %f", c.Strategy.MMMinQuoteLifeSecs)
	}
	if c.Strategy.BaseOrderSize <= 0 {
		return fmt.Errorf("strategy.base_order_size must be > 0, got %f", c.Strategy.BaseOrderSize)
	}

	if c.Risk.MaxFeedLagSecs <= 0 {
		return fmt.Errorf("risk.max_feed_lag_secs must be > 0, got %f", c.Risk.MaxFeedLagSecs)
	}
	if c.Risk.MaxInventoryUSD <= 0 {
		return fmt.Errorf("risk.max_inventory_usd must be > 0, got %f", c.Risk.MaxInventoryUSD)
	}

	if c.Selector.TopNMarkets < 1 {
		return fmt.Errorf("selector.top_n_markets must be >= 1, got %d", c.Selector.TopNMarkets)
	}
	if c.Selector.MaxMarketsSubscribed < 1 {
		return fmt.Errorf("selector.max_markets_subscribed must be >= 1, got %d", c.Selector.MaxMarketsSubscribed)
	}

	fillModel := strings.ToLower(strings.TrimSpace(c.Paper.FillModel))
	if fillModel != "maker_touch" {
		return fmt.Errorf("paper.paper_fill_model must be 'maker_touch', got %q", c.Paper.FillModel)
	}
	if c.Paper.PoissonLambdaPerSec < 0 {
		return fmt.Errorf("paper.paper_poisson_lambda_per_sec must be >= 0, got %f", c.Paper.PoissonLambdaPerSec)
	}
	if c.Paper.FaultRate < 0 || c.Paper.FaultRate > 1 {
		return fmt.Errorf("paper.paper_fault_rate must be within [0,1], got %f", c.Paper.FaultRate)
	}
	if c.Paper.NonAtomicFailRate < 0 || c.Paper.NonAtomicFailRate > 1 {
		return fmt.Errorf("paper.paper_non_atomic_fail_rate must be within [0,1], got %f", c.Paper.NonAtomicFailRate)
	}

	return nil
}
