package strategy

import "github.com/havenquant/spreadkeeper/internal/broker"

// GridConfig drives quote-grid construction. MMLevels is clamped into
// [5, 10] at build time regardless of what's configured.
type GridConfig struct {
	MMLevels         int
	PriceTick        float64
	MaxInventoryUSD  float64
	InventorySkewCap float64
	BaseOrderSize    float64
}

// Intent is one order the grid wants resting: a side, a price, and a size.
type Intent struct {
	Side  broker.Side
	Price float64
	Size  float64
}

// BuildGrid lays out an ordered ladder of quote intents around fair,
// tightened or widened by how often the market is trading and skewed by
// current inventory and book imbalance.
//
// invQty is the current signed position quantity (positive is long),
// compared directly against MaxInventoryUSD. imbalance is expected in [-1, 1]. activityPerMin is the market's
// updates-per-minute reading. A level is only emitted when its bid stays
// strictly below its ask; crossed levels are dropped entirely rather than
// clamped into a degenerate quote.
func BuildGrid(fair, invQty, imbalance, activityPerMin float64, cfg GridConfig) []Intent {
	levels := int(clamp(float64(cfg.MMLevels), 5, 10))

	t := clamp(activityPerMin/30, 0, 1)
	w0 := clamp(0.01-0.005*t, 0.005, 0.01)

	maxInv := cfg.MaxInventoryUSD
	if maxInv <= 0 {
		maxInv = 1
	}
	r := clamp(invQty/maxInv, -1, 1)
	sInv := clamp(-r*cfg.InventorySkewCap, -cfg.InventorySkewCap, cfg.InventorySkewCap)
	sImb := clamp(imbalance*0.0015, -0.0015, 0.0015)
	s := clamp(sInv+sImb, -cfg.InventorySkewCap, cfg.InventorySkewCap)

	tick := cfg.PriceTick
	intents := make([]Intent, 0, levels*2)
	for k := 1; k <= levels; k++ {
		kf := float64(k)
		bid := RoundToTick(clamp(fair-kf*w0+s, tick, 1-tick), tick)
		ask := RoundToTick(clamp(fair+kf*w0+s, tick, 1-tick), tick)
		if bid >= ask {
			continue
		}
		intents = append(intents,
			Intent{Side: broker.Buy, Price: bid, Size: cfg.BaseOrderSize},
			Intent{Side: broker.Sell, Price: ask, Size: cfg.BaseOrderSize},
		)
	}
	return intents
}
