// Package strategy computes the fair value and quote grid the trader
// places around it. It is pure: every function takes a feed reading and
// returns a value, with no I/O or mutable state of its own.
package strategy

import "github.com/havenquant/spreadkeeper/internal/feedstate"

// SourceBookMid is the only fair-value source tag the reference model
// produces today.
const SourceBookMid = "book_mid"

// ComputeFair returns the reference price the quote grid is built around,
// blending in the trade-price EMA once the market has printed any trade
// (how long ago is not considered). A thin burst of prints only gets a 0.3 weight so it can't drag
// quotes away from the resting book the broker actually fills against.
func ComputeFair(tob feedstate.TOB, priceTick float64) (fair float64, source string, ok bool) {
	mid := tob.Mid()
	if mid <= 0 {
		return 0, "", false
	}
	fair = mid
	if !tob.LastTradeTs.IsZero() && tob.LastTradeEMA > 0 {
		fair = 0.7*mid + 0.3*tob.LastTradeEMA
	}
	fair = clamp(fair, priceTick, 1-priceTick)
	return fair, SourceBookMid, true
}

// RoundToTick snaps price to the nearest multiple of tick.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	steps := price / tick
	rounded := float64(int64(steps + 0.5))
	if steps < 0 {
		rounded = float64(int64(steps - 0.5))
	}
	return rounded * tick
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
