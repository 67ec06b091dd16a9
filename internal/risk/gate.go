// Package risk implements the per-tick quoting gate: given the current
// feed reading for a market, decide whether the trader is allowed to
// quote it right now, and if not, why.
package risk

import (
	"sync"
	"time"

	"github.com/havenquant/spreadkeeper/internal/feedstate"
)

// Reason codes, in the order CanQuote evaluates them. The first one that
// applies is returned; later checks are never reached.
const (
	ReasonFeedLag            = "feed_lag"
	ReasonFeedLagMax         = "feed_lag_max"
	ReasonNoTOB              = "no_tob"
	ReasonCrossed            = "crossed"
	ReasonBadMid             = "bad_mid"
	ReasonUnprofitableSpread = "unprofitable_spread"
	ReasonImbalance          = "imbalance"
)

// Config holds the thresholds CanQuote evaluates against.
type Config struct {
	MaxFeedLagSecs     float64
	RejectFeedLagMs    float64
	RejectAbsImbalance float64
}

// Gate is the stateful risk gate: it evaluates CanQuote and keeps a
// rolling count of how often each reason code has fired, for
// observability.
type Gate struct {
	cfg Config

	mu           sync.Mutex
	rejectCounts map[string]uint64
}

// New builds a Gate from its thresholds.
func New(cfg Config) *Gate {
	return &Gate{cfg: cfg, rejectCounts: make(map[string]uint64)}
}

// IsActiveMarket reports whether a market is updating often enough to be
// considered live, independent of whether a specific quote is allowed
// right now.
func IsActiveMarket(tob feedstate.TOB, minUpdatesMin float64) bool {
	return tob.UpdatesEWMAPerMin >= minUpdatesMin
}

// CanQuote decides whether the trader may quote tob right now, given
// whether the market is currently considered active and the minimum
// profitable spread implied by the execution cost model. On rejection it
// returns the single reason code that fired, and records it in the
// rolling counters.
func (g *Gate) CanQuote(tob feedstate.TOB, now time.Time, isActiveMarket bool, minProfitableSpreadBps float64) (bool, string) {
	reason := g.evaluate(tob, now, isActiveMarket, minProfitableSpreadBps)
	if reason != "" {
		g.mu.Lock()
		g.rejectCounts[reason]++
		g.mu.Unlock()
		return false, reason
	}
	return true, ""
}

func (g *Gate) evaluate(tob feedstate.TOB, now time.Time, isActiveMarket bool, minProfitableSpreadBps float64) string {
	ageSecs := now.Sub(tob.Ts).Seconds()
	if ageSecs*1000 > g.cfg.RejectFeedLagMs {
		return ReasonFeedLag
	}
	if !isActiveMarket && ageSecs > g.cfg.MaxFeedLagSecs {
		return ReasonFeedLagMax
	}
	if tob.BestBid <= 0 || tob.BestAsk <= 0 {
		return ReasonNoTOB
	}
	if tob.BestAsk <= tob.BestBid {
		return ReasonCrossed
	}
	if tob.Mid() <= 0 {
		return ReasonBadMid
	}
	if tob.SpreadBps() < minProfitableSpreadBps {
		return ReasonUnprofitableSpread
	}
	if absf(tob.Imbalance()) > g.cfg.RejectAbsImbalance {
		return ReasonImbalance
	}
	return ""
}

// RejectCounts returns a snapshot of how many times each reason code has
// fired since the gate was created.
func (g *Gate) RejectCounts() map[string]uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]uint64, len(g.rejectCounts))
	for k, v := range g.rejectCounts {
		out[k] = v
	}
	return out
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
