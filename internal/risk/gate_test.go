package risk

import (
	"testing"
	"time"

	"github.com/havenquant/spreadkeeper/internal/feedstate"
)

func baseConfig() Config {
	return Config{
		MaxFeedLagSecs:     30,
		RejectFeedLagMs:    3000,
		RejectAbsImbalance: 0.9,
	}
}

func TestCanQuoteFeedLag(t *testing.T) {
	g := New(baseConfig())
	tob := feedstate.TOB{BestBid: 0.49, BestAsk: 0.51, Ts: time.Now().Add(-4 * time.Second)}
	ok, reason := g.CanQuote(tob, time.Now(), true, 10)
	if ok || reason != ReasonFeedLag {
		t.Fatalf("expected feed_lag rejection, got ok=%v reason=%s", ok, reason)
	}
}

func TestCanQuoteFeedLagCheckedBeforeFeedLagMax(t *testing.T) {
	g := New(baseConfig())
	tob := feedstate.TOB{BestBid: 0.49, BestAsk: 0.51, Ts: time.Now().Add(-60 * time.Second)}
	ok, reason := g.CanQuote(tob, time.Now(), false, 10)
	if ok || reason != ReasonFeedLag {
		t.Fatalf("expected feed_lag to win over feed_lag_max since it is checked first, got ok=%v reason=%s", ok, reason)
	}
}

func TestCanQuoteNoTOB(t *testing.T) {
	g := New(baseConfig())
	tob := feedstate.TOB{Ts: time.Now()}
	ok, reason := g.CanQuote(tob, time.Now(), true, 10)
	if ok || reason != ReasonNoTOB {
		t.Fatalf("expected no_tob rejection, got ok=%v reason=%s", ok, reason)
	}
}

func TestCanQuoteCrossed(t *testing.T) {
	g := New(baseConfig())
	tob := feedstate.TOB{BestBid: 0.55, BestAsk: 0.45, Ts: time.Now()}
	ok, reason := g.CanQuote(tob, time.Now(), true, 10)
	if ok || reason != ReasonCrossed {
		t.Fatalf("expected crossed rejection, got ok=%v reason=%s", ok, reason)
	}
}

func TestCanQuoteUnprofitableSpread(t *testing.T) {
	g := New(baseConfig())
	tob := feedstate.TOB{BestBid: 0.499, BestAsk: 0.501, Ts: time.Now()}
	ok, reason := g.CanQuote(tob, time.Now(), true, 1000)
	if ok || reason != ReasonUnprofitableSpread {
		t.Fatalf("expected unprofitable_spread rejection, got ok=%v reason=%s", ok, reason)
	}
}

func TestCanQuoteImbalance(t *testing.T) {
	g := New(baseConfig())
	tob := feedstate.TOB{BestBid: 0.40, BestAsk: 0.60, BidDepth5: 1000, AskDepth5: 1, Ts: time.Now()}
	ok, reason := g.CanQuote(tob, time.Now(), true, 10)
	if ok || reason != ReasonImbalance {
		t.Fatalf("expected imbalance rejection, got ok=%v reason=%s", ok, reason)
	}
}

func TestCanQuoteAllows(t *testing.T) {
	g := New(baseConfig())
	tob := feedstate.TOB{BestBid: 0.45, BestAsk: 0.55, BidDepth5: 100, AskDepth5: 100, Ts: time.Now()}
	ok, reason := g.CanQuote(tob, time.Now(), true, 10)
	if !ok || reason != "" {
		t.Fatalf("expected quoting allowed, got ok=%v reason=%s", ok, reason)
	}
}

func TestRejectCountsAccumulate(t *testing.T) {
	g := New(baseConfig())
	stale := feedstate.TOB{}
	g.CanQuote(stale, time.Now(), true, 10)
	g.CanQuote(stale, time.Now(), true, 10)
	counts := g.RejectCounts()
	if counts[ReasonFeedLag] != 2 {
		t.Fatalf("expected 2 feed_lag rejections recorded for a never-updated book, got %d", counts[ReasonFeedLag])
	}
}

func TestIsActiveMarket(t *testing.T) {
	active := feedstate.TOB{UpdatesEWMAPerMin: 5}
	if !IsActiveMarket(active, 2) {
		t.Fatal("expected updates above threshold to be active")
	}
	quiet := feedstate.TOB{UpdatesEWMAPerMin: 1}
	if IsActiveMarket(quiet, 2) {
		t.Fatal("expected updates below threshold to be inactive")
	}
}
