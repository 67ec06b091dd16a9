package broker

import (
	"testing"
	"time"

	"github.com/havenquant/spreadkeeper/internal/feedstate"
)

func cleanConfig() Config {
	return Config{
		FeesBps:             0,
		SlippageBps:         0,
		LatencyBps:          0,
		PriceTick:           0.01,
		FaultRate:           0,
		NonAtomicFailRate:   0,
		MinRestSecs:         0,
		PoissonLambdaPerSec: 2,
		RandomSeed:          1,
	}
}

func TestPlaceLimitAndCancel(t *testing.T) {
	b := New(cleanConfig(), ModePaper)
	now := time.Now()
	o, err := b.PlaceLimit("m1", "y1", Buy, 0.5, 10, "mm", now)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != StatusOpen {
		t.Fatalf("expected open order, got %s", o.Status)
	}
	if err := b.Cancel(o.ID); err != nil {
		t.Fatal(err)
	}
	if len(b.OpenOrders()) != 0 {
		t.Fatal("expected no open orders after cancel")
	}
	if b.Counters().Cancelled != 1 {
		t.Fatal("expected cancelled counter to be 1")
	}
}

func TestCancelUnknownOrderIsNoop(t *testing.T) {
	b := New(cleanConfig(), ModePaper)
	if err := b.Cancel("does-not-exist"); err != nil {
		t.Fatalf("expected unknown order cancel to be a silent no-op, got %v", err)
	}
}

func TestPlaceLimitRejectsBadInputs(t *testing.T) {
	b := New(cleanConfig(), ModePaper)
	if _, err := b.PlaceLimit("m1", "y1", Buy, 0, 10, "mm", time.Now()); err == nil {
		t.Fatal("expected zero price to be rejected")
	}
	if _, err := b.PlaceLimit("m1", "y1", Buy, 0.5, 0, "mm", time.Now()); err == nil {
		t.Fatal("expected zero size to be rejected")
	}
}

func TestNonAtomicOrderCannotBeCancelled(t *testing.T) {
	cfg := cleanConfig()
	cfg.NonAtomicFailRate = 1 // always non-atomic
	b := New(cfg, ModePaper)
	o, err := b.PlaceLimit("m1", "y1", Buy, 0.5, 10, "mm", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Cancel(o.ID); err == nil {
		t.Fatal("expected cancel to fail for non-atomic order")
	}
	if b.Counters().CancelFailures != 1 {
		t.Fatal("expected cancel_failures counter to be 1")
	}
	if open := b.OpenOrders(); len(open) != 1 {
		t.Fatal("expected order to remain open after failed cancel")
	}
}

func TestFaultRateYieldsFirstClassRejectedOrderNotError(t *testing.T) {
	cfg := cleanConfig()
	cfg.FaultRate = 1 // always rejected
	b := New(cfg, ModePaper)
	o, err := b.PlaceLimit("m1", "y1", Buy, 0.5, 10, "mm", time.Now())
	if err != nil {
		t.Fatalf("expected fault-injected rejection to be a normal order, not an error: %v", err)
	}
	if o.Status != StatusRejected {
		t.Fatalf("expected rejected status, got %s", o.Status)
	}
	if b.Counters().Rejected != 1 {
		t.Fatal("expected rejected counter to be 1")
	}
}

func TestExecuteIOCBuyAppliesPosition(t *testing.T) {
	b := New(cleanConfig(), ModePaper)
	tob := feedstate.TOB{BestBid: 0.48, BestAsk: 0.52}
	fill, ok, err := b.ExecuteIOC("m1", "y1", Buy, 0.52, 10, "snipe", tob, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected crossing buy to fill")
	}
	if fill.Price != 0.52 {
		t.Fatalf("expected fill at 0.52, got %f", fill.Price)
	}
	pos, found := b.Position("m1")
	if !found || pos.NetSize != 10 {
		t.Fatalf("expected position net size 10, got %+v found=%v", pos, found)
	}
}

func TestExecuteIOCShadowModeDoesNotApplyPosition(t *testing.T) {
	b := New(cleanConfig(), ModeShadow)
	tob := feedstate.TOB{BestBid: 0.48, BestAsk: 0.52}
	_, ok, err := b.ExecuteIOC("m1", "y1", Buy, 0.52, 10, "snipe", tob, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected shadow mode to never report a fill")
	}
	if _, found := b.Position("m1"); found {
		t.Fatal("expected shadow mode to leave positions untouched")
	}
}

func TestExecuteIOCRejectsInvalidBook(t *testing.T) {
	b := New(cleanConfig(), ModePaper)
	_, ok, err := b.ExecuteIOC("m1", "y1", Buy, 0.52, 10, "snipe", feedstate.TOB{}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected missing book to yield no fill")
	}
}

func TestExecuteIOCNonCrossingYieldsNoFill(t *testing.T) {
	b := New(cleanConfig(), ModePaper)
	tob := feedstate.TOB{BestBid: 0.48, BestAsk: 0.52}
	_, ok, err := b.ExecuteIOC("m1", "y1", Buy, 0.50, 10, "snipe", tob, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected a buy priced below the ask to not cross")
	}
}

func TestPositionFlipLongToShort(t *testing.T) {
	b := New(cleanConfig(), ModePaper)
	now := time.Now()
	tob := feedstate.TOB{BestBid: 0.48, BestAsk: 0.52}
	if _, _, err := b.ExecuteIOC("m1", "y1", Buy, 0.52, 10, "mm", tob, now); err != nil {
		t.Fatal(err)
	}
	// sell more than the long position to flip short
	if _, _, err := b.ExecuteIOC("m1", "y1", Sell, 0.48, 15, "mm", tob, now); err != nil {
		t.Fatal(err)
	}
	pos, ok := b.Position("m1")
	if !ok {
		t.Fatal("expected a position")
	}
	if pos.NetSize != -5 {
		t.Fatalf("expected flipped short position of -5, got %f", pos.NetSize)
	}
}

func TestExecCostDeductedFromRealizedPnL(t *testing.T) {
	cfg := cleanConfig()
	cfg.SlippageBps = 100 // 1%
	b := New(cfg, ModePaper)
	now := time.Now()
	tob := feedstate.TOB{BestBid: 0.48, BestAsk: 0.52}
	if _, _, err := b.ExecuteIOC("m1", "y1", Buy, 0.52, 10, "mm", tob, now); err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.ExecuteIOC("m1", "y1", Sell, 0.48, 10, "mm", tob, now); err != nil {
		t.Fatal(err)
	}
	pos, _ := b.Position("m1")
	// closing pnl = (0.48-0.52)*10 = -0.4; exec_cost on each fill = 0.01*price*10
	wantClosingPnl := (0.48 - 0.52) * 10
	wantExecCost := 0.01*0.52*10 + 0.01*0.48*10
	wantRealized := wantClosingPnl - wantExecCost
	if diff := pos.RealizedPnL - wantRealized; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected realized pnl %.6f, got %.6f", wantRealized, pos.RealizedPnL)
	}
}

func TestSimulateFillsForMarketRespectsMinRest(t *testing.T) {
	cfg := cleanConfig()
	cfg.MinRestSecs = 10
	cfg.PoissonLambdaPerSec = 100
	b := New(cfg, ModePaper)
	now := time.Now()
	if _, err := b.PlaceLimit("m1", "y1", Buy, 0.50, 10, "mm", now); err != nil {
		t.Fatal(err)
	}
	tob := feedstate.TOB{BestBid: 0.50, BestAsk: 0.50}
	b.SimulateFillsForMarket("m1", tob, 1, now)
	fills, err := b.SimulateFillsForMarket("m1", tob, 1, now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 0 {
		t.Fatalf("expected no fills before min rest elapses, got %d", len(fills))
	}
}

func TestSimulateFillsForMarketFillsAtTouch(t *testing.T) {
	cfg := cleanConfig()
	cfg.PoissonLambdaPerSec = 50
	b := New(cfg, ModePaper)
	now := time.Now()
	if _, err := b.PlaceLimit("m1", "y1", Buy, 0.50, 10, "mm", now); err != nil {
		t.Fatal(err)
	}
	tob := feedstate.TOB{BestBid: 0.50, BestAsk: 0.52}
	b.SimulateFillsForMarket("m1", tob, 1, now)
	total := 0
	for i := 0; i < 20; i++ {
		fills, err := b.SimulateFillsForMarket("m1", tob, 1, now.Add(time.Duration(i+1)*time.Second))
		if err != nil {
			t.Fatal(err)
		}
		total += len(fills)
	}
	if total == 0 {
		t.Fatal("expected at least one passive fill over 20 seconds at high lambda")
	}
}

func TestSimulateFillsForMarketZeroDtYieldsNoFills(t *testing.T) {
	b := New(cleanConfig(), ModePaper)
	now := time.Now()
	if _, err := b.PlaceLimit("m1", "y1", Buy, 0.50, 10, "mm", now); err != nil {
		t.Fatal(err)
	}
	tob := feedstate.TOB{BestBid: 0.50, BestAsk: 0.52}
	b.SimulateFillsForMarket("m1", tob, 1, now)
	fills, err := b.SimulateFillsForMarket("m1", tob, 1, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 0 {
		t.Fatal("expected zero elapsed time to yield no fills")
	}
}

func TestRehydrateRestoresState(t *testing.T) {
	b := New(cleanConfig(), ModePaper)
	b.Rehydrate(map[string]Position{"m1": {MarketID: "m1", NetSize: 5, AvgEntryPrice: 0.5}}, Counters{Placed: 3})
	pos, ok := b.Position("m1")
	if !ok || pos.NetSize != 5 {
		t.Fatalf("expected rehydrated position, got %+v", pos)
	}
	if b.Counters().Placed != 3 {
		t.Fatal("expected rehydrated counters")
	}
}
