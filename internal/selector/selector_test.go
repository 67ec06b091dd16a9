package selector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/havenquant/spreadkeeper/internal/config"
	"github.com/havenquant/spreadkeeper/internal/feedstate"
	"github.com/havenquant/spreadkeeper/internal/routing"
	"github.com/havenquant/spreadkeeper/internal/telemetry"
	"github.com/havenquant/spreadkeeper/internal/venue"
)

type fakeMetadata struct {
	markets []venue.CandidateMarket
}

func (f *fakeMetadata) ListMarkets(ctx context.Context, pageCap int) ([]venue.CandidateMarket, error) {
	return f.markets, nil
}

func baseCfg() config.SelectorConfig {
	return config.SelectorConfig{
		TopNMarkets:          2,
		MaxMarketsSubscribed: 10,
		Min24hVolumeUSD:      1000,
		MinLiquidityUSD:      1000,
		MinSpreadBps:         10,
		MinUpdatesMin:        0,
		CandidatePageCap:     100,
	}
}

func TestRefreshOnceFiltersByVolumeAndLiquidity(t *testing.T) {
	md := &fakeMetadata{markets: []venue.CandidateMarket{
		{MarketID: "m1", ConditionID: "c1", YesTokenID: "y1", NoTokenID: "n1", Volume24hUSD: 5000, LiquidityUSD: 5000, Active: true},
		{MarketID: "m2", ConditionID: "c2", YesTokenID: "y2", NoTokenID: "n2", Volume24hUSD: 10, LiquidityUSD: 10, Active: true},
		{MarketID: "m3", ConditionID: "c3", YesTokenID: "y3", NoTokenID: "n3", Volume24hUSD: 5000, LiquidityUSD: 5000, Active: false},
	}}
	sel := New(baseCfg(), md, feedstate.NewStore(), routing.New())
	selected, changed, err := sel.RefreshOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected first refresh to report changed")
	}
	if len(selected) != 1 || selected[0].MarketID != "m1" {
		t.Fatalf("expected only m1 selected, got %+v", selected)
	}
}

func TestRefreshOnceScoresByFeedMicrostructure(t *testing.T) {
	feed := feedstate.NewStore()
	now := time.Now()
	// y1: wide spread, high update rate -> high score
	feed.UpdateBook("y1", []feedstate.PriceLevel{{Price: 0.40, Size: 100}}, []feedstate.PriceLevel{{Price: 0.60, Size: 100}}, now)
	feed.UpdateBook("y1", []feedstate.PriceLevel{{Price: 0.40, Size: 100}}, []feedstate.PriceLevel{{Price: 0.60, Size: 100}}, now.Add(time.Second))
	// y2: narrow spread -> lower score, but still above MinSpreadBps
	feed.UpdateBook("y2", []feedstate.PriceLevel{{Price: 0.49, Size: 100}}, []feedstate.PriceLevel{{Price: 0.51, Size: 100}}, now)
	feed.UpdateBook("y2", []feedstate.PriceLevel{{Price: 0.49, Size: 100}}, []feedstate.PriceLevel{{Price: 0.51, Size: 100}}, now.Add(time.Second))

	md := &fakeMetadata{markets: []venue.CandidateMarket{
		{MarketID: "m1", ConditionID: "c1", YesTokenID: "y1", NoTokenID: "n1", Volume24hUSD: 5000, LiquidityUSD: 5000, Active: true},
		{MarketID: "m2", ConditionID: "c2", YesTokenID: "y2", NoTokenID: "n2", Volume24hUSD: 5000, LiquidityUSD: 5000, Active: true},
	}}
	cfg := baseCfg()
	cfg.TopNMarkets = 2
	sel := New(cfg, md, feed, routing.New())
	selected, _, err := sel.RefreshOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 2 {
		t.Fatalf("expected 2 selected, got %d", len(selected))
	}
	if selected[0].MarketID != "m1" {
		t.Fatalf("expected m1 (wider spread) to rank first, got %+v", selected)
	}
}

func TestRefreshOnceOnlyPublishesOnTokenSetChange(t *testing.T) {
	md := &fakeMetadata{markets: []venue.CandidateMarket{
		{MarketID: "m1", ConditionID: "c1", YesTokenID: "y1", NoTokenID: "n1", Volume24hUSD: 5000, LiquidityUSD: 5000, Active: true},
	}}
	sel := New(baseCfg(), md, feedstate.NewStore(), routing.New())
	ctx := context.Background()

	if _, changed, err := sel.RefreshOnce(ctx); err != nil || !changed {
		t.Fatalf("expected first refresh changed=true, err=%v", err)
	}
	select {
	case <-sel.Watchlist():
	default:
		t.Fatal("expected a publish on first refresh")
	}

	if _, changed, err := sel.RefreshOnce(ctx); err != nil || changed {
		t.Fatalf("expected second identical refresh changed=false, err=%v", err)
	}
	select {
	case <-sel.Watchlist():
		t.Fatal("expected no publish on unchanged refresh")
	default:
	}
}

func TestRefreshOncePersistsWatchlistAndScannerSnapshot(t *testing.T) {
	store, err := telemetry.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	md := &fakeMetadata{markets: []venue.CandidateMarket{
		{MarketID: "m1", ConditionID: "c1", EventID: "e1", YesTokenID: "y1", NoTokenID: "n1", Question: "q1", Volume24hUSD: 5000, LiquidityUSD: 5000, Active: true},
	}}
	sel := New(baseCfg(), md, feedstate.NewStore(), routing.New())
	sel.SetStore(store)

	if _, _, err := sel.RefreshOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	rows, err := store.Watchlist()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].MarketID != "m1" {
		t.Fatalf("expected watchlist row for m1, got %+v", rows)
	}

	row, ok, err := store.Market("m1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || row.EventID != "e1" {
		t.Fatalf("expected persisted market m1 with event e1, got %+v (ok=%v)", row, ok)
	}
}

func TestRefreshOnceAdmitsUnwarmedCandidateToSeedSubscription(t *testing.T) {
	feed := feedstate.NewStore()
	now := time.Now()
	// A single book update from a REST poll: valid TOB, but the update-rate
	// EWMA hasn't warmed up yet (no prior observation to diff against).
	feed.UpdateBookFromPoll("y1", []feedstate.PriceLevel{{Price: 0.40, Size: 100}}, []feedstate.PriceLevel{{Price: 0.60, Size: 100}}, now)

	md := &fakeMetadata{markets: []venue.CandidateMarket{
		{MarketID: "m1", ConditionID: "c1", YesTokenID: "y1", NoTokenID: "n1", Volume24hUSD: 5000, LiquidityUSD: 5000, Active: true},
	}}
	cfg := baseCfg()
	cfg.MinUpdatesMin = 1
	sel := New(cfg, md, feed, routing.New())
	selected, _, err := sel.RefreshOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 1 || selected[0].MarketID != "m1" {
		t.Fatalf("expected m1 admitted to seed its subscription despite MinUpdatesMin, got %+v", selected)
	}
}

func TestRefreshOnceRejectsMissingYesToken(t *testing.T) {
	md := &fakeMetadata{markets: []venue.CandidateMarket{
		{MarketID: "m1", ConditionID: "c1", YesTokenID: "", Volume24hUSD: 5000, LiquidityUSD: 5000, Active: true},
	}}
	sel := New(baseCfg(), md, feedstate.NewStore(), routing.New())
	selected, _, err := sel.RefreshOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 0 {
		t.Fatalf("expected no markets selected, got %+v", selected)
	}
}
