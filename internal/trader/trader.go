// Package trader drives the main quoting loop: for every market on the
// current watchlist it reads the feed, runs the risk gate, computes a fair
// value and quote grid, and reconciles resting orders against the paper
// broker. It is the only component that places, cancels, or fills orders on
// the Broker; the dashboard only reads from it.
package trader

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/havenquant/spreadkeeper/internal/broker"
	"github.com/havenquant/spreadkeeper/internal/config"
	"github.com/havenquant/spreadkeeper/internal/feedstate"
	"github.com/havenquant/spreadkeeper/internal/risk"
	"github.com/havenquant/spreadkeeper/internal/routing"
	"github.com/havenquant/spreadkeeper/internal/selector"
	"github.com/havenquant/spreadkeeper/internal/strategy"
	"github.com/havenquant/spreadkeeper/internal/telemetry"
)

// marketState is the per-market memory trade_one_market needs across ticks:
// when it last requoted, what fair value it last saw, and which way the
// book imbalance was leaning.
type marketState struct {
	lastQuoteTs time.Time
	lastFair    float64
	lastImbSign int
}

// Trader runs the four periodic ticks against one selected watchlist.
type Trader struct {
	cfg    config.Config
	feed   *feedstate.Store
	routes *routing.Table
	gate   *risk.Gate
	book   *broker.Broker
	store  *telemetry.Store
	sel    *selector.Selector
	logger *log.Logger

	watchlist   []selector.Selected
	watchlistMu sync.RWMutex
	states      map[string]*marketState
}

// New builds a Trader over its shared dependencies.
func New(cfg config.Config, feed *feedstate.Store, routes *routing.Table, gate *risk.Gate, book *broker.Broker, store *telemetry.Store, sel *selector.Selector, logger *log.Logger) *Trader {
	return &Trader{
		cfg:    cfg,
		feed:   feed,
		routes: routes,
		gate:   gate,
		book:   book,
		store:  store,
		sel:    sel,
		logger: logger,
		states: make(map[string]*marketState),
	}
}

// Run drives the trade, snapshot, eval, and basket-arb ticks plus the
// watchlist-changed wakeup until ctx is cancelled. It is the sole owner of
// the Broker for the lifetime of the process.
func (t *Trader) Run(ctx context.Context) error {
	tradeTicker := time.NewTicker(time.Duration(t.cfg.LoopMs) * time.Millisecond)
	defer tradeTicker.Stop()
	snapshotTicker := time.NewTicker(time.Second)
	defer snapshotTicker.Stop()
	evalTicker := time.NewTicker(time.Duration(t.cfg.EvalIntervalSecs) * time.Second)
	defer evalTicker.Stop()
	basketTicker := time.NewTicker(time.Duration(t.cfg.BasketArbSecs) * time.Second)
	defer basketTicker.Stop()

	watchlistCh := t.sel.Watchlist()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case wl := <-watchlistCh:
			t.setWatchlist(wl)
			t.runTradeTick(time.Now())
		case <-tradeTicker.C:
			t.runTradeTick(time.Now())
		case <-snapshotTicker.C:
			t.runSnapshotTick(time.Now())
		case <-evalTicker.C:
			t.runEvalTick(time.Now())
		case <-basketTicker.C:
			t.runBasketArbTick(time.Now())
		}
	}
}

func (t *Trader) setWatchlist(wl []selector.Selected) {
	t.watchlistMu.Lock()
	t.watchlist = wl
	t.watchlistMu.Unlock()
}

// Watchlist returns the most recently published watchlist. Safe to call
// from any goroutine, e.g. the dashboard's periodic observe loop.
func (t *Trader) Watchlist() []selector.Selected {
	t.watchlistMu.RLock()
	defer t.watchlistMu.RUnlock()
	return t.watchlist
}

func (t *Trader) runTradeTick(now time.Time) {
	for _, m := range t.watchlist {
		t.tradeOneMarket(m, now)
	}
}

func (t *Trader) stateFor(marketID string) *marketState {
	s, ok := t.states[marketID]
	if !ok {
		s = &marketState{}
		t.states[marketID] = s
	}
	return s
}

// imbalanceSign maps an imbalance reading to -1, 0, or +1 with a dead band
// around zero so small fluctuations don't thrash should_requote.
func imbalanceSign(imbalance float64) int {
	switch {
	case imbalance > 0.05:
		return 1
	case imbalance < -0.05:
		return -1
	default:
		return 0
	}
}

// activityScore is the passive-fill simulator's arrival-intensity scalar,
// derived from the feed's own update-rate EWMA.
func activityScore(updatesEWMAPerMin float64) float64 {
	v := 0.5 + updatesEWMAPerMin/10
	if v < 0.1 {
		v = 0.1
	}
	if v > 5.0 {
		v = 5.0
	}
	return v
}

// tradeOneMarket runs the full per-market, per-tick algorithm: risk gate,
// fair value, snipe, requote decision, stale-order cancellation, and grid
// placement.
func (t *Trader) tradeOneMarket(m selector.Selected, now time.Time) {
	tob, ok := t.feed.Get(m.PrimaryToken)
	if !ok || !tob.Valid() || tob.Crossed() {
		return
	}

	mid := tob.Mid()
	spreadBps := tob.SpreadBps()
	imbalance := tob.Imbalance()
	isActive := risk.IsActiveMarket(tob, t.cfg.Selector.MinUpdatesMin)

	if allowed, reason := t.gate.CanQuote(tob, now, isActive, t.cfg.MinProfitableSpreadBps()); !allowed {
		t.cancelAllOpenOrders(m.MarketID)
		t.recordRuntimeStatus(m.MarketID, telemetry.StatusWarn, reason, now)
		return
	}
	t.recordRuntimeStatus(m.MarketID, telemetry.StatusOK, "", now)

	fair, source, ok := strategy.ComputeFair(tob, t.cfg.Strategy.PriceTick)
	if !ok {
		return
	}

	state := t.stateFor(m.MarketID)
	imbSign := imbalanceSign(imbalance)
	shouldRequote := now.Sub(state.lastQuoteTs).Seconds() >= 0.10 &&
		(math.Abs(fair-state.lastFair) >= t.cfg.Strategy.MMRepriceThreshold || imbSign != state.lastImbSign)

	score := activityScore(tob.UpdatesEWMAPerMin)
	if _, err := t.book.SimulateFillsForMarket(m.MarketID, tob, score, now); err != nil {
		t.logger.Printf("trader: simulate fills %s: %v", m.MarketID, err)
	}

	t.maybeSnipe(m, tob, spreadBps, imbalance, now)

	if !shouldRequote {
		t.persistQuoteSnapshot(m.MarketID, telemetry.QuoteSnapshot{
			MarketID: m.MarketID, Source: source, InvQty: t.invQty(m.MarketID),
			Imbalance: imbalance, Ts: now,
		})
		return
	}

	t.cancelStaleOrders(m.MarketID, now)

	targetBid, targetAsk := t.placeGrid(m, fair, imbalance, tob.UpdatesEWMAPerMin, now)

	bid, ask, midv, fairv, spread := tob.BestBid, tob.BestAsk, mid, fair, tob.Spread()
	t.persistQuoteSnapshot(m.MarketID, telemetry.QuoteSnapshot{
		MarketID: m.MarketID, Bid: &bid, Ask: &ask, Mid: &midv, Fair: &fairv, Source: source,
		InvQty: t.invQty(m.MarketID), Spread: &spread, Imbalance: imbalance,
		TargetBid: targetBid, TargetAsk: targetAsk, Ts: now,
	})

	state.lastQuoteTs = now
	state.lastFair = fair
	state.lastImbSign = imbSign
}

// maybeSnipe executes an IOC in the direction book imbalance implies,
// sized conservatively, whenever the imbalance is strong enough and the
// spread is still wide enough to be worth crossing.
func (t *Trader) maybeSnipe(m selector.Selected, tob feedstate.TOB, spreadBps, imbalance float64, now time.Time) {
	if math.Abs(imbalance) <= 0.3 || spreadBps < t.cfg.MinProfitableSpreadBps() {
		return
	}
	size := math.Max(t.cfg.Strategy.BaseOrderSize*0.5, math.Min(t.cfg.Strategy.BaseOrderSize, 1))

	side := broker.Buy
	price := tob.BestAsk
	if imbalance < 0 {
		side = broker.Sell
		price = tob.BestBid
	}
	fill, ok, err := t.book.ExecuteIOC(m.MarketID, m.PrimaryToken, side, price, size, "snipe", tob, now)
	if err != nil {
		t.logger.Printf("trader: snipe %s: %v", m.MarketID, err)
		return
	}
	if ok {
		t.persistFill(fill)
	}
}

// cancelAllOpenOrders cancels every resting order on marketID, tolerating
// non-atomic cancel failures (the order simply stays open, counted).
func (t *Trader) cancelAllOpenOrders(marketID string) {
	for _, o := range t.book.OpenOrdersForMarket(marketID) {
		if err := t.book.Cancel(o.ID); err != nil {
			t.logger.Printf("trader: cancel %s: %v", o.ID, err)
		}
	}
}

// cancelStaleOrders cancels resting orders that have lived at least
// mm_min_quote_life_secs, making room for a fresh grid.
func (t *Trader) cancelStaleOrders(marketID string, now time.Time) {
	for _, o := range t.book.OpenOrdersForMarket(marketID) {
		if now.Sub(o.PlacedAt).Seconds() >= t.cfg.Strategy.MMMinQuoteLifeSecs {
			if err := t.book.Cancel(o.ID); err != nil {
				t.logger.Printf("trader: cancel stale %s: %v", o.ID, err)
			}
		}
	}
}

// placeGrid builds and places the quote grid for m, filtering each intent
// per the non-crossing, inventory-guardrail, and dedup rules, and reports
// the first accepted bid/ask for the quote snapshot.
func (t *Trader) placeGrid(m selector.Selected, fair, imbalance, activityPerMin float64, now time.Time) (targetBid, targetAsk *float64) {
	tob, ok := t.feed.Get(m.PrimaryToken)
	if !ok {
		return nil, nil
	}
	invQty := t.invQty(m.MarketID)
	gridCfg := strategy.GridConfig{
		MMLevels:         t.cfg.Strategy.MMLevels,
		PriceTick:        t.cfg.Strategy.PriceTick,
		MaxInventoryUSD:  t.cfg.Risk.MaxInventoryUSD,
		InventorySkewCap: t.cfg.Strategy.InventorySkewCap,
		BaseOrderSize:    t.cfg.Strategy.BaseOrderSize,
	}
	intents := strategy.BuildGrid(fair, invQty, imbalance, activityPerMin, gridCfg)

	open := t.book.OpenOrdersForMarket(m.MarketID)
	existing := make(map[string]struct{}, len(open))
	for _, o := range open {
		existing[dedupKey(o.Side, o.Price)] = struct{}{}
	}

	for _, in := range intents {
		if in.Side == broker.Buy {
			if in.Price > tob.BestBid {
				continue
			}
			if invQty+in.Size > t.cfg.Risk.MaxInventoryUSD {
				continue
			}
		} else {
			if in.Price < tob.BestAsk {
				continue
			}
			if invQty-in.Size < -t.cfg.Risk.MaxInventoryUSD {
				continue
			}
		}
		key := dedupKey(in.Side, in.Price)
		if _, dup := existing[key]; dup {
			continue
		}
		existing[key] = struct{}{}

		o, err := t.book.PlaceLimit(m.MarketID, m.PrimaryToken, in.Side, in.Price, in.Size, "mm", now)
		if err != nil {
			t.logger.Printf("trader: place %s %s: %v", m.MarketID, in.Side, err)
			continue
		}
		t.persistOrder(o)

		price := in.Price
		if in.Side == broker.Buy && targetBid == nil {
			targetBid = &price
		}
		if in.Side == broker.Sell && targetAsk == nil {
			targetAsk = &price
		}
	}
	return targetBid, targetAsk
}

func dedupKey(side broker.Side, price float64) string {
	return fmt.Sprintf("%s:%.6f", side, math.Round(price*1e6)/1e6)
}

func (t *Trader) invQty(marketID string) float64 {
	pos, ok := t.book.Position(marketID)
	if !ok {
		return 0
	}
	return pos.NetSize
}

func (t *Trader) persistOrder(o broker.Order) {
	if t.store == nil {
		return
	}
	row := telemetry.OrderRow{
		OrderID: o.ID, MarketID: o.MarketID, TokenID: o.TokenID, Side: string(o.Side),
		Price: o.Price, Size: o.Size, FilledSize: o.FilledSize, Status: string(o.Status),
		PlacedAt: o.PlacedAt, Metadata: orderMetadataJSON(o),
	}
	if err := t.store.UpsertOrder(row); err != nil {
		t.logger.Printf("trader: persist order %s: %v", o.ID, err)
	}
}

func orderMetadataJSON(o broker.Order) string {
	return fmt.Sprintf(`{"strategy":%q,"non_atomic":%v,"cancel_error":%q}`, o.Strategy, o.NonAtomic, o.CancelErr)
}

func (t *Trader) persistFill(f broker.Fill) {
	if t.store == nil {
		return
	}
	row := telemetry.FillRow{
		FillID: f.ID, OrderID: f.OrderID, MarketID: f.MarketID, TokenID: f.TokenID,
		Side: string(f.Side), Price: f.Price, Size: f.Size, Fee: f.Fee, Ts: f.Ts,
	}
	if err := t.store.InsertFill(row); err != nil {
		t.logger.Printf("trader: persist fill %s: %v", f.ID, err)
	}
}

func (t *Trader) persistQuoteSnapshot(marketID string, snap telemetry.QuoteSnapshot) {
	if t.store == nil {
		return
	}
	if err := t.store.InsertQuoteSnapshot(snap); err != nil {
		t.logger.Printf("trader: persist quote snapshot %s: %v", marketID, err)
	}
}

func (t *Trader) recordRuntimeStatus(component string, level telemetry.StatusLevel, detail string, now time.Time) {
	if t.store == nil {
		return
	}
	msg := "ok"
	if level != telemetry.StatusOK {
		msg = detail
	}
	row := telemetry.RuntimeStatus{Component: component, Level: level, Message: msg, Detail: detail, Ts: now}
	if err := t.store.UpsertRuntimeStatus(row); err != nil {
		t.logger.Printf("trader: persist runtime status %s: %v", component, err)
	}
}

// runSnapshotTick writes per-market position snapshots and a rolled-up PnL
// snapshot, marking to the current mid when available and falling back to
// avg_price otherwise.
func (t *Trader) runSnapshotTick(now time.Time) {
	if t.store == nil {
		return
	}
	var totalRealized, totalUnrealized float64
	for marketID, pos := range t.book.Positions() {
		mark := pos.AvgEntryPrice
		if token, ok := t.primaryTokenForMarket(marketID); ok {
			if tob, ok := t.feed.Get(token); ok && tob.Valid() {
				mark = tob.Mid()
			}
		}
		unrealized := pos.UnrealizedPnL(mark)
		totalRealized += pos.RealizedPnL
		totalUnrealized += unrealized

		snap := telemetry.PositionSnapshot{
			MarketID: marketID, NetSize: pos.NetSize, AvgPrice: pos.AvgEntryPrice,
			MarkPrice: mark, Realized: pos.RealizedPnL, Unrealized: unrealized, Ts: now,
		}
		if err := t.store.InsertPositionSnapshot(snap); err != nil {
			t.logger.Printf("trader: position snapshot %s: %v", marketID, err)
		}
	}

	pnl := telemetry.PnLSnapshot{
		Realized: totalRealized, Unrealized: totalUnrealized,
		Total: totalRealized + totalUnrealized, Ts: now,
	}
	if err := t.store.InsertPnLSnapshot(pnl); err != nil {
		t.logger.Printf("trader: pnl snapshot: %v", err)
	}
}

func (t *Trader) primaryTokenForMarket(marketID string) (string, bool) {
	return t.routes.PrimaryToken(marketID)
}

// runBasketArbTick looks for mispriced event baskets among the currently
// selected markets sharing an event_id: a basket whose legs sum to
// meaningfully less than $1 is bought, one summing to meaningfully more
// than $1 is sold, after accounting for modelled execution cost.
func (t *Trader) runBasketArbTick(now time.Time) {
	groups := make(map[string][]selector.Selected)
	for _, m := range t.watchlist {
		if m.EventID == "" {
			continue
		}
		groups[m.EventID] = append(groups[m.EventID], m)
	}

	costBps := t.cfg.CostBps()
	threshold := (costBps / 10000) * 1.5

	for eventID, legs := range groups {
		if len(legs) < 3 {
			continue
		}
		type leg struct {
			m   selector.Selected
			tob feedstate.TOB
		}
		var valid []leg
		for _, m := range legs {
			tob, ok := t.feed.Get(m.PrimaryToken)
			if !ok || !tob.Valid() || tob.Crossed() {
				continue
			}
			valid = append(valid, leg{m: m, tob: tob})
		}
		if len(valid) < 3 {
			continue
		}

		var sumBids, sumAsks float64
		for _, l := range valid {
			sumBids += l.tob.BestBid
			sumAsks += l.tob.BestAsk
		}
		size := math.Max(t.cfg.Strategy.BaseOrderSize*0.25, 1)

		switch {
		case sumAsks < 0.98 && (1-sumAsks) > threshold:
			for _, l := range valid {
				fill, ok, err := t.book.ExecuteIOC(l.m.MarketID, l.m.PrimaryToken, broker.Buy, l.tob.BestAsk, size, "arb_buy_basket", l.tob, now)
				if err != nil {
					t.logger.Printf("trader: basket buy leg %s (event %s): %v", l.m.MarketID, eventID, err)
					continue
				}
				if ok {
					t.persistFill(fill)
				}
			}
		case sumBids > 1.02 && (sumBids-1) > threshold:
			for _, l := range valid {
				fill, ok, err := t.book.ExecuteIOC(l.m.MarketID, l.m.PrimaryToken, broker.Sell, l.tob.BestBid, size, "arb_sell_basket", l.tob, now)
				if err != nil {
					t.logger.Printf("trader: basket sell leg %s (event %s): %v", l.m.MarketID, eventID, err)
					continue
				}
				if ok {
					t.persistFill(fill)
				}
			}
		}
	}
}

// runEvalTick computes a short operational summary and writes it as a
// markdown telemetry artifact alongside the structured snapshot tables.
func (t *Trader) runEvalTick(now time.Time) {
	counters := t.book.Counters()
	open := t.book.OpenOrders()

	var atTouchCount int
	var spreadSum, lagSum float64
	var n int
	for _, m := range t.watchlist {
		tob, ok := t.feed.Get(m.PrimaryToken)
		if !ok || !tob.Valid() {
			continue
		}
		n++
		spreadSum += tob.SpreadBps()
		lagSum += now.Sub(tob.Ts).Seconds() * 1000
	}
	for _, o := range open {
		tob, ok := t.feed.Get(o.TokenID)
		if !ok {
			continue
		}
		if (o.Side == broker.Buy && math.Abs(o.Price-tob.BestBid) < 1e-9) ||
			(o.Side == broker.Sell && math.Abs(o.Price-tob.BestAsk) < 1e-9) {
			atTouchCount++
		}
	}

	avgSpread, avgLag, atTouchFrac := 0.0, 0.0, 0.0
	if n > 0 {
		avgSpread = spreadSum / float64(n)
		avgLag = lagSum / float64(n)
	}
	if len(open) > 0 {
		atTouchFrac = float64(atTouchCount) / float64(len(open))
	}

	window := time.Duration(t.cfg.EvalIntervalSecs) * time.Second
	var windowFills int
	for _, f := range t.book.RecentFills(0) {
		if now.Sub(f.Ts) > window {
			break
		}
		windowFills++
	}
	fillsPerHour := float64(windowFills) / window.Hours()

	report := fmt.Sprintf(
		"# spreadkeeper eval — %s\n\n"+
			"- selected markets: %d\n"+
			"- open orders: %d (%.1f%% at touch)\n"+
			"- fills/hour (interval-extrapolated): %.1f\n"+
			"- avg spread (bps): %.2f\n"+
			"- avg feed lag (ms): %.1f\n"+
			"- placed=%d cancelled=%d cancel_failures=%d rejected=%d filled=%d filled_qty=%.2f\n\n"+
			"%s\n\n%s\n",
		now.Format(time.RFC3339), len(t.watchlist), len(open), atTouchFrac*100,
		fillsPerHour, avgSpread, avgLag,
		counters.Placed, counters.Cancelled, counters.CancelFailures, counters.Rejected, counters.Filled, counters.FilledQty,
		t.renderOpenPositions(), t.renderRecentFills(),
	)
	if t.store == nil {
		t.logger.Print(report)
		return
	}
	if err := t.store.WriteEvalReport(report); err != nil {
		t.logger.Printf("trader: write eval report: %v", err)
	}
}

func (t *Trader) renderOpenPositions() string {
	positions := t.book.Positions()
	ids := make([]string, 0, len(positions))
	for id := range positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := "## Open positions\n\n| market | qty | avg | realized |\n|---|---|---|---|\n"
	for _, id := range ids {
		p := positions[id]
		if p.NetSize == 0 && p.RealizedPnL == 0 {
			continue
		}
		out += fmt.Sprintf("| %s | %.4f | %.4f | %.4f |\n", id, p.NetSize, p.AvgEntryPrice, p.RealizedPnL)
	}
	return out
}

func (t *Trader) renderRecentFills() string {
	fills := t.book.RecentFills(10)
	out := "## Recent fills\n\n| market | side | price | size | strategy |\n|---|---|---|---|---|\n"
	for _, f := range fills {
		out += fmt.Sprintf("| %s | %s | %.4f | %.4f | %s |\n", f.MarketID, f.Side, f.Price, f.Size, f.Strategy)
	}
	return out
}
