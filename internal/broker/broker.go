// Package broker simulates a venue well enough to quote and fill paper
// orders against the real top-of-book: resting-order placement and
// cancellation, IOC taker execution, Poisson-arrival passive fills, and
// average-price position accounting.
package broker

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/havenquant/spreadkeeper/internal/feedstate"
)

// Config drives fee/slippage assumptions and the fault injection the paper
// venue uses to approximate real-venue imperfection.
type Config struct {
	FeesBps             float64 // informational only; belongs to cost_bps for risk gating
	SlippageBps         float64
	LatencyBps          float64
	PriceTick           float64
	FaultRate           float64 // fraction of placements rejected outright
	NonAtomicFailRate   float64 // fraction of placements that can fill but not be cancelled
	MinRestSecs         float64 // minimum time an order must rest before it can passively fill
	PoissonLambdaPerSec float64 // base passive-fill arrival rate at the touch
	RandomSeed          int64
}

// ExecutionMode controls whether IOC orders and passive fills actually move
// the book. In shadow mode both are skipped entirely and produce no fill;
// placements and cancels are still recorded.
type ExecutionMode string

const (
	ModePaper  ExecutionMode = "paper"
	ModeShadow ExecutionMode = "shadow"
)

// Broker is the paper venue: it owns every resting order, every fill, and
// every market's position, guarded by a single mutex since nothing about
// paper trading needs finer-grained locking.
type Broker struct {
	mu   sync.Mutex
	cfg  Config
	mode ExecutionMode
	rnd  *rand.Rand

	orders    map[string]*Order
	fills     []Fill
	positions map[string]*Position
	counters  Counters
	lastSimTs map[string]time.Time
}

// New builds a Broker with a seeded PRNG so fault/fill injection is
// reproducible under a fixed seed.
func New(cfg Config, mode ExecutionMode) *Broker {
	return &Broker{
		cfg:       cfg,
		mode:      mode,
		rnd:       rand.New(rand.NewSource(cfg.RandomSeed)),
		orders:    make(map[string]*Order),
		positions: make(map[string]*Position),
		lastSimTs: make(map[string]time.Time),
	}
}

// PlaceLimit places a resting order, subject to fault-rate rejection and
// non-atomic-placement marking. A faulted placement is synthesized as a
// first-class rejected order, not a Go error; only malformed input is an
// error.
func (b *Broker) PlaceLimit(marketID, tokenID string, side Side, price, size float64, strategy string, now time.Time) (Order, error) {
	if price <= 0 || size <= 0 {
		return Order{}, fmt.Errorf("price and size must be positive")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o := &Order{
		ID:       uuid.NewString(),
		MarketID: marketID,
		TokenID:  tokenID,
		Side:     side,
		Price:    price,
		Size:     size,
		Strategy: strategy,
		PlacedAt: now,
	}

	if b.rnd.Float64() < b.cfg.FaultRate {
		o.Status = StatusRejected
		b.counters.Rejected++
		b.orders[o.ID] = o
		return *o, nil
	}

	o.Status = StatusOpen
	o.NonAtomic = b.rnd.Float64() < b.cfg.NonAtomicFailRate
	b.orders[o.ID] = o
	b.counters.Placed++
	return *o, nil
}

// Cancel cancels a resting order. Unknown ids and orders no longer open are
// silent no-ops. A non-atomically-placed order cannot be cancelled even
// though it remains eligible to fill, matching a venue whose cancel path
// didn't see the placement land.
func (b *Broker) Cancel(orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok || o.Status != StatusOpen {
		return nil
	}
	if o.NonAtomic {
		o.CancelErr = "cancel failed: not durably recorded by venue"
		b.counters.CancelFailures++
		return fmt.Errorf("cancel failed for order %s: not durably recorded by venue", orderID)
	}
	o.Status = StatusCancelled
	b.counters.Cancelled++
	return nil
}

// ExecuteIOC executes an immediate-or-cancel taker order at the
// caller-supplied price against the current top of book. ok=false means the
// order did not cross, or the broker is in shadow mode, and nothing happened
// — this is an expected outcome, not an error.
func (b *Broker) ExecuteIOC(marketID, tokenID string, side Side, price, size float64, strategy string, tob feedstate.TOB, now time.Time) (fill Fill, ok bool, err error) {
	if size <= 0 {
		return Fill{}, false, fmt.Errorf("size must be positive")
	}
	if b.mode == ModeShadow {
		return Fill{}, false, nil
	}
	if !tob.Valid() {
		return Fill{}, false, nil
	}

	switch side {
	case Buy:
		if price < tob.BestAsk {
			return Fill{}, false, nil
		}
	case Sell:
		if price > tob.BestBid {
			return Fill{}, false, nil
		}
	default:
		return Fill{}, false, fmt.Errorf("unsupported side %q", side)
	}

	fee := price * size * b.cfg.FeesBps / 10000
	f := Fill{
		ID:       uuid.NewString(),
		MarketID: marketID,
		TokenID:  tokenID,
		Side:     side,
		Price:    price,
		Size:     size,
		Fee:      fee,
		Strategy: strategy,
		Ts:       now,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.applyFillLocked(f)
	b.counters.Filled++
	b.counters.FilledQty += size
	return f, true, nil
}

// passiveFillDecay is the distance-to-touch intensity falloff per tick,
// fixed at 0.7 per the fill model (not configurable).
const passiveFillDecay = 0.7

// SimulateFillsForMarket advances the Poisson passive-fill process for
// every open order on marketID against the current touch, using an
// internally tracked last-simulation timestamp to derive dt. activityScore
// scales arrival intensity up when the feed is busy.
func (b *Broker) SimulateFillsForMarket(marketID string, tob feedstate.TOB, activityScore float64, now time.Time) ([]Fill, error) {
	if b.mode == ModeShadow {
		return nil, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	last, seen := b.lastSimTs[marketID]
	dt := 0.0
	if seen {
		dt = now.Sub(last).Seconds()
		if dt < 0 {
			dt = 0
		}
	}
	b.lastSimTs[marketID] = now
	if dt == 0 {
		return nil, nil
	}
	if !tob.Valid() || tob.Crossed() {
		return nil, nil
	}

	tick := b.cfg.PriceTick
	if tick < 1e-6 {
		tick = 1e-6
	}

	var fills []Fill
	for _, o := range b.orders {
		if o.MarketID != marketID || o.Status != StatusOpen {
			continue
		}
		if now.Sub(o.PlacedAt).Seconds() < b.cfg.MinRestSecs {
			continue
		}
		remaining := o.Size - o.FilledSize
		if remaining <= 0 {
			continue
		}

		var distanceTicks float64
		if o.Side == Buy {
			distanceTicks = math.Max((tob.BestBid-o.Price)/tick, 0)
		} else {
			distanceTicks = math.Max((o.Price-tob.BestAsk)/tick, 0)
		}

		activity := activityScore
		if activity < 0.05 {
			activity = 0.05
		}
		lambda := b.cfg.PoissonLambdaPerSec * activity * math.Exp(-passiveFillDecay*distanceTicks)

		n := poissonSample(b.rnd, lambda*dt)
		if n == 0 {
			continue
		}

		frac := clamp(0.3+0.7*b.rnd.Float64(), 0.05, 1.0)
		size := remaining * frac
		if remaining < tick {
			size = remaining
		} else {
			size = clamp(size, tick, remaining)
		}

		fee := o.Price * size * b.cfg.FeesBps / 10000
		fill := Fill{
			ID:       uuid.NewString(),
			OrderID:  o.ID,
			MarketID: o.MarketID,
			TokenID:  o.TokenID,
			Side:     o.Side,
			Price:    o.Price,
			Size:     size,
			Fee:      fee,
			Strategy: o.Strategy,
			Ts:       now,
		}
		o.FilledSize += size
		if o.FilledSize+1e-12 >= o.Size {
			o.Status = StatusFilled
		}
		b.applyFillLocked(fill)
		b.counters.Filled++
		b.counters.FilledQty += size
		fills = append(fills, fill)
	}
	return fills, nil
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

// applyFillLocked charges the slippage/latency execution cost against
// realized PnL, then applies the fill to the position's average-price
// bookkeeping, handling long/short flips. Caller must hold b.mu.
func (b *Broker) applyFillLocked(f Fill) {
	b.fills = append(b.fills, f)

	pos, ok := b.positions[f.MarketID]
	if !ok {
		pos = &Position{MarketID: f.MarketID}
		b.positions[f.MarketID] = pos
	}
	pos.TotalFills++

	execCost := (b.cfg.SlippageBps + b.cfg.LatencyBps) / 10000 * f.Price * f.Size
	pos.RealizedPnL -= execCost

	qty, avg := pos.NetSize, pos.AvgEntryPrice

	switch {
	case f.Side == Buy && qty >= 0:
		newQty := qty + f.Size
		if newQty > 0 {
			avg = (avg*qty + f.Price*f.Size) / newQty
		}
		qty = newQty

	case f.Side == Buy && qty < 0:
		closeQty := math.Min(-qty, f.Size)
		pos.RealizedPnL += (avg - f.Price) * closeQty
		qty += closeQty
		remaining := f.Size - closeQty
		if remaining > 0 {
			qty += remaining
			avg = f.Price
		}

	case f.Side == Sell && qty <= 0:
		absQty := -qty
		newAbs := absQty + f.Size
		if newAbs > 0 {
			avg = (avg*absQty + f.Price*f.Size) / newAbs
		}
		qty -= f.Size

	default: // Sell && qty > 0
		closeQty := math.Min(qty, f.Size)
		pos.RealizedPnL += (f.Price - avg) * closeQty
		qty -= closeQty
		remaining := f.Size - closeQty
		if remaining > 0 {
			qty -= remaining
			avg = f.Price
		}
	}

	if math.Abs(qty) < 1e-12 {
		qty = 0
		avg = 0
	}
	pos.NetSize, pos.AvgEntryPrice = qty, avg
}

// Position returns a copy of the current position for marketID.
func (b *Broker) Position(marketID string) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[marketID]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns a snapshot of every tracked position.
func (b *Broker) Positions() map[string]Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Position, len(b.positions))
	for k, v := range b.positions {
		out[k] = *v
	}
	return out
}

// Counters returns a snapshot of the broker's activity counters.
func (b *Broker) Counters() Counters {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counters
}

// OpenOrders returns every order still resting.
func (b *Broker) OpenOrders() []Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Order
	for _, o := range b.orders {
		if o.Status == StatusOpen {
			out = append(out, *o)
		}
	}
	return out
}

// OpenOrdersForMarket returns every open order resting on marketID.
func (b *Broker) OpenOrdersForMarket(marketID string) []Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Order
	for _, o := range b.orders {
		if o.MarketID == marketID && o.Status == StatusOpen {
			out = append(out, *o)
		}
	}
	return out
}

// RecentFills returns the last n fills, most recent first.
func (b *Broker) RecentFills(n int) []Fill {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := len(b.fills)
	if n <= 0 || n > total {
		n = total
	}
	out := make([]Fill, n)
	for i := 0; i < n; i++ {
		out[i] = b.fills[total-1-i]
	}
	return out
}

// Rehydrate restores positions and counters from a prior run's persisted
// snapshot, used on startup when paper_rehydrate_portfolio is set.
func (b *Broker) Rehydrate(positions map[string]Position, counters Counters) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = make(map[string]*Position, len(positions))
	for k, v := range positions {
		cp := v
		b.positions[k] = &cp
	}
	b.counters = counters
}
