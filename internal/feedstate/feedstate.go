// Package feedstate holds the top-of-book view the rest of the trader reads
// from. It is written by the venue stream/poll tasks and read by the
// selector and trader tasks, so every access goes through a mutex.
package feedstate

import (
	"sync"
	"time"
)

// TOB is the most recent top-of-book view of one market's token.
type TOB struct {
	BestBid   float64
	BestAsk   float64
	BidDepth5 float64
	AskDepth5 float64
	Ts        time.Time

	UpdatesEWMAPerMin float64
	LastTradeEMA      float64
	LastTradeTs       time.Time
}

// Mid is the simple midpoint of best bid and best ask. Callers must check
// Valid() first; Mid on a zero-value TOB returns 0.
func (t TOB) Mid() float64 {
	return (t.BestBid + t.BestAsk) / 2
}

// Spread is ask minus bid, expressed in the same units as the prices.
func (t TOB) Spread() float64 {
	return t.BestAsk - t.BestBid
}

// SpreadBps is the spread expressed in basis points of the midpoint.
func (t TOB) SpreadBps() float64 {
	mid := t.Mid()
	if mid <= 0 {
		return 0
	}
	return t.Spread() / mid * 10000
}

// Imbalance is in [-1, 1]: positive means more depth resting on the bid
// side, negative means more on the ask side.
func (t TOB) Imbalance() float64 {
	total := t.BidDepth5 + t.AskDepth5
	if total <= 0 {
		return 0
	}
	return (t.BidDepth5 - t.AskDepth5) / total
}

// Valid reports whether both sides of the book are present and not crossed.
func (t TOB) Valid() bool {
	return t.BestBid > 0 && t.BestAsk > 0 && t.BestBid <= t.BestAsk
}

// Crossed reports bid > ask, a transient/bad feed state.
func (t TOB) Crossed() bool {
	return t.BestBid > 0 && t.BestAsk > 0 && t.BestBid > t.BestAsk
}

const (
	// updateRateAlpha is the EWMA smoothing factor applied to the
	// per-minute update-rate estimate on every streaming book update
	// (REST poll updates leave it untouched).
	updateRateAlpha = 0.1
	// tradeEMAAlpha is the smoothing factor applied to observed trade
	// prices to produce a slower-moving reference price.
	tradeEMAAlpha = 0.2
)

// ewma returns x when prevSet is false (no prior observation), otherwise
// the standard exponentially-weighted blend of prev and x.
func ewma(prevSet bool, prev, x, alpha float64) float64 {
	if !prevSet {
		return x
	}
	return alpha*x + (1-alpha)*prev
}

type entry struct {
	tob              TOB
	haveRate         bool
	haveTrade        bool
	lastStreamUpdate time.Time
}

// Store is a concurrency-safe map of market/token identifier to its current
// TOB, updated by the venue feed tasks and read by everyone else.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewStore returns an empty feed state store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// PriceLevel is a single (price, size) point on one side of the book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// UpdateBook installs a new top-of-book reading for tokenID from the
// streaming feed. bids and asks need not be pre-sorted; UpdateBook derives
// best price and top-5 depth itself. now is the observation time, used to
// derive the instantaneous update rate fed into the update-rate EWMA.
func (s *Store) UpdateBook(tokenID string, bids, asks []PriceLevel, now time.Time) {
	s.updateBook(tokenID, bids, asks, now, true)
}

// UpdateBookFromPoll installs a new top-of-book reading for tokenID from a
// REST poll. Poll cadence says nothing about how actively the book is
// trading, so poll updates never touch the update-rate EWMA; they only
// refresh the book content itself.
func (s *Store) UpdateBookFromPoll(tokenID string, bids, asks []PriceLevel, now time.Time) {
	s.updateBook(tokenID, bids, asks, now, false)
}

func (s *Store) updateBook(tokenID string, bids, asks []PriceLevel, now time.Time, trackRate bool) {
	bestBid, bidDepth := bestAndDepth(bids, true)
	bestAsk, askDepth := bestAndDepth(asks, false)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[tokenID]
	if !ok {
		e = &entry{}
		s.entries[tokenID] = e
	}

	if trackRate {
		instRate := 0.0
		if !e.lastStreamUpdate.IsZero() {
			dt := now.Sub(e.lastStreamUpdate).Seconds()
			if dt > 0 {
				instRate = 60.0 / dt
			}
		}
		e.tob.UpdatesEWMAPerMin = ewma(e.haveRate, e.tob.UpdatesEWMAPerMin, instRate, updateRateAlpha)
		if !e.lastStreamUpdate.IsZero() {
			e.haveRate = true
		}
		e.lastStreamUpdate = now
	}

	e.tob.BestBid = bestBid
	e.tob.BestAsk = bestAsk
	e.tob.BidDepth5 = bidDepth
	e.tob.AskDepth5 = askDepth
	e.tob.Ts = now
}

// UpdateLastTrade folds a new observed trade price into the trade EMA.
func (s *Store) UpdateLastTrade(tokenID string, price float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[tokenID]
	if !ok {
		e = &entry{}
		s.entries[tokenID] = e
	}
	e.tob.LastTradeEMA = ewma(e.haveTrade, e.tob.LastTradeEMA, price, tradeEMAAlpha)
	e.haveTrade = true
	e.tob.LastTradeTs = now
}

// Get returns a copy of the current TOB for tokenID and whether it exists.
func (s *Store) Get(tokenID string) (TOB, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[tokenID]
	if !ok {
		return TOB{}, false
	}
	return e.tob, true
}

// TokenIDs returns every token currently tracked.
func (s *Store) TokenIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// bestAndDepth picks the best price (max for bids, min for asks) and sums
// the size of the top 5 levels by price, tolerating unsorted input.
func bestAndDepth(levels []PriceLevel, isBid bool) (best, depth float64) {
	if len(levels) == 0 {
		return 0, 0
	}
	sorted := make([]PriceLevel, len(levels))
	copy(sorted, levels)
	for i := 1; i < len(sorted); i++ {
		v := sorted[i]
		j := i - 1
		for j >= 0 && betterPrice(v.Price, sorted[j].Price, isBid) {
			sorted[j+1] = sorted[j]
			j--
		}
		sorted[j+1] = v
	}
	best = sorted[0].Price
	n := len(sorted)
	if n > 5 {
		n = 5
	}
	for i := 0; i < n; i++ {
		depth += sorted[i].Size
	}
	return best, depth
}

// betterPrice reports whether a should sort ahead of b: higher price first
// for bids, lower price first for asks.
func betterPrice(a, b float64, isBid bool) bool {
	if isBid {
		return a > b
	}
	return a < b
}
