// Package routing holds the mapping from venue identifiers to the internal
// market id the rest of the trader keys everything by. It is rebuilt
// wholesale whenever the selector publishes a new watchlist and read by
// every other task in between rebuilds.
package routing

import "sync"

// Market is one routing table row: a market and the primary token the
// trader quotes and trades for it.
type Market struct {
	MarketID     string
	ConditionID  string
	EventID      string
	PrimaryToken string
	OtherTokens  []string
}

// Table is the condition_id/token_id -> market_id lookup, rebuilt atomically
// on every selector refresh. A single writer (the selector task) calls
// Replace; any number of readers call the lookup methods concurrently.
type Table struct {
	mu sync.RWMutex

	byCondition map[string]string // condition_id -> market_id
	byToken     map[string]string // token_id -> market_id
	primary     map[string]string // market_id -> primary token_id
	markets     map[string]Market // market_id -> Market
}

// New returns an empty routing table.
func New() *Table {
	return &Table{
		byCondition: make(map[string]string),
		byToken:     make(map[string]string),
		primary:     make(map[string]string),
		markets:     make(map[string]Market),
	}
}

// Replace atomically swaps the entire table contents for the given set of
// markets. Readers either see the old table in full or the new one in
// full, never a partial mix.
func (t *Table) Replace(markets []Market) {
	byCondition := make(map[string]string, len(markets))
	byToken := make(map[string]string, len(markets)*2)
	primary := make(map[string]string, len(markets))
	byID := make(map[string]Market, len(markets))

	for _, m := range markets {
		byID[m.MarketID] = m
		if m.ConditionID != "" {
			byCondition[m.ConditionID] = m.MarketID
		}
		if m.PrimaryToken != "" {
			primary[m.MarketID] = m.PrimaryToken
			byToken[m.PrimaryToken] = m.MarketID
		}
		for _, tok := range m.OtherTokens {
			byToken[tok] = m.MarketID
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.byCondition = byCondition
	t.byToken = byToken
	t.primary = primary
	t.markets = byID
}

// MarketIDForToken resolves a venue token id to the internal market id.
func (t *Table) MarketIDForToken(tokenID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byToken[tokenID]
	return id, ok
}

// MarketIDForCondition resolves a venue condition id to the internal
// market id.
func (t *Table) MarketIDForCondition(conditionID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byCondition[conditionID]
	return id, ok
}

// PrimaryToken returns the token the trader quotes for marketID.
func (t *Table) PrimaryToken(marketID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tok, ok := t.primary[marketID]
	return tok, ok
}

// Market returns the full routing row for marketID.
func (t *Table) Market(marketID string) (Market, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.markets[marketID]
	return m, ok
}

// MarketIDs returns every market currently routed.
func (t *Table) MarketIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.markets))
	for id := range t.markets {
		ids = append(ids, id)
	}
	return ids
}

// Len reports how many markets are currently routed.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.markets)
}
