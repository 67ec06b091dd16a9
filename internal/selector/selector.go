// Package selector picks the set of markets the trader actively quotes,
// combining venue-reported liquidity/volume with the feed's own
// microstructure statistics once a market has warmed up.
package selector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/havenquant/spreadkeeper/internal/config"
	"github.com/havenquant/spreadkeeper/internal/feedstate"
	"github.com/havenquant/spreadkeeper/internal/routing"
	"github.com/havenquant/spreadkeeper/internal/telemetry"
	"github.com/havenquant/spreadkeeper/internal/venue"
)

// Candidate is one market under consideration, after eligibility filtering
// and scoring but before truncation to the final watchlist size.
type Candidate struct {
	Market venue.CandidateMarket
	Score  float64
	Warmed bool
}

// Selected is one row of the published watchlist.
type Selected struct {
	MarketID     string
	ConditionID  string
	EventID      string
	PrimaryToken string
	OtherToken   string
	Question     string
	Score        float64
}

// Selector holds the configuration and dependencies needed to run
// eligibility filtering, scoring, and watchlist publication on a timer.
type Selector struct {
	cfg      config.SelectorConfig
	metadata venue.MetadataClient
	feed     *feedstate.Store
	routes   *routing.Table

	watchlist    chan []Selected
	lastTokenSet map[string]struct{}
	store        *telemetry.Store

	// OnScan, if set, is called with every refresh's full candidate list
	// before truncation, for scanner-snapshot recording.
	OnScan func([]Candidate)
}

// SetStore attaches a telemetry store. Once set, every RefreshOnce call
// persists the candidate set's market metadata, a scanner snapshot, and
// (when the watchlist changes) the new watchlist rows. Telemetry is
// optional: a nil store (the default) makes RefreshOnce a pure in-memory
// operation, as used by the package's tests.
func (s *Selector) SetStore(store *telemetry.Store) {
	s.store = store
}

// New builds a Selector. The watchlist channel is buffered to 1 so a
// consumer that's behind only ever sees the latest published set.
func New(cfg config.SelectorConfig, metadata venue.MetadataClient, feed *feedstate.Store, routes *routing.Table) *Selector {
	return &Selector{
		cfg:          cfg,
		metadata:     metadata,
		feed:         feed,
		routes:       routes,
		watchlist:    make(chan []Selected, 1),
		lastTokenSet: make(map[string]struct{}),
	}
}

// Watchlist returns the latest-value channel consumers should read the
// current selection from.
func (s *Selector) Watchlist() <-chan []Selected {
	return s.watchlist
}

// RefreshOnce performs one full metadata fetch, eligibility pass, scoring
// pass, and (if the token set changed) publication.
func (s *Selector) RefreshOnce(ctx context.Context) ([]Selected, bool, error) {
	markets, err := s.metadata.ListMarkets(ctx, s.cfg.CandidatePageCap)
	if err != nil {
		return nil, false, fmt.Errorf("list markets: %w", err)
	}

	candidates := s.scoreAll(markets)
	if s.OnScan != nil {
		s.OnScan(candidates)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].Market.Volume24hUSD != candidates[j].Market.Volume24hUSD {
			return candidates[i].Market.Volume24hUSD > candidates[j].Market.Volume24hUSD
		}
		return candidates[i].Market.LiquidityUSD > candidates[j].Market.LiquidityUSD
	})

	n := s.cfg.TopNMarkets
	if n > s.cfg.MaxMarketsSubscribed {
		n = s.cfg.MaxMarketsSubscribed
	}
	if n > len(candidates) {
		n = len(candidates)
	}

	selected := make([]Selected, 0, n)
	routes := make([]routing.Market, 0, n)
	tokenSet := make(map[string]struct{}, n*2)
	for _, c := range candidates[:n] {
		selected = append(selected, Selected{
			MarketID:     c.Market.MarketID,
			ConditionID:  c.Market.ConditionID,
			EventID:      c.Market.EventID,
			PrimaryToken: c.Market.YesTokenID,
			OtherToken:   c.Market.NoTokenID,
			Question:     c.Market.Question,
			Score:        c.Score,
		})
		routes = append(routes, routing.Market{
			MarketID:     c.Market.MarketID,
			ConditionID:  c.Market.ConditionID,
			EventID:      c.Market.EventID,
			PrimaryToken: c.Market.YesTokenID,
			OtherTokens:  []string{c.Market.NoTokenID},
		})
		tokenSet[c.Market.YesTokenID] = struct{}{}
		tokenSet[c.Market.NoTokenID] = struct{}{}
	}

	s.routes.Replace(routes)
	s.persistScan(candidates, n)

	changed := !sameTokenSet(tokenSet, s.lastTokenSet)
	s.lastTokenSet = tokenSet
	if changed {
		s.persistWatchlist(selected)
		s.publish(selected)
	}
	return selected, changed, nil
}

// Run refreshes on interval until ctx is cancelled. A failed refresh is
// retried on the next tick.
func (s *Selector) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_, _, _ = s.RefreshOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, _, err := s.RefreshOnce(ctx); err != nil {
				continue
			}
		}
	}
}

// persistScan writes every eligible candidate's market metadata and a
// scanner snapshot of how many were eligible versus selected. Best-effort:
// a store error here must never block a refresh cycle.
func (s *Selector) persistScan(candidates []Candidate, selectedCount int) {
	if s.store == nil {
		return
	}
	now := time.Now()
	for _, c := range candidates {
		row := telemetry.MarketRow{
			MarketID:     c.Market.MarketID,
			Question:     c.Market.Question,
			EventID:      c.Market.EventID,
			Active:       c.Market.Active && !c.Market.Closed,
			EndTs:        c.Market.EndTime,
			Volume24hUSD: c.Market.Volume24hUSD,
			LiquidityUSD: c.Market.LiquidityUSD,
			ConditionID:  c.Market.ConditionID,
			ClobTokenID:  c.Market.YesTokenID,
		}
		_ = s.store.UpsertMarket(row, now)
	}
	_ = s.store.InsertScannerSnapshot(telemetry.ScannerSnapshot{
		EligibleCount: len(candidates),
		SelectedCount: selectedCount,
		Ts:            now,
	})
}

// persistWatchlist replaces the stored watchlist wholesale, mirroring the
// in-memory publish semantics.
func (s *Selector) persistWatchlist(selected []Selected) {
	if s.store == nil {
		return
	}
	rows := make([]telemetry.WatchlistRow, 0, len(selected))
	for i, sel := range selected {
		rows = append(rows, telemetry.WatchlistRow{
			Rank:         i,
			MarketID:     sel.MarketID,
			ConditionID:  sel.ConditionID,
			PrimaryToken: sel.PrimaryToken,
			Question:     sel.Question,
			Score:        sel.Score,
		})
	}
	_ = s.store.ReplaceWatchlist(rows)
}

func (s *Selector) publish(selected []Selected) {
	select {
	case s.watchlist <- selected:
	default:
		select {
		case <-s.watchlist:
		default:
		}
		s.watchlist <- selected
	}
}

func (s *Selector) scoreAll(markets []venue.CandidateMarket) []Candidate {
	out := make([]Candidate, 0, len(markets))
	for _, m := range markets {
		if !m.Active || m.Closed {
			continue
		}
		if m.Volume24hUSD < s.cfg.Min24hVolumeUSD {
			continue
		}
		if m.LiquidityUSD < s.cfg.MinLiquidityUSD {
			continue
		}
		if m.YesTokenID == "" {
			continue
		}

		cand := Candidate{Market: m}
		if tob, ok := s.feed.Get(m.YesTokenID); ok && tob.Valid() {
			spreadBps := tob.SpreadBps()
			hasMetrics := tob.UpdatesEWMAPerMin > 0 && spreadBps > 0
			if hasMetrics {
				if spreadBps < s.cfg.MinSpreadBps {
					continue
				}
				if tob.UpdatesEWMAPerMin < s.cfg.MinUpdatesMin {
					continue
				}
				cand.Warmed = true
				cand.Score = tob.UpdatesEWMAPerMin*spreadBps + absf(tob.Imbalance())
			}
		}
		out = append(out, cand)
	}
	return out
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func sameTokenSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
