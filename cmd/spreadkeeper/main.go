// Command spreadkeeper runs the paper market-making engine: it discovers
// markets, streams their order books, selects a watchlist, quotes and
// trades it against a simulated venue, and serves a read-only dashboard.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/havenquant/spreadkeeper/internal/api"
	"github.com/havenquant/spreadkeeper/internal/broker"
	"github.com/havenquant/spreadkeeper/internal/config"
	"github.com/havenquant/spreadkeeper/internal/feedstate"
	"github.com/havenquant/spreadkeeper/internal/risk"
	"github.com/havenquant/spreadkeeper/internal/routing"
	"github.com/havenquant/spreadkeeper/internal/selector"
	"github.com/havenquant/spreadkeeper/internal/telemetry"
	"github.com/havenquant/spreadkeeper/internal/trader"
	"github.com/havenquant/spreadkeeper/internal/venue"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "", "path to the telemetry sqlite database")
	flag.Parse()

	logger := log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil && !os.IsNotExist(err) {
		logger.Fatalf("load config: %v", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	store, err := telemetry.Open(*dbPath)
	if err != nil {
		logger.Fatalf("open telemetry store: %v", err)
	}
	defer store.Close()

	feed := feedstate.NewStore()
	routes := routing.New()

	metadataClient := venue.NewHTTPClient(venue.HTTPClientConfig{
		BaseURL:           cfg.Venue.GammaBaseURL,
		RequestsPerSecond: cfg.Venue.RequestsPerSecond,
		Burst:             cfg.Venue.Burst,
		Timeout:           cfg.Venue.Timeout,
	}, logger)
	pollClient := venue.NewHTTPClient(venue.HTTPClientConfig{
		BaseURL:           cfg.Venue.CLOBBaseURL,
		RequestsPerSecond: cfg.Venue.RequestsPerSecond,
		Burst:             cfg.Venue.Burst,
		Timeout:           cfg.Venue.Timeout,
	}, logger)
	streamClient := venue.NewWSStreamClient(cfg.Venue.WSURL, logger)

	sel := selector.New(cfg.Selector, metadataClient, feed, routes)
	sel.SetStore(store)

	gate := risk.New(risk.Config{
		MaxFeedLagSecs:     cfg.Risk.MaxFeedLagSecs,
		RejectFeedLagMs:    cfg.Risk.RejectFeedLagMs,
		RejectAbsImbalance: cfg.Risk.RejectAbsImbalance,
	})

	execMode := broker.ModePaper
	if cfg.ExecutionMode == "shadow" {
		execMode = broker.ModeShadow
	}
	book := broker.New(broker.Config{
		FeesBps:             cfg.Risk.FeesBps,
		SlippageBps:         cfg.Risk.SlippageBps,
		LatencyBps:          cfg.Risk.LatencyBps,
		PriceTick:           cfg.Strategy.PriceTick,
		FaultRate:           cfg.Paper.FaultRate,
		NonAtomicFailRate:   cfg.Paper.NonAtomicFailRate,
		MinRestSecs:         cfg.Paper.MinRestSecs,
		PoissonLambdaPerSec: cfg.Paper.PoissonLambdaPerSec,
		RandomSeed:          cfg.Paper.RandomSeed,
	}, execMode)

	if cfg.Paper.RehydratePortfolio && !cfg.Paper.ResetOnStart {
		if err := rehydrateBroker(book, store); err != nil {
			logger.Printf("rehydrate portfolio: %v", err)
		}
	}

	trade := trader.New(cfg, feed, routes, gate, book, store, sel, logger)

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API.Addr, book, gate, store)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return sel.Run(gctx, time.Duration(cfg.MarketRefreshSecs)*time.Second)
	})

	fd := &feedDriver{
		routes: routes,
		feed:   feed,
		stream: streamClient,
		poll:   pollClient,
		logger: logger,
	}
	group.Go(func() error { return fd.runStream(gctx) })
	group.Go(func() error { return fd.runPoll(gctx, cfg.PollInterval) })

	group.Go(func() error { return trade.Run(gctx) })

	if apiServer != nil {
		if err := apiServer.Start(gctx); err != nil {
			logger.Fatalf("start api server: %v", err)
		}
		group.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return apiServer.Shutdown(shutdownCtx)
		})
		group.Go(func() error { return observeLoop(gctx, apiServer, trade) })
	}

	logger.Printf("spreadkeeper starting (run_mode=%s execution_mode=%s)", cfg.RunMode, cfg.ExecutionMode)
	if err := group.Wait(); err != nil && gctx.Err() == nil {
		logger.Printf("spreadkeeper exiting: %v", err)
	}
	logger.Print("spreadkeeper stopped")
}

// rehydrateBroker restores the paper broker's positions from the last
// persisted snapshot per market. Counters (placed/filled/rejected, etc.)
// are not snapshotted and always start fresh on restart.
func rehydrateBroker(book *broker.Broker, store *telemetry.Store) error {
	snaps, err := store.LatestPositionSnapshots()
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		return nil
	}
	positions := make(map[string]broker.Position, len(snaps))
	for _, s := range snaps {
		positions[s.MarketID] = broker.Position{
			MarketID:      s.MarketID,
			NetSize:       s.NetSize,
			AvgEntryPrice: s.AvgPrice,
			RealizedPnL:   s.Realized,
		}
	}
	book.Rehydrate(positions, broker.Counters{})
	return nil
}

// observeLoop republishes broker/risk counters to Prometheus and the
// trader's current watchlist to the dashboard on a fixed one-second
// cadence, regardless of the configured snapshot interval; both are
// cheap and idempotent.
func observeLoop(ctx context.Context, s *api.Server, trade *trader.Trader) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Observe()
			s.SetWatchlist(trade.Watchlist())
		}
	}
}

// feedDriver keeps the feed store current from both the streaming and the
// REST-poll paths, resubscribing the stream whenever the routing table's
// token set changes.
type feedDriver struct {
	routes *routing.Table
	feed   *feedstate.Store
	stream venue.StreamClient
	poll   venue.PollClient
	logger *log.Logger
}

// runStream restarts the streaming subscription whenever the watchlist's
// token set changes, since venue.StreamClient.Stream subscribes once for
// the lifetime of a call.
func (f *feedDriver) runStream(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		tokens := f.tokenIDs()
		if len(tokens) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		subCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			done <- f.stream.Stream(subCtx, tokens, f.onBook, f.onTrade)
		}()

		watch := time.NewTicker(5 * time.Second)
	watchLoop:
		for {
			select {
			case <-ctx.Done():
				cancel()
				<-done
				watch.Stop()
				return ctx.Err()
			case err := <-done:
				cancel()
				watch.Stop()
				if err != nil && ctx.Err() == nil {
					f.logger.Printf("feed stream: %v", err)
				}
				break watchLoop
			case <-watch.C:
				if !tokensEqual(tokens, f.tokenIDs()) {
					cancel()
					<-done
					watch.Stop()
					break watchLoop
				}
			}
		}
	}
}

// runPoll periodically refreshes every routed token's book over REST, a
// fallback path for markets the stream has gone quiet on.
func (f *feedDriver) runPoll(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tokens := f.tokenIDs()
			if len(tokens) == 0 {
				continue
			}
			msgs, err := f.poll.PollBooks(ctx, tokens)
			if err != nil {
				f.logger.Printf("feed poll: %v", err)
				continue
			}
			now := time.Now()
			for _, msg := range msgs {
				f.feed.UpdateBookFromPoll(msg.TokenID, toLevels(msg.Bids), toLevels(msg.Asks), now)
			}
		}
	}
}

func (f *feedDriver) onBook(msg venue.BookMessage) {
	ts := msg.Ts
	if ts.IsZero() {
		ts = time.Now()
	}
	f.feed.UpdateBook(msg.TokenID, toLevels(msg.Bids), toLevels(msg.Asks), ts)
}

func (f *feedDriver) onTrade(msg venue.TradeMessage) {
	ts := msg.Ts
	if ts.IsZero() {
		ts = time.Now()
	}
	f.feed.UpdateLastTrade(msg.TokenID, msg.Price, ts)
}

func (f *feedDriver) tokenIDs() []string {
	var tokens []string
	for _, marketID := range f.routes.MarketIDs() {
		m, ok := f.routes.Market(marketID)
		if !ok {
			continue
		}
		if m.PrimaryToken != "" {
			tokens = append(tokens, m.PrimaryToken)
		}
		tokens = append(tokens, m.OtherTokens...)
	}
	return tokens
}

func toLevels(in []venue.PriceLevel) []feedstate.PriceLevel {
	out := make([]feedstate.PriceLevel, len(in))
	for i, lvl := range in {
		out[i] = feedstate.PriceLevel{Price: lvl.Price, Size: lvl.Size}
	}
	return out
}

func tokensEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}
