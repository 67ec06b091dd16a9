// Package venue defines the external contracts spreadkeeper depends on:
// market metadata discovery, a streaming book/trade feed, and a REST
// fallback poller. Nothing outside this package should know the shape of
// the underlying venue's wire format.
package venue

import (
	"context"
	"time"
)

// CandidateMarket is one row of the venue's market-listing response, before
// the selector has scored or filtered it.
type CandidateMarket struct {
	MarketID     string
	ConditionID  string
	EventID      string
	Question     string
	YesTokenID   string
	NoTokenID    string
	Volume24hUSD float64
	LiquidityUSD float64
	EndTime      time.Time
	Active       bool
	Closed       bool
}

// PriceLevel mirrors feedstate.PriceLevel so venue clients don't need to
// import feedstate just to describe a book level.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookMessage is a normalized top-of-book snapshot for a single token,
// timestamped from the venue's server timestamp (see ParseTimestamp), or
// from the local clock when the message carries none.
type BookMessage struct {
	TokenID string
	Bids    []PriceLevel
	Asks    []PriceLevel
	Ts      time.Time
}

// TradeMessage is a normalized last-trade-price event for a single token.
type TradeMessage struct {
	TokenID string
	Price   float64
	Ts      time.Time
}

// MetadataClient discovers candidate markets. Implementations paginate
// internally and return the full accumulated set.
type MetadataClient interface {
	ListMarkets(ctx context.Context, pageCap int) ([]CandidateMarket, error)
}

// BookHandler and TradeHandler are invoked by StreamClient for every
// message it decodes. They must not block for long: the stream reader
// cannot make progress while a handler is running.
type BookHandler func(BookMessage)
type TradeHandler func(TradeMessage)

// StreamClient maintains a long-lived subscription to a set of tokens and
// delivers book and trade updates until ctx is cancelled. Implementations
// reconnect on their own on transient failure; Stream only returns once ctx
// is done or a non-retryable error occurs.
type StreamClient interface {
	Stream(ctx context.Context, tokenIDs []string, onBook BookHandler, onTrade TradeHandler) error
}

// PollClient is the REST fallback path: the feed poll task uses it to
// refresh every routed token's book on a fixed interval, alongside the
// streaming feed.
type PollClient interface {
	PollBooks(ctx context.Context, tokenIDs []string) ([]BookMessage, error)
}
