package venue

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// HTTPClient is the REST-backed MetadataClient and PollClient. It wraps a
// resty client with retry-on-5xx and a token-bucket limiter so a wide
// candidate scan or a busy poll batch never floods the venue.
type HTTPClient struct {
	http   *resty.Client
	limit  *rate.Limiter
	logger *log.Logger
}

// HTTPClientConfig names the endpoint and limits an HTTPClient needs. A
// single HTTPClient talks to one base URL; construct separate instances
// for the metadata (Gamma) and poll (CLOB) endpoints.
type HTTPClientConfig struct {
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// NewHTTPClient builds a rate-limited, retrying REST client.
func NewHTTPClient(cfg HTTPClientConfig, logger *log.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}

	h := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &HTTPClient{
		http:   h,
		limit:  rate.NewLimiter(rate.Limit(rps), burst),
		logger: logger,
	}
}

type gammaMarket struct {
	ConditionID    string   `json:"conditionId"`
	EventID        string   `json:"eventId"`
	Question       string   `json:"question"`
	ClobTokenIDs   []string `json:"clobTokenIds"`
	Outcomes       []string `json:"outcomes"`
	Volume24hrClob string   `json:"volume24hrClob"`
	Volume24hr     string   `json:"volume24hr"`
	VolumeNum      string   `json:"volumeNum"`
	Liquidity      string   `json:"liquidity"`
	LiquidityClob  string   `json:"liquidityClob"`
	EndDateISO     string   `json:"endDateIso"`
	Active         bool     `json:"active"`
	Closed         bool     `json:"closed"`
}

// firstParsedFloat returns the value of the first field that parses as a
// float, trying each in order; zero if none do. Used to resolve the venue's
// several overlapping volume/liquidity fields down to one number.
func firstParsedFloat(values ...string) float64 {
	for _, v := range values {
		if v == "" {
			continue
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}

// ListMarkets paginates the venue's public market listing until pageCap
// rows have been read or the venue returns an empty page.
func (h *HTTPClient) ListMarkets(ctx context.Context, pageCap int) ([]CandidateMarket, error) {
	const pageSize = 100
	var out []CandidateMarket

	for offset := 0; len(out) < pageCap; offset += pageSize {
		if err := h.limit.Wait(ctx); err != nil {
			return nil, err
		}
		var page []gammaMarket
		resp, err := h.http.R().
			SetContext(ctx).
			SetQueryParam("limit", strconv.Itoa(pageSize)).
			SetQueryParam("offset", strconv.Itoa(offset)).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("list markets: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("list markets: status %d: %s", resp.StatusCode(), resp.String())
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			cand, ok := toCandidateMarket(m)
			if !ok {
				continue
			}
			out = append(out, cand)
			if len(out) >= pageCap {
				break
			}
		}
		if len(page) < pageSize {
			break
		}
	}
	return out, nil
}

// toCandidateMarket resolves the primary (YES) token from the gamma
// outcomes/clobTokenIds pair by matching the outcome labelled "Yes",
// falling back to the first token when the venue doesn't label outcomes.
func toCandidateMarket(m gammaMarket) (CandidateMarket, bool) {
	if len(m.ClobTokenIDs) < 2 {
		return CandidateMarket{}, false
	}
	yesIdx := 0
	for i, label := range m.Outcomes {
		if i >= len(m.ClobTokenIDs) {
			break
		}
		if strings.EqualFold(label, "yes") {
			yesIdx = i
			break
		}
	}
	noIdx := 1 - yesIdx
	if noIdx < 0 || noIdx >= len(m.ClobTokenIDs) {
		noIdx = (yesIdx + 1) % len(m.ClobTokenIDs)
	}

	vol := firstParsedFloat(m.Volume24hrClob, m.Volume24hr, m.VolumeNum)
	liq := firstParsedFloat(m.Liquidity, m.LiquidityClob)
	end, _ := time.Parse(time.RFC3339, m.EndDateISO)

	return CandidateMarket{
		MarketID:     m.ConditionID,
		ConditionID:  m.ConditionID,
		EventID:      m.EventID,
		Question:     m.Question,
		YesTokenID:   m.ClobTokenIDs[yesIdx],
		NoTokenID:    m.ClobTokenIDs[noIdx],
		Volume24hUSD: vol,
		LiquidityUSD: liq,
		EndTime:      end,
		Active:       m.Active,
		Closed:       m.Closed,
	}, true
}

type clobBook struct {
	AssetID string     `json:"asset_id"`
	Bids    []wireLvl  `json:"bids"`
	Asks    []wireLvl  `json:"asks"`
	Ts      string     `json:"timestamp"`
}

type wireLvl struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PollBooks fetches a fresh top-of-book reading for each token, one REST
// call per token, each gated by the shared rate limiter.
func (h *HTTPClient) PollBooks(ctx context.Context, tokenIDs []string) ([]BookMessage, error) {
	out := make([]BookMessage, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		if err := h.limit.Wait(ctx); err != nil {
			return out, err
		}
		var book clobBook
		resp, err := h.http.R().
			SetContext(ctx).
			SetQueryParam("token_id", tokenID).
			SetResult(&book).
			Get("/book")
		if err != nil {
			h.logger.Printf("poll book %s: %v", tokenID, err)
			continue
		}
		if resp.StatusCode() != http.StatusOK {
			h.logger.Printf("poll book %s: status %d", tokenID, resp.StatusCode())
			continue
		}
		msg, err := toBookMessage(tokenID, book)
		if err != nil {
			h.logger.Printf("decode book %s: %v", tokenID, err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func toBookMessage(tokenID string, book clobBook) (BookMessage, error) {
	bids := make([]PriceLevel, 0, len(book.Bids))
	for _, lvl := range book.Bids {
		pl, err := ParsePriceLevel(lvl.Price, lvl.Size)
		if err != nil {
			continue
		}
		bids = append(bids, pl)
	}
	asks := make([]PriceLevel, 0, len(book.Asks))
	for _, lvl := range book.Asks {
		pl, err := ParsePriceLevel(lvl.Price, lvl.Size)
		if err != nil {
			continue
		}
		asks = append(asks, pl)
	}
	tsRaw, _ := strconv.ParseFloat(book.Ts, 64)
	ts := ParseTimestamp(tsRaw)
	if ts.IsZero() {
		ts = time.Now()
	}
	return BookMessage{TokenID: tokenID, Bids: bids, Asks: asks, Ts: ts}, nil
}
