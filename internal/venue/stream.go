package venue

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reconnectDelay = 250 * time.Millisecond
	pingInterval   = 30 * time.Second
)

// WSStreamClient maintains a reconnecting websocket subscription to the
// venue's market channel.
type WSStreamClient struct {
	url    string
	logger *log.Logger
}

// NewWSStreamClient builds a streaming client for the given websocket URL.
func NewWSStreamClient(url string, logger *log.Logger) *WSStreamClient {
	return &WSStreamClient{url: url, logger: logger}
}

type wireEvent struct {
	EventType string    `json:"event_type"`
	AssetID   string    `json:"asset_id"`
	Bids      []wireLvl `json:"bids"`
	Asks      []wireLvl `json:"asks"`
	Price     string    `json:"price"`
	Timestamp string    `json:"timestamp"`
}

// Stream connects, subscribes to tokenIDs, and dispatches decoded book and
// trade events to onBook/onTrade until ctx is cancelled. On a dropped
// connection it reconnects after reconnectDelay and resubscribes.
func (c *WSStreamClient) Stream(ctx context.Context, tokenIDs []string, onBook BookHandler, onTrade TradeHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.runOnce(ctx, tokenIDs, onBook, onTrade); err != nil {
			c.logger.Printf("stream connection error: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *WSStreamClient) runOnce(ctx context.Context, tokenIDs []string, onBook BookHandler, onTrade TradeHandler) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := struct {
		AssetsIDs []string `json:"assets_ids"`
		Type      string   `json:"type"`
	}{AssetsIDs: tokenIDs, Type: "market"}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(data, onBook, onTrade)
	}
}

func (c *WSStreamClient) dispatch(data []byte, onBook BookHandler, onTrade TradeHandler) {
	var events []wireEvent
	if err := json.Unmarshal(data, &events); err != nil {
		var single wireEvent
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return
		}
		events = []wireEvent{single}
	}

	for _, ev := range events {
		tsRaw, _ := strconv.ParseFloat(ev.Timestamp, 64)
		ts := ParseTimestamp(tsRaw)
		if ts.IsZero() {
			ts = time.Now()
		}

		switch ev.EventType {
		case "book":
			bids := make([]PriceLevel, 0, len(ev.Bids))
			for _, lvl := range ev.Bids {
				pl, err := ParsePriceLevel(lvl.Price, lvl.Size)
				if err != nil {
					continue
				}
				bids = append(bids, pl)
			}
			asks := make([]PriceLevel, 0, len(ev.Asks))
			for _, lvl := range ev.Asks {
				pl, err := ParsePriceLevel(lvl.Price, lvl.Size)
				if err != nil {
					continue
				}
				asks = append(asks, pl)
			}
			onBook(BookMessage{TokenID: ev.AssetID, Bids: bids, Asks: asks, Ts: ts})
		case "last_trade_price":
			price, err := strconv.ParseFloat(ev.Price, 64)
			if err != nil {
				continue
			}
			onTrade(TradeMessage{TokenID: ev.AssetID, Price: price, Ts: ts})
		}
	}
}
