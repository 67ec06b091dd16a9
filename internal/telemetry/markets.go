package telemetry

import (
	"database/sql"
	"time"
)

// UpsertMarket writes a last-write-wins market row, stamped with now.
func (s *Store) UpsertMarket(m MarketRow, now time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO markets (market_id, question, event_id, active, end_ts, volume_24h_usd, liquidity_usd, condition_id, clob_token_id, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id) DO UPDATE SET
			question = excluded.question,
			event_id = excluded.event_id,
			active = excluded.active,
			end_ts = excluded.end_ts,
			volume_24h_usd = excluded.volume_24h_usd,
			liquidity_usd = excluded.liquidity_usd,
			condition_id = excluded.condition_id,
			clob_token_id = excluded.clob_token_id,
			updated_ts = excluded.updated_ts
	`,
		m.MarketID, m.Question, m.EventID, m.Active, unixMs(m.EndTs),
		m.Volume24hUSD, m.LiquidityUSD, m.ConditionID, m.ClobTokenID, unixMs(now),
	)
	return err
}

// Market returns the persisted row for marketID, if any.
func (s *Store) Market(marketID string) (MarketRow, bool, error) {
	var m MarketRow
	var active int
	var endTs int64
	row := s.db.QueryRow(`
		SELECT market_id, question, event_id, active, end_ts, volume_24h_usd, liquidity_usd, condition_id, clob_token_id
		  FROM markets WHERE market_id = ?
	`, marketID)
	err := row.Scan(&m.MarketID, &m.Question, &m.EventID, &active, &endTs, &m.Volume24hUSD, &m.LiquidityUSD, &m.ConditionID, &m.ClobTokenID)
	if err != nil {
		if err == sql.ErrNoRows {
			return MarketRow{}, false, nil
		}
		return MarketRow{}, false, err
	}
	m.Active = active != 0
	if endTs > 0 {
		m.EndTs = time.UnixMilli(endTs)
	}
	return m, true, nil
}
