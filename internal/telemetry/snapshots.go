package telemetry

import "database/sql"

// InsertPositionSnapshot appends one per-market position row.
func (s *Store) InsertPositionSnapshot(p PositionSnapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO position_snapshots (market_id, net_size, avg_price, mark_price, realized, unrealized, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.MarketID, p.NetSize, p.AvgPrice, p.MarkPrice, p.Realized, p.Unrealized, unixMs(p.Ts))
	return err
}

// InsertPnLSnapshot appends one rolled-up PnL row.
func (s *Store) InsertPnLSnapshot(p PnLSnapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO pnl_snapshots (realized, unrealized, total, ts)
		VALUES (?, ?, ?, ?)
	`, p.Realized, p.Unrealized, p.Total, unixMs(p.Ts))
	return err
}

// InsertQuoteSnapshot appends one quote-decision row. Pointer fields may be
// nil to represent a suppressed-quote tick.
func (s *Store) InsertQuoteSnapshot(q QuoteSnapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO quote_snapshots (market_id, bid, ask, mid, fair, source, inv_qty, spread, imbalance, target_bid, target_ask, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, q.MarketID, q.Bid, q.Ask, q.Mid, q.Fair, q.Source, q.InvQty, q.Spread, q.Imbalance, q.TargetBid, q.TargetAsk, unixMs(q.Ts))
	return err
}

// InsertScannerSnapshot appends one selector-cycle row.
func (s *Store) InsertScannerSnapshot(sc ScannerSnapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO scanner_snapshots (eligible_count, selected_count, ts)
		VALUES (?, ?, ?)
	`, sc.EligibleCount, sc.SelectedCount, unixMs(sc.Ts))
	return err
}

// RecentQuoteSnapshots returns the n most recent quote snapshots for
// marketID, newest first.
func (s *Store) RecentQuoteSnapshots(marketID string, n int) ([]QuoteSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT market_id, bid, ask, mid, fair, source, inv_qty, spread, imbalance, target_bid, target_ask, ts
		  FROM quote_snapshots WHERE market_id = ? ORDER BY ts DESC LIMIT ?
	`, marketID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QuoteSnapshot
	for rows.Next() {
		var q QuoteSnapshot
		var ts int64
		if err := rows.Scan(&q.MarketID, &q.Bid, &q.Ask, &q.Mid, &q.Fair, &q.Source, &q.InvQty, &q.Spread, &q.Imbalance, &q.TargetBid, &q.TargetAsk, &ts); err != nil {
			return nil, err
		}
		q.Ts = msToTime(ts)
		out = append(out, q)
	}
	return out, rows.Err()
}

// LatestPnLSnapshot returns the most recent rolled-up PnL row, if any.
func (s *Store) LatestPnLSnapshot() (PnLSnapshot, bool, error) {
	var p PnLSnapshot
	var ts int64
	err := s.db.QueryRow(`
		SELECT realized, unrealized, total, ts FROM pnl_snapshots ORDER BY ts DESC LIMIT 1
	`).Scan(&p.Realized, &p.Unrealized, &p.Total, &ts)
	if err != nil {
		if err == sql.ErrNoRows {
			return PnLSnapshot{}, false, nil
		}
		return PnLSnapshot{}, false, err
	}
	p.Ts = msToTime(ts)
	return p, true, nil
}

// LatestPositionSnapshots returns the most recent snapshot per market_id.
func (s *Store) LatestPositionSnapshots() ([]PositionSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT market_id, net_size, avg_price, mark_price, realized, unrealized, MAX(ts)
		  FROM position_snapshots GROUP BY market_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PositionSnapshot
	for rows.Next() {
		var p PositionSnapshot
		var ts int64
		if err := rows.Scan(&p.MarketID, &p.NetSize, &p.AvgPrice, &p.MarkPrice, &p.Realized, &p.Unrealized, &ts); err != nil {
			return nil, err
		}
		p.Ts = msToTime(ts)
		out = append(out, p)
	}
	return out, rows.Err()
}
