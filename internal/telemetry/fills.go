package telemetry

// InsertFill appends a fill row. Replaying the same fill_id is a no-op,
// matching the store's idempotent-write contract.
func (s *Store) InsertFill(f FillRow) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO fills (fill_id, order_id, market_id, token_id, side, price, size, fee, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.FillID, f.OrderID, f.MarketID, f.TokenID, f.Side, f.Price, f.Size, f.Fee, unixMs(f.Ts))
	return err
}

// RecentFills returns the n most recent fills, newest first.
func (s *Store) RecentFills(n int) ([]FillRow, error) {
	rows, err := s.db.Query(`
		SELECT fill_id, order_id, market_id, token_id, side, price, size, fee, ts
		  FROM fills ORDER BY ts DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FillRow
	for rows.Next() {
		var f FillRow
		var ts int64
		if err := rows.Scan(&f.FillID, &f.OrderID, &f.MarketID, &f.TokenID, &f.Side, &f.Price, &f.Size, &f.Fee, &ts); err != nil {
			return nil, err
		}
		f.Ts = msToTime(ts)
		out = append(out, f)
	}
	return out, rows.Err()
}

// FillsSince counts persisted fills with ts >= since (Unix milliseconds).
func (s *Store) FillsSince(since int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM fills WHERE ts >= ?`, since).Scan(&n)
	return n, err
}
