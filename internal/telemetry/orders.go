package telemetry

// UpsertOrder inserts or replaces an order record, keyed by order_id.
func (s *Store) UpsertOrder(o OrderRow) error {
	_, err := s.db.Exec(`
		INSERT INTO orders (order_id, market_id, token_id, side, price, size, filled_size, status, placed_ts, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			market_id = excluded.market_id,
			token_id = excluded.token_id,
			side = excluded.side,
			price = excluded.price,
			size = excluded.size,
			filled_size = excluded.filled_size,
			status = excluded.status,
			placed_ts = excluded.placed_ts,
			metadata = excluded.metadata
	`,
		o.OrderID, o.MarketID, o.TokenID, o.Side, o.Price, o.Size, o.FilledSize, o.Status, unixMs(o.PlacedAt), o.Metadata,
	)
	return err
}

// OpenOrdersForMarket returns every order row for marketID whose status is
// still "open".
func (s *Store) OpenOrdersForMarket(marketID string) ([]OrderRow, error) {
	rows, err := s.db.Query(`
		SELECT order_id, market_id, token_id, side, price, size, filled_size, status, placed_ts, metadata
		  FROM orders WHERE market_id = ? AND status = 'open'
	`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		var o OrderRow
		var placedTs int64
		if err := rows.Scan(&o.OrderID, &o.MarketID, &o.TokenID, &o.Side, &o.Price, &o.Size, &o.FilledSize, &o.Status, &placedTs, &o.Metadata); err != nil {
			return nil, err
		}
		o.PlacedAt = msToTime(placedTs)
		out = append(out, o)
	}
	return out, rows.Err()
}

// RecentOrders returns the n most recently placed orders, newest first.
func (s *Store) RecentOrders(n int) ([]OrderRow, error) {
	rows, err := s.db.Query(`
		SELECT order_id, market_id, token_id, side, price, size, filled_size, status, placed_ts, metadata
		  FROM orders ORDER BY placed_ts DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		var o OrderRow
		var placedTs int64
		if err := rows.Scan(&o.OrderID, &o.MarketID, &o.TokenID, &o.Side, &o.Price, &o.Size, &o.FilledSize, &o.Status, &placedTs, &o.Metadata); err != nil {
			return nil, err
		}
		o.PlacedAt = msToTime(placedTs)
		out = append(out, o)
	}
	return out, rows.Err()
}
