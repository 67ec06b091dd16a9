package telemetry

// ReplaceWatchlist deletes the current watchlist and inserts rows in rank
// order, matching the selector's replace-all publication semantics.
func (s *Store) ReplaceWatchlist(rows []WatchlistRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM watchlist`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO watchlist (rank, market_id, condition_id, primary_token, question, score)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range rows {
		if _, err := stmt.Exec(i, r.MarketID, r.ConditionID, r.PrimaryToken, r.Question, r.Score); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Watchlist returns the current watchlist in rank order.
func (s *Store) Watchlist() ([]WatchlistRow, error) {
	rows, err := s.db.Query(`
		SELECT rank, market_id, condition_id, primary_token, question, score
		  FROM watchlist ORDER BY rank ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WatchlistRow
	for rows.Next() {
		var w WatchlistRow
		if err := rows.Scan(&w.Rank, &w.MarketID, &w.ConditionID, &w.PrimaryToken, &w.Question, &w.Score); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
