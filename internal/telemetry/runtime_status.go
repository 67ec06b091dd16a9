package telemetry

// UpsertRuntimeStatus writes a last-write-wins health row for component.
func (s *Store) UpsertRuntimeStatus(r RuntimeStatus) error {
	_, err := s.db.Exec(`
		INSERT INTO runtime_status (component, level, message, detail, ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(component) DO UPDATE SET
			level = excluded.level,
			message = excluded.message,
			detail = excluded.detail,
			ts = excluded.ts
	`, r.Component, string(r.Level), r.Message, r.Detail, unixMs(r.Ts))
	return err
}

// RuntimeStatuses returns every component's current status.
func (s *Store) RuntimeStatuses() ([]RuntimeStatus, error) {
	rows, err := s.db.Query(`SELECT component, level, message, detail, ts FROM runtime_status ORDER BY component ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RuntimeStatus
	for rows.Next() {
		var r RuntimeStatus
		var level string
		var ts int64
		if err := rows.Scan(&r.Component, &level, &r.Message, &r.Detail, &ts); err != nil {
			return nil, err
		}
		r.Level = StatusLevel(level)
		r.Ts = msToTime(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// HasErrorLevel reports whether any component is currently at error level,
// which drives the dashboard's top-level banner.
func (s *Store) HasErrorLevel() (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runtime_status WHERE level = 'error'`).Scan(&n)
	return n > 0, err
}
