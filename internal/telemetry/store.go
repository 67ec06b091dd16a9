// Package telemetry persists trader activity to a local SQLite database so
// a dashboard can read back market metadata, orders, fills, snapshots, and
// component health without the trader loop ever blocking on a remote store.
package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite connection holding every telemetry table.
type Store struct {
	db       *sql.DB
	evalPath string
}

// defaultPath returns a database file next to the working directory, stable
// across "go run" and built-binary invocations alike.
func defaultPath() string {
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, "spreadkeeper.db")
	}
	exe, _ := os.Executable()
	return filepath.Join(filepath.Dir(exe), "spreadkeeper.db")
}

// Open opens (or creates) the telemetry database at path and runs every
// pending migration. An empty path falls back to defaultPath.
func Open(path string) (*Store, error) {
	if path == "" {
		path = defaultPath()
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping telemetry db: %w", err)
	}
	s := &Store{db: db, evalPath: filepath.Join(filepath.Dir(path), "eval.md")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate telemetry db: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WriteEvalReport overwrites the eval.md artifact next to the database with
// report. This is best-effort telemetry, so a write failure is returned to
// the caller to log rather than treated as fatal.
func (s *Store) WriteEvalReport(report string) error {
	return os.WriteFile(s.evalPath, []byte(report), 0o644)
}

// EvalPath returns the filesystem path WriteEvalReport writes to, so the
// dashboard can serve the same file back over HTTP.
func (s *Store) EvalPath() string {
	return s.evalPath
}

func (s *Store) migrate() error {
	version := 0
	s.db.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version)

	if version < 1 {
		_, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS markets (
				market_id       TEXT PRIMARY KEY,
				question        TEXT NOT NULL DEFAULT '',
				event_id        TEXT NOT NULL DEFAULT '',
				active          INTEGER NOT NULL DEFAULT 0,
				end_ts          INTEGER NOT NULL DEFAULT 0,
				volume_24h_usd  REAL NOT NULL DEFAULT 0,
				liquidity_usd   REAL NOT NULL DEFAULT 0,
				condition_id    TEXT NOT NULL DEFAULT '',
				clob_token_id   TEXT NOT NULL DEFAULT '',
				updated_ts      INTEGER NOT NULL
			);

			CREATE TABLE IF NOT EXISTS orders (
				order_id    TEXT PRIMARY KEY,
				market_id   TEXT NOT NULL,
				token_id    TEXT NOT NULL,
				side        TEXT NOT NULL,
				price       REAL NOT NULL,
				size        REAL NOT NULL,
				filled_size REAL NOT NULL DEFAULT 0,
				status      TEXT NOT NULL,
				placed_ts   INTEGER NOT NULL,
				metadata    TEXT NOT NULL DEFAULT '{}'
			);
			CREATE INDEX IF NOT EXISTS idx_orders_market ON orders(market_id);

			CREATE TABLE IF NOT EXISTS fills (
				fill_id   TEXT PRIMARY KEY,
				order_id  TEXT NOT NULL DEFAULT '',
				market_id TEXT NOT NULL,
				token_id  TEXT NOT NULL,
				side      TEXT NOT NULL,
				price     REAL NOT NULL,
				size      REAL NOT NULL,
				fee       REAL NOT NULL DEFAULT 0,
				ts        INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_fills_market ON fills(market_id, ts DESC);

			CREATE TABLE IF NOT EXISTS position_snapshots (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				market_id   TEXT NOT NULL,
				net_size    REAL NOT NULL,
				avg_price   REAL NOT NULL,
				mark_price  REAL NOT NULL,
				realized    REAL NOT NULL,
				unrealized  REAL NOT NULL,
				ts          INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_position_snapshots_market ON position_snapshots(market_id, ts DESC);

			CREATE TABLE IF NOT EXISTS pnl_snapshots (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				realized   REAL NOT NULL,
				unrealized REAL NOT NULL,
				total      REAL NOT NULL,
				ts         INTEGER NOT NULL
			);

			CREATE TABLE IF NOT EXISTS quote_snapshots (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				market_id   TEXT NOT NULL,
				bid         REAL,
				ask         REAL,
				mid         REAL,
				fair        REAL,
				source      TEXT NOT NULL DEFAULT '',
				inv_qty     REAL NOT NULL DEFAULT 0,
				spread      REAL,
				imbalance   REAL NOT NULL DEFAULT 0,
				target_bid  REAL,
				target_ask  REAL,
				ts          INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_quote_snapshots_market ON quote_snapshots(market_id, ts DESC);

			CREATE TABLE IF NOT EXISTS scanner_snapshots (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				eligible_count INTEGER NOT NULL,
				selected_count INTEGER NOT NULL,
				ts             INTEGER NOT NULL
			);

			CREATE TABLE IF NOT EXISTS watchlist (
				rank         INTEGER NOT NULL,
				market_id    TEXT NOT NULL,
				condition_id TEXT NOT NULL DEFAULT '',
				primary_token TEXT NOT NULL DEFAULT '',
				question     TEXT NOT NULL DEFAULT '',
				score        REAL NOT NULL DEFAULT 0,
				PRIMARY KEY (rank)
			);

			CREATE TABLE IF NOT EXISTS runtime_status (
				component TEXT PRIMARY KEY,
				level     TEXT NOT NULL,
				message   TEXT NOT NULL DEFAULT '',
				detail    TEXT NOT NULL DEFAULT '',
				ts        INTEGER NOT NULL
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}

	return nil
}

func unixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
