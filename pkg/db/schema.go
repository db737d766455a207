package db

import (
	"fmt"
	"strings"
)

const schemaSQLite = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    ts_ms INTEGER NOT NULL,
    level TEXT NOT NULL,
    type TEXT NOT NULL,
    symbol TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    data_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events(type, ts_ms);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts_ms);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    contract_type TEXT NOT NULL,
    stake REAL NOT NULL,
    score REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    entry_ms INTEGER NOT NULL,
    exit_ms INTEGER,
    entry_price REAL,
    exit_price REAL,
    pnl REAL,
    take_profit REAL,
    stop_loss REAL,
    multiplier INTEGER,
    requested_multiplier INTEGER,
    contract_id TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    reasons_json TEXT NOT NULL DEFAULT '[]',
    balance_before REAL,
    balance_after REAL,
    updated_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_entry ON trades(entry_ms);

CREATE TABLE IF NOT EXISTS kill_switch (
    id INTEGER PRIMARY KEY,
    enabled INTEGER NOT NULL DEFAULT 0,
    reason TEXT NOT NULL DEFAULT '',
    updated_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runtime_settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_days (
    day TEXT PRIMARY KEY,
    start_equity REAL NOT NULL,
    peak_equity REAL NOT NULL,
    daily_pnl REAL NOT NULL DEFAULT 0,
    trades INTEGER NOT NULL DEFAULT 0,
    consecutive_losses INTEGER NOT NULL DEFAULT 0,
    last_loss_ms INTEGER,
    updated_ms INTEGER NOT NULL
);
`

// ApplyMigrations creates the schema for the database dialect.
func ApplyMigrations(d *Database) error {
	schema := schemaSQLite
	if d.Dialect == Postgres {
		schema = postgresSchema()
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply %s schema: %w", d.Dialect, err)
	}
	return nil
}

// postgresSchema derives the Postgres DDL from the SQLite one.
func postgresSchema() string {
	s := strings.Replace(schemaSQLite, "PRAGMA journal_mode=WAL;", "", 1)
	s = strings.ReplaceAll(s, " REAL", " DOUBLE PRECISION")
	s = strings.ReplaceAll(s, "_ms INTEGER", "_ms BIGINT")
	return s
}
