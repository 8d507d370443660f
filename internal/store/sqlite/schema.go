package sqlite

// Canonical schema. events is append-only; bars_1m upserts by composite key;
// positions is derived state keyed by symbol.
const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts DATETIME NOT NULL,
	kind TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	producer TEXT NOT NULL DEFAULT '',
	ingest_ts DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_kind_id ON events(kind, id DESC);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);

CREATE TABLE IF NOT EXISTS bars_1m (
	ts_min TEXT NOT NULL,
	asset_class TEXT NOT NULL,
	symbol TEXT NOT NULL,
	o REAL NOT NULL,
	h REAL NOT NULL,
	l REAL NOT NULL,
	c REAL NOT NULL,
	v REAL NOT NULL,
	n_trades INTEGER NOT NULL,
	source TEXT NOT NULL,
	UNIQUE(ts_min, asset_class, symbol)
);

CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts DATETIME NOT NULL,
	broker_order_id TEXT NOT NULL UNIQUE,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	qty REAL NOT NULL,
	price REAL,
	order_type TEXT NOT NULL,
	status TEXT NOT NULL,
	verdict TEXT,
	decision TEXT,
	action TEXT,
	filled_qty REAL NOT NULL DEFAULT 0,
	meta_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS fills (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts DATETIME NOT NULL,
	broker_order_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	qty REAL NOT NULL,
	price REAL NOT NULL,
	fee REAL NOT NULL DEFAULT 0,
	tax REAL NOT NULL DEFAULT 0,
	meta_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(broker_order_id);

CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	open_ts DATETIME NOT NULL,
	close_ts DATETIME,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	qty REAL NOT NULL,
	entry REAL NOT NULL,
	exit REAL,
	pnl REAL,
	pnl_pct REAL,
	reason_open TEXT NOT NULL DEFAULT '',
	reason_close TEXT,
	meta_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol_close ON trades(symbol, close_ts);

CREATE TABLE IF NOT EXISTS positions (
	symbol TEXT PRIMARY KEY,
	side TEXT NOT NULL DEFAULT '',
	qty REAL NOT NULL DEFAULT 0,
	avg_price REAL NOT NULL DEFAULT 0,
	open_ts DATETIME
);

CREATE TABLE IF NOT EXISTS safety_state (
	key TEXT PRIMARY KEY,
	value_json TEXT NOT NULL DEFAULT '{}',
	updated_ts DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS health_checks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts DATETIME NOT NULL,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	summary_json TEXT NOT NULL DEFAULT '{}'
);
`
