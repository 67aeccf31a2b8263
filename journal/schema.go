package journal

const Schema = `
CREATE TABLE IF NOT EXISTS fills (
	fill_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	bucket TEXT NOT NULL,
	exchange TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	qty INTEGER NOT NULL,
	price REAL NOT NULL,
	order_id TEXT NOT NULL,
	fallback BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS actions (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	action TEXT NOT NULL,
	details TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mtm (
	session_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	mtm REAL NOT NULL,
	peak REAL NOT NULL,
	day_realized REAL NOT NULL,
	pnl_batman REAL NOT NULL,
	pnl_spread REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_time ON fills(time);
CREATE INDEX IF NOT EXISTS idx_actions_time ON actions(time);
CREATE INDEX IF NOT EXISTS idx_mtm_time ON mtm(time);
`
