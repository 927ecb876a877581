package sqlite

// Schema is applied on every open; statements are idempotent
const Schema = `
CREATE TABLE IF NOT EXISTS signals (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	action TEXT NOT NULL,
	strength TEXT NOT NULL,
	price REAL NOT NULL,
	mfi REAL NOT NULL,
	rsi REAL NOT NULL,
	timeframe TEXT NOT NULL,
	strategy TEXT NOT NULL,
	signal_time DATETIME NOT NULL,
	received_at DATETIME NOT NULL,
	is_valid INTEGER NOT NULL,
	confidence REAL NOT NULL,
	errors TEXT NOT NULL,
	warnings TEXT NOT NULL,
	processed INTEGER NOT NULL DEFAULT 0,
	processed_at DATETIME
);

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	signal_id TEXT NOT NULL,
	order_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL,
	pnl REAL,
	fees REAL NOT NULL,
	status TEXT NOT NULL,
	entry_time DATETIME NOT NULL,
	exit_time DATETIME,
	stop_loss REAL NOT NULL,
	take_profit REAL NOT NULL,
	confidence REAL NOT NULL,
	strategy TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol_entry ON trades(symbol, entry_time);
CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	start_time DATETIME NOT NULL,
	end_time DATETIME,
	trade_count INTEGER NOT NULL,
	total_pnl REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS performance (
	time DATETIME NOT NULL,
	total_trades INTEGER NOT NULL,
	winning_trades INTEGER NOT NULL,
	losing_trades INTEGER NOT NULL,
	win_rate REAL NOT NULL,
	total_pnl REAL NOT NULL,
	max_drawdown REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_performance_time ON performance(time);

CREATE TABLE IF NOT EXISTS risk_metrics (
	time DATETIME NOT NULL,
	daily_pnl REAL NOT NULL,
	drawdown REAL NOT NULL,
	max_drawdown REAL NOT NULL,
	peak_balance REAL NOT NULL,
	current_balance REAL NOT NULL,
	volatility REAL NOT NULL,
	consecutive_losses INTEGER NOT NULL,
	total_exposure REAL NOT NULL,
	open_positions INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_metrics_time ON risk_metrics(time);
`
