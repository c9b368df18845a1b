package journal

const Schema = `
CREATE TABLE IF NOT EXISTS fires (
	signal_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	action TEXT NOT NULL,
	lot REAL NOT NULL,
	outcome TEXT NOT NULL,
	ticket INTEGER NOT NULL,
	price REAL NOT NULL,
	message TEXT NOT NULL,
	submitted_at DATETIME NOT NULL,
	resolved_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS telemetry (
	time DATETIME NOT NULL,
	balance REAL NOT NULL,
	equity REAL NOT NULL,
	positions INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fires_outcome ON fires(outcome);
CREATE INDEX IF NOT EXISTS idx_telemetry_time ON telemetry(time);
`
