package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	provider    TEXT NOT NULL,
	email       TEXT NOT NULL DEFAULT '',
	color       TEXT NOT NULL DEFAULT '#0078d4',
	config      TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS items (
	account_id  TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	kind        TEXT NOT NULL,
	item_id     TEXT NOT NULL,
	position    INTEGER NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	sender      TEXT NOT NULL DEFAULT '',
	date        TEXT NOT NULL DEFAULT '',
	link        TEXT NOT NULL DEFAULT '',
	flagged     INTEGER NOT NULL DEFAULT 0,
	provider    TEXT NOT NULL,
	data        TEXT NOT NULL,
	synced_at   INTEGER NOT NULL,
	PRIMARY KEY (account_id, kind, item_id)
);

CREATE INDEX IF NOT EXISTS idx_items_position ON items(account_id, kind, position);
CREATE INDEX IF NOT EXISTS idx_items_date ON items(date);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS sync_markers (
	account_id  TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	kind        TEXT NOT NULL,
	synced_at   INTEGER NOT NULL,
	PRIMARY KEY (account_id, kind)
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
