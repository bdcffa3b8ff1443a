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
	id             TEXT PRIMARY KEY,
	provider       TEXT NOT NULL,
	address        TEXT NOT NULL UNIQUE COLLATE NOCASE,
	token_expiry   DATETIME,
	last_synced_at DATETIME,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS bundles (
	id           TEXT PRIMARY KEY,
	account_id   TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	name         TEXT NOT NULL,
	label_id     TEXT NOT NULL DEFAULT '',
	icon         TEXT NOT NULL DEFAULT '',
	sort_order   INTEGER NOT NULL DEFAULT 0,
	last_seen_at DATETIME,
	created_at   DATETIME NOT NULL,
	UNIQUE(account_id, name)
);

CREATE TABLE IF NOT EXISTS threads (
	id              TEXT NOT NULL,
	account_id      TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	subject         TEXT NOT NULL DEFAULT '',
	last_message_at DATETIME NOT NULL,
	trashed         INTEGER NOT NULL DEFAULT 0 CHECK(trashed IN (0, 1)),
	bundle_id       TEXT REFERENCES bundles(id) ON DELETE SET NULL,
	PRIMARY KEY (account_id, id)
);

CREATE TABLE IF NOT EXISTS emails (
	id             TEXT PRIMARY KEY,
	account_id     TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	mailbox        TEXT NOT NULL,
	uid            INTEGER NOT NULL,
	mod_seq        INTEGER NOT NULL DEFAULT 0,
	size           INTEGER NOT NULL DEFAULT 0,
	flags          TEXT NOT NULL DEFAULT '[]',
	labels         TEXT NOT NULL DEFAULT '[]',
	thread_id      TEXT NOT NULL,
	message_id     TEXT NOT NULL DEFAULT '',
	subject        TEXT NOT NULL DEFAULT '',
	from_name      TEXT NOT NULL DEFAULT '',
	from_address   TEXT NOT NULL DEFAULT '',
	sender_address TEXT NOT NULL DEFAULT '',
	sent_at        DATETIME NOT NULL,
	received_at    DATETIME NOT NULL,
	body           TEXT,
	UNIQUE(account_id, mailbox, uid)
);

CREATE INDEX IF NOT EXISTS idx_bundles_account ON bundles(account_id);
CREATE INDEX IF NOT EXISTS idx_threads_bundle ON threads(bundle_id);
CREATE INDEX IF NOT EXISTS idx_emails_thread ON emails(account_id, thread_id);
CREATE INDEX IF NOT EXISTS idx_emails_message_id ON emails(message_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
