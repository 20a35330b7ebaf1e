package sqlite

// schema is the six-table contract from spec §6, applied once at Open.
// Timestamps are stored as Unix seconds (UTC); amounts are INTEGER sats,
// never REAL, per the schema contract's "never floats" rule.
const schema = `
CREATE TABLE IF NOT EXISTS payment_intents (
	id               TEXT PRIMARY KEY,
	amount_sats      INTEGER NOT NULL,
	status           TEXT NOT NULL,
	address_id       TEXT NOT NULL DEFAULT '',
	required_confs   INTEGER NOT NULL,
	expires_at       INTEGER NOT NULL,
	confirmed_at     INTEGER,
	customer_id      TEXT NOT NULL DEFAULT '',
	email            TEXT NOT NULL DEFAULT '',
	memo             TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_intents_status ON payment_intents(status);
CREATE INDEX IF NOT EXISTS idx_intents_expires_at ON payment_intents(expires_at);
CREATE INDEX IF NOT EXISTS idx_intents_customer_id ON payment_intents(customer_id);
CREATE INDEX IF NOT EXISTS idx_intents_email ON payment_intents(email);

CREATE TABLE IF NOT EXISTS deposit_addresses (
	id               TEXT PRIMARY KEY,
	address          TEXT NOT NULL,
	derivation_index INTEGER NOT NULL,
	script_pubkey_hex TEXT NOT NULL,
	intent_id        TEXT NOT NULL DEFAULT '',
	assigned_at      INTEGER,
	created_at       INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_addresses_address ON deposit_addresses(address);
CREATE UNIQUE INDEX IF NOT EXISTS idx_addresses_derivation_index ON deposit_addresses(derivation_index);

CREATE TABLE IF NOT EXISTS tx_observations (
	id               TEXT PRIMARY KEY,
	txid             TEXT NOT NULL,
	vout             INTEGER NOT NULL,
	value_sats       INTEGER NOT NULL,
	confirmations    INTEGER NOT NULL,
	address_id       TEXT NOT NULL,
	script_pubkey_hex TEXT NOT NULL,
	status           TEXT NOT NULL,
	seen_at          INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_observations_txid_vout ON tx_observations(txid, vout);
CREATE INDEX IF NOT EXISTS idx_observations_address_id ON tx_observations(address_id);

CREATE TABLE IF NOT EXISTS magic_link_tokens (
	id               TEXT PRIMARY KEY,
	token            TEXT NOT NULL,
	intent_id        TEXT NOT NULL,
	consumed         INTEGER NOT NULL DEFAULT 0,
	consumed_at      INTEGER,
	expires_at       INTEGER NOT NULL,
	created_at       INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tokens_token ON magic_link_tokens(token);

CREATE TABLE IF NOT EXISTS customers (
	id    TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	name  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS system_metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
