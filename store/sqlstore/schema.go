package sqlstore

// schema is portable between SQLite and PostgreSQL. Amounts are BIGINT
// minor units, rates and split values are decimal TEXT, timestamps are
// fixed-width RFC3339 TEXT in UTC so they sort lexicographically.
const schema = `
CREATE TABLE IF NOT EXISTS trips (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	base_currency TEXT NOT NULL,
	base_exponent INTEGER NOT NULL,
	spend_status TEXT NOT NULL DEFAULT 'OPEN',
	spend_closed_at TEXT,
	spend_closed_by TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trip_members (
	trip_id TEXT NOT NULL REFERENCES trips(id),
	participant_id TEXT NOT NULL,
	role TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (trip_id, participant_id)
);

CREATE TABLE IF NOT EXISTS expenses (
	id TEXT PRIMARY KEY,
	trip_id TEXT NOT NULL REFERENCES trips(id),
	description TEXT NOT NULL,
	amount_minor BIGINT NOT NULL,
	currency TEXT NOT NULL,
	currency_exponent INTEGER NOT NULL,
	fx_rate TEXT NOT NULL,
	normalized_minor BIGINT NOT NULL,
	expense_date TEXT NOT NULL,
	status TEXT NOT NULL,
	payer TEXT NOT NULL,
	category TEXT,
	notes TEXT,
	created_by TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	deleted_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_expenses_trip
	ON expenses(trip_id, expense_date);

CREATE TABLE IF NOT EXISTS expense_assignments (
	id TEXT PRIMARY KEY,
	expense_id TEXT NOT NULL REFERENCES expenses(id),
	participant_id TEXT NOT NULL,
	share_minor BIGINT NOT NULL,
	normalized_share_minor BIGINT NOT NULL,
	split_type TEXT NOT NULL,
	split_value TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	CONSTRAINT uq_assignment_participant UNIQUE (expense_id, participant_id)
);

CREATE TABLE IF NOT EXISTS settlements (
	id TEXT PRIMARY KEY,
	trip_id TEXT NOT NULL REFERENCES trips(id),
	from_user TEXT NOT NULL,
	to_user TEXT NOT NULL,
	amount_minor BIGINT NOT NULL,
	total_paid_minor BIGINT NOT NULL DEFAULT 0,
	currency TEXT NOT NULL,
	currency_exponent INTEGER NOT NULL,
	status TEXT NOT NULL,
	stale BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	deleted_at TEXT,
	CHECK (total_paid_minor >= 0)
);

CREATE INDEX IF NOT EXISTS idx_settlements_trip
	ON settlements(trip_id, created_at);

CREATE TABLE IF NOT EXISTS payments (
	id TEXT PRIMARY KEY,
	settlement_id TEXT NOT NULL REFERENCES settlements(id),
	amount_minor BIGINT NOT NULL CHECK (amount_minor > 0),
	paid_at TEXT NOT NULL,
	method TEXT,
	reference TEXT,
	notes TEXT,
	recorded_by TEXT NOT NULL,
	created_at TEXT NOT NULL,
	deleted_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_payments_settlement
	ON payments(settlement_id, created_at);

CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	occurred_at TEXT NOT NULL,
	actor TEXT NOT NULL,
	trip_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	action TEXT NOT NULL,
	metadata_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_events_trip
	ON audit_events(trip_id, occurred_at);
`
