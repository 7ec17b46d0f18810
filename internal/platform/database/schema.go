package database

import "database/sql"

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	username TEXT UNIQUE NOT NULL,
	email TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	credits INTEGER NOT NULL DEFAULT 0,
	plan TEXT NOT NULL DEFAULT 'free',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS api_keys (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	key_hash TEXT UNIQUE NOT NULL,
	name TEXT,
	prefix TEXT,
	last_used_at INTEGER,
	created_at INTEGER NOT NULL,
	revoked_at INTEGER
);

CREATE TABLE IF NOT EXISTS campaigns (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	description TEXT,
	topic TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT 'General',
	articles_per_day INTEGER NOT NULL DEFAULT 1,
	posting_times TEXT NOT NULL DEFAULT '["09:00"]',
	start_date TEXT NOT NULL,
	end_date TEXT,
	total_articles INTEGER,
	target_length INTEGER NOT NULL DEFAULT 1500,
	source_count INTEGER NOT NULL DEFAULT 5,
	integration_id TEXT,
	status TEXT NOT NULL DEFAULT 'active',
	articles_generated INTEGER NOT NULL DEFAULT 0,
	articles_posted INTEGER NOT NULL DEFAULT 0,
	credits_used INTEGER NOT NULL DEFAULT 0,
	last_run_at INTEGER,
	next_run_at INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_campaigns_account ON campaigns(account_id);
CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	campaign_id TEXT REFERENCES campaigns(id) ON DELETE SET NULL,
	integration_id TEXT,
	raw_query TEXT NOT NULL,
	topic TEXT,
	category TEXT,
	target_length INTEGER NOT NULL DEFAULT 1500,
	source_count INTEGER NOT NULL DEFAULT 5,
	status TEXT NOT NULL DEFAULT 'queued',
	scheduled_at INTEGER,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	error_message TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	is_recurring INTEGER NOT NULL DEFAULT 0,
	posted_at INTEGER,
	posting_attempt_count INTEGER NOT NULL DEFAULT 0,
	last_posting_error TEXT,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	content TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_account ON jobs(account_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_campaign ON jobs(campaign_id);

CREATE TABLE IF NOT EXISTS source_contents (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	url TEXT NOT NULL,
	title TEXT,
	full_content TEXT,
	source_origin TEXT
);
CREATE INDEX IF NOT EXISTS idx_sources_job ON source_contents(job_id);

CREATE TABLE IF NOT EXISTS briefs (
	id TEXT PRIMARY KEY,
	job_id TEXT UNIQUE NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	keywords TEXT NOT NULL DEFAULT '[]',
	outline TEXT NOT NULL DEFAULT '[]',
	strategy TEXT
);

CREATE TABLE IF NOT EXISTS job_titles (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'generated',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	amount INTEGER NOT NULL,
	balance_after INTEGER NOT NULL,
	type TEXT NOT NULL,
	reference_type TEXT,
	reference_id TEXT,
	description TEXT,
	tokens_consumed INTEGER,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credit_txn_account ON credit_transactions(account_id);

CREATE TABLE IF NOT EXISTS webhook_integrations (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	name TEXT,
	webhook_url TEXT NOT NULL,
	webhook_secret TEXT,
	platform_type TEXT,
	is_active INTEGER NOT NULL DEFAULT 1,
	last_test_at INTEGER,
	last_test_status TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_integrations_account ON webhook_integrations(account_id);
`

// Migrate applies the schema. Statements are idempotent so repeated runs
// are safe.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
