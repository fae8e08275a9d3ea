package store

import (
	"context"
	"strings"
)

// schema is applied on startup. Statements are idempotent so repeated boots
// are harmless.
const schema = `
CREATE TABLE IF NOT EXISTS upstreams (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	name                 TEXT NOT NULL UNIQUE,
	base_url             TEXT NOT NULL,
	description          TEXT NOT NULL DEFAULT '',
	timeout              INTEGER NOT NULL DEFAULT 30,
	retry_count          INTEGER NOT NULL DEFAULT 1,
	connection_pool_size INTEGER NOT NULL DEFAULT 10,
	log_request_body     BOOLEAN NOT NULL DEFAULT FALSE,
	log_response_body    BOOLEAN NOT NULL DEFAULT FALSE,
	rate_limit           TEXT NOT NULL DEFAULT '{}',
	tags                 TEXT NOT NULL DEFAULT '[]',
	is_enabled           BOOLEAN NOT NULL DEFAULT TRUE,
	created_at           TIMESTAMP NOT NULL,
	updated_at           TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS api_keys (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	upstream_id             INTEGER NOT NULL REFERENCES upstreams(id) ON DELETE CASCADE,
	name                    TEXT NOT NULL DEFAULT '',
	key_value               TEXT NOT NULL,
	location                TEXT NOT NULL DEFAULT 'header',
	param_name              TEXT NOT NULL DEFAULT 'Authorization',
	value_prefix            TEXT NOT NULL DEFAULT 'Bearer ',
	status                  TEXT NOT NULL DEFAULT 'active',
	enable_quota            BOOLEAN NOT NULL DEFAULT FALSE,
	quota_total             INTEGER NOT NULL DEFAULT 0,
	quota_used              INTEGER NOT NULL DEFAULT 0,
	quota_reset_at          TIMESTAMP,
	auto_disable_on_failure BOOLEAN NOT NULL DEFAULT TRUE,
	auto_enable_delay_hours INTEGER NOT NULL DEFAULT 0,
	auto_enable_at          TIMESTAMP,
	last_used_at            TIMESTAMP,
	created_at              TIMESTAMP NOT NULL,
	updated_at              TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_keys_upstream_status ON api_keys(upstream_id, status);

CREATE TABLE IF NOT EXISTS header_configs (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	upstream_id       INTEGER NOT NULL REFERENCES upstreams(id) ON DELETE CASCADE,
	header_name       TEXT NOT NULL,
	value_type        TEXT NOT NULL DEFAULT 'static',
	static_value      TEXT NOT NULL DEFAULT '',
	script_content    TEXT NOT NULL DEFAULT '',
	priority          INTEGER NOT NULL DEFAULT 0,
	timeout_ms        INTEGER NOT NULL DEFAULT 1000,
	fallback_strategy TEXT NOT NULL DEFAULT 'use_default',
	fallback_value    TEXT NOT NULL DEFAULT '',
	is_enabled        BOOLEAN NOT NULL DEFAULT TRUE,
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_header_configs_upstream ON header_configs(upstream_id);

CREATE TABLE IF NOT EXISTS rules (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	upstream_id             INTEGER NOT NULL REFERENCES upstreams(id) ON DELETE CASCADE,
	name                    TEXT NOT NULL,
	description             TEXT NOT NULL DEFAULT '',
	conditions              TEXT NOT NULL,
	actions                 TEXT NOT NULL,
	auto_enable_delay_hours INTEGER NOT NULL DEFAULT 0,
	trigger_threshold       INTEGER NOT NULL DEFAULT 1,
	time_window_seconds     INTEGER NOT NULL DEFAULT 0,
	cooldown_seconds        INTEGER NOT NULL DEFAULT 0,
	priority                INTEGER NOT NULL DEFAULT 0,
	is_enabled              BOOLEAN NOT NULL DEFAULT TRUE,
	created_at              TIMESTAMP NOT NULL,
	updated_at              TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rules_upstream_enabled ON rules(upstream_id, is_enabled);

CREATE TABLE IF NOT EXISTS request_logs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	upstream_id      INTEGER NOT NULL REFERENCES upstreams(id) ON DELETE CASCADE,
	api_key_id       INTEGER REFERENCES api_keys(id) ON DELETE SET NULL,
	method           TEXT NOT NULL,
	path             TEXT NOT NULL,
	request_headers  TEXT,
	request_body     TEXT NOT NULL DEFAULT '',
	status_code      INTEGER,
	response_headers TEXT,
	response_body    TEXT NOT NULL DEFAULT '',
	latency_ms       INTEGER NOT NULL DEFAULT 0,
	client_ip        TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	triggered_rules  TEXT NOT NULL DEFAULT '[]',
	created_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_request_logs_created_at ON request_logs(created_at);
CREATE INDEX IF NOT EXISTS idx_request_logs_upstream ON request_logs(upstream_id);

CREATE TABLE IF NOT EXISTS admin_users (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	username        TEXT NOT NULL UNIQUE,
	hashed_password TEXT NOT NULL,
	is_active       BOOLEAN NOT NULL DEFAULT TRUE,
	created_at      TIMESTAMP NOT NULL
);
`

// postgres needs SERIAL keys; everything else in the DDL is shared.
func (s *Store) applySchema(ctx context.Context) error {
	ddl := schema
	if s.db.DriverName() == "pgx" {
		ddl = strings.ReplaceAll(ddl, "INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY")
	}
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}
