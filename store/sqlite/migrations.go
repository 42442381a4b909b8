package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Hookline store (SQLite).
var Migrations = migrate.NewGroup("hookline")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_hookline_event_types",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookline_event_types (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL UNIQUE,
    description     TEXT NOT NULL DEFAULT '',
    group_name      TEXT NOT NULL DEFAULT '',
    schema          TEXT,
    schema_version  TEXT NOT NULL DEFAULT '',
    version         TEXT NOT NULL DEFAULT '',
    example         TEXT,
    is_deprecated   INTEGER NOT NULL DEFAULT 0,
    deprecated_at   TEXT,
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_hookline_event_types_group ON hookline_event_types (group_name);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hookline_event_types`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hookline_registrations",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookline_registrations (
    id                TEXT PRIMARY KEY,
    tenant_id         TEXT NOT NULL DEFAULT '',
    integration_id    TEXT NOT NULL DEFAULT '',
    url               TEXT NOT NULL DEFAULT '',
    secret            TEXT NOT NULL DEFAULT '',
    events            TEXT NOT NULL DEFAULT '[]',
    status            TEXT NOT NULL DEFAULT 'active',
    failure_count     INTEGER NOT NULL DEFAULT 0,
    last_delivered_at TEXT,
    headers           TEXT NOT NULL DEFAULT '{}',
    rate_limit        INTEGER NOT NULL DEFAULT 0,
    metadata          TEXT NOT NULL DEFAULT '{}',
    created_at        TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at        TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_hookline_registrations_tenant ON hookline_registrations (tenant_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_hookline_registrations_secret ON hookline_registrations (secret) WHERE secret != '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hookline_registrations`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hookline_events",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookline_events (
    id              TEXT PRIMARY KEY,
    direction       TEXT NOT NULL DEFAULT 'outbound',
    tenant_id       TEXT NOT NULL DEFAULT '',
    registration_id TEXT NOT NULL DEFAULT '',
    provider        TEXT NOT NULL DEFAULT '',
    type            TEXT NOT NULL DEFAULT '',
    payload         TEXT,
    headers         TEXT NOT NULL DEFAULT '{}',
    source_ip       TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'pending',
    attempt_count   INTEGER NOT NULL DEFAULT 0,
    next_retry_at   TEXT,
    response_status INTEGER NOT NULL DEFAULT 0,
    response_body   TEXT NOT NULL DEFAULT '',
    error_message   TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_hookline_events_tenant ON hookline_events (tenant_id);
CREATE INDEX IF NOT EXISTS idx_hookline_events_registration ON hookline_events (registration_id);
CREATE INDEX IF NOT EXISTS idx_hookline_events_type ON hookline_events (type);
CREATE INDEX IF NOT EXISTS idx_hookline_events_status ON hookline_events (status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hookline_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hookline_jobs",
			Version: "20250101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookline_jobs (
    event_id         TEXT PRIMARY KEY,
    registration_id  TEXT NOT NULL DEFAULT '',
    tenant_id        TEXT NOT NULL DEFAULT '',
    direction        TEXT NOT NULL DEFAULT 'outbound',
    provider         TEXT NOT NULL DEFAULT '',
    event_type       TEXT NOT NULL DEFAULT '',
    url              TEXT NOT NULL DEFAULT '',
    secret           TEXT NOT NULL DEFAULT '',
    headers          TEXT,
    payload          TEXT,
    previous_payload TEXT,
    next_attempt_at  TEXT NOT NULL DEFAULT (datetime('now')),
    enqueued_at      TEXT NOT NULL DEFAULT (datetime('now')),
    locked_at        TEXT
);

CREATE INDEX IF NOT EXISTS idx_hookline_jobs_due ON hookline_jobs (next_attempt_at) WHERE locked_at IS NULL;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hookline_jobs`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hookline_dlq",
			Version: "20250101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookline_dlq (
    id               TEXT PRIMARY KEY,
    event_id         TEXT NOT NULL DEFAULT '',
    registration_id  TEXT NOT NULL DEFAULT '',
    direction        TEXT NOT NULL DEFAULT 'outbound',
    provider         TEXT NOT NULL DEFAULT '',
    event_type       TEXT NOT NULL DEFAULT '',
    tenant_id        TEXT NOT NULL DEFAULT '',
    payload          TEXT,
    previous_payload TEXT,
    error            TEXT NOT NULL DEFAULT '',
    attempt_count    INTEGER NOT NULL DEFAULT 0,
    last_status_code INTEGER NOT NULL DEFAULT 0,
    replayed_at      TEXT,
    failed_at        TEXT NOT NULL DEFAULT (datetime('now')),
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_hookline_dlq_tenant ON hookline_dlq (tenant_id);
CREATE INDEX IF NOT EXISTS idx_hookline_dlq_failed ON hookline_dlq (failed_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hookline_dlq`)
				return err
			},
		},
	)
}
