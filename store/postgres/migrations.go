package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Hookline store.
// It can be registered with the grove extension for orchestrated migration
// management (locking, version tracking, rollback support).
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
    schema          JSONB,
    schema_version  TEXT NOT NULL DEFAULT '',
    version         TEXT NOT NULL DEFAULT '',
    example         JSONB,
    is_deprecated   BOOLEAN NOT NULL DEFAULT FALSE,
    deprecated_at   TIMESTAMPTZ,
    metadata        JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
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
    events            TEXT[] NOT NULL DEFAULT '{}',
    status            TEXT NOT NULL DEFAULT 'active',
    failure_count     INT NOT NULL DEFAULT 0,
    last_delivered_at TIMESTAMPTZ,
    headers           JSONB NOT NULL DEFAULT '{}',
    rate_limit        INT NOT NULL DEFAULT 0,
    metadata          JSONB NOT NULL DEFAULT '{}',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    payload         JSONB,
    headers         JSONB NOT NULL DEFAULT '{}',
    source_ip       TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'pending',
    attempt_count   INT NOT NULL DEFAULT 0,
    next_retry_at   TIMESTAMPTZ,
    response_status INT NOT NULL DEFAULT 0,
    response_body   TEXT NOT NULL DEFAULT '',
    error_message   TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    headers          JSONB,
    payload          JSONB,
    previous_payload JSONB,
    next_attempt_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    enqueued_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    locked_at        TIMESTAMPTZ
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
    payload          JSONB,
    previous_payload JSONB,
    error            TEXT NOT NULL DEFAULT '',
    attempt_count    INT NOT NULL DEFAULT 0,
    last_status_code INT NOT NULL DEFAULT 0,
    replayed_at      TIMESTAMPTZ,
    failed_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_hookline_dlq_tenant ON hookline_dlq (tenant_id);
CREATE INDEX IF NOT EXISTS idx_hookline_dlq_registration ON hookline_dlq (registration_id);
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
