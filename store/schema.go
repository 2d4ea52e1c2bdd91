package store

import (
	"context"
	"fmt"
)

// schemaDDL creates every table the service needs. Statements are
// idempotent so startup can apply them unconditionally. schema.sql at the
// repository root mirrors this definition.
const schemaDDL = `
CREATE SEQUENCE IF NOT EXISTS settlement_ref_seq;

CREATE TABLE IF NOT EXISTS settlement (
    ref_id             BIGINT PRIMARY KEY DEFAULT nextval('settlement_ref_seq'),
    settlement_id      TEXT NOT NULL,
    settlement_version BIGINT NOT NULL,
    pts                TEXT NOT NULL,
    processing_entity  TEXT NOT NULL,
    counterparty_id    TEXT NOT NULL,
    value_date         DATE NOT NULL,
    currency           TEXT NOT NULL,
    amount             NUMERIC(20,2) NOT NULL,
    business_status    TEXT NOT NULL,
    direction          TEXT NOT NULL,
    settlement_type    TEXT NOT NULL,
    is_old             BOOLEAN NOT NULL DEFAULT FALSE,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (settlement_id, pts, processing_entity, settlement_version)
);

CREATE INDEX IF NOT EXISTS idx_settlement_group
    ON settlement (pts, processing_entity, counterparty_id, value_date);
CREATE INDEX IF NOT EXISTS idx_settlement_natural
    ON settlement (settlement_id, pts, processing_entity);

CREATE TABLE IF NOT EXISTS running_total (
    id                BIGSERIAL PRIMARY KEY,
    pts               TEXT NOT NULL,
    processing_entity TEXT NOT NULL,
    counterparty_id   TEXT NOT NULL,
    value_date        DATE NOT NULL,
    total             NUMERIC(20,2) NOT NULL,
    ref_id            BIGINT NOT NULL,
    UNIQUE (pts, processing_entity, counterparty_id, value_date)
);

CREATE TABLE IF NOT EXISTS exchange_rate (
    currency    TEXT PRIMARY KEY,
    rate_to_usd NUMERIC(20,10) NOT NULL,
    update_time TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS activity (
    id                 BIGSERIAL PRIMARY KEY,
    pts                TEXT NOT NULL DEFAULT '',
    processing_entity  TEXT NOT NULL DEFAULT '',
    settlement_id      TEXT NOT NULL DEFAULT '',
    settlement_version BIGINT NOT NULL DEFAULT 0,
    user_id            TEXT NOT NULL,
    user_name          TEXT NOT NULL DEFAULT '',
    action_type        TEXT NOT NULL,
    comment            TEXT NOT NULL DEFAULT '',
    create_time        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_activity_settlement
    ON activity (settlement_id, settlement_version, action_type, id);

CREATE TABLE IF NOT EXISTS notification_queue (
    id              BIGSERIAL PRIMARY KEY,
    settlement_id   TEXT NOT NULL,
    status          TEXT NOT NULL,
    details         TEXT NOT NULL DEFAULT '',
    retry_count     INT NOT NULL DEFAULT 0,
    next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_notification_due
    ON notification_queue (next_attempt_at);

CREATE TABLE IF NOT EXISTS workflow_state (
    settlement_id      TEXT NOT NULL,
    settlement_version BIGINT NOT NULL,
    state              TEXT NOT NULL,
    update_time        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (settlement_id, settlement_version)
);

CREATE TABLE IF NOT EXISTS settlement_event (
    id                BIGSERIAL PRIMARY KEY,
    pts               TEXT NOT NULL,
    processing_entity TEXT NOT NULL,
    counterparty_id   TEXT NOT NULL,
    value_date        DATE NOT NULL,
    ref_id            BIGINT NOT NULL,
    force_recalc      BOOLEAN NOT NULL DEFAULT FALSE,
    attempts          INT NOT NULL DEFAULT 0,
    next_attempt_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_settlement_event_due
    ON settlement_event (next_attempt_at, ref_id);

CREATE TABLE IF NOT EXISTS event_dead_letter (
    id                BIGSERIAL PRIMARY KEY,
    pts               TEXT NOT NULL,
    processing_entity TEXT NOT NULL,
    counterparty_id   TEXT NOT NULL,
    value_date        DATE NOT NULL,
    ref_id            BIGINT NOT NULL,
    attempts          INT NOT NULL,
    reason            TEXT NOT NULL,
    failed_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS notification_failure (
    id            BIGSERIAL PRIMARY KEY,
    settlement_id TEXT NOT NULL,
    status        TEXT NOT NULL,
    details       TEXT NOT NULL DEFAULT '',
    retry_count   INT NOT NULL,
    failed_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// InitSchema applies the schema. Safe to call on every startup.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	s.log.Info().Msg("Database schema initialized")
	return nil
}
