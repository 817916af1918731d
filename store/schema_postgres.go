package store

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS clusters (
    id           BIGSERIAL PRIMARY KEY,
    name         TEXT NOT NULL UNIQUE,
    role         TEXT NOT NULL DEFAULT 'STANDARD',
    is_issuing   BOOLEAN NOT NULL DEFAULT FALSE,
    is_receiving BOOLEAN NOT NULL DEFAULT TRUE,
    view_queue   INTEGER NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS consumers (
    id              BIGSERIAL PRIMARY KEY,
    unit_id         TEXT NOT NULL UNIQUE,
    home_cluster_id BIGINT REFERENCES clusters(id),
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS tanks (
    id          BIGSERIAL PRIMARY KEY,
    serial      TEXT NOT NULL UNIQUE,
    kind        TEXT NOT NULL DEFAULT 'GREASE',
    status      TEXT NOT NULL DEFAULT 'NEW',
    qty         NUMERIC(12,3) NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS movements (
    id               BIGSERIAL PRIMARY KEY,
    tank_id          BIGINT NOT NULL REFERENCES tanks(id),
    from_cluster_id  BIGINT REFERENCES clusters(id),
    from_consumer_id BIGINT REFERENCES consumers(id),
    to_cluster_id    BIGINT REFERENCES clusters(id),
    to_consumer_id   BIGINT REFERENCES consumers(id),
    from_qty         NUMERIC(12,3) NOT NULL DEFAULT 0,
    to_qty           NUMERIC(12,3) NOT NULL DEFAULT 0,
    from_status      TEXT NOT NULL DEFAULT '',
    to_status        TEXT NOT NULL,
    reference_no     TEXT NOT NULL DEFAULT '',
    performed_by     TEXT NOT NULL DEFAULT '',
    occurred_at      TIMESTAMPTZ NOT NULL,
    CHECK ((to_cluster_id IS NULL) <> (to_consumer_id IS NULL))
);
CREATE INDEX IF NOT EXISTS idx_movements_tank ON movements(tank_id, occurred_at DESC, id DESC);

DROP RULE IF EXISTS movements_no_update ON movements;
DROP RULE IF EXISTS movements_no_delete ON movements;

CREATE OR REPLACE FUNCTION movements_append_only() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'movements are append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS movements_append_only ON movements;
CREATE TRIGGER movements_append_only BEFORE UPDATE OR DELETE ON movements
    FOR EACH ROW EXECUTE FUNCTION movements_append_only();

CREATE TABLE IF NOT EXISTS tank_latest (
    tank_id        BIGINT PRIMARY KEY REFERENCES tanks(id),
    movement_id    BIGINT NOT NULL REFERENCES movements(id),
    to_cluster_id  BIGINT,
    to_consumer_id BIGINT,
    occurred_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tank_latest_consumer ON tank_latest(to_consumer_id);

CREATE TABLE IF NOT EXISTS reconciliations (
    id            BIGSERIAL PRIMARY KEY,
    tank_id       BIGINT NOT NULL REFERENCES tanks(id),
    kind          TEXT NOT NULL,
    cached_value  TEXT NOT NULL DEFAULT '',
    ledger_value  TEXT NOT NULL DEFAULT '',
    actor         TEXT NOT NULL DEFAULT 'system',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_reconciliations_tank ON reconciliations(tank_id);

CREATE TABLE IF NOT EXISTS outbox (
    id          BIGSERIAL PRIMARY KEY,
    topic       TEXT NOT NULL,
    payload     BYTEA NOT NULL,
    msg_type    TEXT NOT NULL DEFAULT '',
    retries     INTEGER NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    sent_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(sent_at) WHERE sent_at IS NULL;

CREATE TABLE IF NOT EXISTS audit_log (
    id          BIGSERIAL PRIMARY KEY,
    entity_type TEXT NOT NULL,
    entity_id   BIGINT NOT NULL DEFAULT 0,
    action      TEXT NOT NULL,
    old_value   TEXT NOT NULL DEFAULT '',
    new_value   TEXT NOT NULL DEFAULT '',
    actor       TEXT NOT NULL DEFAULT 'system',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);
`
