package store

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS clusters (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    name         TEXT NOT NULL UNIQUE,
    role         TEXT NOT NULL DEFAULT 'STANDARD',
    is_issuing   INTEGER NOT NULL DEFAULT 0,
    is_receiving INTEGER NOT NULL DEFAULT 1,
    view_queue   INTEGER NOT NULL DEFAULT 0,
    created_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS consumers (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    unit_id         TEXT NOT NULL UNIQUE,
    home_cluster_id INTEGER REFERENCES clusters(id),
    created_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tanks (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    serial      TEXT NOT NULL UNIQUE,
    kind        TEXT NOT NULL DEFAULT 'GREASE',
    status      TEXT NOT NULL DEFAULT 'NEW',
    qty         TEXT NOT NULL DEFAULT '0',
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS movements (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    tank_id          INTEGER NOT NULL REFERENCES tanks(id),
    from_cluster_id  INTEGER REFERENCES clusters(id),
    from_consumer_id INTEGER REFERENCES consumers(id),
    to_cluster_id    INTEGER REFERENCES clusters(id),
    to_consumer_id   INTEGER REFERENCES consumers(id),
    from_qty         TEXT NOT NULL DEFAULT '0',
    to_qty           TEXT NOT NULL DEFAULT '0',
    from_status      TEXT NOT NULL DEFAULT '',
    to_status        TEXT NOT NULL,
    reference_no     TEXT NOT NULL DEFAULT '',
    performed_by     TEXT NOT NULL DEFAULT '',
    occurred_at      TEXT NOT NULL,
    CHECK ((to_cluster_id IS NULL) <> (to_consumer_id IS NULL))
);
CREATE INDEX IF NOT EXISTS idx_movements_tank ON movements(tank_id, occurred_at DESC, id DESC);

CREATE TRIGGER IF NOT EXISTS movements_no_update BEFORE UPDATE ON movements
BEGIN
    SELECT RAISE(ABORT, 'movements are append-only');
END;

CREATE TRIGGER IF NOT EXISTS movements_no_delete BEFORE DELETE ON movements
BEGIN
    SELECT RAISE(ABORT, 'movements are append-only');
END;

CREATE TABLE IF NOT EXISTS tank_latest (
    tank_id        INTEGER PRIMARY KEY REFERENCES tanks(id),
    movement_id    INTEGER NOT NULL REFERENCES movements(id),
    to_cluster_id  INTEGER,
    to_consumer_id INTEGER,
    occurred_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tank_latest_consumer ON tank_latest(to_consumer_id);

CREATE TABLE IF NOT EXISTS reconciliations (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    tank_id       INTEGER NOT NULL REFERENCES tanks(id),
    kind          TEXT NOT NULL,
    cached_value  TEXT NOT NULL DEFAULT '',
    ledger_value  TEXT NOT NULL DEFAULT '',
    actor         TEXT NOT NULL DEFAULT 'system',
    created_at    TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_reconciliations_tank ON reconciliations(tank_id);

CREATE TABLE IF NOT EXISTS outbox (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    topic       TEXT NOT NULL,
    payload     BLOB NOT NULL,
    msg_type    TEXT NOT NULL DEFAULT '',
    retries     INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    sent_at     TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(sent_at) WHERE sent_at IS NULL;

CREATE TABLE IF NOT EXISTS audit_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type TEXT NOT NULL,
    entity_id   INTEGER NOT NULL DEFAULT 0,
    action      TEXT NOT NULL,
    old_value   TEXT NOT NULL DEFAULT '',
    new_value   TEXT NOT NULL DEFAULT '',
    actor       TEXT NOT NULL DEFAULT 'system',
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);
`
