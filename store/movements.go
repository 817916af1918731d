package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const movementCols = `m.id, m.tank_id, m.from_cluster_id, m.from_consumer_id, m.to_cluster_id, m.to_consumer_id,
	m.from_qty, m.to_qty, m.from_status, m.to_status, m.reference_no, m.performed_by, m.occurred_at`

func scanMovement(row interface{ Scan(...any) error }) (*Movement, error) {
	var m Movement
	var fromCluster, fromConsumer, toCluster, toConsumer sql.NullInt64
	var fromStatus, toStatus string
	var occurred dbTime
	if err := row.Scan(&m.ID, &m.TankID, &fromCluster, &fromConsumer, &toCluster, &toConsumer,
		&m.FromQty, &m.ToQty, &fromStatus, &toStatus, &m.ReferenceNo, &m.PerformedBy, &occurred); err != nil {
		return nil, err
	}
	m.FromClusterID = idPtr(fromCluster)
	m.FromConsumerID = idPtr(fromConsumer)
	m.ToClusterID = idPtr(toCluster)
	m.ToConsumerID = idPtr(toConsumer)
	m.FromStatus = Status(fromStatus)
	m.ToStatus = Status(toStatus)
	m.OccurredAt = occurred.Time
	return &m, nil
}

func scanMovements(rows *sql.Rows) ([]Movement, error) {
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r runner) latestMovement(ctx context.Context, tankID int64) (*Movement, error) {
	m, err := scanMovement(r.q.QueryRowContext(ctx, r.db.Q(`SELECT `+movementCols+`
		FROM tank_latest l JOIN movements m ON m.id = l.movement_id WHERE l.tank_id=?`), tankID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (r runner) latestIntoConsumer(ctx context.Context, consumerID int64) ([]Movement, error) {
	rows, err := r.q.QueryContext(ctx, r.db.Q(`SELECT `+movementCols+`
		FROM tank_latest l JOIN movements m ON m.id = l.movement_id
		WHERE l.to_consumer_id=? ORDER BY m.occurred_at DESC, m.id DESC`), consumerID)
	if err != nil {
		return nil, err
	}
	return scanMovements(rows)
}

// LatestMovement returns the indexed latest movement for a tank, or nil when
// the tank has never moved.
func (db *DB) LatestMovement(ctx context.Context, tankID int64) (*Movement, error) {
	return db.run().latestMovement(ctx, tankID)
}

// ListLatestMovements returns the indexed latest movement of every tank that
// has one, keyed by tank id.
func (db *DB) ListLatestMovements(ctx context.Context) (map[int64]Movement, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+movementCols+`
		FROM tank_latest l JOIN movements m ON m.id = l.movement_id`)
	if err != nil {
		return nil, err
	}
	list, err := scanMovements(rows)
	if err != nil {
		return nil, err
	}
	latest := make(map[int64]Movement, len(list))
	for _, m := range list {
		latest[m.TankID] = m
	}
	return latest, nil
}

func (r runner) movementsForTank(ctx context.Context, tankID int64) ([]Movement, error) {
	rows, err := r.q.QueryContext(ctx, r.db.Q(`SELECT `+movementCols+` FROM movements m
		WHERE m.tank_id=? ORDER BY m.occurred_at DESC, m.id DESC`), tankID)
	if err != nil {
		return nil, err
	}
	return scanMovements(rows)
}

// ListMovementsForTank returns a tank's full history, newest first.
func (db *DB) ListMovementsForTank(ctx context.Context, tankID int64) ([]Movement, error) {
	return db.run().movementsForTank(ctx, tankID)
}

func (db *DB) ListMovements(ctx context.Context, limit int) ([]Movement, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT `+movementCols+` FROM movements m
		ORDER BY m.id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	return scanMovements(rows)
}

func (tx *Tx) LatestMovement(ctx context.Context, tankID int64) (*Movement, error) {
	return tx.run().latestMovement(ctx, tankID)
}

func (tx *Tx) ListMovementsForTank(ctx context.Context, tankID int64) ([]Movement, error) {
	return tx.run().movementsForTank(ctx, tankID)
}

// LatestIntoConsumer returns the latest movements, one per tank, whose
// destination is the consumer. Under normal operation there is at most one.
func (tx *Tx) LatestIntoConsumer(ctx context.Context, consumerID int64) ([]Movement, error) {
	return tx.run().latestIntoConsumer(ctx, consumerID)
}

// AppendMovement inserts m and advances the tank's latest-movement index.
// prevID is the latest movement id the caller based its decision on (nil for
// a tank with no history); if the index no longer matches, ErrStaleLatest is
// returned and the caller must roll back.
func (tx *Tx) AppendMovement(ctx context.Context, m *Movement, prevID *int64) error {
	if err := m.Validate(); err != nil {
		return err
	}
	r := tx.run()
	id, err := r.insertID(ctx, `INSERT INTO movements (tank_id, from_cluster_id, from_consumer_id, to_cluster_id, to_consumer_id,
		from_qty, to_qty, from_status, to_status, reference_no, performed_by, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.TankID, nullableID(m.FromClusterID), nullableID(m.FromConsumerID), nullableID(m.ToClusterID), nullableID(m.ToConsumerID),
		m.FromQty, m.ToQty, string(m.FromStatus), string(m.ToStatus), m.ReferenceNo, m.PerformedBy, tx.db.dialect.TimeArg(m.OccurredAt))
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	m.ID = id

	return r.advanceLatest(ctx, m, prevID)
}

// advanceLatest points the tank's index at m, provided it still references
// prevID (or does not exist yet when prevID is nil).
func (r runner) advanceLatest(ctx context.Context, m *Movement, prevID *int64) error {
	occurred := r.db.dialect.TimeArg(m.OccurredAt)
	var res sql.Result
	var err error
	if prevID == nil {
		res, err = r.q.ExecContext(ctx, r.db.Q(`INSERT INTO tank_latest (tank_id, movement_id, to_cluster_id, to_consumer_id, occurred_at)
			VALUES (?, ?, ?, ?, ?) ON CONFLICT(tank_id) DO NOTHING`),
			m.TankID, m.ID, nullableID(m.ToClusterID), nullableID(m.ToConsumerID), occurred)
	} else {
		res, err = r.q.ExecContext(ctx, r.db.Q(`UPDATE tank_latest SET movement_id=?, to_cluster_id=?, to_consumer_id=?, occurred_at=?
			WHERE tank_id=? AND movement_id=?`),
			m.ID, nullableID(m.ToClusterID), nullableID(m.ToConsumerID), occurred, m.TankID, *prevID)
	}
	if err != nil {
		return fmt.Errorf("advance latest index: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("advance latest index: %w", err)
	} else if n == 0 {
		return ErrStaleLatest
	}
	return nil
}

// RepairLatest points the index at an existing movement m. prevID is the
// index entry the caller read (nil when the tank had none); ErrStaleLatest
// means a movement landed since and nothing was changed.
func (tx *Tx) RepairLatest(ctx context.Context, m *Movement, prevID *int64) error {
	return tx.run().advanceLatest(ctx, m, prevID)
}
