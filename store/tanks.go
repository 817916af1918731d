package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const tankCols = `id, serial, kind, status, qty, updated_at`

func scanTank(row interface{ Scan(...any) error }) (*Tank, error) {
	var t Tank
	var kind, status string
	var updated dbTime
	if err := row.Scan(&t.ID, &t.Serial, &kind, &status, &t.Qty, &updated); err != nil {
		return nil, err
	}
	t.Kind = Kind(kind)
	t.Status = Status(status)
	t.UpdatedAt = updated.Time
	return &t, nil
}

func (r runner) getTank(ctx context.Context, id int64) (*Tank, error) {
	t, err := scanTank(r.q.QueryRowContext(ctx, r.db.Q(`SELECT `+tankCols+` FROM tanks WHERE id=?`), id))
	return t, notFound(err)
}

func (r runner) updateTankSnapshot(ctx context.Context, tankID int64, qty decimal.Decimal, status Status, at time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	res, err := r.q.ExecContext(ctx, r.db.Q(`UPDATE tanks SET qty=?, status=?, updated_at=? WHERE id=?`),
		qty, string(status), r.db.dialect.TimeArg(at), tankID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) GetTank(ctx context.Context, id int64) (*Tank, error) {
	return db.run().getTank(ctx, id)
}

func (db *DB) ListTanks(ctx context.Context) ([]Tank, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+tankCols+` FROM tanks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tanks []Tank
	for rows.Next() {
		t, err := scanTank(rows)
		if err != nil {
			return nil, err
		}
		tanks = append(tanks, *t)
	}
	return tanks, rows.Err()
}

// UpsertTank registers a tank by serial. The qty/status baseline is only
// written on insert; an existing tank's snapshot belongs to the ledger.
func (db *DB) UpsertTank(ctx context.Context, t *Tank) error {
	if t.Kind == "" {
		t.Kind = KindGrease
	}
	if t.Status == "" {
		t.Status = StatusNew
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("tank %q: invalid kind %q", t.Serial, t.Kind)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("tank %q: invalid status %q", t.Serial, t.Status)
	}
	_, err := db.ExecContext(ctx, db.Q(`INSERT INTO tanks (serial, kind, status, qty) VALUES (?, ?, ?, ?)
		ON CONFLICT(serial) DO UPDATE SET kind=excluded.kind`),
		t.Serial, string(t.Kind), string(t.Status), t.Qty)
	if err != nil {
		return err
	}
	return db.QueryRowContext(ctx, db.Q(`SELECT id FROM tanks WHERE serial=?`), t.Serial).Scan(&t.ID)
}

func (tx *Tx) Tank(ctx context.Context, id int64) (*Tank, error) {
	return tx.run().getTank(ctx, id)
}

// LockTank reads a tank and holds its index and snapshot rows until the
// transaction ends. Locks are taken in the same order a movement write takes
// them: tank_latest, then tanks.
func (tx *Tx) LockTank(ctx context.Context, id int64) (*Tank, error) {
	r := tx.run()
	var movementID int64
	err := r.q.QueryRowContext(ctx, tx.db.Q(`SELECT movement_id FROM tank_latest WHERE tank_id=?`+tx.db.dialect.ForUpdate()), id).Scan(&movementID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lock latest index: %w", err)
	}
	t, err := scanTank(r.q.QueryRowContext(ctx, tx.db.Q(`SELECT `+tankCols+` FROM tanks WHERE id=?`+tx.db.dialect.ForUpdate()), id))
	return t, notFound(err)
}

func (tx *Tx) UpdateTankSnapshot(ctx context.Context, tankID int64, qty decimal.Decimal, status Status) error {
	return tx.run().updateTankSnapshot(ctx, tankID, qty, status, time.Now())
}
