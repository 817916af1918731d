package store

import (
	"context"
	"time"
)

// Reconciliation records a repair of derived state that had drifted from the
// ledger: the tank snapshot cache or the latest-movement index.
type Reconciliation struct {
	ID          int64     `json:"id"`
	TankID      int64     `json:"tank_id"`
	Kind        string    `json:"kind"`
	CachedValue string    `json:"cached_value"`
	LedgerValue string    `json:"ledger_value"`
	Actor       string    `json:"actor"`
	CreatedAt   time.Time `json:"created_at"`
}

func (db *DB) CreateReconciliation(ctx context.Context, r *Reconciliation) error {
	return db.run().createReconciliation(ctx, r)
}

func (tx *Tx) CreateReconciliation(ctx context.Context, r *Reconciliation) error {
	return tx.run().createReconciliation(ctx, r)
}

func (r runner) createReconciliation(ctx context.Context, rec *Reconciliation) error {
	if rec.Actor == "" {
		rec.Actor = "system"
	}
	id, err := r.insertID(ctx, `INSERT INTO reconciliations (tank_id, kind, cached_value, ledger_value, actor) VALUES (?, ?, ?, ?, ?)`,
		rec.TankID, rec.Kind, rec.CachedValue, rec.LedgerValue, rec.Actor)
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

func (db *DB) ListReconciliations(ctx context.Context, limit int) ([]*Reconciliation, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT id, tank_id, kind, cached_value, ledger_value, actor, created_at FROM reconciliations ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Reconciliation
	for rows.Next() {
		var r Reconciliation
		var createdAt dbTime
		if err := rows.Scan(&r.ID, &r.TankID, &r.Kind, &r.CachedValue, &r.LedgerValue, &r.Actor, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = createdAt.Time
		out = append(out, &r)
	}
	return out, rows.Err()
}
