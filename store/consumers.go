package store

import (
	"context"
	"database/sql"
)

func scanConsumer(row interface{ Scan(...any) error }) (*Consumer, error) {
	var c Consumer
	var home sql.NullInt64
	if err := row.Scan(&c.ID, &c.UnitID, &home); err != nil {
		return nil, err
	}
	c.HomeClusterID = idPtr(home)
	return &c, nil
}

func (db *DB) ListConsumers(ctx context.Context) ([]Consumer, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, unit_id, home_cluster_id FROM consumers ORDER BY unit_id, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var consumers []Consumer
	for rows.Next() {
		c, err := scanConsumer(rows)
		if err != nil {
			return nil, err
		}
		consumers = append(consumers, *c)
	}
	return consumers, rows.Err()
}

func (db *DB) GetConsumer(ctx context.Context, id int64) (*Consumer, error) {
	c, err := scanConsumer(db.QueryRowContext(ctx, db.Q(`SELECT id, unit_id, home_cluster_id FROM consumers WHERE id=?`), id))
	return c, notFound(err)
}

// UpsertConsumer inserts or updates by unit_id, setting c.ID.
func (db *DB) UpsertConsumer(ctx context.Context, c *Consumer) error {
	_, err := db.ExecContext(ctx, db.Q(`INSERT INTO consumers (unit_id, home_cluster_id) VALUES (?, ?)
		ON CONFLICT(unit_id) DO UPDATE SET home_cluster_id=excluded.home_cluster_id`),
		c.UnitID, nullableID(c.HomeClusterID))
	if err != nil {
		return err
	}
	return db.QueryRowContext(ctx, db.Q(`SELECT id FROM consumers WHERE unit_id=?`), c.UnitID).Scan(&c.ID)
}
