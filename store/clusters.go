package store

import (
	"context"
	"fmt"
)

const clusterCols = `id, name, role, is_issuing, is_receiving, view_queue`

func scanCluster(row interface{ Scan(...any) error }) (*Cluster, error) {
	var c Cluster
	var role string
	if err := row.Scan(&c.ID, &c.Name, &role, &c.IsIssuing, &c.IsReceiving, &c.ViewQueue); err != nil {
		return nil, err
	}
	c.Role = Role(role)
	return &c, nil
}

func (db *DB) ListClusters(ctx context.Context) ([]Cluster, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+clusterCols+` FROM clusters ORDER BY view_queue, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var clusters []Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, *c)
	}
	return clusters, rows.Err()
}

func (db *DB) GetCluster(ctx context.Context, id int64) (*Cluster, error) {
	c, err := scanCluster(db.QueryRowContext(ctx, db.Q(`SELECT `+clusterCols+` FROM clusters WHERE id=?`), id))
	return c, notFound(err)
}

// UpsertCluster inserts the cluster or updates the row with the same name,
// setting c.ID either way.
func (db *DB) UpsertCluster(ctx context.Context, c *Cluster) error {
	if c.Role == "" {
		c.Role = RoleStandard
	}
	if !c.Role.Valid() {
		return fmt.Errorf("cluster %q: invalid role %q", c.Name, c.Role)
	}
	_, err := db.ExecContext(ctx, db.Q(`INSERT INTO clusters (name, role, is_issuing, is_receiving, view_queue) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET role=excluded.role, is_issuing=excluded.is_issuing, is_receiving=excluded.is_receiving, view_queue=excluded.view_queue`),
		c.Name, string(c.Role), c.IsIssuing, c.IsReceiving, c.ViewQueue)
	if err != nil {
		return err
	}
	return db.QueryRowContext(ctx, db.Q(`SELECT id FROM clusters WHERE name=?`), c.Name).Scan(&c.ID)
}

func (db *DB) SetClusterRole(ctx context.Context, id int64, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	res, err := db.ExecContext(ctx, db.Q(`UPDATE clusters SET role=? WHERE id=?`), string(role), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
