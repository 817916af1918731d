//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func openPostgresContainer(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("greasetrack"),
		postgres.WithUsername("greasetrack"),
		postgres.WithPassword("greasetrack"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := OpenPostgresDSN(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgresLedgerRoundTrip(t *testing.T) {
	db := openPostgresContainer(t)
	ctx := context.Background()
	f := seedFixture(t, db)
	t0 := time.Now().UTC().Truncate(time.Microsecond)

	m1 := &Movement{TankID: f.tankA.ID, ToClusterID: &f.warehouse.ID, ToQty: decimal.RequireFromString("180.5"),
		ToStatus: StatusNew, OccurredAt: t0}
	require.NoError(t, db.InTx(ctx, func(tx *Tx) error { return tx.AppendMovement(ctx, m1, nil) }))

	m2 := &Movement{TankID: f.tankA.ID, FromClusterID: &f.warehouse.ID, ToConsumerID: &f.truck.ID,
		FromQty: m1.ToQty, ToQty: m1.ToQty, FromStatus: StatusNew, ToStatus: StatusDC, OccurredAt: t0.Add(time.Second)}
	require.NoError(t, db.InTx(ctx, func(tx *Tx) error { return tx.AppendMovement(ctx, m2, &m1.ID) }))

	stale := &Movement{TankID: f.tankA.ID, ToClusterID: &f.hub.ID, ToStatus: StatusNew, OccurredAt: t0.Add(2 * time.Second)}
	err := db.InTx(ctx, func(tx *Tx) error { return tx.AppendMovement(ctx, stale, &m1.ID) })
	assert.ErrorIs(t, err, ErrStaleLatest)

	latest, err := db.LatestMovement(ctx, f.tankA.ID)
	require.NoError(t, err)
	assert.Equal(t, m2.ID, latest.ID)
	assert.True(t, m1.ToQty.Equal(latest.ToQty))
	assert.True(t, t0.Add(time.Second).Equal(latest.OccurredAt))

	_, err = db.ExecContext(ctx, `UPDATE movements SET to_qty=0 WHERE id=$1`, m1.ID)
	assert.ErrorContains(t, err, "movements are append-only")
	_, err = db.ExecContext(ctx, `DELETE FROM movements WHERE id=$1`, m2.ID)
	assert.ErrorContains(t, err, "movements are append-only")

	history, err := db.ListMovementsForTank(ctx, f.tankA.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, m1.ToQty.Equal(history[1].ToQty))
}
