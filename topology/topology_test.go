package topology

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"greasetrack/config"
	"greasetrack/store"
)

func openDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "topology.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

const seedYAML = `
clusters:
  - name: Main Warehouse
    view_queue: 1
  - name: sefas
    is_issuing: true
    view_queue: 2
  - name: Pit Depot
    is_receiving: false
    view_queue: 3
consumers:
  - unit_id: DT-17
    home_cluster: Pit Depot
  - unit_id: DT-18
tanks:
  - serial: GT-001
    kind: GREASE
    qty: "180"
  - serial: GT-002
    kind: OIL
    status: DC
    qty: "12.5"
`

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestSeedAssignAndLoad(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	n, err := LoadSeed(ctx, writeSeed(t, seedYAML), db)
	require.NoError(t, err)
	assert.Equal(t, SeedCounts{Clusters: 3, Consumers: 2, Tanks: 2}, n)

	roles, err := AssignRoles(ctx, db, config.RoleNames{MainWarehouse: "MAIN WAREHOUSE", ExternalHub: " SEFAS "}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, roles.Warehouse)
	require.NotNil(t, roles.Hub)
	assert.Equal(t, "Main Warehouse", roles.Warehouse.Name)
	assert.Equal(t, "sefas", roles.Hub.Name)

	topo, err := NewService(db).Load(ctx)
	require.NoError(t, err)
	require.Len(t, topo.Clusters, 3)
	assert.Equal(t, roles.Warehouse.ID, topo.Roles.Warehouse.ID)
	assert.Equal(t, roles.Hub.ID, topo.Roles.Hub.ID)

	depot := topo.Clusters[2]
	assert.False(t, depot.IsReceiving)
	assert.Equal(t, store.RoleStandard, depot.Role)

	require.Len(t, topo.Consumers, 2)
	dt17, ok := topo.Consumer(topo.Consumers[0].ID)
	require.True(t, ok)
	require.NotNil(t, dt17.HomeClusterID)
	assert.Equal(t, depot.ID, *dt17.HomeClusterID)

	tanks, err := db.ListTanks(ctx)
	require.NoError(t, err)
	require.Len(t, tanks, 2)
	assert.True(t, decimal.RequireFromString("12.5").Equal(tanks[1].Qty))
	assert.Equal(t, store.StatusDC, tanks[1].Status)
}

func TestAssignRolesMovesRoleWhenConfigChanges(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	_, err := LoadSeed(ctx, writeSeed(t, seedYAML), db)
	require.NoError(t, err)

	_, err = AssignRoles(ctx, db, config.RoleNames{MainWarehouse: "Main Warehouse", ExternalHub: "Sefas"}, zap.NewNop())
	require.NoError(t, err)
	roles, err := AssignRoles(ctx, db, config.RoleNames{MainWarehouse: "pit depot"}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, roles.Warehouse)
	assert.Equal(t, "Pit Depot", roles.Warehouse.Name)
	assert.Nil(t, roles.Hub)

	clusters, err := db.ListClusters(ctx)
	require.NoError(t, err)
	for _, c := range clusters {
		if c.Name != "Pit Depot" {
			assert.Equal(t, store.RoleStandard, c.Role, c.Name)
		}
	}
}

func TestResolveRolesRejectsDuplicates(t *testing.T) {
	_, err := ResolveRoles([]store.Cluster{
		{ID: 1, Name: "A", Role: store.RoleMainWarehouse},
		{ID: 2, Name: "B", Role: store.RoleMainWarehouse},
	})
	assert.Error(t, err)

	_, err = ResolveRoles([]store.Cluster{
		{ID: 1, Name: "A", Role: store.RoleExternalHub},
		{ID: 2, Name: "B", Role: store.RoleExternalHub},
	})
	assert.Error(t, err)

	roles, err := ResolveRoles([]store.Cluster{{ID: 1, Name: "A"}})
	require.NoError(t, err)
	assert.Nil(t, roles.Warehouse)
	assert.Nil(t, roles.Hub)
}

type failingStore struct{ err error }

func (f failingStore) ListClusters(context.Context) ([]store.Cluster, error) { return nil, f.err }
func (f failingStore) ListConsumers(context.Context) ([]store.Consumer, error) {
	return []store.Consumer{}, nil
}

func TestLoadWrapsStoreErrors(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := NewService(failingStore{err: boom}).Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "list clusters")
}

func TestSeedRejectsBadInput(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	_, err := LoadSeed(ctx, writeSeed(t, "consumers:\n  - unit_id: X\n    home_cluster: Nowhere\n"), db)
	assert.ErrorContains(t, err, "unknown home cluster")

	_, err = LoadSeed(ctx, writeSeed(t, "tanks:\n  - serial: T\n    qty: lots\n"), db)
	assert.ErrorContains(t, err, "qty")

	_, err = LoadSeed(ctx, writeSeed(t, "tanks:\n  - serial: T\n    qty: \"-4\"\n"), db)
	assert.ErrorContains(t, err, "negative")

	_, err = LoadSeed(ctx, writeSeed(t, "clusters: [: bad"), db)
	assert.ErrorContains(t, err, "parse seed")

	_, err = LoadSeed(ctx, filepath.Join(t.TempDir(), "missing.yaml"), db)
	assert.ErrorContains(t, err, "read seed")
}
