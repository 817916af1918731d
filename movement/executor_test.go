package movement

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"greasetrack/policy"
	"greasetrack/projection"
	"greasetrack/store"
	"greasetrack/topology"
)

type recordingEmitter struct {
	recorded  []store.Movement
	rules     []policy.Rule
	displaced []store.Movement
	failed    []string
}

func (r *recordingEmitter) EmitMovementRecorded(m store.Movement, rule policy.Rule, _ string) {
	r.recorded = append(r.recorded, m)
	r.rules = append(r.rules, rule)
}
func (r *recordingEmitter) EmitTankDisplaced(m store.Movement, _ int64) {
	r.displaced = append(r.displaced, m)
}
func (r *recordingEmitter) EmitMovementFailed(_ int64, kind, _ string) {
	r.failed = append(r.failed, kind)
}

type env struct {
	db                    *store.DB
	exec                  *Executor
	events                *recordingEmitter
	warehouse, hub, depot store.Cluster
	closed                store.Cluster
	truck, loader         store.Consumer
	tankA, tankB          store.Tank
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "exec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	e := &env{
		db:        db,
		events:    &recordingEmitter{},
		warehouse: store.Cluster{Name: "Main Warehouse", Role: store.RoleMainWarehouse, IsReceiving: true},
		hub:       store.Cluster{Name: "Sefas", Role: store.RoleExternalHub, IsReceiving: true},
		depot:     store.Cluster{Name: "Pit Depot", IsReceiving: true},
		closed:    store.Cluster{Name: "Scrap Yard", IsReceiving: false},
		truck:     store.Consumer{UnitID: "DT-17"},
		loader:    store.Consumer{UnitID: "LD-02"},
		tankA:     store.Tank{Serial: "GT-A", Qty: decimal.NewFromInt(180)},
		tankB:     store.Tank{Serial: "GT-B", Qty: decimal.NewFromInt(90)},
	}
	for _, c := range []*store.Cluster{&e.warehouse, &e.hub, &e.depot, &e.closed} {
		require.NoError(t, db.UpsertCluster(ctx, c))
	}
	require.NoError(t, db.UpsertConsumer(ctx, &e.truck))
	require.NoError(t, db.UpsertConsumer(ctx, &e.loader))
	require.NoError(t, db.UpsertTank(ctx, &e.tankA))
	require.NoError(t, db.UpsertTank(ctx, &e.tankB))

	e.exec = NewExecutor(NewStoreLedger(db), topology.NewService(db), e.events, zap.NewNop(), time.Second)
	return e
}

func (e *env) withLedger(l Ledger) *Executor {
	return NewExecutor(l, topology.NewService(e.db), e.events, zap.NewNop(), 250*time.Millisecond)
}

func dec(s string) *decimal.Decimal { d := decimal.RequireFromString(s); return &d }

func (e *env) move(t *testing.T, in Intent) *Summary {
	t.Helper()
	sum, err := e.exec.Execute(context.Background(), in)
	require.NoError(t, err)
	return sum
}

func (e *env) project(t *testing.T) projection.Result {
	t.Helper()
	ctx := context.Background()
	tanks, err := e.db.ListTanks(ctx)
	require.NoError(t, err)
	latest, err := e.db.ListLatestMovements(ctx)
	require.NoError(t, err)
	clusters, err := e.db.ListClusters(ctx)
	require.NoError(t, err)
	consumers, err := e.db.ListConsumers(ctx)
	require.NoError(t, err)
	return projection.Project(tanks, latest, clusters, consumers)
}

func (e *env) history(t *testing.T, tankID int64) []store.Movement {
	t.Helper()
	h, err := e.db.ListMovementsForTank(context.Background(), tankID)
	require.NoError(t, err)
	return h
}

func TestUnassignedIntake(t *testing.T) {
	e := newEnv(t)
	sum := e.move(t, Intent{TankID: e.tankA.ID, ToClusterID: &e.warehouse.ID, Qty: dec("50"), ReferenceNo: "GRN-1", PerformedBy: "kim"})
	assert.Equal(t, policy.RuleIntake, sum.Rule)
	assert.Nil(t, sum.DisplacedMovementID)

	h := e.history(t, e.tankA.ID)
	require.Len(t, h, 1)
	assert.Nil(t, h[0].FromClusterID)
	assert.Nil(t, h[0].FromConsumerID)
	assert.True(t, h[0].FromQty.IsZero())
	assert.True(t, decimal.NewFromInt(50).Equal(h[0].ToQty))
	assert.Equal(t, "kim", h[0].PerformedBy)

	tank, err := e.db.GetTank(context.Background(), e.tankA.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(50).Equal(tank.Qty))
	assert.Equal(t, []policy.Rule{policy.RuleIntake}, e.events.rules)
}

func TestDeployPreservesQtyAndReturnZeroes(t *testing.T) {
	e := newEnv(t)
	e.move(t, Intent{TankID: e.tankA.ID, ToClusterID: &e.warehouse.ID, Qty: dec("180")})

	sum := e.move(t, Intent{TankID: e.tankA.ID, ToConsumerID: &e.truck.ID, FromClusterID: &e.warehouse.ID})
	assert.Equal(t, policy.RuleDeploy, sum.Rule)
	assert.True(t, decimal.NewFromInt(180).Equal(sum.Primary.FromQty))
	assert.True(t, decimal.NewFromInt(180).Equal(sum.Primary.ToQty))
	assert.Equal(t, store.StatusDC, sum.Primary.ToStatus)

	res := e.project(t)
	require.NotNil(t, res.Consumers[0].CurrentTank)
	assert.Equal(t, "GT-A", res.Consumers[0].CurrentTank.Serial)
	assert.Equal(t, "DT-17", res.Tanks[0].Location)

	sum = e.move(t, Intent{TankID: e.tankA.ID, ToClusterID: &e.warehouse.ID})
	assert.Equal(t, policy.RuleReturn, sum.Rule)
	assert.True(t, decimal.NewFromInt(180).Equal(sum.Primary.FromQty))
	assert.True(t, sum.Primary.ToQty.IsZero())
	assert.Equal(t, "MAIN WAREHOUSE", e.project(t).Tanks[0].Location)
}

func TestHubRoundTripResetsStatus(t *testing.T) {
	e := newEnv(t)
	e.move(t, Intent{TankID: e.tankA.ID, ToClusterID: &e.warehouse.ID, Qty: dec("180")})
	e.move(t, Intent{TankID: e.tankA.ID, ToConsumerID: &e.truck.ID})
	e.move(t, Intent{TankID: e.tankA.ID, ToClusterID: &e.warehouse.ID})

	sum := e.move(t, Intent{TankID: e.tankA.ID, ToClusterID: &e.hub.ID})
	assert.Equal(t, policy.RuleHubDispatch, sum.Rule)
	assert.Equal(t, store.StatusDC, sum.Primary.ToStatus)

	sum = e.move(t, Intent{TankID: e.tankA.ID, ToClusterID: &e.warehouse.ID, Qty: dec("200")})
	assert.Equal(t, policy.RuleHubRefill, sum.Rule)
	assert.Equal(t, store.StatusDC, sum.Primary.FromStatus)
	assert.Equal(t, store.StatusNew, sum.Primary.ToStatus)
	assert.True(t, decimal.NewFromInt(200).Equal(sum.Primary.ToQty))

	tank := e.project(t).Tanks[0]
	assert.Equal(t, store.StatusNew, tank.Status)
	assert.True(t, decimal.NewFromInt(200).Equal(tank.Qty))
}

func TestDisplacementFreesConsumer(t *testing.T) {
	e := newEnv(t)
	e.move(t, Intent{TankID: e.tankA.ID, ToClusterID: &e.warehouse.ID, Qty: dec("180")})
	e.move(t, Intent{TankID: e.tankA.ID, ToConsumerID: &e.truck.ID})
	e.move(t, Intent{TankID: e.tankB.ID, ToClusterID: &e.warehouse.ID, Qty: dec("90")})

	sum := e.move(t, Intent{TankID: e.tankB.ID, ToConsumerID: &e.truck.ID, ReferenceNo: "SWAP-1", PerformedBy: "lee"})
	require.NotNil(t, sum.DisplacedMovementID)
	assert.Less(t, *sum.DisplacedMovementID, sum.MovementID)
	assert.Contains(t, sum.Text, "displaced GT-A")

	ha := e.history(t, e.tankA.ID)
	d := ha[0]
	assert.Equal(t, *sum.DisplacedMovementID, d.ID)
	assert.Equal(t, e.truck.ID, *d.FromConsumerID)
	assert.Equal(t, e.warehouse.ID, *d.ToClusterID)
	assert.True(t, decimal.NewFromInt(180).Equal(d.FromQty))
	assert.True(t, d.ToQty.IsZero())
	assert.Equal(t, store.StatusDC, d.FromStatus)
	assert.Equal(t, store.StatusDC, d.ToStatus)
	assert.Equal(t, "SWAP-1", d.ReferenceNo)
	assert.Equal(t, "lee", d.PerformedBy)

	res := e.project(t)
	assert.Equal(t, "MAIN WAREHOUSE", res.Tanks[0].Location)
	assert.Equal(t, "DT-17", res.Tanks[1].Location)
	require.NotNil(t, res.Consumers[0].CurrentTank)
	assert.Equal(t, "GT-B", res.Consumers[0].CurrentTank.Serial)

	tankA, err := e.db.GetTank(context.Background(), e.tankA.ID)
	require.NoError(t, err)
	assert.True(t, tankA.Qty.IsZero())
	assert.Equal(t, store.StatusDC, tankA.Status)

	require.Len(t, e.events.displaced, 1)
	assert.Equal(t, e.tankA.ID, e.events.displaced[0].TankID)
}

func TestDisplacementWithoutWarehouseFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.move(t, Intent{TankID: e.tankA.ID, ToConsumerID: &e.truck.ID})
	require.NoError(t, e.db.SetClusterRole(ctx, e.warehouse.ID, store.RoleStandard))

	_, err := e.exec.Execute(ctx, Intent{TankID: e.tankB.ID, ToConsumerID: &e.truck.ID})
	var de *DisplacementError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, policy.ErrNoWarehouse)
	assert.Equal(t, e.tankA.ID, de.TankID)
	assert.Empty(t, e.history(t, e.tankB.ID))
	assert.Len(t, e.history(t, e.tankA.ID), 1)
}

type faultyLedger struct {
	Ledger
	failAppend  int
	staleLatest bool
	blockTx     bool
	dropIndex   bool
}

func (f *faultyLedger) InTx(ctx context.Context, fn func(LedgerTx) error) error {
	if f.blockTx {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.Ledger.InTx(ctx, func(tx LedgerTx) error { return fn(&faultyTx{LedgerTx: tx, l: f}) })
}

func (f *faultyLedger) LatestMovement(ctx context.Context, tankID int64) (*store.Movement, error) {
	if f.dropIndex {
		return nil, nil
	}
	return f.Ledger.LatestMovement(ctx, tankID)
}

type faultyTx struct {
	LedgerTx
	l       *faultyLedger
	appends int
}

func (t *faultyTx) AppendMovement(ctx context.Context, m *store.Movement, prevID *int64) error {
	t.appends++
	if t.appends == t.l.failAppend {
		return errors.New("disk I/O error")
	}
	return t.LedgerTx.AppendMovement(ctx, m, prevID)
}

func (t *faultyTx) LatestMovement(ctx context.Context, tankID int64) (*store.Movement, error) {
	if t.l.staleLatest {
		return nil, nil
	}
	return t.LedgerTx.LatestMovement(ctx, tankID)
}

func TestFailedPrimaryRollsBackDisplacement(t *testing.T) {
	e := newEnv(t)
	e.move(t, Intent{TankID: e.tankA.ID, ToClusterID: &e.warehouse.ID, Qty: dec("180")})
	e.move(t, Intent{TankID: e.tankA.ID, ToConsumerID: &e.truck.ID})
	before := e.project(t)

	x := e.withLedger(&faultyLedger{Ledger: NewStoreLedger(e.db), failAppend: 2})
	_, err := x.Execute(context.Background(), Intent{TankID: e.tankB.ID, ToConsumerID: &e.truck.ID})
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Displaced)
	assert.False(t, pe.Inconsistent)

	assert.Equal(t, before, e.project(t))
	assert.Len(t, e.history(t, e.tankA.ID), 2)
	assert.Empty(t, e.history(t, e.tankB.ID))
	assert.Equal(t, "persistence", e.events.failed[len(e.events.failed)-1])
}

func TestFailedDisplacementWritesNothing(t *testing.T) {
	e := newEnv(t)
	e.move(t, Intent{TankID: e.tankA.ID, ToConsumerID: &e.truck.ID})
	before := e.project(t)

	x := e.withLedger(&faultyLedger{Ledger: NewStoreLedger(e.db), failAppend: 1})
	_, err := x.Execute(context.Background(), Intent{TankID: e.tankB.ID, ToConsumerID: &e.truck.ID})
	var de *DisplacementError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "displacement", Kind(err))
	assert.Equal(t, before, e.project(t))
}

func TestStaleReadIsConflict(t *testing.T) {
	e := newEnv(t)
	e.move(t, Intent{TankID: e.tankA.ID, ToClusterID: &e.warehouse.ID})

	x := e.withLedger(&faultyLedger{Ledger: NewStoreLedger(e.db), staleLatest: true})
	_, err := x.Execute(context.Background(), Intent{TankID: e.tankA.ID, ToClusterID: &e.depot.ID})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Len(t, e.history(t, e.tankA.ID), 1)
}

func TestExpectedLatestAndOriginMismatchConflict(t *testing.T) {
	e := newEnv(t)
	first := e.move(t, Intent{TankID: e.tankA.ID, ToClusterID: &e.warehouse.ID})
	ctx := context.Background()

	stale := int64(0)
	_, err := e.exec.Execute(ctx, Intent{TankID: e.tankA.ID, ToClusterID: &e.depot.ID, ExpectedLatestID: &stale})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = e.exec.Execute(ctx, Intent{TankID: e.tankA.ID, ToClusterID: &e.depot.ID, FromClusterID: &e.hub.ID})
	assert.ErrorIs(t, err, ErrConflict)
	_, err = e.exec.Execute(ctx, Intent{TankID: e.tankA.ID, ToClusterID: &e.depot.ID, FromConsumerID: &e.truck.ID})
	assert.ErrorIs(t, err, ErrConflict)

	e.move(t, Intent{TankID: e.tankA.ID, ToClusterID: &e.depot.ID, FromClusterID: &e.warehouse.ID, ExpectedLatestID: &first.MovementID})
}

func TestValidationErrors(t *testing.T) {
	e := newEnv(t)
	missing := int64(999)
	cases := map[string]Intent{
		"no tank":          {ToClusterID: &e.depot.ID},
		"unknown tank":     {TankID: missing, ToClusterID: &e.depot.ID},
		"no destination":   {TankID: e.tankA.ID},
		"two destinations": {TankID: e.tankA.ID, ToClusterID: &e.depot.ID, ToConsumerID: &e.truck.ID},
		"two origins":      {TankID: e.tankA.ID, ToClusterID: &e.depot.ID, FromClusterID: &e.depot.ID, FromConsumerID: &e.truck.ID},
		"negative qty":     {TankID: e.tankA.ID, ToClusterID: &e.depot.ID, Qty: dec("-1")},
		"unknown cluster":  {TankID: e.tankA.ID, ToClusterID: &missing},
		"unknown consumer": {TankID: e.tankA.ID, ToConsumerID: &missing},
		"unknown origin":   {TankID: e.tankA.ID, ToClusterID: &e.depot.ID, FromClusterID: &missing},
		"not receiving":    {TankID: e.tankA.ID, ToClusterID: &e.closed.ID},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.exec.Execute(context.Background(), in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "validation", Kind(err))
		})
	}
	assert.Empty(t, e.history(t, e.tankA.ID))
}

func TestTimeoutIsRetryable(t *testing.T) {
	e := newEnv(t)
	x := e.withLedger(&faultyLedger{Ledger: NewStoreLedger(e.db), blockTx: true})
	_, err := x.Execute(context.Background(), Intent{TankID: e.tankA.ID, ToClusterID: &e.depot.ID})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "timeout", Kind(err))

	// A timed out attempt leaves the tank movable.
	e.move(t, Intent{TankID: e.tankA.ID, ToClusterID: &e.depot.ID})
}

func TestPostCommitVerification(t *testing.T) {
	e := newEnv(t)
	x := e.withLedger(&faultyLedger{Ledger: NewStoreLedger(e.db), dropIndex: true})
	_, err := x.Execute(context.Background(), Intent{TankID: e.tankA.ID, ToClusterID: &e.depot.ID})
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Inconsistent)
	assert.Equal(t, "inconsistent", Kind(err))
}

func TestOccurredAtStrictlyIncreases(t *testing.T) {
	e := newEnv(t)
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	e.exec.now = func() time.Time { return fixed }

	e.move(t, Intent{TankID: e.tankA.ID, ToClusterID: &e.warehouse.ID})
	e.move(t, Intent{TankID: e.tankA.ID, ToClusterID: &e.depot.ID})
	e.move(t, Intent{TankID: e.tankA.ID, ToConsumerID: &e.loader.ID})

	h := e.history(t, e.tankA.ID)
	require.Len(t, h, 3)
	assert.True(t, h[0].OccurredAt.After(h[1].OccurredAt))
	assert.True(t, h[1].OccurredAt.After(h[2].OccurredAt))
	assert.True(t, fixed.Equal(h[2].OccurredAt))
}

func TestSameLocationMoveAdjustsQty(t *testing.T) {
	e := newEnv(t)
	e.move(t, Intent{TankID: e.tankA.ID, ToClusterID: &e.depot.ID})
	sum := e.move(t, Intent{TankID: e.tankA.ID, ToClusterID: &e.depot.ID, Qty: dec("75.25")})
	assert.Equal(t, policy.RuleTransfer, sum.Rule)
	assert.True(t, decimal.RequireFromString("75.25").Equal(e.project(t).Tanks[0].Qty))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "internal", Kind(errors.New("x")))
	assert.Equal(t, "conflict", Kind(ErrConflict))
}
