package tankstate

import (
	"context"
	"fmt"

	"greasetrack/projection"
	"greasetrack/store"
)

// Source is the SQL side of the projection.
type Source interface {
	ListTanks(ctx context.Context) ([]store.Tank, error)
	ListLatestMovements(ctx context.Context) (map[int64]store.Movement, error)
	ListClusters(ctx context.Context) ([]store.Cluster, error)
	ListConsumers(ctx context.Context) ([]store.Consumer, error)
	// InTx runs a per-tank reconcile; see Manager.Reconcile.
	InTx(ctx context.Context, fn func(*store.Tx) error) error
}

// Cache holds the last computed projection.
type Cache interface {
	SetProjection(ctx context.Context, res projection.Result) error
	Tanks(ctx context.Context) ([]projection.TankWithLocation, error)
	Consumers(ctx context.Context) ([]projection.ConsumerWithTank, error)
	Flush(ctx context.Context) error
}

type WarningKind string

const (
	// WarnSnapshot: the tank row's qty/status disagree with the ledger.
	WarnSnapshot WarningKind = "snapshot"
	// WarnIndex: tank_latest does not point at the newest ledger record.
	WarnIndex WarningKind = "index"
)

// Warning is a non-fatal snapshot reconciliation finding. The cached side has
// already been resynced to the ledger when it is reported.
type Warning struct {
	TankID int64       `json:"tank_id"`
	Serial string      `json:"serial"`
	Kind   WarningKind `json:"kind"`
	Cached string      `json:"cached"`
	Ledger string      `json:"ledger"`
}

func (w Warning) Error() string {
	return fmt.Sprintf("snapshot reconciliation warning: tank %s %s cached=%q ledger=%q", w.Serial, w.Kind, w.Cached, w.Ledger)
}
