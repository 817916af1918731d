package movement

import (
	"context"

	"github.com/shopspring/decimal"

	"greasetrack/store"
)

// Ledger is the persistence the executor needs. All writes happen inside
// InTx; LatestMovement is used for the post-commit check.
type Ledger interface {
	InTx(ctx context.Context, fn func(LedgerTx) error) error
	LatestMovement(ctx context.Context, tankID int64) (*store.Movement, error)
}

type LedgerTx interface {
	Tank(ctx context.Context, id int64) (*store.Tank, error)
	LatestMovement(ctx context.Context, tankID int64) (*store.Movement, error)
	LatestIntoConsumer(ctx context.Context, consumerID int64) ([]store.Movement, error)
	AppendMovement(ctx context.Context, m *store.Movement, prevID *int64) error
	UpdateTankSnapshot(ctx context.Context, tankID int64, qty decimal.Decimal, status store.Status) error
}

type storeLedger struct {
	db *store.DB
}

// NewStoreLedger runs the executor against the SQL ledger.
func NewStoreLedger(db *store.DB) Ledger {
	return storeLedger{db: db}
}

func (l storeLedger) InTx(ctx context.Context, fn func(LedgerTx) error) error {
	return l.db.InTx(ctx, func(tx *store.Tx) error { return fn(tx) })
}

func (l storeLedger) LatestMovement(ctx context.Context, tankID int64) (*store.Movement, error) {
	return l.db.LatestMovement(ctx, tankID)
}
