// Package movement executes tank moves: it resolves the tank's current
// state, asks policy for the records to write, and appends them to the
// ledger as one unit.
package movement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"greasetrack/policy"
	"greasetrack/projection"
	"greasetrack/store"
	"greasetrack/topology"
)

const DefaultTimeout = 10 * time.Second

// Intent is a requested move. Exactly one destination must be set. Origin
// fields are optional; when given they must match where the ledger says the
// tank is.
type Intent struct {
	TankID           int64            `json:"tank_id"`
	ToClusterID      *int64           `json:"to_cluster_id,omitempty"`
	ToConsumerID     *int64           `json:"to_consumer_id,omitempty"`
	FromClusterID    *int64           `json:"from_cluster_id,omitempty"`
	FromConsumerID   *int64           `json:"from_consumer_id,omitempty"`
	Qty              *decimal.Decimal `json:"qty,omitempty"`
	ReferenceNo      string           `json:"reference_no"`
	PerformedBy      string           `json:"performed_by"`
	ExpectedLatestID *int64           `json:"expected_latest_id,omitempty"`
}

type Summary struct {
	MovementID          int64           `json:"movement_id"`
	DisplacedMovementID *int64          `json:"displaced_movement_id,omitempty"`
	Rule                policy.Rule     `json:"rule"`
	Text                string          `json:"summary"`
	Primary             store.Movement  `json:"-"`
	Displacement        *store.Movement `json:"-"`
}

type TopologySource interface {
	Load(ctx context.Context) (*topology.Topology, error)
}

type Executor struct {
	ledger  Ledger
	topo    TopologySource
	emitter Emitter
	log     *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewExecutor(ledger Ledger, topo TopologySource, emitter Emitter, log *zap.Logger, timeout time.Duration) *Executor {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		ledger:  ledger,
		topo:    topo,
		emitter: emitter,
		log:     log,
		timeout: timeout,
		now:     time.Now,
	}
}

// Execute validates the intent and appends the resulting records in a single
// transaction. Nothing is written unless every step succeeds.
func (e *Executor) Execute(ctx context.Context, in Intent) (*Summary, error) {
	sum, err := e.execute(ctx, in)
	if err != nil {
		kind := Kind(err)
		fields := []zap.Field{zap.Int64("tank_id", in.TankID), zap.String("kind", kind), zap.Error(err)}
		switch kind {
		case "persistence", "inconsistent", "internal":
			e.log.Error("movement: execute failed", fields...)
		default:
			e.log.Info("movement: rejected", fields...)
		}
		e.emitter.EmitMovementFailed(in.TankID, kind, err.Error())
		return nil, err
	}

	e.log.Info("movement: recorded",
		zap.Int64("tank_id", in.TankID),
		zap.Int64("movement_id", sum.MovementID),
		zap.String("rule", string(sum.Rule)),
		zap.String("performed_by", in.PerformedBy))
	if sum.Displacement != nil {
		e.emitter.EmitTankDisplaced(*sum.Displacement, in.TankID)
	}
	e.emitter.EmitMovementRecorded(sum.Primary, sum.Rule, sum.Text)
	return sum, nil
}

func (e *Executor) execute(ctx context.Context, in Intent) (*Summary, error) {
	if err := validateIntent(in); err != nil {
		return nil, err
	}
	topo, err := e.topo.Load(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "load topology", Err: err}
	}
	to, err := destination(topo, in)
	if err != nil {
		return nil, err
	}
	if in.FromClusterID != nil {
		if _, ok := topo.Cluster(*in.FromClusterID); !ok {
			return nil, invalid("from_cluster_id", "cluster %d not found", *in.FromClusterID)
		}
	}
	if in.FromConsumerID != nil {
		if _, ok := topo.Consumer(*in.FromConsumerID); !ok {
			return nil, invalid("from_consumer_id", "consumer %d not found", *in.FromConsumerID)
		}
	}

	tctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var sum Summary
	var planned *policy.Plan
	err = e.ledger.InTx(tctx, func(tx LedgerTx) error {
		tank, err := tx.Tank(tctx, in.TankID)
		if errors.Is(err, store.ErrNotFound) {
			return invalid("tank_id", "tank %d not found", in.TankID)
		} else if err != nil {
			return &PersistenceError{Op: "read tank", Err: err}
		}
		latest, err := tx.LatestMovement(tctx, tank.ID)
		if err != nil {
			return &PersistenceError{Op: "read latest movement", Err: err}
		}
		if in.ExpectedLatestID != nil {
			var cur int64
			if latest != nil {
				cur = latest.ID
			}
			if cur != *in.ExpectedLatestID {
				return fmt.Errorf("%w: expected latest movement %d, ledger has %d", ErrConflict, *in.ExpectedLatestID, cur)
			}
		}
		current := projection.Resolve(*tank, latest)
		from, err := origin(topo, current, in)
		if err != nil {
			return err
		}

		var holder *projection.TankWithLocation
		var holderLatest *store.Movement
		if to.Consumer != nil {
			into, err := tx.LatestIntoConsumer(tctx, to.Consumer.ID)
			if err != nil {
				return &PersistenceError{Op: "read destination holder", Err: err}
			}
			if len(into) > 0 && into[0].TankID != tank.ID {
				holderLatest = &into[0]
				ht, err := tx.Tank(tctx, holderLatest.TankID)
				if err != nil {
					return &DisplacementError{ConsumerID: to.Consumer.ID, TankID: holderLatest.TankID, Err: err}
				}
				h := projection.Resolve(*ht, holderLatest)
				holder = &h
			}
		}

		plan, err := policy.Decide(policy.Input{
			Tank:        current,
			From:        from,
			To:          to,
			Holder:      holder,
			Warehouse:   topo.Roles.Warehouse,
			UserQty:     in.Qty,
			ReferenceNo: in.ReferenceNo,
			PerformedBy: in.PerformedBy,
			Now:         e.now().UTC().Truncate(time.Microsecond),
		})
		if errors.Is(err, policy.ErrNoWarehouse) {
			return &DisplacementError{ConsumerID: to.Consumer.ID, TankID: holder.ID, Err: err}
		} else if err != nil {
			return invalid("destination", "%v", err)
		}

		if d := plan.Displacement; d != nil {
			d.OccurredAt = after(d.OccurredAt, holderLatest)
			if err := tx.AppendMovement(tctx, d, &holderLatest.ID); err != nil {
				return &DisplacementError{ConsumerID: to.Consumer.ID, TankID: d.TankID, Err: classify(err)}
			}
			if err := tx.UpdateTankSnapshot(tctx, d.TankID, d.ToQty, d.ToStatus); err != nil {
				return &DisplacementError{ConsumerID: to.Consumer.ID, TankID: d.TankID, Err: err}
			}
		}

		p := &plan.Primary
		p.OccurredAt = after(p.OccurredAt, latest)
		var prevID *int64
		if latest != nil {
			prevID = &latest.ID
		}
		if err := tx.AppendMovement(tctx, p, prevID); err != nil {
			err = classify(err)
			if errors.Is(err, ErrConflict) {
				return err
			}
			return &PersistenceError{Op: "append movement", Displaced: plan.Displacement != nil, Err: err}
		}
		if err := tx.UpdateTankSnapshot(tctx, p.TankID, p.ToQty, p.ToStatus); err != nil {
			return &PersistenceError{Op: "update tank snapshot", Displaced: plan.Displacement != nil, Err: err}
		}

		holderSerial := ""
		if holder != nil {
			holderSerial = holder.Serial
		}
		sum.Text = policy.Describe(plan, current, from, to, holderSerial)
		planned = plan
		return nil
	})
	if err != nil {
		return nil, e.classifyTxErr(tctx, err)
	}

	sum.Rule = planned.Rule
	sum.Primary = planned.Primary
	sum.MovementID = planned.Primary.ID
	if d := planned.Displacement; d != nil {
		id := d.ID
		sum.DisplacedMovementID = &id
		sum.Displacement = d
	}

	idx, err := e.ledger.LatestMovement(ctx, in.TankID)
	if err != nil {
		return nil, &PersistenceError{Op: "verify latest index", Inconsistent: true, Displaced: sum.Displacement != nil, Err: err}
	}
	// A later concurrent move may already have advanced the index.
	if idx == nil || idx.ID < sum.MovementID {
		return nil, &PersistenceError{Op: "verify latest index", Inconsistent: true, Displaced: sum.Displacement != nil,
			Err: fmt.Errorf("index does not reference movement %d", sum.MovementID)}
	}
	return &sum, nil
}

func (e *Executor) classifyTxErr(ctx context.Context, err error) error {
	var ve *ValidationError
	var de *DisplacementError
	var pe *PersistenceError
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrTimeout, e.timeout, err)
	}
	if errors.As(err, &ve) || errors.As(err, &de) || errors.As(err, &pe) || errors.Is(err, ErrConflict) {
		return err
	}
	return &PersistenceError{Op: "commit", Err: err}
}

func classify(err error) error {
	if errors.Is(err, store.ErrStaleLatest) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// after keeps occurred_at strictly increasing per tank.
func after(t time.Time, latest *store.Movement) time.Time {
	if latest != nil && !t.After(latest.OccurredAt) {
		return latest.OccurredAt.Add(time.Microsecond)
	}
	return t
}

func validateIntent(in Intent) error {
	if in.TankID <= 0 {
		return invalid("tank_id", "required")
	}
	if (in.ToClusterID == nil) == (in.ToConsumerID == nil) {
		return invalid("destination", "exactly one of to_cluster_id and to_consumer_id is required")
	}
	if in.FromClusterID != nil && in.FromConsumerID != nil {
		return invalid("origin", "at most one of from_cluster_id and from_consumer_id may be set")
	}
	if in.Qty != nil && in.Qty.IsNegative() {
		return invalid("qty", "must not be negative")
	}
	return nil
}

func destination(topo *topology.Topology, in Intent) (policy.Endpoint, error) {
	if in.ToConsumerID != nil {
		c, ok := topo.Consumer(*in.ToConsumerID)
		if !ok {
			return policy.Endpoint{}, invalid("to_consumer_id", "consumer %d not found", *in.ToConsumerID)
		}
		return policy.Endpoint{Consumer: &c}, nil
	}
	c, ok := topo.Cluster(*in.ToClusterID)
	if !ok {
		return policy.Endpoint{}, invalid("to_cluster_id", "cluster %d not found", *in.ToClusterID)
	}
	if !c.IsReceiving {
		return policy.Endpoint{}, invalid("to_cluster_id", "cluster %q does not receive tanks", c.Name)
	}
	return policy.Endpoint{Cluster: &c}, nil
}

// origin derives where the tank is from the ledger and checks it against
// what the caller believes.
func origin(topo *topology.Topology, cur projection.TankWithLocation, in Intent) (policy.Endpoint, error) {
	var from policy.Endpoint
	switch {
	case cur.CurrentConsumerID != nil:
		c, ok := topo.Consumer(*cur.CurrentConsumerID)
		if !ok {
			return from, &PersistenceError{Op: "resolve origin", Err: fmt.Errorf("consumer %d missing from topology", *cur.CurrentConsumerID)}
		}
		from.Consumer = &c
	case cur.CurrentClusterID != nil:
		c, ok := topo.Cluster(*cur.CurrentClusterID)
		if !ok {
			return from, &PersistenceError{Op: "resolve origin", Err: fmt.Errorf("cluster %d missing from topology", *cur.CurrentClusterID)}
		}
		from.Cluster = &c
	}
	if in.FromClusterID != nil && (cur.CurrentClusterID == nil || *cur.CurrentClusterID != *in.FromClusterID) {
		return from, fmt.Errorf("%w: tank %s is at %s, not cluster %d", ErrConflict, cur.Serial, from, *in.FromClusterID)
	}
	if in.FromConsumerID != nil && (cur.CurrentConsumerID == nil || *cur.CurrentConsumerID != *in.FromConsumerID) {
		return from, fmt.Errorf("%w: tank %s is at %s, not consumer %d", ErrConflict, cur.Serial, from, *in.FromConsumerID)
	}
	return from, nil
}
