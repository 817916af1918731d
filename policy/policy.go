// Package policy decides what a tank move writes to the ledger: the quantity
// and status on each side of the record, and whether the destination consumer
// has to be freed first.
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"greasetrack/projection"
	"greasetrack/store"
)

// ErrNoWarehouse is returned when a displacement is needed but no cluster has
// the main warehouse role.
var ErrNoWarehouse = errors.New("policy: no main warehouse cluster configured")

type Rule string

const (
	RuleDeploy      Rule = "deploy"
	RuleReturn      Rule = "return"
	RuleHubDispatch Rule = "hub_dispatch"
	RuleHubRefill   Rule = "hub_refill"
	RuleIntake      Rule = "intake"
	RuleTransfer    Rule = "transfer"
)

// Endpoint is one side of a move. Both fields nil means the register, which
// is only valid as an origin.
type Endpoint struct {
	Cluster  *store.Cluster
	Consumer *store.Consumer
}

func (e Endpoint) IsRegister() bool { return e.Cluster == nil && e.Consumer == nil }

func (e Endpoint) hasRole(r store.Role) bool { return e.Cluster != nil && e.Cluster.Role == r }

func (e Endpoint) String() string {
	switch {
	case e.Consumer != nil:
		return e.Consumer.UnitID
	case e.Cluster != nil:
		return e.Cluster.Name
	}
	return projection.RegisterLabel
}

type Input struct {
	Tank projection.TankWithLocation
	From Endpoint
	To   Endpoint
	// Holder is the tank the destination consumer currently holds, if any.
	Holder    *projection.TankWithLocation
	Warehouse *store.Cluster
	// UserQty is the operator supplied quantity; nil when not given.
	UserQty     *decimal.Decimal
	ReferenceNo string
	PerformedBy string
	Now         time.Time
}

type Plan struct {
	Displacement *store.Movement
	Primary      store.Movement
	Rule         Rule
}

// Decide builds the ledger records for a move. It has no side effects.
func Decide(in Input) (*Plan, error) {
	if (in.To.Cluster == nil) == (in.To.Consumer == nil) {
		return nil, fmt.Errorf("policy: destination must be exactly one cluster or consumer")
	}
	if in.From.Cluster != nil && in.From.Consumer != nil {
		return nil, fmt.Errorf("policy: origin cannot be both a cluster and a consumer")
	}

	plan := &Plan{}
	if in.To.Consumer != nil && in.Holder != nil && in.Holder.ID != in.Tank.ID {
		if in.Warehouse == nil {
			return nil, ErrNoWarehouse
		}
		plan.Displacement = &store.Movement{
			TankID:         in.Holder.ID,
			FromConsumerID: &in.To.Consumer.ID,
			ToClusterID:    &in.Warehouse.ID,
			FromQty:        in.Holder.Qty,
			ToQty:          decimal.Zero,
			FromStatus:     store.StatusDC,
			ToStatus:       store.StatusDC,
			ReferenceNo:    in.ReferenceNo,
			PerformedBy:    in.PerformedBy,
			OccurredAt:     in.Now,
		}
	}

	rule, fromQty, toQty := quantities(in)
	plan.Rule = rule
	plan.Primary = store.Movement{
		TankID:      in.Tank.ID,
		FromQty:     fromQty,
		ToQty:       toQty,
		FromStatus:  in.Tank.Status,
		ToStatus:    nextStatus(in),
		ReferenceNo: in.ReferenceNo,
		PerformedBy: in.PerformedBy,
		OccurredAt:  in.Now,
	}
	if in.From.Cluster != nil {
		plan.Primary.FromClusterID = &in.From.Cluster.ID
	}
	if in.From.Consumer != nil {
		plan.Primary.FromConsumerID = &in.From.Consumer.ID
	}
	if in.To.Cluster != nil {
		plan.Primary.ToClusterID = &in.To.Cluster.ID
	} else {
		plan.Primary.ToConsumerID = &in.To.Consumer.ID
	}
	return plan, nil
}

// quantities applies the first matching rule.
func quantities(in Input) (Rule, decimal.Decimal, decimal.Decimal) {
	cur := in.Tank.Qty
	userOr := func(def decimal.Decimal) decimal.Decimal {
		if in.UserQty != nil {
			return *in.UserQty
		}
		return def
	}
	toWarehouse := in.To.hasRole(store.RoleMainWarehouse)
	switch {
	case in.From.hasRole(store.RoleMainWarehouse) && in.To.Consumer != nil:
		return RuleDeploy, cur, cur
	case in.From.Consumer != nil && toWarehouse:
		return RuleReturn, cur, decimal.Zero
	case in.From.hasRole(store.RoleMainWarehouse) && in.To.hasRole(store.RoleExternalHub):
		return RuleHubDispatch, decimal.Zero, decimal.Zero
	case in.From.hasRole(store.RoleExternalHub) && toWarehouse:
		return RuleHubRefill, decimal.Zero, userOr(decimal.Zero)
	case in.From.IsRegister() && toWarehouse:
		return RuleIntake, decimal.Zero, userOr(decimal.Zero)
	}
	return RuleTransfer, cur, userOr(cur)
}

func nextStatus(in Input) store.Status {
	if in.From.hasRole(store.RoleExternalHub) && in.To.hasRole(store.RoleMainWarehouse) {
		return store.StatusNew
	}
	if (in.From.Cluster != nil && in.From.Cluster.IsIssuing) || in.To.Consumer != nil {
		return store.StatusDC
	}
	return in.Tank.Status
}

// Describe renders a one-line summary of a planned move.
func Describe(p *Plan, tank projection.TankWithLocation, from, to Endpoint, holderSerial string) string {
	s := fmt.Sprintf("%s: %s %s -> %s (qty %s -> %s, %s -> %s)", p.Rule, tank.Serial, from, to,
		p.Primary.FromQty.String(), p.Primary.ToQty.String(), p.Primary.FromStatus, p.Primary.ToStatus)
	if p.Displacement != nil {
		s = fmt.Sprintf("%s; displaced %s from %s to warehouse (qty %s -> 0)", s, holderSerial, to, p.Displacement.FromQty.String())
	}
	return s
}
