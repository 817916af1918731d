// Package projection derives where every tank is, and in what state, from the
// movement ledger. Everything here is pure: callers fetch rows, this package
// folds them.
package projection

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"greasetrack/store"
)

// RegisterLabel is shown for tanks that have never moved.
const RegisterLabel = "REGISTER"

type TankWithLocation struct {
	ID                int64           `json:"id"`
	Serial            string          `json:"serial"`
	Kind              store.Kind      `json:"kind"`
	Status            store.Status    `json:"status"`
	Qty               decimal.Decimal `json:"qty"`
	CurrentClusterID  *int64          `json:"current_cluster_id"`
	CurrentConsumerID *int64          `json:"current_consumer_id"`
	LatestMovementID  *int64          `json:"latest_movement_id"`
	Location          string          `json:"location"`
}

// InRegister reports whether the tank has no ledger history.
func (t *TankWithLocation) InRegister() bool {
	return t.CurrentClusterID == nil && t.CurrentConsumerID == nil
}

type TankSnapshot struct {
	ID     int64           `json:"id"`
	Serial string          `json:"serial"`
	Kind   store.Kind      `json:"kind"`
	Status store.Status    `json:"status"`
	Qty    decimal.Decimal `json:"qty"`
}

type ConsumerWithTank struct {
	ID            int64         `json:"id"`
	UnitID        string        `json:"unit_id"`
	HomeClusterID *int64        `json:"home_cluster_id"`
	CurrentTank   *TankSnapshot `json:"current_tank"`
}

// Latest returns the record that wins ledger order, regardless of the order
// of history. Nil when history is empty.
func Latest(history []store.Movement) *store.Movement {
	var best *store.Movement
	for i := range history {
		if best == nil || history[i].After(best) {
			best = &history[i]
		}
	}
	return best
}

// Resolve applies a tank's latest movement (nil for none) to its baseline.
func Resolve(tank store.Tank, latest *store.Movement) TankWithLocation {
	out := TankWithLocation{
		ID:     tank.ID,
		Serial: tank.Serial,
		Kind:   tank.Kind,
		Status: tank.Status,
		Qty:    tank.Qty,
	}
	if latest == nil {
		return out
	}
	id := latest.ID
	out.LatestMovementID = &id
	out.Status = latest.ToStatus
	out.Qty = latest.ToQty
	if latest.ToConsumerID != nil {
		c := *latest.ToConsumerID
		out.CurrentConsumerID = &c
	} else if latest.ToClusterID != nil {
		c := *latest.ToClusterID
		out.CurrentClusterID = &c
	}
	return out
}

// FromHistory resolves a tank from its full, unordered history.
func FromHistory(tank store.Tank, history []store.Movement) TankWithLocation {
	return Resolve(tank, Latest(history))
}

// DisplayName labels a resolved location for humans.
func DisplayName(t TankWithLocation, clusters map[int64]store.Cluster, consumers map[int64]store.Consumer) string {
	if t.CurrentConsumerID != nil {
		if c, ok := consumers[*t.CurrentConsumerID]; ok {
			return c.UnitID
		}
	}
	if t.CurrentClusterID != nil {
		if c, ok := clusters[*t.CurrentClusterID]; ok {
			return strings.ToUpper(c.Name)
		}
	}
	return RegisterLabel
}

// Result is a full projection of the ledger at one instant.
type Result struct {
	Tanks     []TankWithLocation
	Consumers []ConsumerWithTank
}

// Project folds the indexed latest movements over every tank and consumer.
// Output is sorted by id so identical input always produces identical output.
func Project(tanks []store.Tank, latest map[int64]store.Movement, clusters []store.Cluster, consumers []store.Consumer) Result {
	clusterByID := make(map[int64]store.Cluster, len(clusters))
	for _, c := range clusters {
		clusterByID[c.ID] = c
	}
	consumerByID := make(map[int64]store.Consumer, len(consumers))
	for _, c := range consumers {
		consumerByID[c.ID] = c
	}

	res := Result{Tanks: make([]TankWithLocation, 0, len(tanks))}
	// holder tracks the winning tank per consumer along with the movement
	// that put it there.
	type holder struct {
		tank *TankWithLocation
		mv   store.Movement
	}
	holders := make(map[int64]holder)

	sorted := append([]store.Tank(nil), tanks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, tank := range sorted {
		var lp *store.Movement
		if m, ok := latest[tank.ID]; ok {
			lp = &m
		}
		t := Resolve(tank, lp)
		t.Location = DisplayName(t, clusterByID, consumerByID)
		res.Tanks = append(res.Tanks, t)
	}
	for i := range res.Tanks {
		t := &res.Tanks[i]
		if t.CurrentConsumerID == nil {
			continue
		}
		mv := latest[t.ID]
		if h, ok := holders[*t.CurrentConsumerID]; ok && !mv.After(&h.mv) {
			continue
		}
		holders[*t.CurrentConsumerID] = holder{tank: t, mv: mv}
	}

	sortedConsumers := append([]store.Consumer(nil), consumers...)
	sort.Slice(sortedConsumers, func(i, j int) bool { return sortedConsumers[i].ID < sortedConsumers[j].ID })
	res.Consumers = make([]ConsumerWithTank, 0, len(sortedConsumers))
	for _, c := range sortedConsumers {
		cw := ConsumerWithTank{ID: c.ID, UnitID: c.UnitID, HomeClusterID: c.HomeClusterID}
		if h, ok := holders[c.ID]; ok {
			cw.CurrentTank = &TankSnapshot{
				ID:     h.tank.ID,
				Serial: h.tank.Serial,
				Kind:   h.tank.Kind,
				Status: h.tank.Status,
				Qty:    h.tank.Qty,
			}
		}
		res.Consumers = append(res.Consumers, cw)
	}
	return res
}
