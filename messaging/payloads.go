package messaging

import "time"

const (
	TypeMovementRecorded = "movement.recorded"
	TypeTankDisplaced    = "tank.displaced"
	TypeTankReconciled   = "tank.reconciled"
)

type MovementRecorded struct {
	MovementID     int64     `json:"movement_id"`
	TankID         int64     `json:"tank_id"`
	Rule           string    `json:"rule"`
	FromClusterID  *int64    `json:"from_cluster_id,omitempty"`
	FromConsumerID *int64    `json:"from_consumer_id,omitempty"`
	ToClusterID    *int64    `json:"to_cluster_id,omitempty"`
	ToConsumerID   *int64    `json:"to_consumer_id,omitempty"`
	FromQty        string    `json:"from_qty"`
	ToQty          string    `json:"to_qty"`
	FromStatus     string    `json:"from_status"`
	ToStatus       string    `json:"to_status"`
	ReferenceNo    string    `json:"reference_no,omitempty"`
	PerformedBy    string    `json:"performed_by,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
	Summary        string    `json:"summary"`
}

type TankDisplaced struct {
	MovementID int64  `json:"movement_id"`
	TankID     int64  `json:"tank_id"`
	ConsumerID int64  `json:"consumer_id"`
	ByTankID   int64  `json:"by_tank_id"`
	FromQty    string `json:"from_qty"`
}

type TankReconciled struct {
	TankID int64  `json:"tank_id"`
	Serial string `json:"serial"`
	Kind   string `json:"kind"`
	Cached string `json:"cached"`
	Ledger string `json:"ledger"`
}
