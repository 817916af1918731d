package store

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleStandard      Role = "STANDARD"
	RoleMainWarehouse Role = "MAIN_WAREHOUSE"
	RoleExternalHub   Role = "EXTERNAL_HUB"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStandard, RoleMainWarehouse, RoleExternalHub:
		return true
	}
	return false
}

type Status string

const (
	StatusNew Status = "NEW"
	// StatusDC marks a tank in circulation (used).
	StatusDC Status = "DC"
)

func (s Status) Valid() bool { return s == StatusNew || s == StatusDC }

type Kind string

const (
	KindGrease Kind = "GREASE"
	KindOil    Kind = "OIL"
)

func (k Kind) Valid() bool { return k == KindGrease || k == KindOil }

type Cluster struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Role        Role   `json:"role"`
	IsIssuing   bool   `json:"is_issuing"`
	IsReceiving bool   `json:"is_receiving"`
	ViewQueue   int    `json:"view_queue"`
}

type Consumer struct {
	ID            int64  `json:"id"`
	UnitID        string `json:"unit_id"`
	HomeClusterID *int64 `json:"home_cluster_id"`
}

// Tank carries the baseline identity plus the cached qty/status snapshot.
// The ledger is authoritative for qty/status once a tank has moved.
type Tank struct {
	ID        int64           `json:"id"`
	Serial    string          `json:"serial"`
	Kind      Kind            `json:"kind"`
	Status    Status          `json:"status"`
	Qty       decimal.Decimal `json:"qty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Movement struct {
	ID             int64           `json:"id"`
	TankID         int64           `json:"tank_id"`
	FromClusterID  *int64          `json:"from_cluster_id"`
	FromConsumerID *int64          `json:"from_consumer_id"`
	ToClusterID    *int64          `json:"to_cluster_id"`
	ToConsumerID   *int64          `json:"to_consumer_id"`
	FromQty        decimal.Decimal `json:"from_qty"`
	ToQty          decimal.Decimal `json:"to_qty"`
	FromStatus     Status          `json:"from_status"`
	ToStatus       Status          `json:"to_status"`
	ReferenceNo    string          `json:"reference_no"`
	PerformedBy    string          `json:"performed_by"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// Validate checks the shape invariants every ledger record must satisfy.
func (m *Movement) Validate() error {
	if m.TankID == 0 {
		return fmt.Errorf("movement: tank id required")
	}
	if (m.ToClusterID == nil) == (m.ToConsumerID == nil) {
		return fmt.Errorf("movement: exactly one of to_cluster_id and to_consumer_id must be set")
	}
	if m.FromClusterID != nil && m.FromConsumerID != nil {
		return fmt.Errorf("movement: at most one origin may be set")
	}
	if !m.ToStatus.Valid() {
		return fmt.Errorf("movement: invalid to_status %q", m.ToStatus)
	}
	if m.FromQty.IsNegative() || m.ToQty.IsNegative() {
		return fmt.Errorf("movement: negative quantity")
	}
	if m.OccurredAt.IsZero() {
		return fmt.Errorf("movement: occurred_at required")
	}
	return nil
}

// After reports whether m sorts after o in ledger order.
func (m *Movement) After(o *Movement) bool {
	if !m.OccurredAt.Equal(o.OccurredAt) {
		return m.OccurredAt.After(o.OccurredAt)
	}
	return m.ID > o.ID
}
