package engine

import (
	"greasetrack/policy"
	"greasetrack/store"
	"greasetrack/tankstate"
)

const (
	EventMovementRecorded EventType = iota + 1
	EventTankDisplaced
	EventMovementFailed
	EventTankReconciled
	EventProjectionChanged
	EventRedisConnected
	EventRedisDisconnected
	EventMessagingConnected
	EventMessagingDisconnected
)

var eventNames = map[EventType]string{
	EventMovementRecorded:      "movement-recorded",
	EventTankDisplaced:         "tank-displaced",
	EventMovementFailed:        "movement-failed",
	EventTankReconciled:        "tank-reconciled",
	EventProjectionChanged:     "projection-changed",
	EventRedisConnected:        "redis-connected",
	EventRedisDisconnected:     "redis-disconnected",
	EventMessagingConnected:    "messaging-connected",
	EventMessagingDisconnected: "messaging-disconnected",
}

func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

// --- Event payloads ---

type MovementRecordedEvent struct {
	Movement store.Movement
	Rule     policy.Rule
	Summary  string
}

type TankDisplacedEvent struct {
	Movement store.Movement
	ByTankID int64
}

type MovementFailedEvent struct {
	TankID int64
	Kind   string
	Detail string
}

type TankReconciledEvent struct {
	Warning tankstate.Warning
	Actor   string
}

type ProjectionChangedEvent struct {
	Reason string
}

type ConnectionEvent struct {
	Detail string
}
