package movement

import (
	"greasetrack/policy"
	"greasetrack/store"
)

// Emitter is the interface adapters must satisfy to bridge executor events to the engine.
type Emitter interface {
	EmitMovementRecorded(m store.Movement, rule policy.Rule, summary string)
	EmitTankDisplaced(m store.Movement, byTankID int64)
	EmitMovementFailed(tankID int64, kind, detail string)
}

type nopEmitter struct{}

func (nopEmitter) EmitMovementRecorded(store.Movement, policy.Rule, string) {}
func (nopEmitter) EmitTankDisplaced(store.Movement, int64)                {}
func (nopEmitter) EmitMovementFailed(int64, string, string)               {}
