package engine

import (
	"greasetrack/policy"
	"greasetrack/store"
)

// movementEmitter bridges the movement package's emitter interface to the EventBus.
type movementEmitter struct {
	bus *EventBus
}

func (e *movementEmitter) EmitMovementRecorded(m store.Movement, rule policy.Rule, summary string) {
	e.bus.Emit(Event{Type: EventMovementRecorded, Payload: MovementRecordedEvent{
		Movement: m,
		Rule:     rule,
		Summary:  summary,
	}})
}

func (e *movementEmitter) EmitTankDisplaced(m store.Movement, byTankID int64) {
	e.bus.Emit(Event{Type: EventTankDisplaced, Payload: TankDisplacedEvent{
		Movement: m,
		ByTankID: byTankID,
	}})
}

func (e *movementEmitter) EmitMovementFailed(tankID int64, kind, detail string) {
	e.bus.Emit(Event{Type: EventMovementFailed, Payload: MovementFailedEvent{
		TankID: tankID,
		Kind:   kind,
		Detail: detail,
	}})
}
