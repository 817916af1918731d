package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"greasetrack/messaging"
	"greasetrack/store"
)

const handlerTimeout = 5 * time.Second

func (e *Engine) wireEventHandlers() {
	// Displacements are emitted before the movement that caused them.
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(TankDisplacedEvent)
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		e.metrics.Displacements.Inc()
		e.audit(ctx, "movement", ev.Movement.ID, "displaced", "", fmt.Sprintf("tank %d returned to warehouse for tank %d", ev.Movement.TankID, ev.ByTankID), ev.Movement.PerformedBy)
		var consumerID int64
		if ev.Movement.FromConsumerID != nil {
			consumerID = *ev.Movement.FromConsumerID
		}
		e.enqueue(ctx, messaging.TypeTankDisplaced, messaging.TankDisplaced{
			MovementID: ev.Movement.ID,
			TankID:     ev.Movement.TankID,
			ConsumerID: consumerID,
			ByTankID:   ev.ByTankID,
			FromQty:    ev.Movement.FromQty.String(),
		})
	}, EventTankDisplaced)

	// Recorded movements: audit, notify, then refresh the cached projection.
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(MovementRecordedEvent)
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		m := ev.Movement
		e.metrics.Movements.WithLabelValues(string(ev.Rule)).Inc()
		e.audit(ctx, "movement", m.ID, string(ev.Rule), "", ev.Summary, m.PerformedBy)
		e.enqueue(ctx, messaging.TypeMovementRecorded, recordedPayload(m, string(ev.Rule), ev.Summary))
		if _, err := e.tankState.Rebuild(ctx); err != nil {
			e.log.Error("engine: refresh projection", zap.Int64("movement_id", m.ID), zap.Error(err))
			e.tankState.Invalidate(ctx)
		}
		e.Events.Emit(Event{Type: EventProjectionChanged, Payload: ProjectionChangedEvent{Reason: "movement"}})
	}, EventMovementRecorded)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(MovementFailedEvent)
		e.metrics.Failures.WithLabelValues(ev.Kind).Inc()
		if ev.Kind == "persistence" || ev.Kind == "inconsistent" {
			ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
			defer cancel()
			e.audit(ctx, "tank", ev.TankID, "movement_failed", "", ev.Detail, "")
			// The cache may have been built from state the failed unit touched.
			e.tankState.Invalidate(ctx)
		}
	}, EventMovementFailed)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(TankReconciledEvent)
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		w := ev.Warning
		e.metrics.Reconciliations.WithLabelValues(string(w.Kind)).Inc()
		e.audit(ctx, "tank", w.TankID, "reconciled_"+string(w.Kind), w.Cached, w.Ledger, ev.Actor)
		e.enqueue(ctx, messaging.TypeTankReconciled, messaging.TankReconciled{
			TankID: w.TankID,
			Serial: w.Serial,
			Kind:   string(w.Kind),
			Cached: w.Cached,
			Ledger: w.Ledger,
		})
	}, EventTankReconciled)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ConnectionEvent)
		e.log.Info("engine: connection "+evt.Type.String(), zap.String("detail", ev.Detail))
	}, EventRedisConnected, EventRedisDisconnected, EventMessagingConnected, EventMessagingDisconnected)
}

func (e *Engine) audit(ctx context.Context, entity string, id int64, action, oldValue, newValue, actor string) {
	if err := e.db.AppendAudit(ctx, entity, id, action, oldValue, newValue, actor); err != nil {
		e.log.Warn("engine: audit", zap.String("entity", entity), zap.Int64("entity_id", id), zap.Error(err))
	}
}

// enqueue writes a notification to the outbox. Nothing is queued while no
// broker backend is configured.
func (e *Engine) enqueue(ctx context.Context, msgType string, payload any) {
	if e.cfg.Messaging.Backend == "" || e.cfg.Messaging.Backend == "none" {
		return
	}
	env, err := messaging.NewEnvelope(msgType, e.cfg.SiteID, payload)
	if err != nil {
		e.log.Error("engine: build envelope", zap.String("type", msgType), zap.Error(err))
		return
	}
	data, err := env.Encode()
	if err != nil {
		e.log.Error("engine: encode envelope", zap.String("type", msgType), zap.Error(err))
		return
	}
	topic := messaging.Topic(e.cfg.Messaging.TopicPrefix, msgType)
	if err := e.db.EnqueueOutbox(ctx, topic, data, msgType); err != nil {
		e.log.Error("engine: enqueue outbox", zap.String("topic", topic), zap.Error(err))
		return
	}
	e.metrics.OutboxEnqueued.Inc()
}

func recordedPayload(m store.Movement, rule, summary string) messaging.MovementRecorded {
	return messaging.MovementRecorded{
		MovementID:     m.ID,
		TankID:         m.TankID,
		Rule:           rule,
		FromClusterID:  m.FromClusterID,
		FromConsumerID: m.FromConsumerID,
		ToClusterID:    m.ToClusterID,
		ToConsumerID:   m.ToConsumerID,
		FromQty:        m.FromQty.String(),
		ToQty:          m.ToQty.String(),
		FromStatus:     string(m.FromStatus),
		ToStatus:       string(m.ToStatus),
		ReferenceNo:    m.ReferenceNo,
		PerformedBy:    m.PerformedBy,
		OccurredAt:     m.OccurredAt,
		Summary:        summary,
	}
}
