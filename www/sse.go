package www

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"greasetrack/engine"
)

const clientBuffer = 32

type sseMessage struct {
	event string
	data  []byte
}

// EventHub fans engine events out to server-sent-event clients. The bus
// delivers synchronously, so a slow client loses messages rather than
// stalling the executor.
type EventHub struct {
	bus   *engine.EventBus
	subID int
	log   *zap.Logger

	mu      sync.Mutex
	clients map[chan sseMessage]struct{}
	once    sync.Once
}

func NewEventHub(bus *engine.EventBus, log *zap.Logger) *EventHub {
	hub := &EventHub{
		bus:     bus,
		log:     log,
		clients: make(map[chan sseMessage]struct{}),
	}
	hub.subID = bus.SubscribeTypes(hub.onEvent,
		engine.EventMovementRecorded,
		engine.EventTankDisplaced,
		engine.EventMovementFailed,
		engine.EventTankReconciled,
		engine.EventProjectionChanged,
	)
	return hub
}

// Stop detaches the hub from the bus and disconnects every client.
func (hub *EventHub) Stop() {
	hub.once.Do(func() {
		hub.bus.Unsubscribe(hub.subID)
		hub.mu.Lock()
		for ch := range hub.clients {
			close(ch)
			delete(hub.clients, ch)
		}
		hub.mu.Unlock()
	})
}

func (hub *EventHub) ClientCount() int {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return len(hub.clients)
}

func (hub *EventHub) onEvent(evt engine.Event) {
	data, err := json.Marshal(ssePayload(evt))
	if err != nil {
		hub.log.Warn("sse: encode event", zap.String("type", evt.Type.String()), zap.Error(err))
		return
	}
	msg := sseMessage{event: evt.Type.String(), data: data}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	for ch := range hub.clients {
		select {
		case ch <- msg:
		default:
			hub.log.Debug("sse: client buffer full, dropping event", zap.String("type", msg.event))
		}
	}
}

func ssePayload(evt engine.Event) any {
	switch p := evt.Payload.(type) {
	case engine.MovementRecordedEvent:
		return map[string]any{
			"movement_id": p.Movement.ID,
			"tank_id":     p.Movement.TankID,
			"rule":        p.Rule,
			"summary":     p.Summary,
		}
	case engine.TankDisplacedEvent:
		return map[string]any{
			"movement_id": p.Movement.ID,
			"tank_id":     p.Movement.TankID,
			"by_tank_id":  p.ByTankID,
		}
	case engine.MovementFailedEvent:
		return map[string]any{"tank_id": p.TankID, "kind": p.Kind, "detail": p.Detail}
	case engine.TankReconciledEvent:
		return map[string]any{"tank_id": p.Warning.TankID, "kind": p.Warning.Kind, "actor": p.Actor}
	case engine.ProjectionChangedEvent:
		return map[string]any{"reason": p.Reason}
	}
	return map[string]any{}
}

func (hub *EventHub) subscribe() chan sseMessage {
	ch := make(chan sseMessage, clientBuffer)
	hub.mu.Lock()
	hub.clients[ch] = struct{}{}
	hub.mu.Unlock()
	return ch
}

func (hub *EventHub) unsubscribe(ch chan sseMessage) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if _, ok := hub.clients[ch]; ok {
		delete(hub.clients, ch)
		close(ch)
	}
}

func (hub *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := hub.subscribe()
	defer hub.unsubscribe(ch)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.event, msg.data)
			flusher.Flush()
		}
	}
}
