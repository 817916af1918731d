package www

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"greasetrack/movement"
)

func (h *Handlers) apiCreateMovement(w http.ResponseWriter, r *http.Request) {
	var in movement.Intent
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if in.PerformedBy == "" {
		in.PerformedBy = h.getOperator(r)
	}

	sum, err := h.engine.Move(r.Context(), in)
	if err != nil {
		h.movementError(w, err)
		return
	}
	h.jsonStatus(w, http.StatusCreated, sum)
}

// movementError maps executor failures onto status codes. Persistence
// failures tell the client to refetch, since its view may be stale.
func (h *Handlers) movementError(w http.ResponseWriter, err error) {
	kind := movement.Kind(err)
	body := map[string]any{"error": err.Error(), "kind": kind}
	code := http.StatusInternalServerError
	switch kind {
	case "validation":
		code = http.StatusUnprocessableEntity
		var ve *movement.ValidationError
		if errors.As(err, &ve) {
			body["field"] = ve.Field
		}
	case "conflict", "displacement":
		code = http.StatusConflict
	case "timeout":
		code = http.StatusServiceUnavailable
		body["retry"] = true
	default:
		body["refresh"] = true
		h.log.Error("www: movement failed", zap.String("kind", kind), zap.Error(err))
	}
	h.jsonStatus(w, code, body)
}
