package www

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"greasetrack/store"
)

func (h *Handlers) apiListTanks(w http.ResponseWriter, r *http.Request) {
	tanks, err := h.engine.Tanks(r.Context())
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, tanks)
}

func (h *Handlers) apiListConsumers(w http.ResponseWriter, r *http.Request) {
	consumers, err := h.engine.Consumers(r.Context())
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, consumers)
}

func (h *Handlers) apiListClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := h.engine.DB().ListClusters(r.Context())
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, clusters)
}

func (h *Handlers) apiTankMovements(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid id", http.StatusBadRequest)
		return
	}
	if _, err := h.engine.DB().GetTank(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.jsonError(w, "not found", http.StatusNotFound)
			return
		}
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	history, err := h.engine.DB().ListMovementsForTank(r.Context(), id)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []store.Movement{}
	}
	h.jsonOK(w, history)
}

func (h *Handlers) apiAuditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.DB().ListAuditLog(r.Context(), queryLimit(r, 100))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, entries)
}

// apiListMovements is the site-wide ledger, newest first.
func (h *Handlers) apiListMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := h.engine.DB().ListMovements(r.Context(), queryLimit(r, 100))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if movements == nil {
		movements = []store.Movement{}
	}
	h.jsonOK(w, movements)
}

func (h *Handlers) apiReconnectMessaging(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ReconfigureMessaging(r.Context()); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	client := h.engine.MsgClient()
	h.jsonOK(w, map[string]any{
		"backend":   client.Backend(),
		"connected": client.IsConnected(),
	})
}

func (h *Handlers) apiListReconciliations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.engine.DB().ListReconciliations(r.Context(), queryLimit(r, 100))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, recs)
}

func (h *Handlers) apiReconcile(w http.ResponseWriter, r *http.Request) {
	actor := h.getOperator(r)
	if actor == "" {
		actor = "admin"
	}
	warnings, err := h.engine.Reconcile(r.Context(), actor)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, map[string]any{
		"repaired": len(warnings),
		"warnings": warnings,
	})
}

func (h *Handlers) apiHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := h.engine.Health(r.Context())
	health["status"] = "ok"
	health["sse_clients"] = h.eventHub.ClientCount()
	code := http.StatusOK
	if ok, _ := health["database"].(bool); !ok {
		health["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	h.jsonStatus(w, code, health)
}

func queryLimit(r *http.Request, def int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	h.jsonStatus(w, http.StatusOK, data)
}

func (h *Handlers) jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	h.jsonStatus(w, code, map[string]string{"error": msg})
}
