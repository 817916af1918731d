package www

import (
	"encoding/json"
	"net/http"
	"strings"
)

const operatorKey = "operator"

// getOperator returns the operator name remembered for this browser, or "".
func (h *Handlers) getOperator(r *http.Request) string {
	sess, err := h.sessions.Get(r, sessionName)
	if err != nil {
		return ""
	}
	name, _ := sess.Values[operatorKey].(string)
	return name
}

func (h *Handlers) apiGetOperator(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, map[string]string{"name": h.getOperator(r)})
}

func (h *Handlers) apiSetOperator(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		h.jsonError(w, "name is required", http.StatusUnprocessableEntity)
		return
	}
	// A cookie signed with an old secret fails to decode; start a fresh session.
	sess, _ := h.sessions.Get(r, sessionName)
	sess.Values[operatorKey] = name
	if err := sess.Save(r, w); err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, map[string]string{"name": name})
}
