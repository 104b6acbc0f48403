package api

import (
	"encoding/json"
	"net/http"

	"platform-sync/internal/models"
)

// SessionDirectory is what the handlers need from the relay.
type SessionDirectory interface {
	ConnectionCount() int
	Sessions() []models.SessionInfo
}

// Handler handles HTTP requests
type Handler struct {
	directory SessionDirectory
	wsHandler http.Handler
	metrics   http.Handler
}

// NewHandler wires the relay's HTTP surface. metrics may be nil to disable
// the /metrics endpoint.
func NewHandler(directory SessionDirectory, wsHandler http.Handler, metrics http.Handler) *Handler {
	return &Handler{
		directory: directory,
		wsHandler: wsHandler,
		metrics:   metrics,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"connections": h.directory.ConnectionCount(),
	})
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.directory.Sessions()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// HandleRelayWebSocket accepts a presence client connection.
func (h *Handler) HandleRelayWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
