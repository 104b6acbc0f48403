package api

import (
	"platform-sync/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Tracing wraps recovery so panics land on the request span.
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.Health).Methods("GET")
	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")

	// Clients connect to the root path as well as /ws; older plugins were
	// configured with a bare host URL.
	r.HandleFunc("/ws", h.HandleRelayWebSocket).Methods("GET")
	r.HandleFunc("/", h.HandleRelayWebSocket).Methods("GET").HeadersRegexp("Upgrade", "(?i)websocket")

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods("GET")
	}

	return r
}
