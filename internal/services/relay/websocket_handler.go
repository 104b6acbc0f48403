package relay

import (
	"log"
	"net/http"

	"platform-sync/internal/middleware"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

// InstanceHeader carries the client's per-process instance ID.
const InstanceHeader = "X-Client-Instance"

// Editor plugins connect without a browser Origin, so every origin is accepted.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler upgrades relay connections and hands them to the manager.
type WebSocketHandler struct {
	sessionManager *SessionManager
}

func NewWebSocketHandler(sessionManager *SessionManager) *WebSocketHandler {
	return &WebSocketHandler{
		sessionManager: sessionManager,
	}
}

// HandleConnection upgrades the request and starts the session pumps. The
// reviewer identity is not known yet; the first valid frame supplies it.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	instanceID := r.Header.Get(InstanceHeader)

	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect",
		attribute.String("client.instance", instanceID),
		attribute.String("remote.addr", r.RemoteAddr),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	session := h.sessionManager.NewSession(conn, r.RemoteAddr, instanceID)
	span.SetAttributes(attribute.String("session.id", session.ID))

	if !h.sessionManager.Register(session) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"))
		_ = conn.Close()
		return
	}

	go session.WritePump()
	go session.ReadPump()
}

// ServeHTTP lets the handler be mounted directly.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleConnection(w, r)
}
