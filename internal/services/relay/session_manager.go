package relay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"platform-sync/internal/codec"
	"platform-sync/internal/middleware"
	"platform-sync/internal/models"
	"platform-sync/internal/telemetry"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

/*
SESSION MANAGER

One goroutine (run) owns every mutation: connection registration, frame
handling and unregistration all arrive over channels and are processed to
completion one at a time. A broadcast therefore never interleaves with
another broadcast or with a session being torn down, and a session's Send
channel is only ever closed from that same goroutine.

Per connection there are two more goroutines: ReadPump feeds frames into the
manager, WritePump drains Send onto the socket.
*/

// Options tune per-connection behaviour.
type Options struct {
	SendQueueSize int
	PingInterval  time.Duration
	PongTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxFrameBytes int64
}

func (o Options) withDefaults() Options {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 256
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongTimeout {
		o.PingInterval = o.PongTimeout * 9 / 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 64 * 1024
	}
	return o
}

// SendError is reported when a broadcast target cannot accept a frame. The
// target is skipped; the fan-out and the source connection carry on.
type SendError struct {
	SessionID  string
	ReviewerID string
	Reason     string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to session %s (%s): %s", e.SessionID, e.ReviewerID, e.Reason)
}

// SessionManager relays presence frames between connected sessions.
type SessionManager struct {
	table    *SessionTable
	sessions map[*Session]bool // owned by run

	register   chan *Session
	unregister chan *Session
	inbound    chan inboundFrame

	opts    Options
	metrics *telemetry.Metrics

	connections atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

type inboundFrame struct {
	session *Session
	frame   []byte
}

// Session is one live websocket connection.
type Session struct {
	*models.Session
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *SessionManager

	closeOnce sync.Once
}

func NewSessionManager(opts Options, metrics *telemetry.Metrics) *SessionManager {
	return &SessionManager{
		table:      NewSessionTable(),
		sessions:   make(map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		inbound:    make(chan inboundFrame),
		opts:       opts.withDefaults(),
		metrics:    metrics,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start launches the dispatch loop.
func (sm *SessionManager) Start() {
	sm.startOnce.Do(func() {
		log.Println("🔄 Starting relay session manager...")
		go sm.run()
	})
}

// Shutdown stops the dispatch loop and closes every connection.
func (sm *SessionManager) Shutdown() {
	sm.stopOnce.Do(func() {
		log.Println("🛑 Shutting down session manager...")
		close(sm.done)
	})
	// Never started: nothing to wait for.
	sm.startOnce.Do(func() { close(sm.stopped) })
	<-sm.stopped
}

// Table exposes the reviewer table for read-only callers.
func (sm *SessionManager) Table() *SessionTable {
	return sm.table
}

// Sessions lists registered reviewers.
func (sm *SessionManager) Sessions() []models.SessionInfo {
	return sm.table.Snapshot()
}

// ConnectionCount counts open connections, identified or not.
func (sm *SessionManager) ConnectionCount() int {
	return int(sm.connections.Load())
}

// NewSession wraps conn in a Session bound to this manager.
func (sm *SessionManager) NewSession(conn *websocket.Conn, remoteAddr, instanceID string) *Session {
	return &Session{
		Session: models.NewSession(remoteAddr, instanceID),
		Conn:    conn,
		Send:    make(chan []byte, sm.opts.SendQueueSize),
		Manager: sm,
	}
}

// Register hands a new session to the dispatch loop. It returns false when
// the manager is shutting down; the caller then owns the connection.
func (sm *SessionManager) Register(s *Session) bool {
	select {
	case sm.register <- s:
		return true
	case <-sm.done:
		return false
	}
}

func (sm *SessionManager) run() {
	defer close(sm.stopped)
	defer sm.closeAll()

	for {
		select {
		case <-sm.done:
			return

		case s := <-sm.register:
			sm.handleRegister(s)

		case s := <-sm.unregister:
			sm.handleUnregister(s)

		case in := <-sm.inbound:
			sm.handleInbound(in.session, in.frame)
		}
	}
}

func (sm *SessionManager) handleRegister(s *Session) {
	sm.sessions[s] = true
	sm.connections.Store(int64(len(sm.sessions)))
	sm.metrics.SetConnections(len(sm.sessions))

	log.Printf("  Session %s connected from %s (total: %d connections)", s.ID, s.RemoteAddr, len(sm.sessions))
}

// handleUnregister drops s from the table and closes its queue. Peers are
// not told; they notice the silence.
func (sm *SessionManager) handleUnregister(s *Session) {
	if !sm.sessions[s] {
		return
	}
	delete(sm.sessions, s)
	reviewer, _ := sm.table.Remove(s)
	close(s.Send)

	sm.connections.Store(int64(len(sm.sessions)))
	sm.metrics.SetConnections(len(sm.sessions))
	sm.metrics.SetReviewers(sm.table.Len())

	log.Printf("  Session %s (%s) disconnected (remaining: %d connections)", s.ID, reviewerLabel(reviewer), len(sm.sessions))
}

// handleInbound decodes one frame, binds its reviewer to s and forwards the
// frame bytes unchanged to every other registered session. It returns the
// number of peers the frame was queued to.
func (sm *SessionManager) handleInbound(s *Session, frame []byte) int {
	if !sm.sessions[s] {
		return 0
	}
	sm.metrics.FrameReceived()

	ctx, span := middleware.StartSpan(context.Background(), "Relay.ProcessFrame",
		attribute.String("session.id", s.ID),
		attribute.Int("frame.size", len(frame)),
	)
	defer span.End()

	ev, err := codec.Decode(frame)
	if err != nil {
		sm.metrics.DecodeError()
		middleware.AddSpanError(ctx, err)
		log.Printf("  Session %s: dropping frame: %v", s.ID, err)
		return 0
	}

	// Set before Upsert so table readers observe the identity.
	renamed := s.ReviewerID != ev.ReviewerID
	if renamed {
		s.ReviewerID = ev.ReviewerID
	}
	if displaced := sm.table.Upsert(ev.ReviewerID, s); displaced != nil {
		log.Printf("  Reviewer %s moved from session %s to %s", ev.ReviewerID, displaced.ID, s.ID)
	}
	if renamed {
		sm.metrics.SetReviewers(sm.table.Len())
	}
	span.SetAttributes(
		attribute.String("reviewer.id", ev.ReviewerID),
		attribute.String("event.kind", ev.Kind.String()),
	)

	delivered := 0
	for _, peer := range sm.table.AllExcept(ev.ReviewerID) {
		if err := sm.deliver(peer, frame); err != nil {
			sm.metrics.SendError()
			middleware.AddSpanEvent(ctx, "send.skipped", attribute.String("peer.session", peer.ID))
			log.Printf("  %v", err)
			continue
		}
		sm.metrics.FrameRelayed()
		delivered++
	}
	span.SetAttributes(attribute.Int("broadcast.delivered", delivered))
	return delivered
}

func (sm *SessionManager) deliver(peer *Session, frame []byte) error {
	select {
	case peer.Send <- frame:
		return nil
	default:
		return &SendError{SessionID: peer.ID, ReviewerID: peer.ReviewerID, Reason: "send queue full"}
	}
}

func (sm *SessionManager) closeAll() {
	for s := range sm.sessions {
		sm.table.Remove(s)
		close(s.Send)
	}
	sm.sessions = make(map[*Session]bool)
	sm.connections.Store(0)
	sm.metrics.SetConnections(0)
	sm.metrics.SetReviewers(0)
	log.Println("✓ Session manager shutdown complete")
}

func (sm *SessionManager) submit(s *Session, frame []byte) {
	select {
	case sm.inbound <- inboundFrame{session: s, frame: frame}:
	case <-sm.done:
	}
}

func (sm *SessionManager) leave(s *Session) {
	select {
	case sm.unregister <- s:
	case <-sm.done:
	}
}

// Session methods

// ReadPump reads frames until the connection fails, then unregisters the
// session. Oversized frames end the connection; undecodable ones do not.
func (s *Session) ReadPump() {
	defer func() {
		s.Manager.leave(s)
		s.closeConn()
	}()

	opts := s.Manager.opts
	s.Conn.SetReadLimit(opts.MaxFrameBytes)
	s.Conn.SetReadDeadline(time.Now().Add(opts.PongTimeout))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(opts.PongTimeout))
		return nil
	})

	for {
		_, message, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("  Session %s read error: %v", s.ID, err)
			}
			return
		}
		s.Conn.SetReadDeadline(time.Now().Add(opts.PongTimeout))
		s.Manager.submit(s, message)
	}
}

// WritePump writes queued frames one text message each and keeps the peer
// alive with pings. It exits when Send is closed or a write fails.
func (s *Session) WritePump() {
	opts := s.Manager.opts
	ticker := time.NewTicker(opts.PingInterval)
	defer func() {
		ticker.Stop()
		s.closeConn()
	}()

	for {
		select {
		case message, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			if !ok {
				_ = s.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay closing"))
				return
			}
			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("  Session %s write error: %v", s.ID, err)
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// closeConn closes the socket exactly once, whichever pump gets there first.
func (s *Session) closeConn() {
	s.closeOnce.Do(func() {
		if s.Conn != nil {
			_ = s.Conn.Close()
		}
	})
}

func reviewerLabel(id string) string {
	if id == "" {
		return "unidentified"
	}
	return id
}
