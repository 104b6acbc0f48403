package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"platform-sync/internal/codec"
	"platform-sync/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// InstanceHeader identifies this client process to the relay.
const InstanceHeader = "X-Client-Instance"

const (
	DefaultReconnectInterval    = 5 * time.Second
	DefaultMaxReconnectAttempts = 5

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// State is the connection state shown to the editor.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	FailedToConnect
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case FailedToConnect:
		return "Failed to Connect"
	default:
		return "Disconnected"
	}
}

// StateChange is delivered to listeners. Err is set on failures, and on the
// final notification after retries run out (ErrMaxReconnectAttempts), which
// may repeat the FailedToConnect state.
type StateChange struct {
	From State
	To   State
	Err  error
}

type ChangeListener func(StateChange)

// ListenerID removes a listener registered with AddChangeListener.
type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	fn ChangeListener
}

// ConnectConfig is read once per Connect call.
type ConnectConfig struct {
	URL      string
	Username string
	Format   codec.Format

	ReconnectInterval    time.Duration
	// MaxReconnectAttempts bounds automatic retries after a failure; the
	// counter resets on every successful open. Zero disables retries.
	MaxReconnectAttempts int
}

// Manager owns one outbound relay connection:
//
//	Disconnected --Connect--> Connecting --open--> Connected
//	Connected --close--> Disconnected
//	Connecting/Connected --error--> FailedToConnect
//
// From Disconnected or FailedToConnect a retry is scheduled unless Disconnect
// was called. Each Connect/Disconnect starts a new generation; callbacks from
// an older generation are ignored.
type Manager struct {
	instanceID string
	onMessage  func(models.PresenceEvent)
	dialer     *websocket.Dialer

	mu         sync.Mutex
	state      State
	cfg        ConnectConfig
	conn       *websocket.Conn
	gen        uint64
	attempts   int
	stopped    bool
	timer      *time.Timer
	dialCancel context.CancelFunc
	listeners  []listenerEntry
	nextID     ListenerID

	writeMu sync.Mutex
}

// NewManager creates a disconnected manager. onMessage receives every
// decoded inbound event on the connection's read goroutine; it may be nil.
func NewManager(onMessage func(models.PresenceEvent)) *Manager {
	return &Manager{
		instanceID: uuid.New().String(),
		onMessage:  onMessage,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// InstanceID is sent to the relay on every dial.
func (m *Manager) InstanceID() string {
	return m.instanceID
}

// Connect validates cfg and starts connecting. Configuration problems are
// returned as *ConfigError before any attempt is made. Calling Connect resets
// the retry counter and replaces any existing connection.
func (m *Manager) Connect(cfg ConnectConfig) error {
	if err := validateConnectConfig(&cfg); err != nil {
		return err
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	old := m.teardownLocked()
	m.cfg = cfg
	m.attempts = 0
	m.stopped = false
	m.mu.Unlock()

	closeQuietly(old, &m.writeMu)

	m.transition(gen, Connecting, nil, nil)
	go m.dial(gen)
	return nil
}

// Disconnect closes the connection and cancels pending retries. It is safe
// to call in any state and always leaves the manager Disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.stopped = true
	old := m.teardownLocked()
	m.mu.Unlock()

	closeQuietly(old, &m.writeMu)

	m.transition(gen, Disconnected, nil, nil)
}

// Close disconnects and drops all listeners.
func (m *Manager) Close() {
	m.Disconnect()
	m.mu.Lock()
	m.listeners = nil
	m.mu.Unlock()
}

// Send encodes ev and writes it. When not connected it does nothing and
// returns nil; events are never queued.
func (m *Manager) Send(ev models.PresenceEvent) error {
	m.mu.Lock()
	conn, format := m.conn, m.cfg.Format
	connected := m.state == Connected && conn != nil
	m.mu.Unlock()
	if !connected {
		return nil
	}

	frame, err := codec.Encode(ev, format)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Printf("platform sync: send failed: %v", err)
		return fmt.Errorf("send %s event: %w", ev.Kind, err)
	}
	return nil
}

func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AddChangeListener registers fn for every state transition. Listeners run
// synchronously in registration order; a panicking listener is logged and
// the rest still run.
func (m *Manager) AddChangeListener(fn ChangeListener) ListenerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.listeners = append(m.listeners, listenerEntry{id: m.nextID, fn: fn})
	return m.nextID
}

func (m *Manager) RemoveChangeListener(id ListenerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.listeners {
		if l.id == id {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return
		}
	}
}

// ---- connection lifecycle ----

func (m *Manager) dial(gen uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.dialCancel = cancel
	cfg := m.cfg
	m.mu.Unlock()

	header := http.Header{}
	header.Set(InstanceHeader, m.instanceID)

	conn, _, err := m.dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		log.Printf("platform sync: connect to %s failed: %v", cfg.URL, err)
		m.fail(gen, &ConnectError{URL: cfg.URL, Err: err})
		return
	}

	ok := m.transition(gen, Connected, nil, func() {
		m.conn = conn
		m.attempts = 0
		m.dialCancel = nil
	})
	if !ok {
		_ = conn.Close()
		return
	}
	log.Printf("platform sync: connected to %s", cfg.URL)

	go m.readLoop(gen, conn, cfg.URL)
}

func (m *Manager) readLoop(gen uint64, conn *websocket.Conn, target string) {
	var err error
	for {
		var data []byte
		if _, data, err = conn.ReadMessage(); err != nil {
			break
		}
		ev, derr := codec.Decode(data)
		if derr != nil {
			log.Printf("platform sync: ignoring frame: %v", derr)
			continue
		}
		if m.onMessage != nil {
			m.onMessage(ev)
		}
	}
	_ = conn.Close()

	// 1006 means the socket dropped without a close frame.
	var closeErr *websocket.CloseError
	if asCloseError(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
		log.Printf("platform sync: connection closed by relay (%d)", closeErr.Code)
		if m.transition(gen, Disconnected, nil, m.dropConn(conn)) {
			m.scheduleReconnect(gen)
		}
		return
	}
	m.fail(gen, &ConnectError{URL: target, Err: err})
}

func (m *Manager) fail(gen uint64, err error) {
	if m.transition(gen, FailedToConnect, err, func() {
		m.conn = nil
		m.dialCancel = nil
	}) {
		m.scheduleReconnect(gen)
	}
}

func (m *Manager) scheduleReconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.stopped {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		limit := m.cfg.MaxReconnectAttempts
		m.mu.Unlock()
		log.Printf("platform sync: giving up after %d reconnection attempts", limit)
		m.transition(gen, FailedToConnect, ErrMaxReconnectAttempts, nil)
		return
	}
	m.attempts++
	attempt, limit, interval := m.attempts, m.cfg.MaxReconnectAttempts, m.cfg.ReconnectInterval
	m.timer = time.AfterFunc(interval, func() { m.retry(gen) })
	m.mu.Unlock()

	log.Printf("platform sync: reconnecting in %s (%d/%d)", interval, attempt, limit)
}

func (m *Manager) retry(gen uint64) {
	if m.transition(gen, Connecting, nil, func() { m.timer = nil }) {
		m.dial(gen)
	}
}

// transition moves to state `to` if gen is still current, applying mutate
// under the lock, then notifies listeners outside it. It reports whether the
// generation was current.
func (m *Manager) transition(gen uint64, to State, err error, mutate func()) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	if mutate != nil {
		mutate()
	}
	from := m.state
	m.state = to
	listeners := append([]listenerEntry(nil), m.listeners...)
	m.mu.Unlock()

	if from == to && err == nil {
		return true
	}
	change := StateChange{From: from, To: to, Err: err}
	for _, l := range listeners {
		notify(l.fn, change)
	}
	return true
}

func notify(fn ChangeListener, change StateChange) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("platform sync: change listener panicked: %v", r)
		}
	}()
	fn(change)
}

// teardownLocked stops retries and detaches the current connection, which
// the caller closes after releasing the lock.
func (m *Manager) teardownLocked() *websocket.Conn {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	conn := m.conn
	m.conn = nil
	return conn
}

func (m *Manager) dropConn(conn *websocket.Conn) func() {
	return func() {
		if m.conn == conn {
			m.conn = nil
		}
	}
}

// closeQuietly sends a close frame and closes conn, ignoring errors.
func closeQuietly(conn *websocket.Conn, writeMu *sync.Mutex) {
	if conn == nil {
		return
	}
	writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "disconnect"),
		time.Now().Add(time.Second))
	writeMu.Unlock()
	_ = conn.Close()
}

func asCloseError(err error, target **websocket.CloseError) bool {
	return errors.As(err, target)
}

func validateConnectConfig(cfg *ConnectConfig) error {
	cfg.Username = strings.TrimSpace(cfg.Username)
	if cfg.Username == "" {
		return &ConfigError{Field: "username", Reason: "is not set"}
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		return &ConfigError{Field: "server url", Reason: "is not set"}
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return &ConfigError{Field: "server url", Reason: err.Error()}
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return &ConfigError{Field: "server url", Reason: fmt.Sprintf("must use ws or wss, got %q", u.Scheme)}
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}
	return nil
}
