package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/silviot/vehiclelink/pkg/frame"
	"github.com/silviot/vehiclelink/pkg/telemetry"
	"github.com/silviot/vehiclelink/pkg/vehicle"
)

// Config holds link manager configuration
type Config struct {
	Logger           *slog.Logger  // Logger instance
	Frames           *frame.Slot   // Destination for binary frames; created when nil
	HandshakeTimeout time.Duration // WebSocket handshake timeout (default 10s)
	WriteTimeout     time.Duration // Per-message write deadline (default 5s)
	ReadTimeout      time.Duration // Idle read deadline; zero disables it
	EventBuffer      int           // Event channel capacity (default 64)
}

// socket is one dial attempt and, once open, its connection.
// Goroutines capture the socket they were started for and compare it with
// Manager.sock before touching shared state.
type socket struct {
	id      string
	url     string
	conn    *websocket.Conn // Guarded by Manager.mu
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// Manager owns the single socket to the vehicle
type Manager struct {
	mu       sync.Mutex
	state    State
	sock     *socket
	endpoint string
	closed   bool

	dialer       *websocket.Dialer
	frames       *frame.Slot
	writeTimeout time.Duration
	readTimeout  time.Duration
	logger       *slog.Logger
	events       chan Event
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	dials     atomic.Int64
	received  atomic.Int64
	messages  atomic.Int64
	malformed atomic.Int64
	ignored   atomic.Int64
}

// NewManager creates a disconnected link manager
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Frames == nil {
		cfg.Frames = frame.NewSlot()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		state: Disconnected,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		frames:       cfg.Frames,
		writeTimeout: cfg.WriteTimeout,
		readTimeout:  cfg.ReadTimeout,
		logger:       cfg.Logger,
		events:       make(chan Event, cfg.EventBuffer),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// SetEndpoint points the link at endpoint. It never blocks on the network:
// the dial runs in the background and its outcome arrives as an event.
//
// An invalid or empty endpoint tears down any socket and returns
// ErrInvalidEndpoint. The endpoint of a socket that is already connecting or
// connected is a no-op.
func (m *Manager) SetEndpoint(endpoint string) error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	if !vehicle.ValidEndpoint(endpoint) {
		old, oldConn := m.detachLocked()
		m.endpoint = ""
		m.mu.Unlock()

		m.closeSocket(old, oldConn)
		return fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}

	if m.sock != nil && m.sock.url == endpoint && (m.state == Connecting || m.state == Connected) {
		m.mu.Unlock()
		return nil
	}

	old, oldConn := m.detachLocked()

	ctx, cancel := context.WithCancel(m.ctx)
	sock := &socket{
		id:     uuid.NewString(),
		url:    endpoint,
		ctx:    ctx,
		cancel: cancel,
	}
	m.sock = sock
	m.state = Connecting
	m.endpoint = endpoint
	m.dials.Add(1)
	m.wg.Add(1)
	m.mu.Unlock()

	m.closeSocket(old, oldConn)

	m.logger.Info("connecting to vehicle", "url", endpoint, "link_id", sock.id)
	go m.run(sock)

	return nil
}

// Disconnect closes the current socket, if any, without choosing a new endpoint
func (m *Manager) Disconnect() {
	m.mu.Lock()
	old, oldConn := m.detachLocked()
	m.endpoint = ""
	m.mu.Unlock()

	m.closeSocket(old, oldConn)
}

// detachLocked releases the socket handle. The caller closes it after unlocking.
func (m *Manager) detachLocked() (*socket, *websocket.Conn) {
	old := m.sock
	if old == nil {
		m.state = Disconnected
		return nil, nil
	}

	m.sock = nil
	m.state = Closing
	old.cancel()

	return old, old.conn
}

// closeSocket performs the close handshake on a detached socket
func (m *Manager) closeSocket(old *socket, conn *websocket.Conn) {
	if old == nil {
		return
	}

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}
	m.logger.Info("vehicle connection torn down", "url", old.url, "link_id", old.id)

	m.mu.Lock()
	if m.sock == nil && m.state == Closing {
		m.state = Disconnected
	}
	m.mu.Unlock()
}

// run dials the socket and then reads from it until it closes
func (m *Manager) run(sock *socket) {
	defer m.wg.Done()

	conn, _, err := m.dialer.DialContext(sock.ctx, sock.url, nil)
	if err != nil {
		if sock.ctx.Err() == nil {
			m.logger.Error("failed to connect to vehicle", "url", sock.url, "link_id", sock.id, "error", err)
		}
		m.release(sock, fmt.Errorf("%w: dial: %v", ErrTransport, err))
		return
	}

	m.mu.Lock()
	if m.sock != sock {
		// Replaced while dialing
		m.mu.Unlock()
		conn.Close()
		return
	}
	sock.conn = conn
	m.state = Connected
	m.mu.Unlock()

	m.logger.Info("connected to vehicle", "url", sock.url, "link_id", sock.id)
	m.emit(sock, Event{Kind: EventReady, LinkID: sock.id, Endpoint: sock.url})

	m.readLoop(sock, conn)
}

// readLoop demultiplexes inbound messages: binary frames go to the frame
// slot, text messages are routed by envelope type
func (m *Manager) readLoop(sock *socket, conn *websocket.Conn) {
	for {
		if m.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(m.readTimeout))
		}

		messageType, data, err := conn.ReadMessage()
		if err != nil {
			var cause error
			if sock.ctx.Err() == nil && !isPeerClosedError(err) {
				m.logger.Error("vehicle read error", "link_id", sock.id, "error", err)
				cause = fmt.Errorf("%w: %v", ErrTransport, err)
			}
			m.release(sock, cause)
			return
		}

		if sock.ctx.Err() != nil {
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if !m.storeFrame(sock, data) {
				return
			}
		case websocket.TextMessage:
			m.messages.Add(1)
			m.route(sock, data)
		}
	}
}

// storeFrame writes data to the frame slot if sock is still the current socket
func (m *Manager) storeFrame(sock *socket, data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sock != sock {
		return false
	}
	m.received.Add(1)
	m.frames.Store(data)
	return true
}

// route handles one inbound text message
func (m *Manager) route(sock *socket, data []byte) {
	var base envelope
	if err := json.Unmarshal(data, &base); err != nil {
		m.malformed.Add(1)
		m.logger.Warn("dropping vehicle message",
			"link_id", sock.id, "error", fmt.Errorf("%w: %v", ErrMalformedTelemetry, err))
		return
	}

	switch base.Type {
	case telemetry.TypeSignals:
		env, err := telemetry.Decode(data)
		if err != nil {
			m.malformed.Add(1)
			m.logger.Warn("dropping vehicle message", "link_id", sock.id, "type", base.Type, "error", err)
			return
		}
		m.emit(sock, Event{Kind: EventSignals, LinkID: sock.id, Endpoint: sock.url, Signals: env})

	default:
		// Unknown kinds are tolerated for forward compatibility
		m.ignored.Add(1)
		m.logger.Debug("ignoring vehicle message", "link_id", sock.id, "type", base.Type)
	}
}

// release clears the handle of sock if it is still the current socket
func (m *Manager) release(sock *socket, cause error) {
	m.mu.Lock()
	if m.sock != sock {
		m.mu.Unlock()
		return
	}
	m.sock = nil
	m.state = Disconnected
	m.endpoint = ""
	conn := sock.conn
	m.mu.Unlock()

	sock.cancel()
	if conn != nil {
		conn.Close()
	}

	m.logger.Info("vehicle connection closed", "url", sock.url, "link_id", sock.id, "error", cause)

	select {
	case m.events <- Event{Kind: EventClosed, LinkID: sock.id, Endpoint: sock.url, Err: cause}:
	case <-m.ctx.Done():
	}
}

// emit delivers an event unless the socket has been torn down meanwhile
func (m *Manager) emit(sock *socket, ev Event) {
	select {
	case m.events <- ev:
	case <-sock.ctx.Done():
	}
}

// Send writes v as a JSON text message. It fails with ErrNotConnected
// unless the socket is open; nothing is queued for later.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	sock := m.sock
	if m.state != Connected || sock == nil || sock.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := sock.conn
	m.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	sock.writeMu.Lock()
	defer sock.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.logger.Error("failed to send to vehicle", "link_id", sock.id, "error", err)
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	m.logger.Debug("sent to vehicle", "link_id", sock.id, "bytes", len(data))
	return nil
}

// Events returns the channel of socket events. It is closed by Close.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Frames returns the slot holding the latest frame
func (m *Manager) Frames() *frame.Slot {
	return m.frames
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected returns whether the socket is open
func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

// Endpoint returns the endpoint of the current socket, empty when there is none.
// It is cleared when the socket closes.
func (m *Manager) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// LinkID returns the id of the current socket, empty when there is none
func (m *Manager) LinkID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sock == nil {
		return ""
	}
	return m.sock.id
}

// Dials returns how many sockets have been created
func (m *Manager) Dials() int64 {
	return m.dials.Load()
}

// Stats returns activity counters
func (m *Manager) Stats() Stats {
	return Stats{
		Dials:     m.dials.Load(),
		Frames:    m.received.Load(),
		Messages:  m.messages.Load(),
		Malformed: m.malformed.Load(),
		Ignored:   m.ignored.Load(),
	}
}

// Close tears down the socket and stops all goroutines. The manager cannot be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	old, oldConn := m.detachLocked()
	m.endpoint = ""
	m.mu.Unlock()

	m.closeSocket(old, oldConn)
	m.cancel()
	m.wg.Wait()
	close(m.events)

	return nil
}

// isPeerClosedError checks if error is due to either side closing the connection
func isPeerClosedError(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent)
}
