package vehiclesim

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/silviot/vehiclelink/pkg/command"
	"github.com/silviot/vehiclelink/pkg/telemetry"
	"github.com/silviot/vehiclelink/pkg/vehicle"
)

// Message is an inbound message recorded by the simulator
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Raw     []byte          `json:"-"`
}

// State is what the simulated vehicle believes after applying inbound messages
type State struct {
	Speed     int
	Direction string
	Braking   float64
	Config    vehicle.ConfigPayload
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(messageType, data)
}

// Server simulates the vehicle end of the link
type Server struct {
	listener    net.Listener
	server      *http.Server
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	mu          sync.Mutex
	clients     map[*websocket.Conn]*client
	connections int
	received    []Message
	state       State
	connCh      chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
}

// Start starts a simulator listening on addr ("127.0.0.1:0" picks a free port)
func Start(addr string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := &Server{
		listener: listener,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*client),
		state: State{
			Direction: command.Center,
			Config:    vehicle.Default().Message().Payload,
		},
		connCh: make(chan struct{}, 16),
		done:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("vehicle simulator error", "error", err)
		}
	}()

	logger.Info("vehicle simulator started", "addr", listener.Addr().String())

	return s, nil
}

// URL returns the WebSocket URL of the simulator
func (s *Server) URL() string {
	return fmt.Sprintf("ws://%s", s.listener.Addr().String())
}

// handleWebSocket accepts a controller connection and records what it sends
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", "error", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = &client{conn: conn}
	s.connections++
	s.mu.Unlock()

	select {
	case s.connCh <- struct{}{}:
	default:
	}

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("simulator read error", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("failed to parse message", "error", err, "data", string(data))
			continue
		}
		msg.Raw = data

		s.mu.Lock()
		s.received = append(s.received, msg)
		s.apply(msg)
		s.mu.Unlock()

		s.logger.Debug("vehicle received message", "type", msg.Type)
	}
}

// apply updates the simulated vehicle state. Caller holds s.mu.
func (s *Server) apply(msg Message) {
	switch msg.Type {
	case vehicle.TypeConfig:
		var payload vehicle.ConfigPayload
		if err := json.Unmarshal(msg.Payload, &payload); err == nil {
			s.state.Config = payload
		}

	case command.TypeCommands:
		var items []map[string]any
		if err := json.Unmarshal(msg.Payload, &items); err != nil {
			return
		}
		for _, item := range items {
			switch item["action"] {
			case command.ActionAccelerate:
				if v, ok := item["speed"].(float64); ok {
					s.state.Speed = int(v)
				}
				s.state.Braking = 0
			case command.ActionTurn:
				if d, ok := item["direction"].(string); ok {
					s.state.Direction = d
				}
			case command.ActionBrake:
				s.state.Speed = 0
				if v, ok := item["intensity"].(float64); ok {
					s.state.Braking = v
				} else {
					s.state.Braking = 1
				}
			case command.ActionStop:
				s.state.Speed = 0
			}
		}
	}
}

// broadcast writes one message to every connected controller
func (s *Server) broadcast(messageType int, data []byte) error {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if len(clients) == 0 {
		return fmt.Errorf("no connected clients")
	}

	var firstErr error
	for _, c := range clients {
		if err := c.write(messageType, data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SendFrame sends a binary video frame
func (s *Server) SendFrame(data []byte) error {
	return s.broadcast(websocket.BinaryMessage, data)
}

// SendSignals sends a signals envelope
func (s *Server) SendSignals(env telemetry.Envelope) error {
	env.Type = telemetry.TypeSignals
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.broadcast(websocket.TextMessage, data)
}

// SendText sends a raw text message
func (s *Server) SendText(text string) error {
	return s.broadcast(websocket.TextMessage, []byte(text))
}

// Received returns a copy of all recorded inbound messages
func (s *Server) Received() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.received))
	copy(out, s.received)
	return out
}

// Configs returns the payloads of every config push received
func (s *Server) Configs() []vehicle.ConfigPayload {
	var out []vehicle.ConfigPayload
	for _, msg := range s.Received() {
		if msg.Type != vehicle.TypeConfig {
			continue
		}
		var payload vehicle.ConfigPayload
		if err := json.Unmarshal(msg.Payload, &payload); err == nil {
			out = append(out, payload)
		}
	}
	return out
}

// Commands returns every command item received, flattened across messages
func (s *Server) Commands() []map[string]any {
	var out []map[string]any
	for _, msg := range s.Received() {
		if msg.Type != command.TypeCommands {
			continue
		}
		var items []map[string]any
		if err := json.Unmarshal(msg.Payload, &items); err == nil {
			out = append(out, items...)
		}
	}
	return out
}

// State returns the simulated vehicle state
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connections returns how many connections have been accepted in total
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// Clients returns how many controllers are currently connected
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// WaitForClient blocks until a new connection is accepted or timeout elapses
func (s *Server) WaitForClient(timeout time.Duration) bool {
	select {
	case <-s.connCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// DropClients closes every controller connection from the vehicle side
func (s *Server) DropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		conn.Close()
	}
}

// Close stops the simulator
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.DropClients()
	})
	return s.server.Close()
}
