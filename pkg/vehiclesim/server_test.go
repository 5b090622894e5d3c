package vehiclesim

import (
	"bytes"
	"context"
	"image/jpeg"
	"log/slog"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/silviot/vehiclelink/pkg/command"
	"github.com/silviot/vehiclelink/pkg/signs"
	"github.com/silviot/vehiclelink/pkg/telemetry"
	"github.com/silviot/vehiclelink/pkg/vehicle"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := Start("127.0.0.1:0", slog.Default())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.URL(), nil)
	if err != nil {
		t.Fatalf("failed to connect to simulator: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if !s.WaitForClient(2 * time.Second) {
		t.Fatal("simulator did not register the client")
	}
	return conn
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServerAppliesConfigAndCommands(t *testing.T) {
	s := startTestServer(t)
	conn := dial(t, s)

	cfg := vehicle.Default()
	cfg.SpeedLimit = 80
	if err := conn.WriteJSON(cfg.Message()); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := conn.WriteJSON(command.NewMessage(command.Accelerate(150), command.Turn(command.Left))); err != nil {
		t.Fatalf("write commands: %v", err)
	}

	waitUntil(t, "two messages", func() bool { return len(s.Received()) == 2 })

	configs := s.Configs()
	if len(configs) != 1 || configs[0].SpeedLimit != 80 {
		t.Errorf("unexpected configs: %+v", configs)
	}
	if len(s.Commands()) != 2 {
		t.Errorf("expected 2 command items, got %d", len(s.Commands()))
	}

	state := s.State()
	if state.Speed != 150 || state.Direction != command.Left {
		t.Errorf("unexpected state: %+v", state)
	}
	if state.Config.SpeedLimit != 80 {
		t.Errorf("expected config applied, got %+v", state.Config)
	}

	conn.WriteJSON(command.NewMessage(command.Brake(0.5)))
	waitUntil(t, "brake", func() bool { return s.State().Braking == 0.5 })
	if s.State().Speed != 0 {
		t.Errorf("expected braking to zero the speed, got %d", s.State().Speed)
	}
}

func TestServerSendsFramesAndSignals(t *testing.T) {
	s := startTestServer(t)
	conn := dial(t, s)

	if err := s.SendFrame([]byte{0xff, 0xd8, 0xff}); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	if err := s.SendSignals(telemetry.Envelope{Vertical: []telemetry.Detection{{ID: "stop", Confidence: 91}}}); err != nil {
		t.Fatalf("SendSignals: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	mt, data, err := conn.ReadMessage()
	if err != nil || mt != websocket.BinaryMessage || !bytes.Equal(data, []byte{0xff, 0xd8, 0xff}) {
		t.Fatalf("unexpected frame: type=%d data=%v err=%v", mt, data, err)
	}

	mt, data, err = conn.ReadMessage()
	if err != nil || mt != websocket.TextMessage {
		t.Fatalf("unexpected signals message: type=%d err=%v", mt, err)
	}
	env, err := telemetry.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Type != telemetry.TypeSignals || len(env.Vertical) != 1 {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestServerWithoutClients(t *testing.T) {
	s := startTestServer(t)

	if err := s.SendFrame([]byte("x")); err == nil {
		t.Error("expected an error with no connected clients")
	}
}

func TestDropClients(t *testing.T) {
	s := startTestServer(t)
	conn := dial(t, s)

	s.DropClients()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected read error after drop")
	}
	waitUntil(t, "client removal", func() bool { return s.Clients() == 0 })
	if s.Connections() != 1 {
		t.Errorf("expected 1 connection accepted, got %d", s.Connections())
	}
}

func TestSyntheticFrameIsJPEG(t *testing.T) {
	data, err := syntheticFrame(3)
	if err != nil {
		t.Fatalf("syntheticFrame: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("not a JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 160 || b.Dy() != 120 {
		t.Errorf("unexpected size %v", b)
	}
}

func TestRandomDetectionsUseCatalog(t *testing.T) {
	catalog := signs.Default()

	for i := 0; i < 20; i++ {
		env := randomDetections(catalog)
		set := telemetry.Correlate(catalog, env)
		if set.Len() != len(env.Vertical)+len(env.Horizontal) {
			t.Fatalf("detections outside the catalog: %+v", env)
		}
	}
}

func TestStreamSendsFrames(t *testing.T) {
	s := startTestServer(t)
	conn := dial(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Stream(ctx, 5*time.Millisecond, signs.Default())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if mt != websocket.BinaryMessage || len(data) == 0 {
		t.Errorf("expected a binary frame, got type %d", mt)
	}
}
