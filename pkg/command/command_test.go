package command

import (
	"encoding/json"
	"errors"
	"testing"
)

var errOffline = errors.New("offline")

type recordingSender struct {
	sent [][]byte
	err  error
}

func (r *recordingSender) Send(v any) error {
	if r.err != nil {
		return r.err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.sent = append(r.sent, data)
	return nil
}

// decoded unmarshals the i-th sent message into a generic shape
func (r *recordingSender) decoded(t *testing.T, i int) map[string]any {
	t.Helper()
	if i >= len(r.sent) {
		t.Fatalf("expected at least %d messages, got %d", i+1, len(r.sent))
	}
	var msg map[string]any
	if err := json.Unmarshal(r.sent[i], &msg); err != nil {
		t.Fatalf("invalid JSON sent: %v", err)
	}
	return msg
}

func payloadItems(t *testing.T, msg map[string]any) []map[string]any {
	t.Helper()
	raw, ok := msg["payload"].([]any)
	if !ok {
		t.Fatalf("payload is not an array: %v", msg["payload"])
	}
	items := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		item, ok := r.(map[string]any)
		if !ok {
			t.Fatalf("payload item is not an object: %v", r)
		}
		items = append(items, item)
	}
	return items
}

func TestDispatchWireShape(t *testing.T) {
	sender := &recordingSender{}
	enc := NewEncoder(sender, nil)

	if err := enc.Dispatch("turn", map[string]any{"direction": "left"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	msg := sender.decoded(t, 0)
	if msg["type"] != "commands" {
		t.Errorf("expected type commands, got %v", msg["type"])
	}
	items := payloadItems(t, msg)
	if len(items) != 1 {
		t.Fatalf("expected 1 payload item, got %d", len(items))
	}
	if items[0]["action"] != "turn" || items[0]["direction"] != "left" {
		t.Errorf("unexpected payload item: %v", items[0])
	}
	if len(items[0]) != 2 {
		t.Errorf("expected only action and direction, got %v", items[0])
	}
}

func TestActionWinsOverParam(t *testing.T) {
	sender := &recordingSender{}
	enc := NewEncoder(sender, nil)

	enc.Dispatch("stop", map[string]any{"action": "accelerate", "speed": 200})

	item := payloadItems(t, sender.decoded(t, 0))[0]
	if item["action"] != "stop" {
		t.Errorf("expected action stop, got %v", item["action"])
	}
	if item["speed"] != float64(200) {
		t.Errorf("expected speed to be kept, got %v", item["speed"])
	}
}

func TestDispatchWithoutParams(t *testing.T) {
	sender := &recordingSender{}
	enc := NewEncoder(sender, nil)

	if err := enc.Dispatch("stop", nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	item := payloadItems(t, sender.decoded(t, 0))[0]
	if len(item) != 1 || item["action"] != "stop" {
		t.Errorf("unexpected payload item: %v", item)
	}
}

func TestDispatchRejectsEmptyAction(t *testing.T) {
	sender := &recordingSender{}
	enc := NewEncoder(sender, nil)

	if err := enc.Dispatch("", nil); !errors.Is(err, ErrEmptyAction) {
		t.Errorf("expected ErrEmptyAction, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected nothing sent, got %d", len(sender.sent))
	}
}

func TestDispatchPropagatesSendError(t *testing.T) {
	sender := &recordingSender{err: errOffline}
	enc := NewEncoder(sender, nil)

	err := enc.Dispatch("turn", map[string]any{"direction": "right"})
	if !errors.Is(err, errOffline) {
		t.Fatalf("expected wrapped sender error, got %v", err)
	}

	// Nothing is retried once the sender recovers
	sender.err = nil
	if len(sender.sent) != 0 {
		t.Errorf("expected no queued sends, got %d", len(sender.sent))
	}
}

func TestKeyTable(t *testing.T) {
	tests := []struct {
		key    string
		action string
		param  string
		value  any
	}{
		{"w", ActionAccelerate, "speed", float64(200)},
		{"W", ActionAccelerate, "speed", float64(200)},
		{"s", ActionAccelerate, "speed", float64(-200)},
		{"space", ActionAccelerate, "speed", float64(0)},
		{" ", ActionAccelerate, "speed", float64(0)},
		{"a", ActionTurn, "direction", "left"},
		{"d", ActionTurn, "direction", "right"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			sender := &recordingSender{}
			enc := NewEncoder(sender, nil)

			ok, err := enc.Key(tt.key)
			if err != nil || !ok {
				t.Fatalf("Key(%q) = %v, %v", tt.key, ok, err)
			}

			item := payloadItems(t, sender.decoded(t, 0))[0]
			if item["action"] != tt.action {
				t.Errorf("expected action %s, got %v", tt.action, item["action"])
			}
			if item[tt.param] != tt.value {
				t.Errorf("expected %s=%v, got %v", tt.param, tt.value, item[tt.param])
			}
		})
	}
}

func TestUnboundKeySendsNothing(t *testing.T) {
	sender := &recordingSender{}
	enc := NewEncoder(sender, nil)

	for _, key := range []string{"x", "", "ww", "enter"} {
		ok, err := enc.Key(key)
		if ok || err != nil {
			t.Errorf("Key(%q) = %v, %v; want false, nil", key, ok, err)
		}
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected nothing sent, got %d", len(sender.sent))
	}
}

func TestRapidKeysAreNotCoalesced(t *testing.T) {
	sender := &recordingSender{}
	enc := NewEncoder(sender, nil)

	for i := 0; i < 5; i++ {
		enc.Key("w")
	}
	if len(sender.sent) != 5 {
		t.Errorf("expected 5 independent messages, got %d", len(sender.sent))
	}
}

func TestHelpersClamp(t *testing.T) {
	if got := Accelerate(500).Params["speed"]; got != 200 {
		t.Errorf("Accelerate(500) speed = %v, want 200", got)
	}
	if got := Accelerate(-500).Params["speed"]; got != -200 {
		t.Errorf("Accelerate(-500) speed = %v, want -200", got)
	}
	if got := Brake(3).Params["intensity"]; got != 1.0 {
		t.Errorf("Brake(3) intensity = %v, want 1", got)
	}
	if got := Brake(-1).Params["intensity"]; got != 0.0 {
		t.Errorf("Brake(-1) intensity = %v, want 0", got)
	}
	if cmd := Stop(); cmd.Action != ActionStop || len(cmd.Params) != 0 {
		t.Errorf("unexpected stop command: %+v", cmd)
	}
}

func TestNewMessageEmptyPayload(t *testing.T) {
	data, err := json.Marshal(NewMessage())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"type":"commands","payload":[]}` {
		t.Errorf("unexpected message: %s", data)
	}
}
