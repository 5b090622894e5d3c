package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// TypeCommands is the envelope type of outbound command messages
const TypeCommands = "commands"

// Actions understood by the vehicle
const (
	ActionAccelerate = "accelerate"
	ActionTurn       = "turn"
	ActionBrake      = "brake"
	ActionStop       = "stop"
)

// Turn directions
const (
	Left   = "left"
	Right  = "right"
	Center = "center"
)

// MaxSpeed bounds the speed parameter of an accelerate command in both directions
const MaxSpeed = 200

var ErrEmptyAction = errors.New("empty command action")

// Command is a single vehicle command
type Command struct {
	Action string
	Params map[string]any
}

// MarshalJSON flattens the command into one payload item. The action field
// wins over a param with the same name.
func (c Command) MarshalJSON() ([]byte, error) {
	item := make(map[string]any, len(c.Params)+1)
	for k, v := range c.Params {
		item[k] = v
	}
	item["action"] = c.Action
	return json.Marshal(item)
}

// Message is the outbound commands envelope
type Message struct {
	Type    string    `json:"type"`
	Payload []Command `json:"payload"`
}

// NewMessage wraps commands into a commands envelope
func NewMessage(cmds ...Command) Message {
	if cmds == nil {
		cmds = []Command{}
	}
	return Message{Type: TypeCommands, Payload: cmds}
}

// Accelerate sets the target speed, clamped to [-MaxSpeed, MaxSpeed]
func Accelerate(speed int) Command {
	speed = max(-MaxSpeed, min(MaxSpeed, speed))
	return Command{Action: ActionAccelerate, Params: map[string]any{"speed": speed}}
}

// Turn steers towards direction
func Turn(direction string) Command {
	return Command{Action: ActionTurn, Params: map[string]any{"direction": direction}}
}

// Brake applies the brake with intensity clamped to [0, 1]
func Brake(intensity float64) Command {
	intensity = max(0, min(1, intensity))
	return Command{Action: ActionBrake, Params: map[string]any{"intensity": intensity}}
}

// Stop halts the vehicle
func Stop() Command {
	return Command{Action: ActionStop}
}

// keyTable is the manual-control key mapping
var keyTable = map[string]func() Command{
	"w":     func() Command { return Accelerate(MaxSpeed) },
	"s":     func() Command { return Accelerate(-MaxSpeed) },
	"space": func() Command { return Accelerate(0) },
	" ":     func() Command { return Accelerate(0) },
	"a":     func() Command { return Turn(Left) },
	"d":     func() Command { return Turn(Right) },
}

// Lookup returns the command bound to key. Keys are case-insensitive.
func Lookup(key string) (Command, bool) {
	if key != " " {
		key = strings.ToLower(strings.TrimSpace(key))
	}
	build, ok := keyTable[key]
	if !ok {
		return Command{}, false
	}
	return build(), true
}

// Keys returns the bound keys in display order
func Keys() []string {
	return []string{"w", "s", "space", "a", "d"}
}

// Sender delivers one outbound message
type Sender interface {
	Send(v any) error
}

// Encoder turns actions and key presses into command messages
type Encoder struct {
	sender Sender
	logger *slog.Logger
}

// NewEncoder creates an encoder that writes through sender
func NewEncoder(sender Sender, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{sender: sender, logger: logger}
}

// Send sends cmd immediately. Nothing is queued or coalesced.
func (e *Encoder) Send(cmd Command) error {
	if cmd.Action == "" {
		return ErrEmptyAction
	}
	if err := e.sender.Send(NewMessage(cmd)); err != nil {
		e.logger.Debug("command not sent", "action", cmd.Action, "error", err)
		return fmt.Errorf("send %s: %w", cmd.Action, err)
	}
	e.logger.Debug("command sent", "action", cmd.Action)
	return nil
}

// Dispatch sends a single command built from action and params
func (e *Encoder) Dispatch(action string, params map[string]any) error {
	return e.Send(Command{Action: action, Params: params})
}

// Key sends the command bound to key. It reports false, without sending,
// when the key is not bound.
func (e *Encoder) Key(key string) (bool, error) {
	cmd, ok := Lookup(key)
	if !ok {
		return false, nil
	}
	return true, e.Send(cmd)
}
