package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/silviot/vehiclelink/pkg/bus"
	"github.com/silviot/vehiclelink/pkg/command"
	"github.com/silviot/vehiclelink/pkg/frame"
	"github.com/silviot/vehiclelink/pkg/link"
	"github.com/silviot/vehiclelink/pkg/signs"
	"github.com/silviot/vehiclelink/pkg/telemetry"
	"github.com/silviot/vehiclelink/pkg/vehicle"
)

// ErrClosed is returned by writes after Close
var ErrClosed = errors.New("channel closed")

// Config holds channel configuration
type Config struct {
	Logger  *slog.Logger
	Catalog *signs.Catalog  // Known signs; signs.Default() when nil
	Bus     bus.MessageBus  // Optional change notifications
	Initial *vehicle.Config // Starting settings; vehicle.Default() when nil
	Link    link.Config
}

// Status is a snapshot of the link as seen by collaborators
type Status struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	LinkID    string `json:"linkId,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
}

// Stats counts channel activity
type Stats struct {
	Link         link.Stats
	Frames       frame.Stats
	ConfigPushes int64
	SignalSets   int64
}

// Channel is the single integration point for one vehicle. Writes are
// serialized through one loop goroutine that also consumes link events;
// reads are lock-free snapshots.
type Channel struct {
	link    *link.Manager
	encoder *command.Encoder
	catalog *signs.Catalog
	bus     bus.MessageBus
	logger  *slog.Logger

	config  atomic.Pointer[vehicle.Config]
	signals atomic.Pointer[telemetry.SignalSet]

	ops       chan func()
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	pushes     atomic.Int64
	signalSets atomic.Int64
}

// New creates a channel and starts its loop. When the initial config carries
// an endpoint, dialing starts right away.
func New(cfg Config) (*Channel, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = signs.Default()
	}
	initial := vehicle.Default()
	if cfg.Initial != nil {
		initial = *cfg.Initial
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	if cfg.Link.Logger == nil {
		cfg.Link.Logger = cfg.Logger
	}

	lm := link.NewManager(cfg.Link)
	ctx, cancel := context.WithCancel(context.Background())

	c := &Channel{
		link:    lm,
		encoder: command.NewEncoder(lm, cfg.Logger),
		catalog: cfg.Catalog,
		bus:     cfg.Bus,
		logger:  cfg.Logger,
		ops:     make(chan func()),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.config.Store(&initial)
	empty := telemetry.EmptySet()
	c.signals.Store(&empty)

	go c.run()

	if initial.CarConnection != "" {
		if err := c.do(func() error {
			c.applyEndpoint(initial.CarConnection)
			return nil
		}); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// run is the single owner of channel writes
func (c *Channel) run() {
	defer close(c.done)

	events := c.link.Events()
	for {
		select {
		case <-c.ctx.Done():
			return
		case op := <-c.ops:
			op()
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ev)
		}
	}
}

// do runs op on the loop goroutine and waits for its result
func (c *Channel) do(op func() error) error {
	result := make(chan error, 1)
	select {
	case c.ops <- func() { result <- op() }:
	case <-c.ctx.Done():
		return ErrClosed
	}
	return <-result
}

func (c *Channel) handleEvent(ev link.Event) {
	switch ev.Kind {
	case link.EventReady:
		if ev.LinkID != c.link.LinkID() {
			c.logger.Debug("ignoring ready from replaced socket", "link_id", ev.LinkID)
			return
		}
		c.pushConfig("handshake")
		c.publishStatus()

	case link.EventClosed:
		if ev.Err != nil {
			c.logger.Warn("vehicle link lost", "url", ev.Endpoint, "link_id", ev.LinkID, "error", ev.Err)
		}
		c.publishStatus()

	case link.EventSignals:
		if ev.LinkID != c.link.LinkID() {
			return
		}
		set := telemetry.Correlate(c.catalog, ev.Signals)
		c.signals.Store(&set)
		c.signalSets.Add(1)
		c.publish(bus.TopicSignals, set)
	}
}

// pushConfig sends the full current config. Failures are logged only.
func (c *Channel) pushConfig(reason string) {
	cfg := c.config.Load()
	if err := c.link.Send(cfg.Message()); err != nil {
		c.logger.Warn("config push failed", "reason", reason, "error", err)
		return
	}
	c.pushes.Add(1)
	c.logger.Info("config pushed", "reason", reason, "link_id", c.link.LinkID(),
		"speed_limit", cfg.SpeedLimit, "drive_mode", cfg.DriveMode)
}

// applyEndpoint hands endpoint to the link. An invalid endpoint is logged,
// not returned: the config stays accepted and nothing is dialed.
func (c *Channel) applyEndpoint(endpoint string) {
	err := c.link.SetEndpoint(endpoint)
	switch {
	case err == nil:
	case errors.Is(err, link.ErrInvalidEndpoint):
		if endpoint != "" {
			c.logger.Warn("not dialing vehicle", "error", err)
		}
	default:
		c.logger.Error("failed to set vehicle endpoint", "url", endpoint, "error", err)
	}
	c.publishStatus()
}

// SetConfig replaces the whole config record. A rejected record leaves the
// current one untouched. A changed endpoint is redialed; a change to speed
// limit, steering sensitivity or PID gains is pushed when connected.
func (c *Channel) SetConfig(next vehicle.Config) error {
	if err := next.Validate(); err != nil {
		return err
	}

	return c.do(func() error {
		prev := c.config.Load()
		c.config.Store(&next)
		c.logger.Debug("config replaced", "speed_limit", next.SpeedLimit, "drive_mode", next.DriveMode)

		if next.CarConnection != prev.CarConnection {
			c.applyEndpoint(next.CarConnection)
		}

		if next.ChangePushDiffers(*prev) {
			if c.link.IsConnected() {
				c.pushConfig("change")
			} else {
				c.logger.Debug("config change not pushed", "reason", "not connected")
			}
		}

		c.publish(bus.TopicConfig, next)
		return nil
	})
}

// Reconnect redials the configured endpoint. It is a no-op while that
// endpoint is already connecting or connected.
func (c *Channel) Reconnect() error {
	return c.do(func() error {
		endpoint := c.config.Load().CarConnection
		err := c.link.SetEndpoint(endpoint)
		c.publishStatus()
		if err != nil {
			return fmt.Errorf("reconnect: %w", err)
		}
		return nil
	})
}

// Dispatch sends one command immediately. While disconnected it fails with
// link.ErrNotConnected and the command is dropped.
func (c *Channel) Dispatch(action string, params map[string]any) error {
	return c.do(func() error {
		return c.encoder.Dispatch(action, params)
	})
}

// PressKey sends the command bound to key. It reports false when the key
// is not bound.
func (c *Channel) PressKey(key string) (bool, error) {
	var bound bool
	err := c.do(func() error {
		var err error
		bound, err = c.encoder.Key(key)
		return err
	})
	return bound, err
}

// Connected reports whether the link is open
func (c *Channel) Connected() bool {
	return c.link.IsConnected()
}

// State returns the link lifecycle state
func (c *Channel) State() link.State {
	return c.link.State()
}

// Status returns a snapshot of the link
func (c *Channel) Status() Status {
	state := c.link.State()
	return Status{
		State:     state.String(),
		Connected: state == link.Connected,
		LinkID:    c.link.LinkID(),
		Endpoint:  c.link.Endpoint(),
	}
}

// Frame returns the most recent frame. It stays available after a disconnect.
func (c *Channel) Frame() (*frame.Frame, bool) {
	return c.link.Frames().Latest()
}

// Signals returns the latest recognized signal set
func (c *Channel) Signals() telemetry.SignalSet {
	return *c.signals.Load()
}

// Config returns the current config record
func (c *Channel) Config() vehicle.Config {
	return *c.config.Load()
}

// Catalog returns the known signs
func (c *Channel) Catalog() *signs.Catalog {
	return c.catalog
}

// Stats returns activity counters
func (c *Channel) Stats() Stats {
	return Stats{
		Link:         c.link.Stats(),
		Frames:       c.link.Frames().Stats(),
		ConfigPushes: c.pushes.Load(),
		SignalSets:   c.signalSets.Load(),
	}
}

func (c *Channel) publishStatus() {
	if c.bus == nil {
		return
	}
	s := c.Status()
	c.bus.Publish(bus.TopicStatus, bus.StatusEvent{
		State:     s.State,
		Connected: s.Connected,
		LinkID:    s.LinkID,
		Endpoint:  s.Endpoint,
		Timestamp: time.Now(),
	})
}

func (c *Channel) publish(topic string, msg any) {
	if c.bus != nil {
		c.bus.Publish(topic, msg)
	}
}

// Close tears down the link and stops the loop
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		c.link.Close()
		c.logger.Info("vehicle channel closed")
	})
	return nil
}
