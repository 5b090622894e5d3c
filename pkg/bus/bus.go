// Package bus fans out channel change notifications (link status, recognized
// signals, config) to collaborators that do not own the channel.
package bus

import (
	"log/slog"
	"reflect"
	"time"

	"github.com/cskr/pubsub"
)

// Topics published by the channel
const (
	TopicStatus  = "link.status"
	TopicSignals = "signals"
	TopicConfig  = "config"
)

// StatusEvent is published on TopicStatus whenever the link state changes
type StatusEvent struct {
	State     string    `json:"state"`
	Connected bool      `json:"connected"`
	LinkID    string    `json:"linkId,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscription receives the messages of the topics it was created for.
// It is closed when unsubscribed from every topic or when the bus closes.
type Subscription chan any

// MessageBus fans out change notifications to collaborators.
// Publish blocks while a subscriber's buffer is full, so subscribers must keep draining.
type MessageBus interface {
	Publish(topic string, msg any)
	Subscribe(topics ...string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

// PubSubBus is a MessageBus backed by cskr/pubsub
type PubSubBus struct {
	ps     *pubsub.PubSub
	logger *slog.Logger
}

// New creates a bus whose subscriptions buffer up to 128 messages
func New(logger *slog.Logger) *PubSubBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &PubSubBus{
		ps:     pubsub.New(128),
		logger: logger,
	}
}

// Publish delivers msg to every subscriber of topic
func (b *PubSubBus) Publish(topic string, msg any) {
	b.logger.Debug("publish", "topic", topic, "payload_type", payloadType(msg))
	b.ps.Pub(msg, topic)
}

// Subscribe returns a subscription to topics
func (b *PubSubBus) Subscribe(topics ...string) Subscription {
	ch := b.ps.Sub(topics...)
	b.logger.Debug("subscribe", "topics", topics)
	return ch
}

// Unsubscribe removes ch from topics, or from all topics when none are given.
// It must not be called from the goroutine draining ch.
func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		b.logger.Debug("unsubscribe", "mode", "all")
		return
	}
	b.ps.Unsub(ch, topics...)
	b.logger.Debug("unsubscribe", "topics", topics)
}

// Close shuts the bus down and closes every subscription
func (b *PubSubBus) Close() {
	b.ps.Shutdown()
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
