package bus

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/cskr/pubsub"
)

// queueDepth bounds each subscriber's backlog. A full scan result burst is a
// handful of messages, so a slow printer only stalls publishers when it falls
// far behind.
const queueDepth = 128

// Subscription delivers messages for the topics it was created with, in the
// order they were published. It is closed when the bus shuts down or all of
// its topics are unsubscribed.
type Subscription chan any

// MessageBus carries connection status, scan events and raw line traffic
// between the session pipeline and its consumers (CLI printer, runtime
// status cache). Topic names live in the connectors package.
type MessageBus interface {
	Publish(topic string, msg any)
	Subscribe(topics ...string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

// PubSubBus is the in-process MessageBus.
type PubSubBus struct {
	ps     *pubsub.PubSub
	logger *slog.Logger
}

func New(logger *slog.Logger) *PubSubBus {
	return &PubSubBus{
		ps:     pubsub.New(queueDepth),
		logger: logger,
	}
}

func (b *PubSubBus) Publish(topic string, msg any) {
	b.logger.Debug("publish", "topic", topic, "payload_type", payloadType(msg))
	b.ps.Pub(msg, topic)
}

// Subscribe returns one channel fed by every listed topic. A consumer that
// needs scan.started to precede its scan.result should subscribe to both on
// the same channel; separate subscriptions give no cross-topic ordering.
func (b *PubSubBus) Subscribe(topics ...string) Subscription {
	ch := b.ps.Sub(topics...)
	b.logger.Debug("subscribe", "topics", topics)
	return ch
}

// Unsubscribe drops the listed topics, or every topic when none are given.
func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		b.logger.Debug("unsubscribe", "mode", "all")
		return
	}
	b.ps.Unsub(ch, topics...)
	b.logger.Debug("unsubscribe", "topics", topics)
}

// Close shuts the bus down and closes every subscription.
func (b *PubSubBus) Close() {
	b.ps.Shutdown()
}

// Listen calls fn for every message on sub until ctx is done or sub closes.
// The subscription stays registered; ctx is expected to outlive the bus.
func Listen(ctx context.Context, sub Subscription, fn func(msg any)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			fn(msg)
		}
	}
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
