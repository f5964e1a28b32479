// Package eventbus is an in-process, channel-keyed pub/sub fabric. It
// generalizes the CloudEvents-shaped bus used elsewhere in this lineage to a
// plain channel-plus-message contract: publishers call Publish(channel, msg)
// and subscribers drain a bounded per-subscriber queue until they
// Unsubscribe.
package eventbus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultBufferSize = 100

// Required channel names. C12 additionally fans out a free-form "commands"
// ingress that does not flow through Bus at all (clients publish directly
// into the HTTP/websocket layer).
const (
	ChannelGridState     = "grid_state"
	ChannelAgentLog      = "agent_log"
	ChannelGuardianEvent = "guardian_event"
)

// Message is the envelope delivered to subscribers. Timestamp is
// auto-attached by Publish when the caller's payload is a map lacking one.
type Message struct {
	Channel   string
	Payload   any
	Timestamp time.Time
}

// Bus is a multi-channel, multi-subscriber publish/subscribe fabric with
// bounded, drop-on-full subscriber queues.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Message
	bufferSize  int
	dropped     atomic.Int64
}

// New constructs a Bus with the default per-subscriber buffer size.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan Message),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe returns a channel receiving every message published on channel
// from this point forward. Channel membership changes are serialized
// against each other under mu, never against Publish, which only ever
// takes a read lock to snapshot the current subscriber list.
func (b *Bus) Subscribe(channel string) chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, b.bufferSize)
	b.subscribers[channel] = append(b.subscribers[channel], ch)
	return ch
}

// Unsubscribe removes and closes ch from channel's subscriber list. Safe to
// call more than once; a second call is a no-op.
func (b *Bus) Unsubscribe(channel string, ch chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[channel]
	for i, s := range subs {
		if s == ch {
			b.subscribers[channel] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish delivers payload to every current subscriber of channel. Any
// map[string]any payload lacking a "timestamp" key gets one auto-attached.
// A subscriber whose queue is already full has the message dropped for it
// alone; other subscribers are unaffected and Publish never blocks.
func (b *Bus) Publish(channel string, payload any) {
	if m, ok := payload.(map[string]any); ok {
		if _, hasTS := m["timestamp"]; !hasTS {
			m["timestamp"] = time.Now()
		}
	}

	msg := Message{Channel: channel, Payload: payload, Timestamp: time.Now()}

	b.mu.RLock()
	subs := append([]chan Message(nil), b.subscribers[channel]...)
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("eventbus: subscriber queue full, dropping message", "channel", channel)
		}
	}
}

// DroppedCount returns the cumulative number of messages dropped across all
// channels and subscribers. It is not exported as a Prometheus metric.
func (b *Bus) DroppedCount() int64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscribers on channel,
// mainly for diagnostics and tests.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[channel])
}
