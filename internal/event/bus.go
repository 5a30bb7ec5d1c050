package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// EventType identifies a topic on the bus.
type EventType string

const (
	PermissionUpdated    EventType = "permission.updated"
	PermissionReplied    EventType = "permission.replied"
	TaskStarted          EventType = "background_task.started"
	TaskUpdated          EventType = "background_task.updated"
	TaskCompleted        EventType = "background_task.completed"
	TaskApprovalRequired EventType = "background_task.approval_required"
	SandboxStarted       EventType = "sandbox.started"
	SandboxStopped       EventType = "sandbox.stopped"
)

// AllTypes lists every topic the bus carries, for consumers that want the
// full feed off the watermill channel.
var AllTypes = []EventType{
	PermissionUpdated,
	PermissionReplied,
	TaskStarted,
	TaskUpdated,
	TaskCompleted,
	TaskApprovalRequired,
	SandboxStarted,
	SandboxStopped,
}

// Event is a single published event.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

// subscriberEntry wraps a subscriber with an ID so it can be removed.
type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus is the in-process pub/sub bus. Typed subscribers are dispatched via
// direct calls so payload types survive intact; every event is additionally
// mirrored as JSON onto a watermill gochannel, which streaming consumers
// (audit journal) read topic by topic.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	topics map[EventType][]subscriberEntry
	global []subscriberEntry

	nextID       uint64
	closed       bool
	closedCtx    context.Context
	closedCancel context.CancelFunc
}

// globalBus is the default bus instance used by the package-level functions.
var globalBus = newBus()

func newBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		topics:       make(map[EventType][]subscriberEntry),
		closedCtx:    ctx,
		closedCancel: cancel,
	}
}

// NewBus creates an isolated bus instance. Orchestrator state objects own
// their bus rather than sharing the global one.
func NewBus() *Bus {
	return newBus()
}

// Global returns the process-wide default bus.
func Global() *Bus {
	return globalBus
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber for a topic on the global bus.
// Returns an unsubscribe function.
func Subscribe(eventType EventType, fn Subscriber) func() {
	return globalBus.Subscribe(eventType, fn)
}

func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.topics[eventType] = append(b.topics[eventType], subscriberEntry{id: id, fn: fn})

	return func() {
		b.remove(eventType, id)
	}
}

// SubscribeAll registers a subscriber for every topic on the global bus.
// Returns an unsubscribe function.
func SubscribeAll(fn Subscriber) func() {
	return globalBus.SubscribeAll(fn)
}

func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() {
		b.removeGlobal(id)
	}
}

func (b *Bus) remove(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[eventType]
	for i, entry := range subs {
		if entry.id == id {
			b.topics[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) removeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			return
		}
	}
}

// collect snapshots the subscribers for one event under the read lock.
func (b *Bus) collect(eventType EventType) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	subs := make([]Subscriber, 0, len(b.topics[eventType])+len(b.global))
	for _, entry := range b.topics[eventType] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	return subs
}

// Publish sends an event on the global bus.
func Publish(event Event) {
	globalBus.Publish(event)
}

// Publish delivers the event to every subscriber asynchronously. Each
// subscriber runs in its own goroutine; a slow subscriber never blocks the
// publisher.
func (b *Bus) Publish(event Event) {
	for _, sub := range b.collect(event.Type) {
		go sub(event)
	}
	go b.mirror(event)
}

// PublishSync sends an event on the global bus synchronously.
func PublishSync(event Event) {
	globalBus.PublishSync(event)
}

// PublishSync delivers the event to every subscriber in the calling
// goroutine before returning. Used by tests that need deterministic order.
func (b *Bus) PublishSync(event Event) {
	for _, sub := range b.collect(event.Type) {
		sub(event)
	}
	b.mirror(event)
}

// mirror republishes the event as JSON on the watermill channel, one topic
// per event type. Streaming consumers like the audit journal subscribe
// there so they get a serialized, ack-tracked feed without ever holding up
// the in-process subscribers.
func (b *Bus) mirror(event Event) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	// Publish fails only when the channel is closing under us.
	_ = b.pubsub.Publish(string(event.Type), msg)
}

// Reset replaces the global bus with a fresh instance (for testing).
func Reset() {
	globalBus.mu.Lock()
	globalBus.closed = true
	globalBus.closedCancel()
	globalBus.mu.Unlock()

	_ = globalBus.pubsub.Close()

	// Give in-flight subscriber goroutines a moment to finish
	time.Sleep(10 * time.Millisecond)

	globalBus = newBus()
}

// Close shuts the bus down. Further publishes and subscribes are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.closedCancel()

	b.topics = make(map[EventType][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}

// PubSub returns the underlying watermill GoChannel. Subscribing to a topic
// there yields the JSON mirror of every event published after the
// subscription, suitable for streaming to disk or over the wire.
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}

// PubSub returns the global bus's underlying watermill GoChannel.
func PubSub() *gochannel.GoChannel {
	return globalBus.PubSub()
}
