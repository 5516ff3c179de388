package events

import (
	"sync"
	"sync/atomic"
)

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking event bus using the Publish/Subscribe pattern.
// Events are delivered asynchronously via buffered channels.
// If a subscriber's channel is full, the event is dropped for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	all         []chan Event
	bufferSize  int
	dropped     atomic.Int64
}

// NewBus creates a new event bus with the specified buffer size per subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for one event type. Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.start(fn)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs, ok := remove(b.subscribers[eventType], ch)
		if ok {
			b.subscribers[eventType] = subs
		}
	}
}

// SubscribeAll registers fn for every event type. Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.start(fn)
	b.all = append(b.all, ch)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs, ok := remove(b.all, ch)
		if ok {
			b.all = subs
		}
	}
}

func (b *Bus) start(fn Subscriber) chan Event {
	ch := make(chan Event, b.bufferSize)
	go func() {
		for event := range ch {
			func() {
				// a panicking subscriber must not take the bus down
				defer func() { _ = recover() }()
				fn(event)
			}()
		}
	}()
	return ch
}

func remove(subs []chan Event, ch chan Event) ([]chan Event, bool) {
	for i, c := range subs {
		if c == ch {
			close(ch)
			return append(subs[:i], subs[i+1:]...), true
		}
	}
	return subs, false
}

// Emit delivers e to the subscribers of its type and to catch-all subscribers.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[e.Type] {
		b.send(ch, e)
	}
	for _, ch := range b.all {
		b.send(ch, e)
	}
}

func (b *Bus) send(ch chan Event, e Event) {
	select {
	case ch <- e:
	default:
		b.dropped.Add(1)
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Publish builds an event and emits it.
func (b *Bus) Publish(eventType EventType, runID, documentID string, data map[string]any) {
	b.Emit(NewEvent(eventType, runID, documentID, data))
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
	for _, ch := range b.all {
		close(ch)
	}
	b.all = nil
}
