package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) add(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) get(i int) Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[i]
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	c := &collector{}
	unsub := bus.Subscribe(EventDocumentStarted, c.add)
	defer unsub()

	bus.Publish(EventDocumentStarted, "run_1", "doc_a", map[string]any{"wave": 1})

	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)
	e := c.get(0)
	assert.Equal(t, EventDocumentStarted, e.Type)
	assert.Equal(t, "run_1", e.RunID)
	assert.Equal(t, "doc_a", e.DocumentID)
	assert.Equal(t, 1, e.Data["wave"])
	assert.NotEmpty(t, e.ID)
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	started := &collector{}
	all := &collector{}
	bus.Subscribe(EventDocumentStarted, started.add)
	bus.SubscribeAll(all.add)

	bus.Publish(EventDocumentStarted, "r", "a", nil)
	bus.Publish(EventDocumentCompleted, "r", "a", nil)

	require.Eventually(t, func() bool { return all.len() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, started.len())
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	c1, c2 := &collector{}, &collector{}
	bus.Subscribe(EventWaveStarted, c1.add)
	bus.Subscribe(EventWaveStarted, c2.add)

	bus.Publish(EventWaveStarted, "r", "", nil)

	require.Eventually(t, func() bool { return c1.len() == 1 && c2.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBus_NonBlocking(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	block := make(chan struct{})
	bus.Subscribe(EventDocumentStarted, func(Event) { <-block })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			bus.Publish(EventDocumentStarted, "r", "a", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	close(block)
	assert.Positive(t, bus.Dropped())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	c := &collector{}
	unsub := bus.Subscribe(EventRunCompleted, c.add)
	unsub()
	unsub()

	bus.Publish(EventRunCompleted, "r", "", nil)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, c.len())
}

func TestBus_PanicRecovery(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	c := &collector{}
	bus.Subscribe(EventDocumentErrored, func(e Event) {
		if e.DocumentID == "boom" {
			panic("subscriber failure")
		}
		c.add(e)
	})

	bus.Publish(EventDocumentErrored, "r", "boom", nil)
	bus.Publish(EventDocumentErrored, "r", "ok", nil)

	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "ok", c.get(0).DocumentID)
}

func TestBus_EmitAfterClose(t *testing.T) {
	bus := NewBus(10)
	bus.SubscribeAll(func(Event) {})
	bus.Close()

	assert.NotPanics(t, func() { bus.Publish(EventRunCompleted, "r", "", nil) })
}

func TestMultiAndNop(t *testing.T) {
	r1, r2 := &Recorder{}, &Recorder{}
	sink := Multi(r1, nil, r2)
	sink.Emit(NewEvent(EventPlanComputed, "r", "", nil))

	assert.Len(t, r1.Events(), 1)
	assert.Len(t, r2.Events(), 1)

	assert.NotPanics(t, func() {
		Multi().Emit(Event{})
		OrNop(nil).Emit(Event{})
	})
}

func TestRecorder_Filters(t *testing.T) {
	r := &Recorder{}
	r.Emit(NewEvent(EventDocumentStarted, "r", "a", nil))
	r.Emit(NewEvent(EventDocumentStarted, "r", "b", nil))
	r.Emit(NewEvent(EventDocumentCompleted, "r", "a", nil))

	assert.Equal(t, []EventType{EventDocumentStarted, EventDocumentStarted, EventDocumentCompleted}, r.Types())
	assert.Len(t, r.For("a"), 2)
}

func TestEventTypes(t *testing.T) {
	seen := map[EventType]bool{}
	for _, et := range AllEventTypes {
		assert.False(t, seen[et], "duplicate %s", et)
		seen[et] = true
	}
	assert.Len(t, seen, 11)
}
