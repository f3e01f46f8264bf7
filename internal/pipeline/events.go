package pipeline

import (
	"sync"
	"time"

	"upload-ai/internal/domain"
)

// EventType classifies messages emitted during a pipeline run.
type EventType string

const (
	EventTypeStatus    EventType = "status"
	EventTypeProgress  EventType = "progress"
	EventTypeSelection EventType = "selection"
	EventTypeResult    EventType = "result"
	EventTypeError     EventType = "error"
)

// Event is a sequenced payload consumed by UI subscribers.
type Event struct {
	Seq        int64                `json:"seq"`
	Timestamp  time.Time            `json:"timestamp"`
	RunID      string               `json:"runId,omitempty"`
	Type       EventType            `json:"type"`
	State      domain.PipelineState `json:"state,omitempty"`
	Label      string               `json:"label,omitempty"`
	Stage      domain.PipelineState `json:"stage,omitempty"`
	Progress   float64              `json:"progress,omitempty"`
	Message    string               `json:"message,omitempty"`
	VideoID    string               `json:"videoId,omitempty"`
	PreviewRef string               `json:"previewRef,omitempty"`
}

// EventBus stores recent events, provides incremental reads, and fans
// events out to live subscribers.
type EventBus struct {
	mu          sync.RWMutex
	nextSeq     int64
	maxEvents   int
	events      []Event
	nextSub     int
	subscribers map[int]chan Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents:   maxEvents,
		events:      make([]Event, 0, maxEvents),
		subscribers: make(map[int]chan Event),
	}
}

// Publish appends one event, assigns sequence and timestamp, and delivers
// it to subscribers. A subscriber whose buffer is full misses the event
// and can catch up with Since.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.State != "" && event.Label == "" {
		event.Label = event.State.Label()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// LastSeq returns the sequence of the newest published event.
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}

// Subscribe registers a live listener. The returned cancel func closes the
// channel and must be called once the listener is done.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
