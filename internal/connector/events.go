package connector

import (
	"sync"
	"time"
)

// EventKind classifies connector events.
type EventKind string

const (
	EventConnectivity EventKind = "connectivity"
	EventState        EventKind = "state"
	EventName         EventKind = "name"
	EventVersion      EventKind = "version"
	EventPhoneControl EventKind = "phone_control"
	EventMusicControl EventKind = "music_control"
	EventAppMessage   EventKind = "app_message"
)

// Event is the JSON envelope delivered to subscribers.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	State     string    `json:"state,omitempty"`
	Connected bool      `json:"connected"`
	Name      string    `json:"name,omitempty"`
	Serial    string    `json:"serial,omitempty"`
	Firmware  string    `json:"firmware,omitempty"`
	Action    string    `json:"action,omitempty"`
	Cookie    uint32    `json:"cookie,omitempty"`
	App       string    `json:"app,omitempty"`
	Items     int       `json:"items,omitempty"`
}

type subscriber struct {
	ch chan Event
}

// EventBus fans events out to subscribers. A subscriber whose buffer is
// full misses the event.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	buffer int
}

func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventBus{subs: make(map[*subscriber]struct{}), buffer: buffer}
}

// Subscribe returns a receive channel and a func that unsubscribes and
// closes it.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, b.buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

func (b *EventBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
