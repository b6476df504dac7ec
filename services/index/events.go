package index

import (
	"sync"
	"time"
)

type EventType string

const (
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventBusy      EventType = "busy"
)

const defaultSubscriberBuffer = 64

type Counters struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Removed   int `json:"removed"`
}

type Event struct {
	Type     EventType `json:"type"`
	RunID    string    `json:"run_id,omitempty"`
	State    State     `json:"state,omitempty"`
	Current  int       `json:"current"`
	Total    int       `json:"total"`
	Progress int       `json:"progress"`
	Counters Counters  `json:"counters"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// Terminal events end a run, or report that a trigger was refused.
func (e Event) Terminal() bool {
	return e.Type != EventProgress
}

// Broadcaster fans events out to every subscriber without ever blocking the
// publisher. Progress events are dropped for a subscriber whose buffer is
// full; terminal events evict the oldest buffered event instead.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
	buffer      int
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broadcaster{subscribers: make(map[int]chan Event), buffer: buffer}
}

// Subscribe returns a channel of future events and a function that
// unsubscribes and closes it.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

func (b *Broadcaster) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
			continue
		default:
		}

		if !event.Terminal() {
			continue
		}

		select {
		case <-ch:
		default:
		}
		select {
		case ch <- event:
		default:
		}
	}
}
