// Package events is the in-process bus between transports and the router.
//
// Publish delivers an event synchronously to every subscriber registered for
// any type in the event's type chain, so a subscription to "message" also
// receives "message.group". Subscribers run in the order they subscribed. The hub also keeps a ring buffer of recent event
// summaries for late watchers (the HTTP /events stream).
package events

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/murmur/internal/diagnostics"
	"github.com/mattjoyce/murmur/internal/event"
	"github.com/mattjoyce/murmur/internal/log"
)

// Record summarises one published event.
type Record struct {
	ID   int64           `json:"id"`
	Type event.Type      `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Subscriber receives published events.
type Subscriber func(ev event.Event)

type subscription struct {
	id int
	fn Subscriber
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	nextID atomic.Int64
	logger *slog.Logger

	mu    sync.Mutex
	ring  []Record
	start int
	size  int

	subs      map[event.Type][]subscription
	watchers  map[int]chan Record
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		logger:   log.WithComponent("events"),
		ring:     make([]Record, capacity),
		subs:     make(map[event.Type][]subscription),
		watchers: make(map[int]chan Record),
	}
}

// Subscribe registers fn for events of type t and its descendants. The
// returned function removes the subscription.
func (h *Hub) Subscribe(t event.Type, fn Subscriber) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	h.subs[t] = append(h.subs[t], subscription{id: id, fn: fn})

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		list := h.subs[t]
		for i, s := range list {
			if s.id == id {
				h.subs[t] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish records ev and delivers it on the calling goroutine in subscription
// order, whichever type in the chain each subscriber chose. A panicking
// subscriber is logged and does not stop delivery.
func (h *Hub) Publish(ev event.Event) {
	rec := Record{
		ID:   h.nextID.Add(1),
		Type: ev.Type(),
		At:   time.Now().UTC(),
		Data: json.RawMessage("{}"),
	}
	if b, err := json.Marshal(ev.Raw()); err == nil {
		rec.Data = b
	}

	h.mu.Lock()
	h.pushLocked(rec)
	for _, ch := range h.watchers {
		// Don't let slow watchers block producers.
		select {
		case ch <- rec:
		default:
		}
	}
	var targets []subscription
	for _, t := range ev.Types() {
		targets = append(targets, h.subs[t]...)
	}
	h.mu.Unlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	for _, s := range targets {
		h.deliver(s.fn, ev)
	}
}

func (h *Hub) deliver(fn Subscriber, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("subscriber panicked", "event_type", ev.Type(), "error", diagnostics.PanicError(r))
		}
	}()
	fn(ev)
}

// Watch streams records of future publishes until cancel is called.
func (h *Hub) Watch() (<-chan Record, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Record, 128)
	h.watchers[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.watchers[id]; ok {
			delete(h.watchers, id)
			close(c)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// SnapshotSince returns buffered records with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastID int64) []Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Record, 0, h.size)
	for i := 0; i < h.size; i++ {
		rec := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || rec.ID > lastID {
			out = append(out, rec)
		}
	}
	return out
}

// Published returns the number of events published so far.
func (h *Hub) Published() int64 {
	return h.nextID.Load()
}

func (h *Hub) pushLocked(rec Record) {
	capacity := len(h.ring)
	if capacity == 0 {
		return
	}

	if h.size < capacity {
		idx := (h.start + h.size) % capacity
		h.ring[idx] = rec
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = rec
	h.start = (h.start + 1) % capacity
}
