package transport

import (
	"container/list"
	"sync"

	"github.com/zeebo/blake3"
)

// DefaultDedupeSize bounds the dedupe window when none is configured.
const DefaultDedupeSize = 256

// Dedupe remembers the fingerprints of the most recent payloads.
type Dedupe struct {
	mu    sync.Mutex
	size  int
	order *list.List
	seen  map[[32]byte]*list.Element
}

func NewDedupe(size int) *Dedupe {
	if size <= 0 {
		size = DefaultDedupeSize
	}
	return &Dedupe{
		size:  size,
		order: list.New(),
		seen:  make(map[[32]byte]*list.Element, size),
	}
}

// Seen records payload and reports whether it was already in the window.
func (d *Dedupe) Seen(payload []byte) bool {
	key := blake3.Sum256(payload)

	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[key]; ok {
		d.order.MoveToFront(el)
		return true
	}
	d.seen[key] = d.order.PushFront(key)
	if d.order.Len() > d.size {
		oldest := d.order.Back()
		d.order.Remove(oldest)
		delete(d.seen, oldest.Value.([32]byte))
	}
	return false
}

// Len returns the number of fingerprints held.
func (d *Dedupe) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}
