package relay

import (
	"sync"
)

// Outbox is a bounded FIFO of encoded frames for one connection. Push never
// blocks: when full, the oldest frame is discarded.
type Outbox struct {
	mu     sync.Mutex
	queue  [][]byte
	head   int
	size   int
	closed bool

	// notify has capacity 1 and is signalled after every accepted push.
	notify chan struct{}
}

// NewOutbox creates an Outbox holding at most capacity frames.
func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = 1
	}
	return &Outbox{
		queue:  make([][]byte, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push enqueues frame. It reports whether the frame was accepted and whether
// an older frame was dropped to make room. A closed Outbox accepts nothing.
func (o *Outbox) Push(frame []byte) (accepted, dropped bool) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false, false
	}

	capacity := len(o.queue)
	if o.size == capacity {
		o.queue[o.head] = nil
		o.head = (o.head + 1) % capacity
		o.size--
		dropped = true
	}
	o.queue[(o.head+o.size)%capacity] = frame
	o.size++
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return true, dropped
}

// Drain removes and returns every queued frame in order.
func (o *Outbox) Drain() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.size == 0 {
		return nil
	}
	capacity := len(o.queue)
	out := make([][]byte, o.size)
	for i := 0; i < o.size; i++ {
		idx := (o.head + i) % capacity
		out[i] = o.queue[idx]
		o.queue[idx] = nil
	}
	o.head, o.size = 0, 0
	return out
}

// Ready is signalled when frames may be available.
func (o *Outbox) Ready() <-chan struct{} {
	return o.notify
}

// Len returns the number of queued frames.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.size
}

// Close rejects further pushes and discards queued frames.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	for i := range o.queue {
		o.queue[i] = nil
	}
	o.size = 0
}

// Closed reports whether Close has been called.
func (o *Outbox) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
