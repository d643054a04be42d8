package events

// ring is a fixed-capacity FIFO of events that overwrites its oldest entry
// when full. It is not safe for concurrent use; callers hold their own lock.
type ring struct {
	buf  []Event
	head int // index of the oldest event
	size int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]Event, capacity)}
}

// push appends e and reports whether the oldest event was overwritten.
func (r *ring) push(e Event) (evicted bool) {
	if r.size == len(r.buf) {
		r.buf[r.head] = e
		r.head = (r.head + 1) % len(r.buf)
		return true
	}
	r.buf[(r.head+r.size)%len(r.buf)] = e
	r.size++
	return false
}

// drain removes and returns every buffered event, oldest first.
func (r *ring) drain() []Event {
	out := r.snapshot()
	for i := range r.buf {
		r.buf[i] = Event{}
	}
	r.head, r.size = 0, 0
	return out
}

// snapshot returns the buffered events, oldest first, without removing them.
func (r *ring) snapshot() []Event {
	out := make([]Event, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// oldest returns the first buffered event.
func (r *ring) oldest() (Event, bool) {
	if r.size == 0 {
		return Event{}, false
	}
	return r.buf[r.head], true
}

func (r *ring) len() int { return r.size }
