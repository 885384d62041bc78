package flightrecorder

import "github.com/tanayshah11/mercury-stream/internal/ticker"

// Ring is a fixed-capacity circular buffer of events, owned by a single
// task (the Forensics consumer). Pushing past capacity overwrites the
// oldest entry.
type Ring struct {
	buf  []ticker.Ticker
	head int
	size int
}

// NewRing creates a Ring holding at most capacity events.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 5000
	}
	return &Ring{buf: make([]ticker.Ticker, capacity)}
}

// Push appends t, evicting the oldest entry once the ring is full.
func (r *Ring) Push(t ticker.Ticker) {
	cap := len(r.buf)
	if r.size < cap {
		r.buf[(r.head+r.size)%cap] = t
		r.size++
		return
	}
	r.buf[r.head] = t
	r.head = (r.head + 1) % cap
}

// Snapshot returns a copy of the ring's contents in arrival order. A copy,
// not a view, so the caller can retain it across further Push calls.
func (r *Ring) Snapshot() []ticker.Ticker {
	out := make([]ticker.Ticker, r.size)
	cap := len(r.buf)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%cap]
	}
	return out
}

func (r *Ring) Len() int {
	return r.size
}
