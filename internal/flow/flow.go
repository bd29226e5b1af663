// Package flow keeps a bounded in-memory trace of recent requests for the
// management API's /api/flows surface.
package flow

import (
	"sync"
	"time"
)

// Record is one request's trace through the Orchestrator.
type Record struct {
	ID              string
	StartedAt       time.Time
	ClientProtocol  string
	ModelRequested  string
	ModelActual     string
	AccountID       string
	Status          string
	DurationMS      int64
	BytesIn         int64
	BytesOut        int64
	FirstByteMS     int64
	ErrorKind       string
	Bookmarked      bool
	InputTokens     int64
	OutputTokens    int64
}

// Ring is a fixed-capacity, overwrite-oldest buffer of flow records.
type Ring struct {
	mu      sync.Mutex
	records []Record
	cap     int
	next    int
	size    int

	// mirror, when set, is called with every pushed record outside the
	// lock so an external sink (e.g. Redis) can tail the same stream.
	mirror func(Record)
}

// NewRing returns a Ring holding at most capacity records.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 500
	}
	return &Ring{records: make([]Record, capacity), cap: capacity}
}

// SetMirror registers fn to be called with every record pushed from this
// point on, in addition to storing it in the ring.
func (r *Ring) SetMirror(fn func(Record)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirror = fn
}

// Push appends r, evicting the oldest record if the ring is full. A full
// ring evicts the oldest non-bookmarked record; only when every record is
// bookmarked does Push overwrite a bookmarked one. The ring never grows past
// its capacity.
func (r *Ring) Push(rec Record) {
	r.mu.Lock()
	mirror := r.mirror
	defer func() {
		r.mu.Unlock()
		if mirror != nil {
			mirror(rec)
		}
	}()

	if r.size < r.cap {
		r.records[r.next] = rec
		r.next = (r.next + 1) % r.cap
		r.size++
		return
	}

	// Full: find the oldest non-bookmarked slot starting at next and evict
	// it; if every slot is bookmarked, overwrite next anyway so Push never
	// blocks.
	idx := r.next
	for i := 0; i < r.cap; i++ {
		probe := (idx + i) % r.cap
		if !r.records[probe].Bookmarked {
			r.records[probe] = rec
			r.next = (probe + 1) % r.cap
			return
		}
	}
	r.records[idx] = rec
	r.next = (idx + 1) % r.cap
}

// List returns a snapshot of all records, oldest first.
func (r *Ring) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, r.size)
	if r.size < r.cap {
		out = append(out, r.records[:r.size]...)
		return out
	}
	for i := 0; i < r.cap; i++ {
		out = append(out, r.records[(r.next+i)%r.cap])
	}
	return out
}

// Bookmark toggles the bookmarked flag on the record with the given ID.
func (r *Ring) Bookmark(id string, bookmarked bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].ID == id {
			r.records[i].Bookmarked = bookmarked
			return true
		}
	}
	return false
}
