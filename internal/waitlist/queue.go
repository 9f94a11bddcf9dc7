package waitlist

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/careops/clinic-cache/internal/entity"
)

var ErrDuplicateRequest = errors.New("an identical pending request is already queued")

// Status is the read-only queue position reported to the UI.
type Status struct {
	Position   int // 1-based rank in promotion order
	AheadCount int
}

type bucketKey struct {
	doctorID string
	slot     string
}

// bucket holds the pending requests for one (doctor, slot) pair, kept in
// ascending sequence order.
type bucket struct {
	mu      sync.Mutex
	entries []entity.AppointmentRequest
}

// Queue serializes contention on (doctor, slot) pairs. Each pair gets its
// own bucket and bucket lock, so unrelated slots never contend. Promotion
// order within a bucket is priority descending, then sequence ascending.
type Queue struct {
	mu      sync.RWMutex
	buckets map[bucketKey]*bucket
	seq     atomic.Uint64
	depth   atomic.Int64
}

func NewQueue() *Queue {
	return &Queue{buckets: make(map[bucketKey]*bucket)}
}

func keyFor(doctorID string, slot time.Time) bucketKey {
	return bucketKey{doctorID: doctorID, slot: slot.UTC().Format(time.RFC3339)}
}

func (q *Queue) bucketFor(k bucketKey, create bool) *bucket {
	q.mu.RLock()
	b, ok := q.buckets[k]
	q.mu.RUnlock()
	if ok || !create {
		return b
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if b, ok = q.buckets[k]; ok {
		return b
	}
	b = &bucket{}
	q.buckets[k] = b
	return b
}

// Enqueue appends the request to its slot bucket and returns its 1-based
// position in promotion order. A pending request with the same (patient,
// doctor, slot) already queued is rejected with ErrDuplicateRequest, which
// makes retried submissions idempotent.
func (q *Queue) Enqueue(req entity.AppointmentRequest) (int, error) {
	k := keyFor(req.DoctorID, req.Slot)
	b := q.bucketFor(k, true)

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.entries {
		if e.PatientID == req.PatientID {
			return 0, ErrDuplicateRequest
		}
	}

	req.Sequence = q.seq.Add(1)
	b.entries = append(b.entries, req)
	q.depth.Add(1)

	return rankOf(b.entries, req.Sequence), nil
}

// TryConfirm pops the next request in promotion order for the freed slot.
// It is the only promotion path out of a bucket and is meant to be called
// once per freed slot.
func (q *Queue) TryConfirm(doctorID string, slot time.Time) (entity.AppointmentRequest, bool) {
	b := q.bucketFor(keyFor(doctorID, slot), false)
	if b == nil {
		return entity.AppointmentRequest{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	best := -1
	for i, e := range b.entries {
		if best == -1 || promotesBefore(e, b.entries[best]) {
			best = i
		}
	}
	if best == -1 {
		return entity.AppointmentRequest{}, false
	}

	req := b.entries[best]
	b.entries = append(b.entries[:best], b.entries[best+1:]...)
	q.depth.Add(-1)
	return req, true
}

// Reinstate puts back a request popped by TryConfirm whose store reservation
// failed, preserving its original sequence so its place in line survives.
func (q *Queue) Reinstate(req entity.AppointmentRequest) {
	b := q.bucketFor(keyFor(req.DoctorID, req.Slot), true)

	b.mu.Lock()
	defer b.mu.Unlock()

	i := sort.Search(len(b.entries), func(i int) bool {
		return b.entries[i].Sequence > req.Sequence
	})
	b.entries = append(b.entries, entity.AppointmentRequest{})
	copy(b.entries[i+1:], b.entries[i:])
	b.entries[i] = req
	q.depth.Add(1)
}

// Cancel removes a specific pending request and reports whether one existed.
func (q *Queue) Cancel(patientID, doctorID string, slot time.Time) bool {
	b := q.bucketFor(keyFor(doctorID, slot), false)
	if b == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i, e := range b.entries {
		if e.PatientID == patientID {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			q.depth.Add(-1)
			return true
		}
	}
	return false
}

// StatusFor reports the request's current rank in promotion order, or false
// if no matching pending request exists.
func (q *Queue) StatusFor(patientID, doctorID string, slot time.Time) (Status, bool) {
	b := q.bucketFor(keyFor(doctorID, slot), false)
	if b == nil {
		return Status{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.entries {
		if e.PatientID == patientID {
			pos := rankOf(b.entries, e.Sequence)
			return Status{Position: pos, AheadCount: pos - 1}, true
		}
	}
	return Status{}, false
}

// Depth reports the total number of pending requests across all buckets.
func (q *Queue) Depth() int {
	return int(q.depth.Load())
}

// promotesBefore reports whether a is promoted ahead of b: higher priority
// first, then lower sequence.
func promotesBefore(a, b entity.AppointmentRequest) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Sequence < b.Sequence
}

// rankOf computes the 1-based promotion rank of the entry with the given
// sequence number.
func rankOf(entries []entity.AppointmentRequest, seq uint64) int {
	var target entity.AppointmentRequest
	found := false
	for _, e := range entries {
		if e.Sequence == seq {
			target = e
			found = true
			break
		}
	}
	if !found {
		return 0
	}

	rank := 1
	for _, e := range entries {
		if e.Sequence != seq && promotesBefore(e, target) {
			rank++
		}
	}
	return rank
}
