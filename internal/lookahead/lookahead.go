// Package lookahead implements the look-ahead ring: a fixed-length circular
// buffer of planned linear moves awaiting junction-velocity and
// forward/backward reachability planning before being handed to the DDA
// ring.
package lookahead

import "motioncore/pkg/errors"

// ProcessedState tracks a look-ahead entry's progress through the planner,
// mirroring the bitmask the original firmware packed into one byte.
type ProcessedState uint8

const (
	Unprocessed ProcessedState = 0
	VCosineSet  ProcessedState = 1 << 0
	UpPass      ProcessedState = 1 << 1
	Complete    ProcessedState = 1 << 2
	Released    ProcessedState = 1 << 3
)

func (p ProcessedState) Has(flag ProcessedState) bool { return p&flag != 0 }

// cosineUnset is the sentinel for "not yet computed"; a real cosine is
// always in [-1, 1], so anything greater flags "unset".
const cosineUnset = 2.0

// Entry is one planned linear move: a target in machine-frame coordinates,
// the envelope scalars derived from its direction vector, and the velocity
// state the planner mutates across passes.
type Entry struct {
	EndPoint  []float64 // target[0..D-1]: absolute for axes, relative delta for extruders
	Direction []float64 // abs-valued unit direction, for box_intersection envelope scalars

	// SignedDirection is the same unit direction vector without the abs,
	// i.e. the normalized endpoint delta. Junction cosine must be computed
	// from this, not Direction: dot() of two non-negative vectors can never
	// go negative, which would hide an axis reversal at the junction.
	SignedDirection []float64

	RequestedFeedRate float64
	MinSpeed          float64
	MaxSpeed          float64
	Acceleration      float64

	V      float64 // planned exit velocity for this segment
	cosine float64 // lazily computed; cosineUnset until Cosine() is called

	CheckEndStops bool
	Processed     ProcessedState
}

func newEntry(d int) *Entry {
	return &Entry{
		EndPoint:        make([]float64, d),
		Direction:       make([]float64, d),
		SignedDirection: make([]float64, d),
		cosine:          cosineUnset,
	}
}

func (e *Entry) reset(d int) {
	if cap(e.EndPoint) >= d {
		e.EndPoint = e.EndPoint[:d]
	} else {
		e.EndPoint = make([]float64, d)
	}
	for i := range e.EndPoint {
		e.EndPoint[i] = 0
	}
	if cap(e.Direction) >= d {
		e.Direction = e.Direction[:d]
	} else {
		e.Direction = make([]float64, d)
	}
	for i := range e.Direction {
		e.Direction[i] = 0
	}
	if cap(e.SignedDirection) >= d {
		e.SignedDirection = e.SignedDirection[:d]
	} else {
		e.SignedDirection = make([]float64, d)
	}
	for i := range e.SignedDirection {
		e.SignedDirection[i] = 0
	}
	e.RequestedFeedRate = 0
	e.MinSpeed = 0
	e.MaxSpeed = 0
	e.Acceleration = 0
	e.V = 0
	e.cosine = cosineUnset
	e.CheckEndStops = false
	e.Processed = Unprocessed
}

// CosineSet reports whether the junction cosine to the next entry has
// already been computed and cached.
func (e *Entry) CosineSet() bool {
	return e.cosine <= 1.0
}

// Cosine returns the cached junction cosine, computing and caching it via
// compute on first use.
func (e *Entry) Cosine(compute func() float64) float64 {
	if e.cosine > 1.0 {
		e.cosine = compute()
	}
	return e.cosine
}

// Ring is the fixed-length circular buffer of look-ahead entries. Cursors
// and entry mutation are foreground-only; nothing here is safe to call
// concurrently from another goroutine.
type Ring struct {
	entries    []*Entry
	drives     int
	add, get   int // cursors
	count      int
	lastEmitted int // index of the most recently appended entry, or -1
}

// New creates a ring with the given fixed length, sized for d drives.
func New(length, drives int) *Ring {
	r := &Ring{
		entries:     make([]*Entry, length),
		drives:      drives,
		lastEmitted: -1,
	}
	for i := range r.entries {
		r.entries[i] = newEntry(drives)
	}
	return r
}

// Len returns the ring's fixed capacity.
func (r *Ring) Len() int { return len(r.entries) }

// Count returns the number of occupied slots.
func (r *Ring) Count() int { return r.count }

// Full reports whether the ring has no free slots.
func (r *Ring) Full() bool { return r.count == len(r.entries) }

// Empty reports whether the ring has no occupied slots.
func (r *Ring) Empty() bool { return r.count == 0 }

// Append claims the next free slot, resets it, and returns it for the
// caller to populate. It returns an error if the ring is full.
func (r *Ring) Append() (*Entry, error) {
	if r.Full() {
		return nil, errors.MotionRingOverflowError("lookahead", len(r.entries))
	}
	idx := r.add
	e := r.entries[idx]
	e.reset(r.drives)
	r.add = (r.add + 1) % len(r.entries)
	r.count++
	r.lastEmitted = idx
	return e, nil
}

// Last returns the most recently appended entry, or nil if the ring has
// never had anything appended to it (used by Move.ingest as the previous
// step position when checking a new move for zero length).
func (r *Ring) Last() *Entry {
	if r.lastEmitted < 0 {
		return nil
	}
	return r.entries[r.lastEmitted]
}

// Head returns the oldest occupied entry (the next candidate for handoff
// to the DDA ring), or nil if empty.
func (r *Ring) Head() *Entry {
	if r.Empty() {
		return nil
	}
	return r.entries[r.get]
}

// HeadIndex returns the ring index of the head slot.
func (r *Ring) HeadIndex() int { return r.get }

// Advance releases the head slot (marks it Released and moves get forward).
// Move.handoff calls it as soon as dda.Commit has copied the slot into a
// DDA entry, before that DDA has executed; a slot is therefore Released
// while its DDA may still be queued or stepping.
func (r *Ring) Advance() {
	if r.Empty() {
		return
	}
	r.entries[r.get].Processed = Released
	r.get = (r.get + 1) % len(r.entries)
	r.count--
}

// At returns the entry at logical offset from the head (0 = head), without
// bounds checking against Count — callers iterate up to Count-1.
func (r *Ring) At(offset int) *Entry {
	idx := (r.get + offset) % len(r.entries)
	return r.entries[idx]
}

// Prev returns the entry immediately preceding the one at logical offset,
// or nil if offset is 0 (the head has no in-ring predecessor).
func (r *Ring) Prev(offset int) *Entry {
	if offset <= 0 {
		return nil
	}
	return r.At(offset - 1)
}
