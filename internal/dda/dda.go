// Package dda implements the digital differential analyzer: the fixed
// length ring of committed segments that the timer ISR steps through,
// driven by a trapezoidal velocity profile.
package dda

import (
	"math"
	"sync/atomic"

	"motioncore/internal/platform"
	"motioncore/pkg/errors"
)

// Verdict is the outcome of solving a segment's velocity profile.
type Verdict struct {
	// NoFlat means the trapezoid collapsed to a triangle (no cruise
	// phase) but the requested (u, v) pair was still reachable.
	NoFlat bool
	// Changed means u or v had to be reduced to make the segment
	// reachable under the available acceleration.
	Changed bool
}

// Moving reports whether the verdict represents an ordinary, unmodified
// trapezoid (neither collapsed nor changed).
func (v Verdict) Moving() bool { return !v.NoFlat && !v.Changed }

// Entry is one committed segment: per-drive Bresenham state plus the
// trapezoidal profile the ISR advances on every step.
type Entry struct {
	Delta      []int64 // absolute step counts per drive for this segment
	Directions []int8  // +1 or -1 per drive
	counter    []int64 // Bresenham error terms
	stepsPerUnit []float64

	TotalSteps int64
	StepCount  int64
	Distance   float64 // mm, Euclidean in the combined axes+extruders space

	Acceleration float64
	InstantDv    float64
	PeakVelocity float64 // requested feedrate for this segment

	Velocity   float64
	StopAStep  int64
	StartDStep int64
	TimeStep   float64

	CheckEndStops bool
	LookAheadIndex int // index of the source look-ahead entry, or -1

	active atomic.Bool

	stepDistCache map[uint64]float64
}

// Active reports whether the ISR still has steps to emit for this entry.
func (e *Entry) Active() bool { return e.active.Load() }

// Start publishes a fully-initialized entry to the ISR. Must only be
// called after every other field has its final value for this run.
func (e *Entry) Start() { e.active.Store(true) }

// Terminate ends this segment immediately, discarding remaining steps.
// Used by endstop handling (§4.5): Step calls it when an endstop trips,
// and Move.HandleStops then snaps the machine coordinates. Only this
// entry's velocity is zeroed; segments already committed behind it keep
// their planned entry velocities.
func (e *Entry) Terminate() {
	e.StepCount = e.TotalSteps
	e.Velocity = 0
	e.active.Store(false)
}

func newEntry(drives int) *Entry {
	return &Entry{
		Delta:        make([]int64, drives),
		Directions:   make([]int8, drives),
		counter:      make([]int64, drives),
		stepsPerUnit: make([]float64, drives),
		stepDistCache: make(map[uint64]float64, 8),
	}
}

// solveProfile implements §4.4's trapezoid/triangle math. It never mutates
// its inputs; it returns the (possibly reduced) entry/exit velocities, the
// step indices delimiting the accel/cruise/decel phases, and the verdict.
func solveProfile(totalSteps int64, distance, u, v, peak, a float64) (stopAStep, startDStep int64, newU, newV float64, verdict Verdict) {
	if totalSteps <= 0 || distance <= 0 || a <= 0 {
		return 0, totalSteps, u, v, Verdict{}
	}

	ts := float64(totalSteps)
	stopAStep = int64(math.Round((peak*peak-u*u)/(2*a) * ts / distance))
	startDStep = totalSteps + int64(math.Round((v*v-peak*peak)/(2*a)*ts/distance))

	if stopAStep >= startDStep {
		dCross := 0.5 * ((v*v-u*u)/(2*a) + distance)
		if dCross >= 0 && dCross <= distance {
			stopAStep = int64(math.Round(dCross * ts / distance))
			startDStep = stopAStep + 1
			return stopAStep, startDStep, u, v, Verdict{NoFlat: true}
		}
		if v > u {
			return totalSteps, totalSteps, u, math.Sqrt(u*u + 2*a*distance), Verdict{Changed: true}
		}
		return 0, 0, math.Sqrt(v*v + 2*a*distance), v, Verdict{Changed: true}
	}

	if totalSteps > 5 && stopAStep <= 1 && startDStep >= totalSteps-1 {
		return 0, totalSteps, peak, peak, Verdict{Changed: true}
	}

	return stopAStep, startDStep, u, v, Verdict{}
}

// computeGeometry derives per-drive delta/direction and the segment's
// Euclidean distance from a source target vector and the previous absolute
// position. axisCount is the number of leading drives treated as absolute
// linear axes; the rest are relative extruder deltas.
func computeGeometry(target, prevAxisPos []float64, stepsPerUnit []float64, axisCount int) (delta []int64, dirs []int8, totalSteps int64, distance float64) {
	d := len(target)
	delta = make([]int64, d)
	dirs = make([]int8, d)
	var sumSq float64
	for i := 0; i < d; i++ {
		var raw float64
		if i < axisCount {
			raw = target[i] - prevAxisPos[i]
		} else {
			raw = target[i]
		}
		if raw >= 0 {
			dirs[i] = 1
		} else {
			dirs[i] = -1
		}
		abs := math.Abs(raw)
		steps := int64(math.Round(abs))
		delta[i] = steps
		if steps > totalSteps {
			totalSteps = steps
		}
		mm := abs / stepsPerUnit[i]
		sumSq += mm * mm
	}
	distance = math.Sqrt(sumSq)
	return delta, dirs, totalSteps, distance
}

// DryRunInit computes the verdict and any velocity reduction for a
// candidate segment without installing it into a DDA slot. Used by the
// planner's Pass B (§4.3) to test reachability. requestedFeedRate must be
// the same cruise-peak value Commit will eventually solve against — not
// u or v, which Pass A/B may have already reduced below it — so that Pass
// B's reachability verdict and the velocity Commit actually installs never
// diverge.
func DryRunInit(target, prevAxisPos []float64, axisCount int, limits []platform.DriveLimits, acceleration, requestedFeedRate, u, v float64) (newU, newV float64, verdict Verdict, err error) {
	stepsPerUnit := make([]float64, len(limits))
	for i, l := range limits {
		stepsPerUnit[i] = l.StepsPerUnit
	}
	_, _, totalSteps, distance := computeGeometry(target, prevAxisPos, stepsPerUnit, axisCount)
	if totalSteps == 0 {
		return u, v, Verdict{}, errors.MotionZeroLengthMoveError(-1)
	}
	_, _, newU, newV, verdict = solveProfile(totalSteps, distance, u, v, requestedFeedRate, acceleration)
	return newU, newV, verdict, nil
}

// Commit installs a fully-solved segment into e, ready for Start(). u and v
// are the (possibly already-reduced, per Pass B) entry/exit velocities; the
// requested feed rate for this segment is the peak cruise velocity.
// acceleration and instantDv must be the source look-ahead entry's own
// direction-projected envelope values (box_intersection against that
// move's direction vector) — the same values Pass B used to verify
// reachability via DryRunInit — not a recomputation from per-drive limits,
// which for non-uniform drives would solve the trapezoid against a
// different acceleration than Pass B reasoned about.
//
// Commit's own solveProfile call can still reduce v further (the segment
// may be infeasible at the requested peak even though DryRunInit, run
// against the same inputs, found it reachable only because Pass B hadn't
// yet accounted for a later change to an adjacent segment). The returned
// newV is the velocity actually installed; callers must use it, not the
// pre-commit v, as the next segment's entry velocity.
func Commit(e *Entry, target, prevAxisPos []float64, axisCount int, limits []platform.DriveLimits, acceleration, instantDv, requestedFeedRate, u, v float64, checkEndStops bool, lookAheadIndex int) (Verdict, float64, error) {
	stepsPerUnit := make([]float64, len(limits))
	for i, l := range limits {
		stepsPerUnit[i] = l.StepsPerUnit
	}
	delta, dirs, totalSteps, distance := computeGeometry(target, prevAxisPos, stepsPerUnit, axisCount)
	if totalSteps == 0 {
		return Verdict{}, v, errors.MotionZeroLengthMoveError(lookAheadIndex)
	}

	stopAStep, startDStep, newU, newV, verdict := solveProfile(totalSteps, distance, u, v, requestedFeedRate, acceleration)

	d := len(target)
	if cap(e.Delta) < d {
		e.Delta = make([]int64, d)
		e.Directions = make([]int8, d)
		e.counter = make([]int64, d)
		e.stepsPerUnit = make([]float64, d)
	}
	e.Delta = e.Delta[:d]
	e.Directions = e.Directions[:d]
	e.counter = e.counter[:d]
	e.stepsPerUnit = e.stepsPerUnit[:d]
	copy(e.Delta, delta)
	copy(e.Directions, dirs)
	copy(e.stepsPerUnit, stepsPerUnit)
	for i := range e.counter {
		e.counter[i] = -totalSteps / 2
	}
	for k := range e.stepDistCache {
		delete(e.stepDistCache, k)
	}

	e.TotalSteps = totalSteps
	e.StepCount = 0
	e.Distance = distance
	e.Acceleration = acceleration
	e.InstantDv = instantDv
	e.PeakVelocity = requestedFeedRate
	e.StopAStep = stopAStep
	e.StartDStep = startDStep
	e.CheckEndStops = checkEndStops
	e.LookAheadIndex = lookAheadIndex

	e.Velocity = math.Max(newU, instantDv)
	masterStepsPerUnit := 0.0
	for i, s := range e.Delta {
		if s == totalSteps {
			masterStepsPerUnit = stepsPerUnit[i]
			break
		}
	}
	if masterStepsPerUnit > 0 && e.Velocity > 0 {
		e.TimeStep = 1.0 / (masterStepsPerUnit * e.Velocity)
	} else {
		e.TimeStep = platform.StandbyInterruptRate
	}

	return verdict, newV, nil
}

// stepDistance returns the Euclidean mm length of one step for the given
// bitmask of drives that moved together, caching results per bitmask.
func (e *Entry) stepDistance(moved uint64) float64 {
	if d, ok := e.stepDistCache[moved]; ok {
		return d
	}
	var sumSq float64
	for i, spu := range e.stepsPerUnit {
		if moved&(1<<uint(i)) != 0 {
			inv := 1.0 / spu
			sumSq += inv * inv
		}
	}
	d := math.Sqrt(sumSq)
	e.stepDistCache[moved] = d
	return d
}

// StopEvent records an endstop trigger observed while stepping.
type StopEvent struct {
	Drive int
	State platform.StopState
}

// StepResult reports what happened during one ISR tick.
type StepResult struct {
	Moved uint64 // bitmask of drives that stepped this tick
	Stops []StopEvent
	Done  bool
}

// Step performs one Bresenham tick, advancing counters on the master axis
// cadence, polling endstops when configured, and integrating velocity over
// the actual sub-step distance travelled. It is the only method called
// from the timer ISR; all other mutation of e happens from the foreground
// before Start() or after Active() goes false.
func (e *Entry) Step(p platform.Platform) StepResult {
	var moved uint64
	for d := range e.counter {
		e.counter[d] += e.Delta[d]
		if e.counter[d] > 0 {
			p.Step(d)
			e.counter[d] -= e.TotalSteps
			moved |= 1 << uint(d)
		}
	}

	var stops []StopEvent
	if e.CheckEndStops {
		for d := 0; d < len(e.counter); d++ {
			if moved&(1<<uint(d)) == 0 {
				continue
			}
			if st := p.Stopped(d); st != platform.NoStop {
				stops = append(stops, StopEvent{Drive: d, State: st})
			}
		}
	}
	if len(stops) > 0 {
		e.Terminate()
		return StepResult{Moved: moved, Stops: stops, Done: true}
	}

	stepDist := e.stepDistance(moved)
	if e.StepCount < e.StopAStep {
		e.Velocity += e.Acceleration * e.TimeStep
	}
	if e.StepCount >= e.StartDStep {
		e.Velocity -= e.Acceleration * e.TimeStep
	}
	if e.Velocity < e.InstantDv {
		e.Velocity = e.InstantDv
	}
	if e.Velocity > 0 && stepDist > 0 {
		e.TimeStep = stepDist / e.Velocity
	}

	e.StepCount++
	if e.StepCount >= e.TotalSteps {
		e.Velocity = 0
		e.active.Store(false)
		return StepResult{Moved: moved, Done: true}
	}
	return StepResult{Moved: moved}
}

// Ring is the fixed-length circular buffer of committed DDA segments. Its
// add/get cursors and entry installation are foreground-only; the ISR only
// ever reads Current() and calls Step on it.
type Ring struct {
	entries  []*Entry
	drives   int
	add, get int
	count    int
	locked   atomic.Bool
}

// NewRing creates a ring of the given fixed length, sized for d drives.
func NewRing(length, drives int) *Ring {
	r := &Ring{entries: make([]*Entry, length), drives: drives}
	for i := range r.entries {
		r.entries[i] = newEntry(drives)
	}
	return r
}

func (r *Ring) Len() int   { return len(r.entries) }
func (r *Ring) Count() int { return r.count }
func (r *Ring) Full() bool { return r.count == len(r.entries) }
func (r *Ring) Empty() bool { return r.count == 0 }

// Claim reserves the next free slot for the foreground to populate via
// Commit, and returns it. The slot is not visible to the ISR until
// Start() is called on it.
func (r *Ring) Claim() (*Entry, error) {
	if r.Full() {
		return nil, errors.MotionRingOverflowError("dda", len(r.entries))
	}
	r.locked.Store(true)
	defer r.locked.Store(false)
	idx := r.add
	e := r.entries[idx]
	r.add = (r.add + 1) % len(r.entries)
	r.count++
	return e, nil
}

// Current returns the head entry, or nil if the ring is empty.
func (r *Ring) Current() *Entry {
	if r.Empty() {
		return nil
	}
	return r.entries[r.get]
}

// Advance releases the head slot once its DDA has gone inactive. The ISR
// never calls this; only the foreground (via the orchestrator) does, after
// observing Active()==false.
func (r *Ring) Advance() {
	if r.Empty() {
		return
	}
	r.locked.Store(true)
	defer r.locked.Store(false)
	r.get = (r.get + 1) % len(r.entries)
	r.count--
}
