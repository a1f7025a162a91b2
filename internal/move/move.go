// Package move implements the look-ahead planner: ingest of new moves,
// junction-velocity and forward/backward reachability planning, and
// handoff of completed segments into the DDA ring.
package move

import (
	"math"

	"motioncore/internal/dda"
	"motioncore/internal/lookahead"
	"motioncore/internal/platform"
	"motioncore/internal/transform"
	"motioncore/pkg/errors"
	"motioncore/pkg/log"
	"motioncore/pkg/metrics"
	"motioncore/pkg/pool"
)

// Move owns both rings, feeds the DDA ring from the look-ahead ring, runs
// the planner passes, and owns the bed/axis transforms.
type Move struct {
	p   platform.Platform
	src platform.CommandSource

	la  *lookahead.Ring
	dda *dda.Ring

	axis transform.Axis
	bed  transform.Bed

	drives    int
	axisCount int
	zAxis     int

	prevAxisPos []float64 // machine steps, absolute, length drives (extruder slots unused)
	prevUserPos []float64 // user mm, absolute, length drives (extruder slots unused)

	lastExitVelocity float64
	addNoMoreMoves   bool

	homed       []bool
	probing     bool
	lastProbedZ float64

	liveCoords []float64 // mm, axes only; snapshot for reporting

	log     *log.Logger
	metrics *metrics.MotionMetrics
}

// Config bundles the drive topology and transforms needed to construct a
// Move.
type Config struct {
	Drives    int
	AxisCount int // first AxisCount drives are linear axes; A=3 per spec
	ZAxis     int // index of the Z axis within [0, AxisCount)
	Axis      transform.Axis
	Bed       transform.Bed
	Metrics   *metrics.MotionMetrics // optional
}

// New creates a Move planner driven by p and fed by src.
func New(p platform.Platform, src platform.CommandSource, cfg Config) *Move {
	bed := cfg.Bed
	if bed == nil {
		bed = transform.Identity{}
	}
	return &Move{
		p:           p,
		src:         src,
		la:          lookahead.New(platform.LookAheadRingLength, cfg.Drives),
		dda:         dda.NewRing(platform.DDARingLength, cfg.Drives),
		axis:        cfg.Axis,
		bed:         bed,
		drives:      cfg.Drives,
		axisCount:   cfg.AxisCount,
		zAxis:       cfg.ZAxis,
		prevAxisPos: make([]float64, cfg.Drives),
		prevUserPos: make([]float64, cfg.Drives),
		homed:       make([]bool, cfg.AxisCount),
		liveCoords:  make([]float64, cfg.AxisCount),
		log:         log.New("move"),
		metrics:     cfg.Metrics,
	}
}

// SetBedTransform replaces the active bed compensation, e.g. after a
// probing cycle has fit a new plane/bilinear/triangle surface.
func (m *Move) SetBedTransform(b transform.Bed) {
	if b == nil {
		b = transform.Identity{}
	}
	m.bed = b
}

// SetProbing toggles probing mode, which changes how a Z low-hit endstop
// event is interpreted (§4.5).
func (m *Move) SetProbing(probing bool) { m.probing = probing }

// LastProbedZ returns the most recently recorded probe height delta.
func (m *Move) LastProbedZ() float64 { return m.lastProbedZ }

// AllMovesAreFinished tells the planner no more moves are coming: the
// planner forces the last queued move to a safe stop and ingest rejects
// new moves until ResumeMoving.
func (m *Move) AllMovesAreFinished() { m.addNoMoreMoves = true }

// ResumeMoving re-enables ingest after AllMovesAreFinished.
func (m *Move) ResumeMoving() { m.addNoMoreMoves = false }

// LiveCoordinates returns a copy of the last-published axis position
// snapshot, in mm. Reads may be torn relative to a concurrent ISR update
// and are intended for reporting only.
func (m *Move) LiveCoordinates() []float64 {
	out := make([]float64, len(m.liveCoords))
	copy(out, m.liveCoords)
	return out
}

// DDARing exposes the DDA ring for the orchestrator's ISR goroutine.
func (m *Move) DDARing() *dda.Ring { return m.dda }

func (m *Move) driveLimits() []platform.DriveLimits {
	limits := make([]platform.DriveLimits, m.drives)
	for i := range limits {
		limits[i] = m.p.DriveLimits(i)
	}
	return limits
}

// Spin performs up to four things per tick, in order: release the DDA
// ring's head slot if the ISR has finished it, hand off one completed
// look-ahead entry to the DDA ring, run the planner passes, and pull one new
// move from the command source. Endstop events are not handled here; the
// orchestrator passes them to HandleStops. It never blocks.
func (m *Move) Spin(now float64) {
	m.releaseFinishedDDA()
	if err := m.handoff(); err != nil {
		m.log.WithError(err).Error("handoff failed")
		if m.metrics != nil {
			m.metrics.RecordError("handoff")
		}
	}
	m.plan()
	if err := m.ingest(); err != nil {
		m.log.WithError(err).Warn("ingest failed")
		if m.metrics != nil {
			m.metrics.RecordError("ingest")
		}
	}
}

// releaseFinishedDDA frees the DDA ring's head slot once the ISR has
// finished stepping it, so handoff can Claim a new one. This is separate
// from the look-ahead ring's own release, which happens immediately at
// commit time (see handoff's comment).
func (m *Move) releaseFinishedDDA() {
	cur := m.dda.Current()
	if cur != nil && cur.TotalSteps > 0 && !cur.Active() {
		m.dda.Advance()
	}
}

// handoff drains the look-ahead head into the DDA ring if it is fully
// planned. Commit copies all geometry the DDA needs, so the look-ahead
// slot has no further live readers once this returns and can be released
// immediately — see DESIGN.md for why this departs from the original
// firmware's pointer-pinned release timing.
func (m *Move) handoff() error {
	head := m.la.Head()
	if head == nil || !head.Processed.Has(lookahead.Complete) {
		return nil
	}
	if m.dda.Full() {
		return nil
	}

	entry, err := m.dda.Claim()
	if err != nil {
		return err
	}

	u := m.lastExitVelocity
	v := head.V
	verdict, newV, err := dda.Commit(entry, head.EndPoint, m.prevAxisPos, m.axisCount, m.driveLimits(),
		head.Acceleration, head.MinSpeed, head.RequestedFeedRate, u, v, head.CheckEndStops, m.la.HeadIndex())
	if err != nil {
		if !errors.IsMotion(err) {
			return err
		}
		m.log.WithError(err).Error("dropping degenerate move at handoff")
		m.dda.Advance()
		m.la.Advance()
		return nil
	}

	for i := 0; i < m.axisCount; i++ {
		m.prevAxisPos[i] = head.EndPoint[i]
	}
	m.lastExitVelocity = newV
	entry.Start()
	m.la.Advance()

	if verdict.Changed {
		m.log.WithField("entry", m.la.HeadIndex()).Debug("segment velocity reduced at commit")
	}
	return nil
}

// plan runs the junction-velocity pass (A) and the forward/backward
// reachability pass (B) over whatever the look-ahead ring currently holds,
// gated by the planning trigger in §4.3.
func (m *Move) plan() {
	count := m.la.Count()
	if count == 0 {
		return
	}
	if !(count > platform.LookAhead || !m.src.HaveIncomingData() || m.addNoMoreMoves) {
		return
	}
	m.passA(count)
	m.passB(count)
}

func (m *Move) passA(count int) {
	for o := 0; o < count-1; o++ {
		e := m.la.At(o)
		if e.Processed.Has(lookahead.VCosineSet) {
			continue
		}
		next := m.la.At(o + 1)
		cos := e.Cosine(func() float64 { return dot(e.SignedDirection, next.SignedDirection) })
		e.V = math.Max(e.MinSpeed, e.V*cos)
		e.Processed |= lookahead.VCosineSet
	}
}

func (m *Move) passB(count int) {
	limits := m.driveLimits()

	step := func(o int) {
		e := m.la.At(o)
		if !e.Processed.Has(lookahead.VCosineSet) || e.Processed.Has(lookahead.Complete) {
			return
		}
		var prev *lookahead.Entry
		u := m.lastExitVelocity
		if o > 0 {
			prev = m.la.At(o - 1)
			u = prev.V
		}
		v := e.V
		newU, newV, verdict, err := dda.DryRunInit(e.EndPoint, m.prevPositionFor(o), m.axisCount, limits, e.Acceleration, e.RequestedFeedRate, u, v)
		if err != nil {
			return
		}
		if verdict.Changed {
			if newV != v {
				e.V = newV
			} else if newU != u && prev != nil {
				prev.V = newU
			}
		}
	}

	for o := 0; o < count; o++ {
		step(o)
		m.la.At(o).Processed |= lookahead.UpPass
	}
	for o := count - 1; o >= 0; o-- {
		step(o)
		m.la.At(o).Processed |= lookahead.Complete
	}
}

func (m *Move) prevPositionFor(o int) []float64 {
	if o == 0 {
		return m.prevAxisPos
	}
	return m.la.At(o - 1).EndPoint
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// ingest pulls one move from the command source, applies axis+bed
// compensation, converts to machine steps, and appends a look-ahead entry.
func (m *Move) ingest() error {
	if m.addNoMoreMoves || m.la.Full() {
		return nil
	}

	buf := make([]float64, m.drives+1)
	checkEndStops, ok := m.src.ReadMove(buf)
	if !ok {
		return nil
	}
	requestedFeedRate := buf[m.drives]
	target := buf[:m.drives]

	if m.axisCount >= 3 {
		x, y, z := target[0], target[1], target[2]
		x, y, z = m.axis.Forward(x, y, z)
		z += m.bed.ZOffset(x, y)
		target[0], target[1], target[2] = x, y, z
	}

	limits := m.driveLimits()
	stepTarget := make([]float64, m.drives)
	for i := 0; i < m.drives; i++ {
		stepTarget[i] = math.Round(target[i] * limits[i].StepsPerUnit)
	}

	prevSteps := m.prevAxisPos
	if !m.la.Empty() {
		prevSteps = m.la.Last().EndPoint
	}
	zero := true
	for i := 0; i < m.drives; i++ {
		var delta float64
		if i < m.axisCount {
			delta = stepTarget[i] - prevSteps[i]
		} else {
			delta = stepTarget[i]
		}
		if delta != 0 {
			zero = false
			break
		}
	}
	if zero {
		return nil
	}

	dir := pool.GetFloat64Slice(poolSize(m.drives))
	defer pool.PutFloat64Slice(dir)
	if len(dir) < m.drives {
		dir = make([]float64, m.drives)
	}
	signedDir := pool.GetFloat64Slice(poolSize(m.drives))
	defer pool.PutFloat64Slice(signedDir)
	if len(signedDir) < m.drives {
		signedDir = make([]float64, m.drives)
	}
	var sumSq float64
	for i := 0; i < m.drives; i++ {
		var raw float64
		if i < m.axisCount {
			raw = target[i] - m.prevUserPos[i]
		} else {
			raw = target[i]
		}
		signedDir[i] = raw
		abs := math.Abs(raw)
		dir[i] = abs
		sumSq += abs * abs
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return errors.MotionZeroLengthMoveError(-1)
	}
	for i := 0; i < m.drives; i++ {
		dir[i] /= norm
		signedDir[i] /= norm
	}

	instantDv := make([]float64, m.drives)
	maxFeedrate := make([]float64, m.drives)
	accel := make([]float64, m.drives)
	for i, l := range limits {
		instantDv[i] = l.InstantDv
		maxFeedrate[i] = l.MaxFeedrate
		accel[i] = l.Acceleration
	}
	minSpeed := boxIntersection(dir[:m.drives], instantDv)
	maxSpeed := boxIntersection(dir[:m.drives], maxFeedrate)
	acceleration := boxIntersection(dir[:m.drives], accel)

	entry, err := m.la.Append()
	if err != nil {
		return err
	}
	copy(entry.EndPoint, stepTarget)
	if cap(entry.Direction) < m.drives {
		entry.Direction = make([]float64, m.drives)
	}
	entry.Direction = entry.Direction[:m.drives]
	copy(entry.Direction, dir[:m.drives])
	if cap(entry.SignedDirection) < m.drives {
		entry.SignedDirection = make([]float64, m.drives)
	}
	entry.SignedDirection = entry.SignedDirection[:m.drives]
	copy(entry.SignedDirection, signedDir[:m.drives])
	entry.MinSpeed = minSpeed
	entry.MaxSpeed = maxSpeed
	entry.Acceleration = acceleration
	entry.RequestedFeedRate = clamp(requestedFeedRate, minSpeed, maxSpeed)
	entry.CheckEndStops = checkEndStops

	if !m.src.HaveIncomingData() {
		entry.V = minSpeed
		entry.Processed = lookahead.Complete | lookahead.VCosineSet | lookahead.UpPass
	} else {
		entry.V = entry.RequestedFeedRate
		entry.Processed = lookahead.Unprocessed
	}

	for i := 0; i < m.axisCount; i++ {
		m.prevUserPos[i] = target[i]
	}

	if m.metrics != nil {
		m.metrics.LookaheadDepth.Set(nil, float64(m.la.Count()))
	}
	return nil
}

func poolSize(d int) int {
	switch {
	case d <= 3:
		return 3
	case d <= 4:
		return 4
	case d <= 5:
		return 5
	case d <= 6:
		return 6
	default:
		return 8
	}
}

func boxIntersection(dir, bounds []float64) float64 {
	result := math.MaxFloat64
	for i, v := range dir {
		if v == 0 {
			continue
		}
		s := bounds[i] / v
		if s < result {
			result = s
		}
	}
	if result == math.MaxFloat64 {
		return 0
	}
	return result
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// HandleStops processes endstop events reported by the ISR for the current
// DDA since the last tick, per §4.5. Called from the foreground once per
// pass, for each record the orchestrator drains from the channel its
// stepping goroutine sends stop events on.
func (m *Move) HandleStops(entry *dda.Entry, events []dda.StopEvent) {
	for _, ev := range events {
		m.handleStop(entry, ev)
	}
}

func (m *Move) handleStop(entry *dda.Entry, ev dda.StopEvent) {
	drive := ev.Drive
	if drive >= m.axisCount {
		return
	}
	limits := m.p.DriveLimits(drive)

	switch ev.State {
	case platform.LowHit:
		if drive == m.zAxis && m.probing {
			if m.homed[drive] {
				z := m.interpolatedMM(entry, drive, limits)
				m.lastProbedZ = z - m.p.ZProbeStopHeight()
				m.prevAxisPos[drive] = math.Round(z * limits.StepsPerUnit)
			} else {
				m.prevAxisPos[drive] = math.Round(m.p.ZProbeStopHeight() * limits.StepsPerUnit)
				m.homed[drive] = true
				m.lastProbedZ = 0
			}
		} else if drive == m.zAxis {
			m.prevAxisPos[drive] = math.Round(m.p.ZProbeStopHeight() * limits.StepsPerUnit)
			m.homed[drive] = true
		} else {
			m.prevAxisPos[drive] = 0
			m.homed[drive] = true
		}
	case platform.HighHit:
		m.prevAxisPos[drive] = math.Round(limits.AxisLength * limits.StepsPerUnit)
	}

	m.prevUserPos[drive] = m.prevAxisPos[drive] / limits.StepsPerUnit
	m.liveCoords[drive] = m.prevUserPos[drive]
}

// interpolatedMM estimates the mm position drive had reached at the moment
// its endstop tripped, from the fraction of the segment's master-axis
// steps completed so far.
func (m *Move) interpolatedMM(e *dda.Entry, drive int, limits platform.DriveLimits) float64 {
	if e.TotalSteps == 0 {
		return m.prevUserPos[drive]
	}
	doneSteps := e.StepCount + 1
	fraction := float64(doneSteps) / float64(e.TotalSteps)
	deltaSteps := float64(e.Delta[drive]) * fraction * float64(e.Directions[drive])
	return (m.prevAxisPos[drive] + deltaSteps) / limits.StepsPerUnit
}

// PublishLiveCoordinates updates the reporting snapshot from the end point
// of the most recently committed segment. The orchestrator calls it after
// every heater sample; an endstop hit also updates the snapshot through
// HandleStops.
func (m *Move) PublishLiveCoordinates() {
	limits := m.driveLimits()
	for i := 0; i < m.axisCount; i++ {
		m.liveCoords[i] = m.prevAxisPos[i] / limits[i].StepsPerUnit
	}
}
