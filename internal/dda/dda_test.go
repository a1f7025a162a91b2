package dda

import (
	"math"
	"testing"

	"motioncore/internal/platform"
	"motioncore/internal/simplatform"
)

func testLimits(n int) []platform.DriveLimits {
	limits := make([]platform.DriveLimits, n)
	for i := range limits {
		limits[i] = platform.DriveLimits{
			StepsPerUnit: 100,
			MaxFeedrate:  200,
			Acceleration: 1000,
			InstantDv:    5,
			AxisLength:   500,
			HomeFeedrate: 20,
		}
	}
	return limits
}

func TestCommitZeroLengthMoveErrors(t *testing.T) {
	r := NewRing(2, 1)
	e, err := r.Claim()
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	target := []float64{0}
	prev := []float64{0}
	_, _, err = Commit(e, target, prev, 1, testLimits(1), 1000, 5, 50, 0, 0, false, 0)
	if err == nil {
		t.Fatal("Commit of a zero-length move: want error, got nil")
	}
}

func TestCommitThenStepRunsToCompletion(t *testing.T) {
	r := NewRing(2, 1)
	e, err := r.Claim()
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	target := []float64{100} // 100 steps = 1mm at 100 steps/unit
	prev := []float64{0}
	_, _, err = Commit(e, target, prev, 1, testLimits(1), 1000, 5, 50, 0, 0, false, 0)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if e.TotalSteps != 100 {
		t.Fatalf("TotalSteps = %d, want 100", e.TotalSteps)
	}
	e.Start()
	if !e.Active() {
		t.Fatal("Active() after Start() = false, want true")
	}

	p := simplatform.New([]simplatform.DriveConfig{{Limits: testLimits(1)[0]}}, nil, 0)
	var totalMoved int64
	for i := 0; i < 1000 && e.Active(); i++ {
		res := e.Step(p)
		if res.Moved&1 != 0 {
			totalMoved++
		}
	}
	if e.Active() {
		t.Fatal("entry still active after 1000 ticks, expected completion")
	}
	if totalMoved != 100 {
		t.Fatalf("total steps emitted = %d, want 100", totalMoved)
	}
	if p.Position(0) != 1.0 {
		t.Fatalf("final position = %v, want 1.0", p.Position(0))
	}
}

func TestCommitUsesEnvelopeAccelerationAndInstantDv(t *testing.T) {
	// Non-uniform per-drive limits: if Commit recomputed acceleration/
	// instantDv from limits instead of taking the look-ahead entry's own
	// direction-projected envelope values, it could not land on these
	// specific numbers, since they match neither drive's own limit nor
	// any max/min combination of the two.
	limits := []platform.DriveLimits{
		{StepsPerUnit: 100, MaxFeedrate: 200, Acceleration: 1000, InstantDv: 5},
		{StepsPerUnit: 100, MaxFeedrate: 200, Acceleration: 2000, InstantDv: 50},
	}
	r := NewRing(2, 2)
	e, err := r.Claim()
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	target := []float64{1.0, 1.0}
	prev := []float64{0, 0}
	const envelopeAccel = 1234.5
	const envelopeInstantDv = 7.5
	if _, _, err := Commit(e, target, prev, 2, limits, envelopeAccel, envelopeInstantDv, 50, 0, 0, false, 0); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if e.Acceleration != envelopeAccel {
		t.Fatalf("Acceleration = %v, want the envelope value %v, not a per-drive recomputation", e.Acceleration, envelopeAccel)
	}
	if e.InstantDv != envelopeInstantDv {
		t.Fatalf("InstantDv = %v, want the envelope value %v, not a per-drive recomputation", e.InstantDv, envelopeInstantDv)
	}
}

func TestStepTerminatesOnEndstopHit(t *testing.T) {
	r := NewRing(2, 1)
	e, _ := r.Claim()
	target := []float64{100} // 100 steps = 1mm at 100 steps/unit
	prev := []float64{0}
	if _, _, err := Commit(e, target, prev, 1, testLimits(1), 1000, 5, 50, 0, 0, true, 0); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	e.Start()

	drive := simplatform.DriveConfig{
		Limits:    testLimits(1)[0],
		HighLimit: 0.05, // trips after ~5 steps
		HasHigh:   true,
	}
	p := simplatform.New([]simplatform.DriveConfig{drive}, nil, 0)

	var gotStop bool
	for i := 0; i < 1000 && e.Active(); i++ {
		res := e.Step(p)
		if len(res.Stops) > 0 {
			gotStop = true
			if res.Stops[0].State != platform.HighHit {
				t.Fatalf("stop state = %v, want HighHit", res.Stops[0].State)
			}
			break
		}
	}
	if !gotStop {
		t.Fatal("expected an endstop stop event before completion")
	}
	if e.Active() {
		t.Fatal("entry should be inactive (Terminate'd) after a stop")
	}
}

func TestDryRunInitZeroLengthErrors(t *testing.T) {
	_, _, _, err := DryRunInit([]float64{0}, []float64{0}, 1, testLimits(1), 1000, 0, 0, 0)
	if err == nil {
		t.Fatal("DryRunInit of a zero-length move: want error, got nil")
	}
}

func TestDryRunInitReducesUnreachableVelocity(t *testing.T) {
	// A very short move can't reach a high peak velocity from a standing
	// start within its own length; DryRunInit should report Changed.
	newU, newV, verdict, err := DryRunInit([]float64{1}, []float64{0}, 1, testLimits(1), 1000, 200, 0, 200) // 1 step = 0.01mm
	if err != nil {
		t.Fatalf("DryRunInit: %v", err)
	}
	if !verdict.Changed {
		t.Fatalf("verdict.Changed = false, want true (newU=%v newV=%v)", newU, newV)
	}
	if newV > 200 {
		t.Fatalf("newV = %v, should not exceed requested peak 200", newV)
	}
}

func TestDryRunInitTargetsRequestedFeedRateNotExitVelocity(t *testing.T) {
	// u=0, v=5: the junction-negotiated entry/exit velocities are both far
	// below the 200 mm/s requestedFeedRate (e.g. after Pass A reduced a
	// neighboring junction). Over a 100mm segment there is ample room to
	// accelerate up to 200, cruise, and decelerate back down to 5 — an
	// ordinary, unmodified trapezoid. If DryRunInit used v (5) as the
	// cruise peak instead of requestedFeedRate (200), as the trapezoid's
	// "peak" parameter, it would wrongly evaluate reachability against a
	// near-zero-cruise profile and report the segment as Changed.
	target := []float64{10000} // 10000 steps at 100 steps/unit = 100mm
	prev := []float64{0}
	_, _, verdict, err := DryRunInit(target, prev, 1, testLimits(1), 1000, 200, 0, 5)
	if err != nil {
		t.Fatalf("DryRunInit: %v", err)
	}
	if !verdict.Moving() {
		t.Fatalf("verdict = %+v, want an ordinary trapezoid solved against requestedFeedRate=200", verdict)
	}
}

func TestSolveProfileTrapezoidWithinBounds(t *testing.T) {
	stopA, startD, u, v, verdict := solveProfile(1000, 10.0, 0, 0, 50, 1000)
	if !verdict.Moving() {
		t.Fatalf("verdict = %+v, want an ordinary trapezoid", verdict)
	}
	if stopA < 0 || startD > 1000 || stopA > startD {
		t.Fatalf("stopA=%d startD=%d out of range for 1000 steps", stopA, startD)
	}
	if u != 0 || v != 0 {
		t.Fatalf("u=%v v=%v, want unchanged (0, 0)", u, v)
	}
}

func TestStepDistanceCachesPerBitmask(t *testing.T) {
	e := newEntry(2)
	e.stepsPerUnit[0] = 100
	e.stepsPerUnit[1] = 200
	d1 := e.stepDistance(1)
	d2 := e.stepDistance(1)
	if d1 != d2 {
		t.Fatalf("cached stepDistance changed: %v vs %v", d1, d2)
	}
	want := 1.0 / 100.0
	if math.Abs(d1-want) > 1e-12 {
		t.Fatalf("stepDistance(1) = %v, want %v", d1, want)
	}
}
