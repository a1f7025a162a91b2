package lookahead

import (
	"testing"

	"motioncore/pkg/errors"
)

func TestRingAppendAdvance(t *testing.T) {
	r := New(3, 4)
	if !r.Empty() || r.Full() {
		t.Fatalf("new ring should be empty, got count=%d", r.Count())
	}

	e1, err := r.Append()
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	e1.EndPoint[0] = 10

	e2, err := r.Append()
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	e2.EndPoint[0] = 20

	if r.Count() != 2 {
		t.Fatalf("Count = %d, want 2", r.Count())
	}
	if head := r.Head(); head.EndPoint[0] != 10 {
		t.Fatalf("Head().EndPoint[0] = %v, want 10", head.EndPoint[0])
	}
	if last := r.Last(); last.EndPoint[0] != 20 {
		t.Fatalf("Last().EndPoint[0] = %v, want 20", last.EndPoint[0])
	}

	r.Advance()
	if r.Count() != 1 {
		t.Fatalf("Count after Advance = %d, want 1", r.Count())
	}
	if head := r.Head(); head.EndPoint[0] != 20 {
		t.Fatalf("Head().EndPoint[0] after Advance = %v, want 20", head.EndPoint[0])
	}
}

func TestRingFullReturnsOverflowError(t *testing.T) {
	r := New(2, 2)
	if _, err := r.Append(); err != nil {
		t.Fatalf("Append 1: %v", err)
	}
	if _, err := r.Append(); err != nil {
		t.Fatalf("Append 2: %v", err)
	}
	_, err := r.Append()
	if err == nil {
		t.Fatal("Append on full ring: want error, got nil")
	}
	if !errors.IsMotion(err) {
		t.Fatalf("Append on full ring: want a Motion error, got %v", err)
	}
}

func TestRingReusesSlotsAfterWraparound(t *testing.T) {
	r := New(2, 2)
	a, _ := r.Append()
	a.EndPoint[0] = 1
	r.Advance()

	b, _ := r.Append()
	b.EndPoint[0] = 2
	c, _ := r.Append()
	c.EndPoint[0] = 3

	if r.Count() != 2 {
		t.Fatalf("Count = %d, want 2", r.Count())
	}
	if got := r.At(0).EndPoint[0]; got != 2 {
		t.Fatalf("At(0).EndPoint[0] = %v, want 2", got)
	}
	if got := r.At(1).EndPoint[0]; got != 3 {
		t.Fatalf("At(1).EndPoint[0] = %v, want 3", got)
	}
}

func TestEntryResetClearsEverything(t *testing.T) {
	r := New(1, 3)
	e, _ := r.Append()
	e.EndPoint[0] = 5
	e.Direction[1] = 1
	e.SignedDirection[1] = -1
	e.V = 7
	e.Processed = Complete
	e.Cosine(func() float64 { return 0.5 })

	r.Advance()
	e2, _ := r.Append()
	if e2 != e {
		t.Fatalf("expected slot reuse")
	}
	if e2.EndPoint[0] != 0 || e2.Direction[1] != 0 || e2.SignedDirection[1] != 0 {
		t.Fatalf("reset did not clear EndPoint/Direction/SignedDirection")
	}
	if e2.V != 0 || e2.Processed != Unprocessed {
		t.Fatalf("reset did not clear V/Processed")
	}
	if e2.CosineSet() {
		t.Fatalf("reset did not clear cosine cache")
	}
}

func TestCosineLazilyComputedAndCached(t *testing.T) {
	r := New(1, 2)
	e, _ := r.Append()
	if e.CosineSet() {
		t.Fatal("fresh entry should not have cosine set")
	}
	calls := 0
	compute := func() float64 {
		calls++
		return 0.25
	}
	if got := e.Cosine(compute); got != 0.25 {
		t.Fatalf("Cosine = %v, want 0.25", got)
	}
	if got := e.Cosine(compute); got != 0.25 {
		t.Fatalf("Cosine (cached) = %v, want 0.25", got)
	}
	if calls != 1 {
		t.Fatalf("compute called %d times, want 1", calls)
	}
}

func TestPrevAtHeadIsNil(t *testing.T) {
	r := New(2, 1)
	if got := r.Prev(0); got != nil {
		t.Fatalf("Prev(0) = %v, want nil", got)
	}
}
