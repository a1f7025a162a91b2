package transform

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAxisForwardInverseRoundTrip(t *testing.T) {
	a := Axis{TanXY: 0.01, TanYZ: 0.02, TanXZ: -0.005}
	x, y, z := 10.0, 20.0, 5.0
	fx, fy, fz := a.Forward(x, y, z)
	ix, iy, iz := a.Inverse(fx, fy, fz)
	if !almostEqual(ix, x) || !almostEqual(iy, y) || !almostEqual(iz, z) {
		t.Fatalf("round trip = (%v, %v, %v), want (%v, %v, %v)", ix, iy, iz, x, y, z)
	}
}

func point(x, y, z float64) ProbePoint {
	p := ProbePoint{}
	p.SetXY(x, y)
	p.SetZ(z)
	return p
}

func TestFitPlaneFlatSurfaceIsZero(t *testing.T) {
	p0 := point(0, 0, 1)
	p1 := point(10, 0, 1)
	p2 := point(0, 10, 1)
	pl, err := FitPlane(p0, p1, p2)
	if err != nil {
		t.Fatalf("FitPlane: %v", err)
	}
	if got := pl.ZOffset(5, 5); !almostEqual(got, 1) {
		t.Fatalf("ZOffset(5,5) = %v, want 1", got)
	}
}

func TestFitPlaneCollinearIsDegenerate(t *testing.T) {
	p0 := point(0, 0, 0)
	p1 := point(1, 0, 0)
	p2 := point(2, 0, 0)
	if _, err := FitPlane(p0, p1, p2); err == nil {
		t.Fatal("FitPlane of collinear points: want error, got nil")
	}
}

func TestFitBilinearInterpolatesCorners(t *testing.T) {
	sw := point(0, 0, 0)
	nw := point(0, 10, 1)
	ne := point(10, 10, 2)
	se := point(10, 0, 3)
	bl, err := FitBilinear(sw, nw, ne, se)
	if err != nil {
		t.Fatalf("FitBilinear: %v", err)
	}
	if got := bl.ZOffset(0, 0); !almostEqual(got, 0) {
		t.Fatalf("ZOffset(sw) = %v, want 0", got)
	}
	if got := bl.ZOffset(10, 10); !almostEqual(got, 2) {
		t.Fatalf("ZOffset(ne) = %v, want 2", got)
	}
	if got := bl.ZOffset(5, 5); !almostEqual(got, 1.5) {
		t.Fatalf("ZOffset(center) = %v, want 1.5 (average of corners)", got)
	}
}

func TestFitBilinearDegenerateRectangle(t *testing.T) {
	sw := point(0, 0, 0)
	nw := point(0, 0, 1) // zero height
	ne := point(10, 0, 2)
	se := point(10, 0, 3)
	if _, err := FitBilinear(sw, nw, ne, se); err == nil {
		t.Fatal("FitBilinear of a zero-height rectangle: want error, got nil")
	}
}

func TestSetProbedBedEquationDispatchesByPointCount(t *testing.T) {
	cases := []struct {
		name   string
		points []ProbePoint
		mode   string
	}{
		{"none", nil, "identity"},
		{"three", []ProbePoint{point(0, 0, 0), point(10, 0, 0), point(0, 10, 0)}, "plane"},
		{"four", []ProbePoint{point(0, 0, 0), point(0, 10, 0), point(10, 10, 0), point(10, 0, 0)}, "bilinear"},
		{"five", []ProbePoint{point(0, 0, 0), point(0, 10, 0), point(10, 10, 0), point(10, 0, 0), point(5, 5, 0)}, "triangle"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			bed, err := SetProbedBedEquation(c.points)
			if err != nil {
				t.Fatalf("SetProbedBedEquation: %v", err)
			}
			if bed.Mode() != c.mode {
				t.Fatalf("Mode() = %q, want %q", bed.Mode(), c.mode)
			}
		})
	}
}

func TestSetProbedBedEquationUnsupportedCountIsDegenerate(t *testing.T) {
	points := []ProbePoint{point(0, 0, 0), point(10, 0, 0)}
	bed, err := SetProbedBedEquation(points)
	if err == nil {
		t.Fatal("SetProbedBedEquation with 2 complete points: want error, got nil")
	}
	if bed.Mode() != "identity" {
		t.Fatalf("fallback Mode() = %q, want identity", bed.Mode())
	}
}

func TestTriangleZOffsetAtCornersAndCentre(t *testing.T) {
	sw := point(0, 0, 0)
	nw := point(0, 10, 1)
	ne := point(10, 10, 2)
	se := point(10, 0, 3)
	centre := point(5, 5, 10)
	tr, err := FitTriangle(sw, nw, ne, se, centre)
	if err != nil {
		t.Fatalf("FitTriangle: %v", err)
	}
	if got := tr.ZOffset(5, 5); !almostEqual(got, 10) {
		t.Fatalf("ZOffset(centre) = %v, want 10", got)
	}
}
