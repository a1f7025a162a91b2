// Package transform implements the axis-skew and bed-plane compensation
// applied to a move's target coordinates before it enters the look-ahead
// ring.
package transform

import (
	"math"

	"motioncore/internal/platform"
	"motioncore/pkg/errors"
)

// Axis is the axis-skew compensation: three tangents that shear the user
// frame into the machine frame. Forward and inverse are exact two-line
// shears, applied/undone in opposite order.
type Axis struct {
	TanXY, TanYZ, TanXZ float64
}

// Forward maps user-frame (x, y, z) into axis-compensated machine-frame
// coordinates.
func (a Axis) Forward(x, y, z float64) (float64, float64, float64) {
	x += a.TanXY*y + a.TanXZ*z
	y += a.TanYZ * z
	return x, y, z
}

// Inverse undoes Forward.
func (a Axis) Inverse(x, y, z float64) (float64, float64, float64) {
	y -= a.TanYZ * z
	x -= a.TanXY*y + a.TanXZ*z
	return x, y, z
}

// ProbePoint is one recorded bed-surface sample. SetMask records which of
// x, y, z (bits 0, 1, 2) were actually written; a point is usable by the
// compensation fit only once all three bits are set.
type ProbePoint struct {
	X, Y, Z  float64
	SetMask  uint8
}

const (
	bitX uint8 = 1 << 0
	bitY uint8 = 1 << 1
	bitZ uint8 = 1 << 2
	fullySet = bitX | bitY | bitZ
)

// SetXY records a probe point's horizontal position.
func (p *ProbePoint) SetXY(x, y float64) {
	p.X, p.Y = x, y
	p.SetMask |= bitX | bitY
}

// SetZ records a probe point's measured height.
func (p *ProbePoint) SetZ(z float64) {
	p.Z = z
	p.SetMask |= bitZ
}

// Complete reports whether all three coordinates of this point are set.
func (p ProbePoint) Complete() bool { return p.SetMask == fullySet }

// Bed is the bed-plane/surface compensation transform. It adds a z-offset
// derived from the probe model; all four modes (identity, plane, bilinear,
// triangle fan) implement the same interface.
type Bed interface {
	ZOffset(x, y float64) float64
	// Mode names the compensation in effect, for logging/telemetry.
	Mode() string
}

// Identity applies no correction.
type Identity struct{}

func (Identity) ZOffset(x, y float64) float64 { return 0 }
func (Identity) Mode() string                 { return "identity" }

// Plane is the 3-point compensation: z_offset = aX*x + aY*y + aC.
type Plane struct {
	AX, AY, AC float64
}

func (p Plane) ZOffset(x, y float64) float64 { return p.AX*x + p.AY*y + p.AC }
func (Plane) Mode() string                   { return "plane" }

// FitPlane derives a Plane from three complete probe points using the
// cross-product normal of the two edge vectors from point 0.
func FitPlane(p0, p1, p2 ProbePoint) (Plane, error) {
	v1x, v1y, v1z := p1.X-p0.X, p1.Y-p0.Y, p1.Z-p0.Z
	v2x, v2y, v2z := p2.X-p0.X, p2.Y-p0.Y, p2.Z-p0.Z

	nx := v1y*v2z - v1z*v2y
	ny := v1z*v2x - v1x*v2z
	nz := v1x*v2y - v1y*v2x

	if math.Abs(nz) < 1e-9 {
		return Plane{}, errors.MotionDegenerateCompensationError("probe points are collinear")
	}

	aX := -nx / nz
	aY := -ny / nz
	aC := p0.Z - aX*p0.X - aY*p0.Y
	return Plane{AX: aX, AY: aY, AC: aC}, nil
}

// Bilinear is the 4-point compensation on a rectangle whose corners are
// the four probe points, indexed SW, NW, NE, SE.
type Bilinear struct {
	x0, y0, dx, dy     float64
	z0, z1, z2, z3     float64
}

func (b Bilinear) Mode() string { return "bilinear" }

func (b Bilinear) ZOffset(x, y float64) float64 {
	u := (x - b.x0) / b.dx
	v := (y - b.y0) / b.dy
	return (1-u)*(1-v)*b.z0 + u*(1-v)*b.z3 + (1-u)*v*b.z1 + u*v*b.z2
}

// FitBilinear derives a Bilinear compensation from the four rectangle
// corners sw, nw, ne, se.
func FitBilinear(sw, nw, ne, se ProbePoint) (Bilinear, error) {
	dx := se.X - sw.X
	dy := nw.Y - sw.Y
	if math.Abs(dx) < 1e-9 || math.Abs(dy) < 1e-9 {
		return Bilinear{}, errors.MotionDegenerateCompensationError("bilinear rectangle has zero width or height")
	}
	return Bilinear{
		x0: sw.X, y0: sw.Y, dx: dx, dy: dy,
		z0: sw.Z, z1: nw.Z, z2: ne.Z, z3: se.Z,
	}, nil
}

// Triangle is the 5-point compensation: four corners plus a centre point,
// forming a fan of four triangles.
type Triangle struct {
	corners [4]ProbePoint
	centre  ProbePoint
}

func (Triangle) Mode() string { return "triangle" }

// FitTriangle derives a Triangle compensation from four corners (SW, NW,
// NE, SE) and a centre point.
func FitTriangle(sw, nw, ne, se, centre ProbePoint) (Triangle, error) {
	return Triangle{corners: [4]ProbePoint{sw, nw, ne, se}, centre: centre}, nil
}

// barycentric returns the barycentric coordinates of (x, y) against the
// triangle (p1, p2, p3).
func barycentric(x, y float64, p1, p2, p3 ProbePoint) (l1, l2, l3 float64) {
	det := (p1.X-p3.X)*(p2.Y-p3.Y) - (p2.X-p3.X)*(p1.Y-p3.Y)
	if math.Abs(det) < 1e-12 {
		return -1, -1, -1
	}
	l1 = ((x-p3.X)*(p2.Y-p3.Y) - (p2.X-p3.X)*(y-p3.Y)) / det
	l2 = ((p1.X-p3.X)*(y-p3.Y) - (x-p3.X)*(p1.Y-p3.Y)) / det
	l3 = 1 - l1 - l2
	return l1, l2, l3
}

func (t Triangle) ZOffset(x, y float64) float64 {
	for i := 0; i < 4; i++ {
		a := t.corners[i]
		b := t.corners[(i+1)%4]
		l1, l2, l3 := barycentric(x, y, a, b, t.centre)
		if l1 >= platform.Triangle0 && l2 >= platform.Triangle0 && l3 >= platform.Triangle0 {
			return l1*a.Z + l2*b.Z + l3*t.centre.Z
		}
	}
	// Shouldn't happen for points inside the fan's convex hull; fall back
	// to the first triangle's (corners 0, 1 and the centre) unclamped
	// barycentric blend rather than silently returning zero.
	a, b := t.corners[0], t.corners[1]
	l1, l2, l3 := barycentric(x, y, a, b, t.centre)
	return l1*a.Z + l2*b.Z + l3*t.centre.Z
}

// SetProbedBedEquation selects and fits a compensation mode from however
// many probe points are complete, per §4.6: 0 -> identity, 3 -> plane,
// 4 -> bilinear, 5 -> triangle fan. Points must be in SW, NW, NE, SE,
// centre order. A degenerate fit falls back to Identity with its error
// returned for the caller to report.
func SetProbedBedEquation(points []ProbePoint) (Bed, error) {
	n := 0
	for _, p := range points {
		if p.Complete() {
			n++
		}
	}
	switch n {
	case 0:
		return Identity{}, nil
	case 3:
		pl, err := FitPlane(points[0], points[1], points[2])
		if err != nil {
			return Identity{}, err
		}
		return pl, nil
	case 4:
		bl, err := FitBilinear(points[0], points[1], points[2], points[3])
		if err != nil {
			return Identity{}, err
		}
		return bl, nil
	case 5:
		tr, err := FitTriangle(points[0], points[1], points[2], points[3], points[4])
		if err != nil {
			return Identity{}, err
		}
		return tr, nil
	default:
		return Identity{}, errors.MotionDegenerateCompensationError("unsupported probe point count")
	}
}
