package core

import (
	"math"

	"github.com/signalsfoundry/constellation-comms/model"
)

// EarthRadiusKm is the default occluding body radius (kilometres).
const EarthRadiusKm = 6371.0

// Vec3 is an ECEF-style vector in kilometres.
type Vec3 struct {
	X, Y, Z float64
}

// VecFromMotion converts an entity position in metres to kilometres.
func VecFromMotion(m model.Motion) Vec3 {
	const mPerKm = 1000.0
	return Vec3{X: m.X / mPerKm, Y: m.Y / mPerKm, Z: m.Z / mPerKm}
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// hasLineOfSight reports whether the segment p1-p2 clears a sphere of the
// given radius centred on the origin. Points on the surface count as
// blocked only when the segment dips below it.
func hasLineOfSight(p1, p2 Vec3, radiusKm float64) bool {
	r2 := radiusKm * radiusKm
	v := p2.Sub(p1)
	a := v.Dot(v)
	if a == 0 {
		return p1.Dot(p1) >= r2
	}

	// Closest point of the segment to the origin.
	t := -p1.Dot(v) / a
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	closest := Vec3{
		X: p1.X + v.X*t,
		Y: p1.Y + v.Y*t,
		Z: p1.Z + v.Z*t,
	}

	// Tolerate rounding for stations sitting exactly on the surface.
	const epsKm2 = 1e-6
	return closest.Dot(closest) >= r2-epsKm2
}
