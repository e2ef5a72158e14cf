package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// Point4 is a homogeneous 3D point. A weight of exactly zero encodes a point
// at infinity; consumers must check AtInfinity rather than divide by W.
type Point4 struct {
	X, Y, Z, W float64
}

// NewPoint4FromVector returns the homogeneous point for a finite 3D point.
func NewPoint4FromVector(v r3.Vector) Point4 {
	return Point4{X: v.X, Y: v.Y, Z: v.Z, W: 1}
}

// AtInfinity reports whether the point lies at infinity.
func (p Point4) AtInfinity() bool {
	return p.W == 0
}

// Norm returns the Euclidean norm of the 4-vector.
func (p Point4) Norm() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z + p.W*p.W)
}

// Normalized returns the point scaled to unit norm, which keeps the
// magnitude of stored coordinates bounded. Homogeneous scaling does not
// change the point it represents. The zero vector is returned unchanged.
func (p Point4) Normalized() Point4 {
	n := p.Norm()
	if n == 0 {
		return p
	}
	return p.Scale(1 / n)
}

// Scale multiplies all four components by s.
func (p Point4) Scale(s float64) Point4 {
	return Point4{X: p.X * s, Y: p.Y * s, Z: p.Z * s, W: p.W * s}
}

// Vector dehomogenizes the point. It returns false for points at infinity.
func (p Point4) Vector() (r3.Vector, bool) {
	if p.W == 0 {
		return r3.Vector{}, false
	}
	return r3.Vector{X: p.X / p.W, Y: p.Y / p.W, Z: p.Z / p.W}, true
}
