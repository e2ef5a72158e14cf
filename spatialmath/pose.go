// Package spatialmath implements the rigid-body transforms and homogeneous
// point math used by the odometry core.
package spatialmath

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Pose is a rigid transform between two coordinate systems, stored as a 3x3
// rotation matrix and a translation vector. A frame pose maps the frame's
// local coordinates into world coordinates.
type Pose struct {
	Rotation    *mat.Dense
	Translation r3.Vector
}

// NewPose returns a pose with the given rotation matrix and translation.
func NewPose(rotation *mat.Dense, translation r3.Vector) *Pose {
	return &Pose{Rotation: rotation, Translation: translation}
}

// NewZeroPose returns the identity transform.
func NewZeroPose() *Pose {
	return &Pose{Rotation: identity3(), Translation: r3.Vector{}}
}

func identity3() *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	m.Set(0, 0, 1)
	m.Set(1, 1, 1)
	m.Set(2, 2, 1)
	return m
}

// Clone returns a deep copy of the pose.
func (p *Pose) Clone() *Pose {
	return &Pose{Rotation: mat.DenseCopyOf(p.Rotation), Translation: p.Translation}
}

// Invert returns the inverse transform, R^T and -R^T * t.
func (p *Pose) Invert() *Pose {
	rt := mat.DenseCopyOf(p.Rotation.T())
	ti := rotateVector(rt, p.Translation)
	return &Pose{Rotation: rt, Translation: ti.Mul(-1)}
}

// Compose returns the transform equivalent to applying b first and then a,
// the matrix product a * b.
func Compose(a, b *Pose) *Pose {
	r := mat.NewDense(3, 3, nil)
	r.Mul(a.Rotation, b.Rotation)
	t := rotateVector(a.Rotation, b.Translation).Add(a.Translation)
	return &Pose{Rotation: r, Translation: t}
}

// TransformPoint applies the pose to a finite 3D point.
func (p *Pose) TransformPoint(pt r3.Vector) r3.Vector {
	return rotateVector(p.Rotation, pt).Add(p.Translation)
}

// TransformPoint4 applies the pose to a homogeneous point. The weight is
// unchanged, so points at infinity stay at infinity.
func (p *Pose) TransformPoint4(pt Point4) Point4 {
	v := rotateVector(p.Rotation, r3.Vector{X: pt.X, Y: pt.Y, Z: pt.Z})
	v = v.Add(p.Translation.Mul(pt.W))
	return Point4{X: v.X, Y: v.Y, Z: v.Z, W: pt.W}
}

// Matrix34 returns the pose as a 3x4 [R|t] matrix.
func (p *Pose) Matrix34() *mat.Dense {
	m := mat.NewDense(3, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, p.Rotation.At(i, j))
		}
	}
	m.Set(0, 3, p.Translation.X)
	m.Set(1, 3, p.Translation.Y)
	m.Set(2, 3, p.Translation.Z)
	return m
}

func rotateVector(r *mat.Dense, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: r.At(0, 0)*v.X + r.At(0, 1)*v.Y + r.At(0, 2)*v.Z,
		Y: r.At(1, 0)*v.X + r.At(1, 1)*v.Y + r.At(1, 2)*v.Z,
		Z: r.At(2, 0)*v.X + r.At(2, 1)*v.Y + r.At(2, 2)*v.Z,
	}
}
