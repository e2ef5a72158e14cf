package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-labs/visual-odometry/spatialmath"
)

// TriangulateNView recovers the homogeneous 3D point seen by two or more
// views with the linear DLT method. Each observation is in normalized image
// coordinates and is paired with the world-to-view transform of its camera.
// The returned point is scaled to unit norm and may lie at infinity.
func TriangulateNView(observations []r2.Point, worldToView []*spatialmath.Pose) (spatialmath.Point4, error) {
	if len(observations) != len(worldToView) {
		return spatialmath.Point4{}, errors.Errorf(
			"observation count %d does not match view count %d", len(observations), len(worldToView))
	}
	if len(observations) < 2 {
		return spatialmath.Point4{}, errors.New("triangulation requires at least two views")
	}

	// Stack two rows per view: x*P[2] - P[0] and y*P[2] - P[1].
	a := mat.NewDense(2*len(observations), 4, nil)
	for i, obs := range observations {
		p := worldToView[i].Matrix34()
		for j := 0; j < 4; j++ {
			a.Set(2*i, j, obs.X*p.At(2, j)-p.At(0, j))
			a.Set(2*i+1, j, obs.Y*p.At(2, j)-p.At(1, j))
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return spatialmath.Point4{}, errors.New("failed to factorize triangulation system")
	}
	v := &mat.Dense{}
	svd.VTo(v)

	// The solution is the right singular vector of the smallest singular value.
	pt := spatialmath.Point4{
		X: v.At(0, 3),
		Y: v.At(1, 3),
		Z: v.At(2, 3),
		W: v.At(3, 3),
	}
	n := pt.Norm()
	if n == 0 || math.IsNaN(n) {
		return spatialmath.Point4{}, errors.New("triangulation produced a degenerate point")
	}
	return pt.Scale(1 / n), nil
}
