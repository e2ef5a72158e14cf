package odometry

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/viam-labs/visual-odometry/spatialmath"
)

// Point2D3D pairs an image observation in normalized coordinates with a 3D
// location, the input unit of the robust motion estimator.
type Point2D3D struct {
	Observation r2.Point
	Location    r3.Vector
}

// PixelTo3D estimates the homogeneous 3D location of a single pixel in the
// camera's local coordinates, typically from stereo or a depth sensor. It
// reports false when the pixel cannot be localized.
type PixelTo3D interface {
	Localize(x, y float64) (spatialmath.Point4, bool)
}

// Motion is an accepted motion estimate.
type Motion struct {
	// KeyToCurrent transforms points from the previous keyframe's local
	// coordinates into the current camera frame. Translation carries metric
	// scale since the 3D inputs do.
	KeyToCurrent *spatialmath.Pose
	// Inliers are the indices into the input correspondence slice of the
	// observations consistent with the estimate.
	Inliers []int
}

// MotionEstimator fits a pose to 2D-3D correspondences while rejecting
// outliers. A false result means no acceptable motion was found; that is an
// ordinary per-frame outcome, not an error.
type MotionEstimator interface {
	EstimateMotion(observations []Point2D3D) (*Motion, bool)
}

// PoseRefiner optionally polishes a motion estimate over its inlier set.
type PoseRefiner interface {
	RefinePose(inliers []Point2D3D, initial *spatialmath.Pose) (*spatialmath.Pose, error)
}
