package sfm

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/viam-labs/visual-odometry/spatialmath"
	"github.com/viam-labs/visual-odometry/transform"
)

// View is a single camera pose in a bundle-adjustment problem.
type View struct {
	// WorldToView transforms world coordinates into the view's local frame.
	WorldToView *spatialmath.Pose
	// Fixed marks the gauge view; its pose must not be changed by the
	// solver. Without a fixed view the absolute position and orientation of
	// the whole map are unobservable and the solver would drift them freely.
	Fixed bool
}

// Structure is the compact scene handed to the bundle adjuster: one shared
// camera, one view per active frame (window index 0 fixed), and one
// homogeneous point per selected track. The solver refines it in place.
type Structure struct {
	Camera *transform.PinholeCameraIntrinsics
	Views  []View
	Points []spatialmath.Point4
}

// ViewObservations holds the pixel measurements made from one view. The
// i-th pixel is an observation of Points[PointIndex[i]] in the structure.
type ViewObservations struct {
	PointIndex []int
	Pixels     []r2.Point
}

// Observations holds all measurements of a problem, grouped by view, index
// aligned with Structure.Views.
type Observations struct {
	Views []ViewObservations
}

// BundleAdjuster is the external non-linear solver. SetProblem declares the
// problem; Optimize refines the poses of non-fixed views and all point
// locations in place. The solver must not add or remove entities.
type BundleAdjuster interface {
	SetProblem(structure *Structure, observations *Observations) error
	Optimize(structure *Structure) error
}

// Optimize runs one round of windowed bundle adjustment: a bounded subset
// of tracks is selected, the compact problem is built and solved, and the
// refined poses and points are copied back into the scene. The frame at
// window index 0 is the gauge and keeps its pose.
func (s *Scene) Optimize() error {
	if err := s.camera.CheckValid(); err != nil {
		return errors.Wrap(err, "cannot optimize scene")
	}

	s.selected = s.selector.SelectTracks(s, s.camera.Width, s.camera.Height)
	for _, t := range s.Tracks {
		t.Selected = false
	}
	for _, t := range s.selected {
		t.Selected = true
	}

	structure, observations := s.buildProblem()
	if err := s.adjuster.SetProblem(structure, observations); err != nil {
		return errors.Wrap(err, "bundle adjuster rejected the problem")
	}
	if err := s.adjuster.Optimize(structure); err != nil {
		return errors.Wrap(err, "bundle adjustment failed")
	}
	s.copyResults(structure)
	return nil
}

// buildProblem converts the scene into the solver's format. Frame window
// indices are recomputed here since observation edges are keyed on them.
func (s *Scene) buildProblem() (*Structure, *Observations) {
	structure := &Structure{
		Camera: s.camera,
		Views:  make([]View, len(s.Frames)),
		Points: make([]spatialmath.Point4, 0, len(s.selected)),
	}
	observations := &Observations{Views: make([]ViewObservations, len(s.Frames))}

	for i, f := range s.Frames {
		f.ListIndex = i
		structure.Views[i] = View{WorldToView: f.Pose.Invert(), Fixed: i == 0}
	}

	for pointIdx, t := range s.selected {
		structure.Points = append(structure.Points, t.WorldLoc)
		for i := range t.Observations {
			o := &t.Observations[i]
			view := &observations.Views[o.Frame.ListIndex]
			view.PointIndex = append(view.PointIndex, pointIdx)
			view.Pixels = append(view.Pixels, o.Pixel)
		}
	}

	if len(structure.Points) != len(s.selected) {
		panic("sfm: selected tracks and structure points do not match")
	}
	return structure, observations
}

// copyResults writes the refined structure back into the scene.
func (s *Scene) copyResults(structure *Structure) {
	if len(structure.Views) != len(s.Frames) || len(structure.Points) != len(s.selected) {
		panic("sfm: refined structure does not match the scene it was built from")
	}
	// view 0 is the gauge and keeps its pose
	for i := 1; i < len(s.Frames); i++ {
		s.Frames[i].Pose = structure.Views[i].WorldToView.Invert()
	}
	for i, t := range s.selected {
		t.WorldLoc = structure.Points[i]
	}
}
