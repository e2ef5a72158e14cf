package sfm

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/viam-labs/visual-odometry/spatialmath"
)

// twoFrameScene builds a window of two frames with n tracks observed in both.
func twoFrameScene(adjuster BundleAdjuster, n int) *Scene {
	s := NewScene(adjuster, NewGridSelector(100))
	s.SetCamera(testCamera)
	f0 := s.AddFrame(0)
	f1 := s.AddFrame(1)
	for i := 0; i < n; i++ {
		tr := s.AddTrack(spatialmath.Point4{X: float64(i), Y: 0, Z: 5, W: 1}.Normalized())
		s.AddObservation(f0, tr, r2.Point{X: float64(100 + 50*i), Y: 100})
		s.AddObservation(f1, tr, r2.Point{X: float64(102 + 50*i), Y: 101})
	}
	return s
}

func TestOptimizeBuildsProblem(t *testing.T) {
	adjuster := &identityAdjuster{}
	s := twoFrameScene(adjuster, 3)
	originalPose := s.Frames[0].Pose.Clone()

	test.That(t, s.Optimize(), test.ShouldBeNil)
	test.That(t, adjuster.setCalls, test.ShouldEqual, 1)
	test.That(t, adjuster.optCalls, test.ShouldEqual, 1)

	// every track was selected and flagged
	test.That(t, len(s.SelectedTracks()), test.ShouldEqual, 3)
	for _, tr := range s.Tracks {
		test.That(t, tr.Selected, test.ShouldBeTrue)
	}

	// one observation edge per (selected track, observing frame)
	obs := adjuster.lastObs
	test.That(t, len(obs.Views), test.ShouldEqual, 2)
	test.That(t, len(obs.Views[0].PointIndex), test.ShouldEqual, 3)
	test.That(t, len(obs.Views[1].PointIndex), test.ShouldEqual, 3)

	// identity solver leaves the scene untouched
	test.That(t, s.Frames[0].Pose.Translation, test.ShouldResemble, originalPose.Translation)
}

// shiftAdjuster moves every non-fixed view and every point, so copy-back is
// observable.
type shiftAdjuster struct{}

func (a *shiftAdjuster) SetProblem(structure *Structure, observations *Observations) error {
	return nil
}

func (a *shiftAdjuster) Optimize(structure *Structure) error {
	for i := range structure.Views {
		if structure.Views[i].Fixed {
			continue
		}
		structure.Views[i].WorldToView = spatialmath.NewPose(
			structure.Views[i].WorldToView.Rotation,
			structure.Views[i].WorldToView.Translation.Add(r3.Vector{Z: -1}),
		)
	}
	for i := range structure.Points {
		structure.Points[i].X += 0.5
	}
	return nil
}

func TestOptimizeCopiesResultsBack(t *testing.T) {
	s := twoFrameScene(&shiftAdjuster{}, 2)
	before0 := s.Frames[0].Pose.Clone()
	beforeX := []float64{s.Tracks[0].WorldLoc.X, s.Tracks[1].WorldLoc.X}

	test.That(t, s.Optimize(), test.ShouldBeNil)

	// the gauge frame held its pose
	test.That(t, s.Frames[0].Pose.Translation, test.ShouldResemble, before0.Translation)
	// the refined view pose came back inverted into frame-to-world
	test.That(t, s.Frames[1].Pose.Translation.Z, test.ShouldAlmostEqual, 1, 1e-12)
	// refined points landed in the selected tracks
	test.That(t, s.Tracks[0].WorldLoc.X, test.ShouldAlmostEqual, beforeX[0]+0.5, 1e-12)
	test.That(t, s.Tracks[1].WorldLoc.X, test.ShouldAlmostEqual, beforeX[1]+0.5, 1e-12)
}

// growAdjuster violates the solver contract by adding a point.
type growAdjuster struct{}

func (a *growAdjuster) SetProblem(structure *Structure, observations *Observations) error {
	return nil
}

func (a *growAdjuster) Optimize(structure *Structure) error {
	structure.Points = append(structure.Points, spatialmath.Point4{W: 1})
	return nil
}

func TestOptimizeCountMismatchPanics(t *testing.T) {
	s := twoFrameScene(&growAdjuster{}, 2)
	test.That(t, func() { _ = s.Optimize() }, test.ShouldPanic)
}

func TestOptimizeRequiresCamera(t *testing.T) {
	s := NewScene(&identityAdjuster{}, NewGridSelector(10))
	s.AddFrame(0)
	test.That(t, s.Optimize(), test.ShouldNotBeNil)
}
