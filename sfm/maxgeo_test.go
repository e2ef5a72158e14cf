package sfm

import (
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"

	"github.com/viam-labs/visual-odometry/spatialmath"
	"github.com/viam-labs/visual-odometry/tracking"
)

func TestMaxGeoNoEvictionBelowMax(t *testing.T) {
	tracker := newDummyTracker()
	scene := newTestScene()
	alg := NewMaxGeoKeyFrameManager()
	alg.Initialize(640, 480)

	for i := 0; i < maxKeyFramesForTest; i++ {
		scene.AddFrame(int64(i))
		tracker.ProcessImage(nil)
		discard := alg.SelectFramesToDiscard(tracker, maxKeyFramesForTest, scene)
		test.That(t, len(discard), test.ShouldEqual, 0)
	}
}

func TestMaxGeoEvictsNewestWithoutFreshCoverage(t *testing.T) {
	tracker := newDummyTracker()
	scene := newTestScene()
	alg := NewMaxGeoKeyFrameManager()
	alg.Initialize(640, 480)

	for i := 0; i <= maxKeyFramesForTest; i++ {
		scene.AddFrame(int64(i))
		tracker.ProcessImage(nil)
	}
	// active correspondences sit in cells already covered by the previous
	// keyframe, so the newest frame is redundant
	tracker.active = []*tracking.PointTrack{
		{ID: 0, Pixel: r2.Point{X: 50, Y: 50}},
		{ID: 1, Pixel: r2.Point{X: 600, Y: 400}},
	}
	alg.HandleSpawnedTracks(tracker)

	discard := alg.SelectFramesToDiscard(tracker, maxKeyFramesForTest, scene)
	test.That(t, len(discard), test.ShouldEqual, 1)
	test.That(t, discard[0], test.ShouldEqual, len(scene.Frames)-1)
}

func TestMaxGeoEvictsRedundantOldFrameOnFreshCoverage(t *testing.T) {
	tracker := newDummyTracker()
	scene := newTestScene()
	alg := NewMaxGeoKeyFrameManager()
	alg.Initialize(640, 480)

	frames := make([]*Frame, 0, maxKeyFramesForTest+1)
	for i := 0; i <= maxKeyFramesForTest; i++ {
		frames = append(frames, scene.AddFrame(int64(i)))
		tracker.ProcessImage(nil)
	}

	// frame 1's only track is covered by three other frames, every other
	// frame holds an exclusive track
	shared := scene.AddTrack(spatialmath.Point4{Z: 1, W: 1})
	for _, f := range []*Frame{frames[0], frames[1], frames[2], frames[3]} {
		scene.AddObservation(f, shared, r2.Point{X: 10, Y: 10})
	}
	for i, f := range frames {
		if i == 1 {
			continue
		}
		solo := scene.AddTrack(spatialmath.Point4{Z: 2, W: 1})
		scene.AddObservation(f, solo, r2.Point{X: float64(20 * i), Y: 30})
	}

	// baseline coverage in one corner, actives far away from it
	tracker.active = []*tracking.PointTrack{{ID: 0, Pixel: r2.Point{X: 10, Y: 10}}}
	alg.HandleSpawnedTracks(tracker)
	tracker.active = []*tracking.PointTrack{{ID: 1, Pixel: r2.Point{X: 630, Y: 470}}}

	discard := alg.SelectFramesToDiscard(tracker, maxKeyFramesForTest, scene)
	test.That(t, len(discard), test.ShouldEqual, 1)
	test.That(t, discard[0], test.ShouldEqual, 1)
}
