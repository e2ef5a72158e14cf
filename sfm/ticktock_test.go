package sfm

import (
	"testing"

	"go.viam.com/test"
)

const maxKeyFramesForTest = 5

func TestTickTockAlwaysAddBeforeMax(t *testing.T) {
	tracker := newDummyTracker()
	scene := newTestScene()

	// a long period so it will not promote a frame during the test
	alg := NewTickTockKeyFrameManager(10000)
	alg.Initialize(300, 200)

	for i := 0; i < 5; i++ {
		discard := alg.SelectFramesToDiscard(tracker, maxKeyFramesForTest, scene)
		test.That(t, len(discard), test.ShouldEqual, 0)
		scene.AddFrame(int64(i))
		tracker.ProcessImage(nil)
	}

	// one frame over the limit, it should discard the newest frame
	scene.AddFrame(6)
	tracker.ProcessImage(nil)
	discard := alg.SelectFramesToDiscard(tracker, maxKeyFramesForTest, scene)
	test.That(t, len(discard), test.ShouldEqual, 1)
	test.That(t, discard[0], test.ShouldEqual, 5)
}

func TestTickTockSavePeriodically(t *testing.T) {
	tracker := newDummyTracker()
	scene := newTestScene()

	alg := NewTickTockKeyFrameManager(3)
	for i := 0; i < 5; i++ {
		tracker.ProcessImage(nil)
		scene.AddFrame(int64(i))
	}

	for i := 0; i < 10; i++ {
		tracker.ProcessImage(nil)
		scene.AddFrame(int64(i + 5))
		discard := alg.SelectFramesToDiscard(tracker, maxKeyFramesForTest, scene)
		test.That(t, len(discard), test.ShouldEqual, 1)
		id := tracker.FrameID()
		if id%3 == 0 {
			// promote the newest frame, evict the oldest
			test.That(t, discard[0], test.ShouldEqual, 0)
			test.That(t, alg.AnchorID(), test.ShouldEqual, id)
		} else {
			// the newest frame is speculative
			test.That(t, discard[0], test.ShouldEqual, 5)
		}
		scene.RemoveFrame(scene.Frames[discard[0]])
	}
}
