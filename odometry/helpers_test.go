package odometry

import (
	"image"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"go.viam.com/test"

	"github.com/viam-labs/visual-odometry/sfm"
	"github.com/viam-labs/visual-odometry/spatialmath"
	"github.com/viam-labs/visual-odometry/tracking"
	"github.com/viam-labs/visual-odometry/transform"
)

var testCamera = &transform.PinholeCameraIntrinsics{
	Width:  640,
	Height: 480,
	Fx:     500,
	Fy:     500,
	Ppx:    320,
	Ppy:    240,
}

func testImage() image.Image {
	return image.NewGray(image.Rect(0, 0, 640, 480))
}

// fakeTracker is a scripted 2D tracker. Spawn candidates and drop
// notifications are staged by the test before each Process call.
type fakeTracker struct {
	frameID     int64
	active      []*tracking.PointTrack
	droppedNext []*tracking.PointTrack
	spawnNext   []*tracking.PointTrack
	dropCalls   []*tracking.PointTrack
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{frameID: -1}
}

func (f *fakeTracker) ProcessImage(img image.Image) { f.frameID++ }
func (f *fakeTracker) FrameID() int64               { return f.frameID }

func (f *fakeTracker) ActiveTracks() []*tracking.PointTrack {
	out := make([]*tracking.PointTrack, len(f.active))
	copy(out, f.active)
	return out
}

func (f *fakeTracker) DroppedTracks() []*tracking.PointTrack {
	dropped := f.droppedNext
	f.droppedNext = nil
	return dropped
}

func (f *fakeTracker) SpawnTracks() []*tracking.PointTrack {
	spawned := f.spawnNext
	f.spawnNext = nil
	f.active = append(f.active, spawned...)
	return spawned
}

func (f *fakeTracker) DropTrack(track *tracking.PointTrack) {
	f.dropCalls = append(f.dropCalls, track)
	for i, a := range f.active {
		if a == track {
			f.active = append(f.active[:i], f.active[i+1:]...)
			break
		}
	}
}

func (f *fakeTracker) Reset() {
	*f = fakeTracker{frameID: -1}
}

func (f *fakeTracker) dropCallsContain(track *tracking.PointTrack) bool {
	for _, d := range f.dropCalls {
		if d == track {
			return true
		}
	}
	return false
}

// fakeLocalizer runs a test-supplied function per pixel.
type fakeLocalizer struct {
	fn func(x, y float64) (spatialmath.Point4, bool)
}

// depthLocalizer back-projects every pixel at a constant depth.
func depthLocalizer(depth float64) *fakeLocalizer {
	return &fakeLocalizer{fn: func(x, y float64) (spatialmath.Point4, bool) {
		px, py, pz := testCamera.PixelToPoint(x, y, depth)
		return spatialmath.Point4{X: px, Y: py, Z: pz, W: 1}, true
	}}
}

func (f *fakeLocalizer) Localize(x, y float64) (spatialmath.Point4, bool) {
	return f.fn(x, y)
}

type estimateResult struct {
	motion *Motion
	ok     bool
}

// fakeEstimator replays scripted results; with no script it accepts every
// observation against an identity motion.
type fakeEstimator struct {
	results   []estimateResult
	lastInput []Point2D3D
}

func allInliers(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func (f *fakeEstimator) EstimateMotion(observations []Point2D3D) (*Motion, bool) {
	f.lastInput = observations
	if len(f.results) == 0 {
		return &Motion{KeyToCurrent: spatialmath.NewZeroPose(), Inliers: allInliers(len(observations))}, true
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r.motion, r.ok
}

// noopAdjuster accepts any problem and refines nothing.
type noopAdjuster struct{}

func (a *noopAdjuster) SetProblem(structure *sfm.Structure, observations *sfm.Observations) error {
	return nil
}
func (a *noopAdjuster) Optimize(structure *sfm.Structure) error { return nil }

func newTestPipeline(
	t *testing.T,
	tracker tracking.PointTracker,
	localizer PixelTo3D,
	estimator MotionEstimator,
	refiner PoseRefiner,
) *PixelDepthOdometry {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CamIntrinsics = testCamera
	vo, err := New(
		cfg, tracker, localizer, estimator, refiner,
		&noopAdjuster{}, sfm.NewTickTockKeyFrameManager(cfg.KeyframePeriod),
		golog.NewTestLogger(t),
	)
	test.That(t, err, test.ShouldBeNil)
	return vo
}

func spawnPoints(pixels ...r2.Point) []*tracking.PointTrack {
	out := make([]*tracking.PointTrack, len(pixels))
	for i, px := range pixels {
		out[i] = &tracking.PointTrack{ID: int64(i + 1), Pixel: px}
	}
	return out
}
