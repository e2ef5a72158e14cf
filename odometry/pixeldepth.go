// Package odometry implements the incremental visual-odometry core: given a
// stream of camera frames with per-pixel range information, it maintains a
// bounded map of 3D landmarks and keyframe poses, estimates frame-to-frame
// motion, and periodically refines the map with windowed bundle adjustment.
//
// The pipeline is strictly single threaded. Each call to Process runs the
// whole per-frame state machine to completion; external collaborators
// (tracker, localizer, estimator, solver) are opaque synchronous calls.
package odometry

import (
	"image"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/viam-labs/visual-odometry/sfm"
	"github.com/viam-labs/visual-odometry/spatialmath"
	"github.com/viam-labs/visual-odometry/tracking"
	"github.com/viam-labs/visual-odometry/transform"
)

// farAwayDistance stands in for a point at infinity when a finite location
// is required. The appropriate value for "far away" depends on units.
const farAwayDistance = 1e6

// minObservationsToKeep is the grace threshold for tracks that lost their
// tracker correspondence: with fewer observations than this, triangulation
// is too unreliable to make the track worth retaining.
const minObservationsToKeep = 3

// Profile holds the duration of each pipeline stage for the most recently
// processed frame.
type Profile struct {
	Tracking         time.Duration
	Estimate         time.Duration
	Bundle           time.Duration
	DropUnused       time.Duration
	SceneMaintenance time.Duration
	Spawn            time.Duration
}

// PixelDepthOdometry is full 6-DOF visual odometry for a camera paired with
// a ranging device that can localize single pixels. Motion is estimated
// with a robust PnP fit against the previous keyframe, the map is refined
// with windowed bundle adjustment, and a keyframe policy keeps the active
// window bounded.
type PixelDepthOdometry struct {
	tracker      tracking.PointTracker
	pixelTo3D    PixelTo3D
	estimator    MotionEstimator
	refiner      PoseRefiner // optional, may be nil
	scene        *sfm.Scene
	frameManager sfm.KeyFrameManager

	maxKeyFrames    int
	retireThreshold int64
	camera          *transform.PinholeCameraIntrinsics

	logger golog.Logger
	clock  clock.Clock

	first          bool
	currentToWorld *spatialmath.Pose
	frameCurrent   *sfm.Frame
	framePrevious  *sfm.Frame

	inlierTracks   []*sfm.Track
	visibleTracks  []*sfm.Track
	initialVisible []*sfm.Track

	profile Profile
}

// New builds a pipeline from its collaborators. The refiner may be nil. If
// the config carries camera intrinsics they are installed immediately;
// otherwise SetCamera must be called before the first Process.
func New(
	cfg *Config,
	tracker tracking.PointTracker,
	pixelTo3D PixelTo3D,
	estimator MotionEstimator,
	refiner PoseRefiner,
	adjuster sfm.BundleAdjuster,
	frameManager sfm.KeyFrameManager,
	logger golog.Logger,
) (*PixelDepthOdometry, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "invalid odometry config")
	}
	vo := &PixelDepthOdometry{
		tracker:         tracker,
		pixelTo3D:       pixelTo3D,
		estimator:       estimator,
		refiner:         refiner,
		scene:           sfm.NewScene(adjuster, sfm.NewGridSelector(cfg.MaxBundleTracks)),
		frameManager:    frameManager,
		maxKeyFrames:    cfg.MaxKeyFrames,
		retireThreshold: cfg.RetireThreshold,
		logger:          logger,
		clock:           clock.New(),
		first:           true,
		currentToWorld:  spatialmath.NewZeroPose(),
	}
	if cfg.CamIntrinsics != nil {
		vo.SetCamera(cfg.CamIntrinsics)
	}
	return vo, nil
}

// SetCamera installs the fixed camera model shared by motion estimation and
// bundle adjustment. It must be called before the first Process.
func (vo *PixelDepthOdometry) SetCamera(camera *transform.PinholeCameraIntrinsics) {
	vo.camera = camera
	vo.scene.SetCamera(camera)
}

// Reset returns the pipeline to its initial state. The camera model is kept.
func (vo *PixelDepthOdometry) Reset() {
	vo.logger.Debug("VO: reset")
	vo.tracker.Reset()
	vo.scene.Reset()
	vo.currentToWorld = spatialmath.NewZeroPose()
	vo.frameCurrent = nil
	vo.framePrevious = nil
	vo.inlierTracks = nil
	vo.visibleTracks = nil
	vo.initialVisible = nil
	vo.first = true
}

// CurrentPose returns the transform from the current camera view to the
// world frame.
func (vo *PixelDepthOdometry) CurrentPose() *spatialmath.Pose {
	return vo.currentToWorld
}

// InlierTracks returns the tracks in the inlier set of the most recent
// accepted motion estimate.
func (vo *PixelDepthOdometry) InlierTracks() []*sfm.Track {
	return vo.inlierTracks
}

// VisibleTracks returns the tracks visible in the most recently processed
// frame.
func (vo *PixelDepthOdometry) VisibleTracks() []*sfm.Track {
	return vo.visibleTracks
}

// Scene exposes the underlying scene graph, mainly for debugging and tests.
func (vo *PixelDepthOdometry) Scene() *sfm.Scene {
	return vo.scene
}

// FrameID returns the tracker's ID for the most recently processed frame.
func (vo *PixelDepthOdometry) FrameID() int64 {
	return vo.tracker.FrameID()
}

// Profile returns the stage timings of the most recently processed frame.
func (vo *PixelDepthOdometry) Profile() Profile {
	return vo.profile
}

// Process runs the per-frame state machine on the next image of the
// sequence. It returns false when motion estimation failed; the frame is
// then fully rolled back and the next image is matched against the same
// previous keyframe. Errors indicate collaborator or consistency problems,
// not ordinary motion failure.
func (vo *PixelDepthOdometry) Process(img image.Image) (bool, error) {
	if vo.camera == nil {
		return false, errors.New("camera intrinsics must be set before processing images")
	}
	vo.profile = Profile{}

	start := vo.clock.Now()
	vo.tracker.ProcessImage(img)
	vo.profile.Tracking = vo.clock.Since(start)

	vo.inlierTracks = vo.inlierTracks[:0]
	vo.visibleTracks = vo.visibleTracks[:0]
	vo.initialVisible = vo.initialVisible[:0]

	// The previous keyframe is the most recently added one.
	if vo.first {
		vo.bootstrap(img)
		return true, nil
	}
	vo.framePrevious = vo.scene.LastFrame()
	vo.frameCurrent = vo.scene.AddFrame(vo.tracker.FrameID())

	vo.logger.Debugw("VO: processing frame",
		"frame", vo.tracker.FrameID(),
		"window", len(vo.scene.Frames),
		"tracks", len(vo.scene.Tracks),
		"active", len(vo.tracker.ActiveTracks()),
	)

	// Correspondences the tracker lost since the last frame keep their
	// tracks in the map, but the weak link is severed on both sides.
	for _, pt := range vo.tracker.DroppedTracks() {
		if bt, ok := pt.Cookie.(*sfm.Track); ok && bt != nil {
			bt.TrackerTrack = nil
			pt.Cookie = nil
		}
	}

	estimateStart := vo.clock.Now()
	if !vo.estimateMotion() {
		vo.logger.Debug("VO: estimate motion failed, discarding frame")
		vo.dropTrackerTracks(vo.scene.RemoveFrame(vo.frameCurrent))
		vo.publishVisibleTracks()
		return false, nil
	}
	vo.retireStaleTracks()
	vo.profile.Estimate = vo.clock.Since(estimateStart)

	bundleStart := vo.clock.Now()
	if err := vo.scene.Optimize(); err != nil {
		return false, err
	}
	vo.currentToWorld = vo.frameCurrent.Pose.Clone()
	vo.triangulateNotSelectedTracks()
	vo.profile.Bundle = vo.clock.Since(bundleStart)

	dropStart := vo.clock.Now()
	vo.dropBadTracks()
	vo.profile.DropUnused = vo.clock.Since(dropStart)

	maintenanceStart := vo.clock.Now()
	droppedCurrentFrame := vo.maintainWindow()
	vo.publishVisibleTracks()
	vo.profile.SceneMaintenance = vo.clock.Since(maintenanceStart)

	spawnStart := vo.clock.Now()
	if !droppedCurrentFrame {
		// the current frame was kept as a keyframe, seed it with new tracks
		vo.spawnTracks()
		vo.frameManager.HandleSpawnedTracks(vo.tracker)
	}
	vo.profile.Spawn = vo.clock.Since(spawnStart)

	vo.logger.Debugw("VO: frame complete",
		"tracking", vo.profile.Tracking,
		"estimate", vo.profile.Estimate,
		"bundle", vo.profile.Bundle,
		"dropUnused", vo.profile.DropUnused,
		"maintenance", vo.profile.SceneMaintenance,
		"spawn", vo.profile.Spawn,
	)
	return true, nil
}

// bootstrap handles the very first image: one keyframe at the world origin,
// populated with every correspondence the localizer can place in 3D.
func (vo *PixelDepthOdometry) bootstrap(img image.Image) {
	vo.logger.Debug("VO: first frame")
	vo.currentToWorld = spatialmath.NewZeroPose()
	vo.frameCurrent = vo.scene.AddFrame(vo.tracker.FrameID())
	vo.spawnTracks()
	bounds := img.Bounds()
	vo.frameManager.Initialize(bounds.Dx(), bounds.Dy())
	vo.first = false
}

// estimateMotion fits the current camera pose from the active
// correspondences and records the inlier observations in the current frame.
// Track locations are expressed in the previous keyframe's local
// coordinates rather than world coordinates, which reduces numeric
// sensitivity once the camera is far from the origin.
func (vo *PixelDepthOdometry) estimateMotion() bool {
	active := vo.tracker.ActiveTracks()
	worldToPrev := vo.framePrevious.Pose.Invert()

	observations := make([]Point2D3D, 0, len(active))
	for _, pt := range active {
		bt := pt.Cookie.(*sfm.Track)
		vo.initialVisible = append(vo.initialVisible, bt)
		bt.Inlier = false

		observations = append(observations, Point2D3D{
			Observation: vo.camera.PixelToNormalized(pt.Pixel),
			Location:    locationInFrame(worldToPrev, bt.WorldLoc),
		})
	}

	motion, ok := vo.estimator.EstimateMotion(observations)
	if !ok {
		return false
	}

	keyToCurrent := motion.KeyToCurrent
	if vo.refiner != nil {
		inlierObs := make([]Point2D3D, 0, len(motion.Inliers))
		for _, idx := range motion.Inliers {
			inlierObs = append(inlierObs, observations[idx])
		}
		refined, err := vo.refiner.RefinePose(inlierObs, keyToCurrent)
		if err != nil {
			vo.logger.Debugw("VO: pose refinement failed, keeping robust estimate", "error", err)
		} else {
			keyToCurrent = refined
		}
	}

	vo.frameCurrent.Pose = spatialmath.Compose(vo.framePrevious.Pose, keyToCurrent.Invert())

	tick := vo.tracker.FrameID()
	for _, idx := range motion.Inliers {
		pt := active[idx]
		bt := pt.Cookie.(*sfm.Track)
		bt.LastUsed = tick
		bt.Inlier = true
		vo.scene.AddObservation(vo.frameCurrent, bt, pt.Pixel)
		vo.inlierTracks = append(vo.inlierTracks, bt)
	}
	return true
}

// locationInFrame expresses a homogeneous world coordinate as a finite 3D
// point in a frame's local coordinates. A point at infinity is substituted
// with a point along the same ray at a large fixed distance, in front of
// the camera, rather than dividing by zero.
func locationInFrame(worldToFrame *spatialmath.Pose, worldLoc spatialmath.Point4) r3.Vector {
	local := worldToFrame.TransformPoint4(worldLoc)
	if !local.AtInfinity() {
		return r3.Vector{X: local.X / local.W, Y: local.Y / local.W, Z: local.Z / local.W}
	}
	n := local.Norm()
	if n == 0 {
		n = 1
	}
	scale := farAwayDistance / n
	// it was observed, so it has to be in front of the camera
	if local.Z < 0 {
		scale = -scale
	}
	return r3.Vector{X: local.X * scale, Y: local.Y * scale, Z: local.Z * scale}
}

// retireStaleTracks drops correspondences that have not been in the inlier
// set recently. The observation just added in the current frame is removed
// first so the track does not keep a reference to a frame that never truly
// confirmed it.
func (vo *PixelDepthOdometry) retireStaleTracks() {
	tick := vo.tracker.FrameID()
	for _, pt := range vo.tracker.ActiveTracks() {
		bt := pt.Cookie.(*sfm.Track)
		if tick-bt.LastUsed < vo.retireThreshold {
			continue
		}
		if n := len(bt.Observations); n > 0 && bt.Observations[n-1].Frame == vo.frameCurrent {
			bt.Observations = bt.Observations[:n-1]
		}
		bt.TrackerTrack = nil
		pt.Cookie = nil
		vo.tracker.DropTrack(pt)
	}

	// compact the current frame's track list: anything whose latest
	// observation is no longer the current frame was just retired from it
	fc := vo.frameCurrent
	for i := len(fc.Tracks) - 1; i >= 0; i-- {
		bt := fc.Tracks[i]
		if len(bt.Observations) == 0 {
			panic("odometry: current-frame track lost all observations during retirement")
		}
		if bt.Observations[len(bt.Observations)-1].Frame != fc {
			fc.RemoveTrackAt(i)
		}
	}
}

// triangulateNotSelectedTracks re-estimates tracks the optimizer skipped so
// the whole map benefits from the refined poses. Tracks that fail to
// triangulate keep their previous location.
func (vo *PixelDepthOdometry) triangulateNotSelectedTracks() {
	for _, bt := range vo.scene.Tracks {
		// selected tracks were just optimized; short tracks are too
		// unstable to re-triangulate
		if bt.Selected || len(bt.Observations) < minObservationsToKeep {
			continue
		}
		obs := make([]r2.Point, 0, len(bt.Observations))
		worldToView := make([]*spatialmath.Pose, 0, len(bt.Observations))
		for i := range bt.Observations {
			o := &bt.Observations[i]
			obs = append(obs, vo.camera.PixelToNormalized(o.Pixel))
			worldToView = append(worldToView, o.Frame.Pose.Invert())
		}
		pt, err := transform.TriangulateNView(obs, worldToView)
		if err != nil {
			continue
		}
		bt.WorldLoc = pt.Normalized()
	}
}

// dropBadTracks removes tracks with impossible geometry: anything that sits
// behind a camera that supposedly observed it. The sign product of the
// homogeneous depth and weight handles points at infinity with negative
// weight correctly, without dividing by the weight.
func (vo *PixelDepthOdometry) dropBadTracks() {
	for _, frame := range vo.scene.Frames {
		worldToFrame := frame.Pose.Invert()
		for i := len(frame.Tracks) - 1; i >= 0; i-- {
			bt := frame.Tracks[i]
			cameraLoc := worldToFrame.TransformPoint4(bt.WorldLoc)
			if cameraLoc.Z*cameraLoc.W < 0 {
				// mark for removal below by clearing its observations
				bt.Observations = bt.Observations[:0]
				if bt.TrackerTrack != nil {
					bt.TrackerTrack.Cookie = nil
					vo.tracker.DropTrack(bt.TrackerTrack)
					bt.TrackerTrack = nil
				}
			}
		}
	}

	vo.removeMarkedTracks()
}

// removeMarkedTracks deletes every track whose observation list was
// cleared, from the global collection and from every frame's track list.
// Both walks go tail to head because removal swaps with the last element.
func (vo *PixelDepthOdometry) removeMarkedTracks() {
	scene := vo.scene
	for i := len(scene.Tracks) - 1; i >= 0; i-- {
		if len(scene.Tracks[i].Observations) == 0 {
			scene.Tracks[i] = scene.Tracks[len(scene.Tracks)-1]
			scene.Tracks = scene.Tracks[:len(scene.Tracks)-1]
		}
	}
	for _, frame := range scene.Frames {
		for i := len(frame.Tracks) - 1; i >= 0; i-- {
			if len(frame.Tracks[i].Observations) == 0 {
				frame.RemoveTrackAt(i)
			}
		}
	}
}

// maintainWindow applies the keyframe policy's eviction decisions. It
// reports whether the current frame itself was evicted. Evictions are
// applied from the highest window index to the lowest since every removal
// invalidates later positions.
func (vo *PixelDepthOdometry) maintainWindow() bool {
	discard := vo.frameManager.SelectFramesToDiscard(vo.tracker, vo.maxKeyFrames, vo.scene)
	droppedCurrentFrame := false
	for i := len(discard) - 1; i >= 0; i-- {
		frameToDrop := vo.scene.Frames[discard[i]]
		if frameToDrop == vo.frameCurrent {
			droppedCurrentFrame = true
		}
		vo.dropTrackerTracks(vo.scene.RemoveFrame(frameToDrop))
		vo.dropRetiredShortTracks()
	}
	return droppedCurrentFrame
}

// dropRetiredShortTracks deletes tracks that are no longer visually tracked
// and have too few observations to triangulate reliably.
func (vo *PixelDepthOdometry) dropRetiredShortTracks() {
	scene := vo.scene
	for i := len(scene.Tracks) - 1; i >= 0; i-- {
		bt := scene.Tracks[i]
		if bt.TrackerTrack == nil && len(bt.Observations) < minObservationsToKeep {
			// mark it as dropped, then formally remove it everywhere
			bt.Observations = bt.Observations[:0]
			scene.Tracks[i] = scene.Tracks[len(scene.Tracks)-1]
			scene.Tracks = scene.Tracks[:len(scene.Tracks)-1]
		}
	}
	for _, frame := range scene.Frames {
		for i := len(frame.Tracks) - 1; i >= 0; i-- {
			if len(frame.Tracks[i].Observations) == 0 {
				frame.RemoveTrackAt(i)
			}
		}
	}
}

// spawnTracks asks the tracker for new correspondences and stores the ones
// the localizer can place in 3D as new tracks of the current frame.
// Unlocalizable candidates are dropped from the tracker immediately.
func (vo *PixelDepthOdometry) spawnTracks() {
	frameID := vo.tracker.FrameID()
	for _, pt := range vo.tracker.SpawnTracks() {
		loc, ok := vo.pixelTo3D.Localize(pt.Pixel.X, pt.Pixel.Y)
		if !ok || loc.W == 0 {
			vo.tracker.DropTrack(pt)
			continue
		}

		// move into world coordinates, then keep the stored magnitude
		// bounded; homogeneous scaling does not move the point
		worldLoc := vo.frameCurrent.Pose.TransformPoint4(loc).Normalized()
		bt := vo.scene.AddTrack(worldLoc)
		bt.ID = pt.ID
		bt.LastUsed = frameID
		bt.TrackerTrack = pt
		pt.Cookie = bt

		vo.scene.AddObservation(vo.frameCurrent, bt, pt.Pixel)
		vo.visibleTracks = append(vo.visibleTracks, bt)
	}
}

// publishVisibleTracks rebuilds the externally visible track list from the
// correspondences that survived this frame's maintenance.
func (vo *PixelDepthOdometry) publishVisibleTracks() {
	for _, bt := range vo.initialVisible {
		if bt.TrackerTrack != nil {
			vo.visibleTracks = append(vo.visibleTracks, bt)
		}
	}
}

// dropTrackerTracks detaches the given correspondences from the tracker.
func (vo *PixelDepthOdometry) dropTrackerTracks(removed []*tracking.PointTrack) {
	for _, pt := range removed {
		vo.tracker.DropTrack(pt)
	}
}
