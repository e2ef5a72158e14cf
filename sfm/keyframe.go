package sfm

import (
	"github.com/viam-labs/visual-odometry/tracking"
)

// KeyFrameManager decides which frames leave the active window. A manager
// is stateful across calls and is consulted once per processed frame, after
// motion estimation and optimization and before new tracks are spawned.
type KeyFrameManager interface {
	// Initialize is called once before the first selection with the input
	// image geometry, for variants that keep coverage statistics.
	Initialize(imageWidth, imageHeight int)

	// SelectFramesToDiscard returns the window indices of frames to evict,
	// in ascending order. Indices refer to positions in the current active
	// window; the caller must apply removals from the highest index to the
	// lowest because a removal invalidates all later positions.
	SelectFramesToDiscard(tracker tracking.PointTracker, maxKeyFrames int, scene *Scene) []int

	// HandleSpawnedTracks is called after new tracks have been added to the
	// just-processed frame so coverage bookkeeping can be updated.
	HandleSpawnedTracks(tracker tracking.PointTracker)
}
