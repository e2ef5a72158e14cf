package sfm

import (
	"github.com/viam-labs/visual-odometry/tracking"
)

// TickTockKeyFrameManager keeps a keyframe at a fixed cadence. While the
// window is not yet full it evicts nothing. Once full it treats the newest
// frame as speculative and evicts it, except every KeyframePeriod frames
// the newest frame is promoted to a permanent keyframe and the oldest
// frame is evicted instead. The result is an anchor trail of keyframes
// spaced KeyframePeriod apart.
type TickTockKeyFrameManager struct {
	// KeyframePeriod is the cadence, in frame IDs, at which frames are
	// permanently retained.
	KeyframePeriod int64

	// ID of the most recent permanently retained frame.
	anchorID int64
}

// NewTickTockKeyFrameManager returns a periodic keyframe manager.
func NewTickTockKeyFrameManager(period int64) *TickTockKeyFrameManager {
	return &TickTockKeyFrameManager{KeyframePeriod: period, anchorID: -1}
}

// Initialize implements KeyFrameManager. The periodic policy keeps no
// geometry state.
func (m *TickTockKeyFrameManager) Initialize(imageWidth, imageHeight int) {}

// SelectFramesToDiscard implements KeyFrameManager.
func (m *TickTockKeyFrameManager) SelectFramesToDiscard(
	tracker tracking.PointTracker, maxKeyFrames int, scene *Scene,
) []int {
	if len(scene.Frames) <= maxKeyFrames {
		return nil
	}
	id := tracker.FrameID()
	if id%m.KeyframePeriod == 0 {
		// promote the newest frame and let the oldest go
		m.anchorID = id
		return []int{0}
	}
	return []int{len(scene.Frames) - 1}
}

// HandleSpawnedTracks implements KeyFrameManager.
func (m *TickTockKeyFrameManager) HandleSpawnedTracks(tracker tracking.PointTracker) {}

// AnchorID returns the ID of the last permanently retained frame, or -1 if
// none has been retained yet.
func (m *TickTockKeyFrameManager) AnchorID() int64 {
	return m.anchorID
}
