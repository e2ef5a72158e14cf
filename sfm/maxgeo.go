package sfm

import (
	"github.com/viam-labs/visual-odometry/tracking"
)

// FrameScorer scores how redundant a frame is within the active window.
// Higher means the frame's removal loses less geometric diversity. The
// exact heuristic is deliberately pluggable; no closed formula is mandated.
type FrameScorer func(scene *Scene, frame *Frame) float64

// MaxGeoKeyFrameManager bounds the window by evicting the frame whose
// removal least reduces the window's spatial and temporal diversity. While
// the window is not yet full it evicts nothing. Once full: if the newest
// frame's tracks mostly re-cover image cells already covered from the
// previous keyframe, the newest frame is speculative and is evicted;
// otherwise the most redundant older frame goes, as ranked by Scorer.
type MaxGeoKeyFrameManager struct {
	// Scorer ranks frames for eviction. Defaults to OverlapFrameScore.
	Scorer FrameScorer
	// MinimumCoverage is the fraction of previously covered cells the
	// newest frame must re-cover to be considered redundant.
	MinimumCoverage float64

	width      int
	height     int
	cellSize   float64
	cols, rows int
	// cells covered by the previous keyframe's correspondences
	covered map[int]struct{}
}

const (
	defaultMinimumCoverage = 0.6
	coverageGridLength     = 20 // cells along the longer image edge
)

// NewMaxGeoKeyFrameManager returns a coverage-bounded keyframe manager with
// the default scorer.
func NewMaxGeoKeyFrameManager() *MaxGeoKeyFrameManager {
	return &MaxGeoKeyFrameManager{
		Scorer:          OverlapFrameScore,
		MinimumCoverage: defaultMinimumCoverage,
	}
}

// Initialize implements KeyFrameManager.
func (m *MaxGeoKeyFrameManager) Initialize(imageWidth, imageHeight int) {
	m.width = imageWidth
	m.height = imageHeight
	longer := imageWidth
	if imageHeight > longer {
		longer = imageHeight
	}
	m.cellSize = float64(longer) / coverageGridLength
	if m.cellSize < 1 {
		m.cellSize = 1
	}
	m.cols = int(float64(imageWidth)/m.cellSize) + 1
	m.rows = int(float64(imageHeight)/m.cellSize) + 1
	m.covered = nil
}

// SelectFramesToDiscard implements KeyFrameManager.
func (m *MaxGeoKeyFrameManager) SelectFramesToDiscard(
	tracker tracking.PointTracker, maxKeyFrames int, scene *Scene,
) []int {
	if len(scene.Frames) <= maxKeyFrames {
		return nil
	}

	if m.currentFrameIsRedundant(tracker) {
		return []int{len(scene.Frames) - 1}
	}

	// The newest frame brings fresh coverage; give up the most redundant
	// older keyframe instead.
	scorer := m.Scorer
	if scorer == nil {
		scorer = OverlapFrameScore
	}
	best := 0
	bestScore := scorer(scene, scene.Frames[0])
	for i := 1; i < len(scene.Frames)-1; i++ {
		if score := scorer(scene, scene.Frames[i]); score > bestScore {
			best, bestScore = i, score
		}
	}
	return []int{best}
}

// currentFrameIsRedundant compares the cells covered by the tracker's
// active correspondences against the cells covered from the previous
// keyframe. Without coverage bookkeeping the newest frame is presumed
// redundant, matching the policy's preference for discarding speculative
// recent frames.
func (m *MaxGeoKeyFrameManager) currentFrameIsRedundant(tracker tracking.PointTracker) bool {
	if len(m.covered) == 0 {
		return true
	}
	recovered := 0
	seen := make(map[int]struct{})
	for _, pt := range tracker.ActiveTracks() {
		cell, ok := m.cellIndex(pt.Pixel.X, pt.Pixel.Y)
		if !ok {
			continue
		}
		if _, dup := seen[cell]; dup {
			continue
		}
		seen[cell] = struct{}{}
		if _, was := m.covered[cell]; was {
			recovered++
		}
	}
	return float64(recovered) >= m.MinimumCoverage*float64(len(m.covered))
}

// HandleSpawnedTracks implements KeyFrameManager. The retained frame's full
// correspondence set, spawned tracks included, becomes the new coverage
// baseline.
func (m *MaxGeoKeyFrameManager) HandleSpawnedTracks(tracker tracking.PointTracker) {
	covered := make(map[int]struct{})
	for _, pt := range tracker.ActiveTracks() {
		if cell, ok := m.cellIndex(pt.Pixel.X, pt.Pixel.Y); ok {
			covered[cell] = struct{}{}
		}
	}
	m.covered = covered
}

func (m *MaxGeoKeyFrameManager) cellIndex(x, y float64) (int, bool) {
	if m.cellSize <= 0 {
		return 0, false
	}
	col := int(x / m.cellSize)
	row := int(y / m.cellSize)
	if col < 0 || row < 0 || col >= m.cols || row >= m.rows {
		return 0, false
	}
	return row*m.cols + col, true
}

// OverlapFrameScore is the default eviction heuristic: the fraction of a
// frame's tracks that are also observed by at least two other active
// frames. A frame whose observations are all redundantly covered elsewhere
// scores 1 and is the cheapest to lose.
func OverlapFrameScore(scene *Scene, frame *Frame) float64 {
	if len(frame.Tracks) == 0 {
		return 1
	}
	redundant := 0
	for _, t := range frame.Tracks {
		others := 0
		for i := range t.Observations {
			if t.Observations[i].Frame != frame {
				others++
			}
		}
		if others >= 2 {
			redundant++
		}
	}
	return float64(redundant) / float64(len(frame.Tracks))
}
