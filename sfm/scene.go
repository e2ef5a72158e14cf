// Package sfm maintains the scene graph used by visual odometry: the active
// window of keyframes, the 3D landmark tracks observing them, and the
// machinery that feeds both through windowed bundle adjustment.
package sfm

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/viam-labs/visual-odometry/spatialmath"
	"github.com/viam-labs/visual-odometry/tracking"
	"github.com/viam-labs/visual-odometry/transform"
)

// Observation is a single sighting of a track: the pixel it appeared at and
// the keyframe it was seen in. The frame reference carries no ownership.
type Observation struct {
	Frame *Frame
	Pixel r2.Point
}

// Track is a persistent 3D landmark estimate.
type Track struct {
	// ID of the tracker correspondence that created this track.
	ID int64
	// WorldLoc is the homogeneous world coordinate. It is kept at unit norm
	// after creation and re-triangulation; W of zero means the landmark is
	// at infinity.
	WorldLoc spatialmath.Point4
	// Observations in insertion order. Removal swaps with the last element,
	// so order is only guaranteed until the first removal.
	Observations []Observation
	// TrackerTrack links back to the live tracker correspondence, nil once
	// the tracker has stopped following this landmark.
	TrackerTrack *tracking.PointTrack
	// LastUsed is the frame ID at which this track was last in the inlier set.
	LastUsed int64
	// Inlier is set when the track was part of the most recent accepted
	// motion estimate.
	Inlier bool
	// Selected is set when the track was included in the most recent
	// optimization.
	Selected bool
}

// ObservedBy reports whether the track has an observation in the given frame.
func (t *Track) ObservedBy(frame *Frame) bool {
	for i := range t.Observations {
		if t.Observations[i].Frame == frame {
			return true
		}
	}
	return false
}

// FindObservationBy returns the track's observation in the given frame, or
// nil if there is none.
func (t *Track) FindObservationBy(frame *Frame) *Observation {
	for i := range t.Observations {
		if t.Observations[i].Frame == frame {
			return &t.Observations[i]
		}
	}
	return nil
}

// RemoveObservationOf removes the track's observation of the given frame by
// swapping with the last element. It reports whether a match was removed.
func (t *Track) RemoveObservationOf(frame *Frame) bool {
	for i := len(t.Observations) - 1; i >= 0; i-- {
		if t.Observations[i].Frame == frame {
			last := len(t.Observations) - 1
			t.Observations[i] = t.Observations[last]
			t.Observations = t.Observations[:last]
			return true
		}
	}
	return false
}

// Frame is a keyframe in the active window.
type Frame struct {
	// ID of the tracker frame this keyframe was created from.
	ID int64
	// Pose maps the frame's local coordinates to world coordinates.
	Pose *spatialmath.Pose
	// Tracks observed in this frame, unordered.
	Tracks []*Track
	// ListIndex is the frame's position in the active window. It is only
	// valid while the frame is active and is recomputed when the window
	// changes.
	ListIndex int
}

// RemoveTrackAt removes the track at index i from the frame's track list by
// swapping with the last element. Any index held across this call is stale;
// callers deleting while iterating must walk from the tail toward the head.
func (f *Frame) RemoveTrackAt(i int) {
	last := len(f.Tracks) - 1
	f.Tracks[i] = f.Tracks[last]
	f.Tracks = f.Tracks[:last]
}

// Scene owns the active window of keyframes and the landmark tracks, and
// runs windowed bundle adjustment over them. It is not safe for concurrent
// use; the odometry pipeline drives it strictly sequentially.
type Scene struct {
	// Frames is the active window in chronological order: index 0 is the
	// oldest keyframe and the optimization gauge, the last entry is the
	// most recent.
	Frames []*Frame
	// Tracks is the global track collection. Removal swaps with the last
	// element.
	Tracks []*Track

	camera   *transform.PinholeCameraIntrinsics
	adjuster BundleAdjuster
	selector TrackSelector
	selected []*Track
}

// NewScene returns an empty scene that optimizes with the given bundle
// adjuster, bounding solver cost with the given track selector.
func NewScene(adjuster BundleAdjuster, selector TrackSelector) *Scene {
	return &Scene{adjuster: adjuster, selector: selector}
}

// SetCamera sets the shared camera model used to build optimization problems.
func (s *Scene) SetCamera(camera *transform.PinholeCameraIntrinsics) {
	s.camera = camera
}

// Camera returns the shared camera model.
func (s *Scene) Camera() *transform.PinholeCameraIntrinsics {
	return s.camera
}

// AddFrame appends a new active frame with identity pose.
func (s *Scene) AddFrame(id int64) *Frame {
	frame := &Frame{ID: id, Pose: spatialmath.NewZeroPose(), ListIndex: len(s.Frames)}
	s.Frames = append(s.Frames, frame)
	return frame
}

// AddTrack appends a new track with the given homogeneous world coordinate
// and no observations.
func (s *Scene) AddTrack(worldLoc spatialmath.Point4) *Track {
	track := &Track{ID: -1, WorldLoc: worldLoc}
	s.Tracks = append(s.Tracks, track)
	return track
}

// AddObservation records that track was seen in frame at the given pixel.
// Callers must guarantee the (frame, track) pair is new; no duplicate check
// is performed here.
func (s *Scene) AddObservation(frame *Frame, track *Track, pixel r2.Point) {
	track.Observations = append(track.Observations, Observation{Frame: frame, Pixel: pixel})
	frame.Tracks = append(frame.Tracks, track)
}

// LastFrame returns the most recently added active frame.
func (s *Scene) LastFrame() *Frame {
	return s.Frames[len(s.Frames)-1]
}

// FirstFrame returns the oldest active frame.
func (s *Scene) FirstFrame() *Frame {
	return s.Frames[0]
}

// FindByPointTrack returns the track attached to the given tracker
// correspondence, or nil if none is.
func (s *Scene) FindByPointTrack(pt *tracking.PointTrack) *Track {
	for _, t := range s.Tracks {
		if t.TrackerTrack == pt {
			return t
		}
	}
	return nil
}

// RemoveFrame removes the frame and every observation of it. Tracks left
// with no observations are removed from the global collection; the tracker
// correspondences they still held are returned so the caller can detach
// them from the tracker. Panics if the frame is not in the active window,
// which is a defect in state maintenance, not a recoverable condition.
func (s *Scene) RemoveFrame(frame *Frame) []*tracking.PointTrack {
	index := -1
	for i, f := range s.Frames {
		if f == frame {
			index = i
			break
		}
	}
	if index < 0 {
		panic("sfm: removing a frame that is not in the active window")
	}

	prune := false
	for _, t := range frame.Tracks {
		if !t.RemoveObservationOf(frame) {
			panic("sfm: track in frame list without an observation of the frame")
		}
		if len(t.Observations) == 0 {
			prune = true
		}
	}

	var dropped []*tracking.PointTrack
	if prune {
		for i := len(s.Tracks) - 1; i >= 0; i-- {
			t := s.Tracks[i]
			if len(t.Observations) != 0 {
				continue
			}
			s.removeTrackAt(i)
			if t.TrackerTrack != nil {
				dropped = append(dropped, t.TrackerTrack)
				t.TrackerTrack.Cookie = nil
				t.TrackerTrack = nil
			}
		}
	}

	// Ordered removal keeps the window chronological, which the keyframe
	// policies and the previous-keyframe lookup rely on.
	s.Frames = append(s.Frames[:index], s.Frames[index+1:]...)
	for i := index; i < len(s.Frames); i++ {
		s.Frames[i].ListIndex = i
	}
	return dropped
}

// removeTrackAt removes the track at index i from the global collection by
// swapping with the last element.
func (s *Scene) removeTrackAt(i int) {
	last := len(s.Tracks) - 1
	s.Tracks[i] = s.Tracks[last]
	s.Tracks = s.Tracks[:last]
}

// SelectedTracks returns the tracks included in the most recent optimization.
func (s *Scene) SelectedTracks() []*Track {
	return s.selected
}

// Reset clears all frames and tracks. The camera model is preserved.
func (s *Scene) Reset() {
	s.Frames = nil
	s.Tracks = nil
	s.selected = nil
}

// SanityCheck walks the graph invariants and returns every violation found.
// It is intended for tests and debugging, not the per-frame hot path.
func (s *Scene) SanityCheck() error {
	var result error

	active := make(map[*Frame]struct{}, len(s.Frames))
	for _, f := range s.Frames {
		active[f] = struct{}{}
	}
	known := make(map[*Track]struct{}, len(s.Tracks))
	for _, t := range s.Tracks {
		known[t] = struct{}{}
	}

	for _, t := range s.Tracks {
		if len(t.Observations) == 0 {
			result = multierr.Append(result, errors.Errorf("track %d has no observations", t.ID))
		}
		seen := make(map[*Frame]struct{}, len(t.Observations))
		for i := range t.Observations {
			o := &t.Observations[i]
			if _, ok := active[o.Frame]; !ok {
				result = multierr.Append(result,
					errors.Errorf("track %d observes frame %d which is not active", t.ID, o.Frame.ID))
				continue
			}
			if _, dup := seen[o.Frame]; dup {
				result = multierr.Append(result,
					errors.Errorf("track %d observes frame %d more than once", t.ID, o.Frame.ID))
			}
			seen[o.Frame] = struct{}{}
			if !frameHasTrack(o.Frame, t) {
				result = multierr.Append(result,
					errors.Errorf("frame %d track list is out of date, missing track %d", o.Frame.ID, t.ID))
			}
		}
	}

	for _, f := range s.Frames {
		for _, t := range f.Tracks {
			if _, ok := known[t]; !ok {
				result = multierr.Append(result,
					errors.Errorf("frame %d references track %d which is not in the scene", f.ID, t.ID))
			}
			if !t.ObservedBy(f) {
				result = multierr.Append(result,
					errors.Errorf("frame %d lists track %d without an observation", f.ID, t.ID))
			}
		}
	}

	return result
}

func frameHasTrack(f *Frame, track *Track) bool {
	for _, t := range f.Tracks {
		if t == track {
			return true
		}
	}
	return false
}
