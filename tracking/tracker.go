// Package tracking defines the contract between the odometry core and an
// external 2D feature tracker.
package tracking

import (
	"image"

	"github.com/golang/geo/r2"
)

// PointTrack is a single feature correspondence maintained by a tracker. The
// same PointTrack instance is returned for a feature across frames, with
// Pixel updated to its latest image location.
type PointTrack struct {
	// ID is a stable identifier assigned by the tracker.
	ID int64
	// Pixel is the feature's location in the most recent image.
	Pixel r2.Point
	// Cookie is an opaque slot the consumer may set to attach its own data
	// to the correspondence. The tracker never reads or writes it. Neither
	// side owns the other through this link; both must clear it when they
	// discard their end.
	Cookie interface{}
}

// PointTracker is the interface to an external 2D feature tracker. All calls
// are synchronous; the track slices returned by the getters are valid until
// the next call to ProcessImage.
type PointTracker interface {
	// ProcessImage updates all active tracks against the new image and
	// advances the frame ID.
	ProcessImage(img image.Image)

	// FrameID returns the ID of the most recently processed frame. IDs
	// increase monotonically.
	FrameID() int64

	// ActiveTracks returns the correspondences still being tracked in the
	// most recent image.
	ActiveTracks() []*PointTrack

	// DroppedTracks returns the correspondences the tracker lost since the
	// previous ProcessImage call.
	DroppedTracks() []*PointTrack

	// SpawnTracks detects new features in the most recent image and returns
	// the newly created correspondences.
	SpawnTracks() []*PointTrack

	// DropTrack tells the tracker to stop following the given correspondence.
	DropTrack(track *PointTrack)

	// Reset discards all tracks and restarts the frame ID sequence.
	Reset()
}
