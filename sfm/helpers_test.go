package sfm

import (
	"image"

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

// dummyTracker counts frames the way the real tracker contract does: the
// frame ID is -1 until the first image is processed.
type dummyTracker struct {
	frameID int64
	active  []*tracking.PointTrack
	dropped []*tracking.PointTrack
}

func newDummyTracker() *dummyTracker {
	return &dummyTracker{frameID: -1}
}

func (d *dummyTracker) ProcessImage(img image.Image)          { d.frameID++ }
func (d *dummyTracker) FrameID() int64                        { return d.frameID }
func (d *dummyTracker) ActiveTracks() []*tracking.PointTrack  { return d.active }
func (d *dummyTracker) DroppedTracks() []*tracking.PointTrack { return nil }
func (d *dummyTracker) SpawnTracks() []*tracking.PointTrack   { return nil }
func (d *dummyTracker) DropTrack(track *tracking.PointTrack)  { d.dropped = append(d.dropped, track) }
func (d *dummyTracker) Reset()                                { d.frameID = -1; d.active = nil; d.dropped = nil }

// identityAdjuster accepts any problem and leaves it unchanged.
type identityAdjuster struct {
	setCalls int
	optCalls int
	lastObs  *Observations
}

func (a *identityAdjuster) SetProblem(structure *Structure, observations *Observations) error {
	a.setCalls++
	a.lastObs = observations
	return nil
}

func (a *identityAdjuster) Optimize(structure *Structure) error {
	a.optCalls++
	return nil
}
