package sfm

import (
	"math"
	"sort"
)

// TrackSelector chooses which tracks are included in the next bundle
// adjustment. Selection bounds solver cost independent of map size, so it
// must favor spatial coverage across the image rather than taking the first
// N tracks it finds.
type TrackSelector interface {
	SelectTracks(scene *Scene, imageWidth, imageHeight int) []*Track
}

// GridSelector buckets the tracks visible in the newest keyframe into a
// grid over the image and keeps the best track per cell, preserving
// geometric diversity while capping the number of tracks handed to the
// solver. A track needs at least two observations to constrain anything.
type GridSelector struct {
	// MaxTracks caps how many tracks are selected per optimization.
	MaxTracks int
}

// NewGridSelector returns a selector that picks at most maxTracks tracks.
func NewGridSelector(maxTracks int) *GridSelector {
	return &GridSelector{MaxTracks: maxTracks}
}

// SelectTracks implements TrackSelector.
func (g *GridSelector) SelectTracks(scene *Scene, imageWidth, imageHeight int) []*Track {
	if len(scene.Frames) == 0 || g.MaxTracks <= 0 {
		return nil
	}
	newest := scene.LastFrame()

	cells := newGrid(imageWidth, imageHeight, g.MaxTracks)
	for _, t := range newest.Tracks {
		if len(t.Observations) < 2 {
			continue
		}
		obs := t.FindObservationBy(newest)
		if obs == nil {
			continue
		}
		cells.add(t, obs.Pixel.X, obs.Pixel.Y)
	}

	selected := make([]*Track, 0, g.MaxTracks)
	for _, bucket := range cells.buckets {
		if len(bucket) == 0 {
			continue
		}
		sort.Slice(bucket, func(i, j int) bool {
			return trackScore(bucket[i]) > trackScore(bucket[j])
		})
		selected = append(selected, bucket[0])
	}
	// Spend any remaining budget on the runners-up, best first.
	if len(selected) < g.MaxTracks {
		var rest []*Track
		for _, bucket := range cells.buckets {
			if len(bucket) > 1 {
				rest = append(rest, bucket[1:]...)
			}
		}
		sort.Slice(rest, func(i, j int) bool {
			return trackScore(rest[i]) > trackScore(rest[j])
		})
		if need := g.MaxTracks - len(selected); len(rest) > need {
			rest = rest[:need]
		}
		selected = append(selected, rest...)
	}
	if len(selected) > g.MaxTracks {
		selected = selected[:g.MaxTracks]
	}
	return selected
}

// trackScore ranks tracks within a cell: inliers of the latest motion
// estimate first, then longer observation histories.
func trackScore(t *Track) int {
	score := len(t.Observations)
	if t.Inlier {
		score += 1000
	}
	return score
}

type grid struct {
	buckets  [][]*Track
	cellSize float64
	cols     int
	rows     int
}

// newGrid sizes cells so the number of buckets is close to the selection
// budget, one pick per cell.
func newGrid(width, height, target int) *grid {
	area := float64(width * height)
	cellSize := math.Sqrt(area / float64(target))
	if cellSize < 1 || math.IsNaN(cellSize) {
		cellSize = 1
	}
	cols := int(float64(width)/cellSize) + 1
	rows := int(float64(height)/cellSize) + 1
	return &grid{
		buckets:  make([][]*Track, cols*rows),
		cellSize: cellSize,
		cols:     cols,
		rows:     rows,
	}
}

func (g *grid) add(t *Track, x, y float64) {
	col := int(x / g.cellSize)
	row := int(y / g.cellSize)
	if col < 0 || row < 0 || col >= g.cols || row >= g.rows {
		return
	}
	idx := row*g.cols + col
	g.buckets[idx] = append(g.buckets[idx], t)
}
