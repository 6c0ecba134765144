package geom

import (
	"math"

	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"github.com/paulmach/orb"
)

// World returns the axis-aligned bound a claimed position must lie in.
func World(minX, minY, maxX, maxY float64) orb.Bound {
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
}

// OutsideDistance returns how far p lies outside b, or 0 when b contains p.
func OutsideDistance(b orb.Bound, p bsm.Vec2) float64 {
	if b.Contains(Point(p)) {
		return 0
	}
	dx := math.Max(math.Max(b.Min[0]-p.X, p.X-b.Max[0]), 0)
	dy := math.Max(math.Max(b.Min[1]-p.Y, p.Y-b.Max[1]), 0)
	return math.Hypot(dx, dy)
}
