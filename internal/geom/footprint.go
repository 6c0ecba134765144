// Package geom holds the planar geometry used by the plausibility checks:
// oriented vehicle footprints, convex overlap and world bounds.
//
// Footprints are orb rings (closed, counter-clockwise) so that bounds and
// areas come from orb/planar rather than local re-implementations.
package geom

import (
	"math"

	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// minArea is the footprint area (m²) below which a box is treated as
// degenerate.
const minArea = 1e-9

// Point converts a world vector to an orb point.
func Point(v bsm.Vec2) orb.Point { return orb.Point{v.X, v.Y} }

// Footprint returns the oriented rectangle of a vehicle centred on centre,
// with its length axis along heading. ok is false when the heading is the
// zero vector or either dimension is not positive.
func Footprint(centre, heading bsm.Vec2, length, width float64) (orb.Ring, bool) {
	if !Valid(heading, length, width) {
		return nil, false
	}
	u, _ := heading.Unit()
	n := bsm.Vec2{X: -u.Y, Y: u.X}
	hl := u.Scale(length / 2)
	hw := n.Scale(width / 2)

	c := []bsm.Vec2{
		centre.Sub(hl).Sub(hw),
		centre.Add(hl).Sub(hw),
		centre.Add(hl).Add(hw),
		centre.Sub(hl).Add(hw),
	}
	ring := make(orb.Ring, 0, 5)
	for _, v := range c {
		ring = append(ring, Point(v))
	}
	ring = append(ring, ring[0])
	return ring, true
}

// Valid reports whether a footprint with this heading and size can be
// built.
func Valid(heading bsm.Vec2, length, width float64) bool {
	_, ok := heading.Unit()
	return ok && length > 0 && width > 0
}

// Area returns the unsigned planar area of a ring.
func Area(r orb.Ring) float64 {
	if len(r) < 3 {
		return 0
	}
	return math.Abs(planar.Area(r))
}

// OverlapRatio returns area(a ∩ b) / min(area(a), area(b)) for two convex
// counter-clockwise rings, in [0, 1]. Degenerate rings yield 0.
func OverlapRatio(a, b orb.Ring) float64 {
	areaA, areaB := Area(a), Area(b)
	smaller := math.Min(areaA, areaB)
	if smaller < minArea {
		return 0
	}
	if !a.Bound().Intersects(b.Bound()) {
		return 0
	}

	inter := ClipConvex(a, b)
	ratio := Area(inter) / smaller
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// ClipConvex clips subject against the convex ring clip using
// Sutherland–Hodgman and returns the (closed) intersection ring. Both rings
// must be counter-clockwise.
func ClipConvex(subject, clip orb.Ring) orb.Ring {
	out := open(subject)
	edges := open(clip)
	if len(out) == 0 || len(edges) < 3 {
		return nil
	}

	for i := range edges {
		if len(out) == 0 {
			break
		}
		a := edges[i]
		b := edges[(i+1)%len(edges)]

		in := out
		out = make([]orb.Point, 0, len(in)+2)
		prev := in[len(in)-1]
		for _, cur := range in {
			curIn := leftOf(a, b, cur)
			prevIn := leftOf(a, b, prev)
			switch {
			case curIn && prevIn:
				out = append(out, cur)
			case curIn && !prevIn:
				out = append(out, intersect(prev, cur, a, b), cur)
			case !curIn && prevIn:
				out = append(out, intersect(prev, cur, a, b))
			}
			prev = cur
		}
	}

	if len(out) < 3 {
		return nil
	}
	ring := orb.Ring(out)
	return append(ring, ring[0])
}

// open drops the closing point of a ring, if present.
func open(r orb.Ring) []orb.Point {
	if len(r) > 1 && r[0] == r[len(r)-1] {
		return r[:len(r)-1]
	}
	return r
}

func cross(a, b, p orb.Point) float64 {
	return (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
}

func leftOf(a, b, p orb.Point) bool { return cross(a, b, p) >= 0 }

// intersect returns the intersection of segment p–q with the infinite line
// through a and b. Callers guarantee p and q lie on opposite sides.
func intersect(p, q, a, b orb.Point) orb.Point {
	cp := cross(a, b, p)
	cq := cross(a, b, q)
	den := cp - cq
	if den == 0 {
		return q
	}
	t := cp / den
	return orb.Point{p[0] + t*(q[0]-p[0]), p[1] + t*(q[1]-p[1])}
}
