package misbehaviour

import (
	"math"

	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"github.com/banshee-data/misbehaviour.report/internal/geom"
	"github.com/paulmach/orb"
)

// InterTest is the intersection verdict against one neighbour.
type InterTest struct {
	Sender bsm.Pseudonym `json:"sender"`
	Score  Score         `json:"score"`
}

// IntersectionCheck scores whether a and b claim to occupy the same space
// at the same instant. The older of the two reports is first projected
// along its heading to the newer report's time, using its claimed speed
// and acceleration. Each footprint is then shrunk by its position
// confidence. The overlap penalty is weighted down linearly with elapsed,
// the age gap between the reports, and vanishes at MaxDeltaInter.
// The result does not depend on argument order.
func (p *Params) IntersectionCheck(a, b bsm.Report, elapsed float64) Score {
	elapsed = math.Abs(elapsed)
	if !geom.Valid(a.Heading, a.Size.X, a.Size.Y) || !geom.Valid(b.Heading, b.Size.X, b.Size.Y) {
		return NotApplicable
	}
	if elapsed >= p.MaxDeltaInter {
		return 1
	}

	switch {
	case a.Time < b.Time:
		a = a.Extrapolate(b.Time - a.Time)
	case b.Time < a.Time:
		b = b.Extrapolate(a.Time - b.Time)
	}
	if lessReport(b, a) {
		a, b = b, a
	}

	fa, okA := p.shrunkFootprint(a)
	fb, okB := p.shrunkFootprint(b)
	if !okA || !okB {
		// Nothing is left once the confidence is removed.
		return 1
	}
	weight := (p.MaxDeltaInter - elapsed) / p.MaxDeltaInter
	return p.overlapScore(geom.OverlapRatio(fa, fb), weight)
}

// MultipleIntersectionCheck runs IntersectionCheck between r and every
// other sender in table. The combined score is the worst applicable one;
// an empty table scores 1.
func (p *Params) MultipleIntersectionCheck(table NodeTable, r bsm.Report) (Score, []InterTest) {
	if table == nil {
		return 1, nil
	}
	var tests []InterTest
	for _, other := range table.LatestReports() {
		if other.Sender == r.Sender {
			continue
		}
		s := p.IntersectionCheck(r, other, r.Time-other.Time)
		tests = append(tests, InterTest{Sender: other.Sender, Score: s})
	}
	scores := make([]Score, len(tests))
	for i, t := range tests {
		scores[i] = t.Score
	}
	combined, _ := minApplicable(scores...)
	return combined, tests
}

func (p *Params) shrunkFootprint(r bsm.Report) (orb.Ring, bool) {
	c := p.conf(r.PositionConfidence.Norm())
	return geom.Footprint(r.Position, r.Heading, r.Size.X-c, r.Size.Y-c)
}

// lessReport orders reports by position then sender, giving every pair a
// canonical order.
func lessReport(a, b bsm.Report) bool {
	switch {
	case a.Position.X != b.Position.X:
		return a.Position.X < b.Position.X
	case a.Position.Y != b.Position.Y:
		return a.Position.Y < b.Position.Y
	}
	return a.Sender < b.Sender
}
