package misbehaviour

import (
	"math"

	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"github.com/banshee-data/misbehaviour.report/internal/geom"
)

// RangePlausibility scores the distance between the evaluator and the
// claimed position against the radio range.
func (p *Params) RangePlausibility(ego bsm.EgoState, r bsm.Report) Score {
	d := r.Position.Distance(ego.Position)
	c := p.conf(r.PositionConfidence.Norm() + ego.PositionConfidence.Norm())
	return p.grade(d, p.MaxPlausibleRange, c)
}

// PositionPlausibility scores the claimed position against the world
// bounds. uncertain is true when the position confidence exceeds
// MaxPositionConfidence; such a report scores 0 and must not be fed to the
// filters.
func (p *Params) PositionPlausibility(r bsm.Report) (s Score, uncertain bool) {
	c := r.PositionConfidence.Norm()
	if !r.Position.IsFinite() || !(c <= p.MaxPositionConfidence) {
		return 0, true
	}
	outside := geom.OutsideDistance(p.World, r.Position)
	return p.grade(outside, 0, p.conf(c)), false
}

// SpeedPlausibility scores the claimed speed against MaxPlausibleSpeed.
func (p *Params) SpeedPlausibility(r bsm.Report) Score {
	if !(r.SpeedConfidence <= p.MaxSpeedConfidence) {
		return 0
	}
	return p.grade(math.Abs(r.Speed), p.MaxPlausibleSpeed, p.conf(r.SpeedConfidence))
}

// ProximityPlausibility scores how far the sender's footprint overlaps the
// evaluator's right now: 1 for no overlap, 0 for full overlap.
func (p *Params) ProximityPlausibility(ego bsm.EgoState, r bsm.Report) Score {
	own, ok := geom.Footprint(ego.Position, ego.Heading, ego.Size.X, ego.Size.Y)
	if !ok {
		return NotApplicable
	}
	other, ok := geom.Footprint(r.Position, r.Heading, r.Size.X, r.Size.Y)
	if !ok {
		return NotApplicable
	}
	return p.overlapScore(geom.OverlapRatio(own, other), 1)
}

// SuddenAppearance scores a sender seen for the first time (or the first
// time in MaxSATime seconds) by how close to the evaluator it appeared.
// last is the sender's previous report, if any.
func (p *Params) SuddenAppearance(ego bsm.EgoState, r bsm.Report, last *bsm.Report) Score {
	if last != nil && r.Time-last.Time <= p.MaxSATime {
		return 1
	}
	d := r.Position.Distance(ego.Position)
	c := p.conf(r.PositionConfidence.Norm())
	// Inverted falloff: inside MaxSARange - c scores 0, beyond
	// MaxSARange + c scores 1.
	if p.legacy() || c == 0 {
		if d <= p.MaxSARange {
			return 0
		}
		return 1
	}
	return 1 - falloff(d, p.MaxSARange-c, 2*c)
}

// BeaconFrequency penalises a sender beaconing faster than
// BeaconInterval·(1 - BeaconTolerance). Slow senders are not penalised.
func (p *Params) BeaconFrequency(r bsm.Report, last *bsm.Report) Score {
	if last == nil {
		return NotApplicable
	}
	gap := r.Time - last.Time
	minGap := p.BeaconInterval * (1 - p.BeaconTolerance)
	return p.grade(minGap-gap, 0, minGap)
}

// overlapScore turns an overlap ratio into a score, with weight scaling
// the penalty.
func (p *Params) overlapScore(ratio, weight float64) Score {
	if p.legacy() {
		if ratio > 0 && weight > 0 {
			return 0
		}
		return 1
	}
	return clamp01(1 - ratio*weight)
}
