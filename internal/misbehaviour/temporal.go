package misbehaviour

import (
	"math"

	"github.com/banshee-data/misbehaviour.report/internal/bsm"
)

// ConsistencyInput bundles a report with the sender's previous report.
type ConsistencyInput struct {
	Current  bsm.Report
	Previous bsm.Report
	Elapsed  float64 // Current.Time - Previous.Time, seconds
}

// NewConsistencyInput pairs cur with prev.
func NewConsistencyInput(cur, prev bsm.Report) ConsistencyInput {
	return ConsistencyInput{Current: cur, Previous: prev, Elapsed: cur.Time - prev.Time}
}

// usable reports whether the pair is recent enough to compare.
func (p *Params) usable(in ConsistencyInput) bool {
	return in.Elapsed > 0 && in.Elapsed <= p.MaxTimeDelta
}

func (in ConsistencyInput) distance() float64 {
	return in.Current.Position.Distance(in.Previous.Position)
}

func (in ConsistencyInput) positionConf() float64 {
	return in.Current.PositionConfidence.Norm() + in.Previous.PositionConfidence.Norm()
}

func (in ConsistencyInput) speedConf() float64 {
	return math.Abs(in.Current.SpeedConfidence) + math.Abs(in.Previous.SpeedConfidence)
}

// PositionConsistency scores the distance travelled against the furthest
// the sender could have moved: the smaller of MaxPlausibleSpeed·t and
// v·t + ½·MaxPlausibleAccel·t².
func (p *Params) PositionConsistency(in ConsistencyInput) Score {
	if !p.usable(in) {
		return NotApplicable
	}
	t := in.Elapsed
	v := math.Abs(in.Previous.Speed)
	bound := math.Min(p.MaxPlausibleSpeed*t, v*t+0.5*p.MaxPlausibleAccel*t*t)
	width := p.conf(in.positionConf()) + p.ConsistencyFalloff*bound
	return p.grade(in.distance(), bound, width)
}

// SpeedConsistency scores the change in speed against MaxPlausibleAccel·t
// when speeding up and MaxPlausibleDecel·t when slowing down.
func (p *Params) SpeedConsistency(in ConsistencyInput) Score {
	if !p.usable(in) {
		return NotApplicable
	}
	dv := in.Current.Speed - in.Previous.Speed
	bound := p.MaxPlausibleDecel * in.Elapsed
	if dv > 0 {
		bound = p.MaxPlausibleAccel * in.Elapsed
	}
	width := p.conf(in.speedConf()) + p.ConsistencyFalloff*bound
	return p.grade(math.Abs(dv), bound, width)
}

// PositionSpeedConsistency compares the distance travelled with the
// distance implied by the mean of the two claimed speeds. Deviations
// within MaxMgtRange are tolerated.
func (p *Params) PositionSpeedConsistency(in ConsistencyInput) Score {
	if !p.usable(in) {
		return NotApplicable
	}
	t := in.Elapsed
	expected := (math.Abs(in.Previous.Speed) + math.Abs(in.Current.Speed)) / 2 * t
	deviation := math.Abs(in.distance() - expected)
	width := p.conf(in.positionConf()+in.speedConf()*t) + p.ConsistencyFalloff*p.MaxMgtRange
	return p.grade(deviation, p.MaxMgtRange, width)
}

// PositionSpeedMaxConsistency checks that the average speed implied by the
// displacement lies within [min(v) - MaxMgtRangeDown, max(v) +
// MaxMgtRangeUp] of the two claimed speeds. The worse side is returned.
func (p *Params) PositionSpeedMaxConsistency(in ConsistencyInput) Score {
	if !p.usable(in) {
		return NotApplicable
	}
	t := in.Elapsed
	theoretical := in.distance() / t
	v1, v2 := math.Abs(in.Previous.Speed), math.Abs(in.Current.Speed)
	width := p.conf(in.positionConf()/t + in.speedConf())

	upper := p.grade(theoretical, math.Max(v1, v2)+p.MaxMgtRangeUp, width)
	lower := Score(1)
	if floor := math.Min(v1, v2) - p.MaxMgtRangeDown; floor > 0 {
		lower = p.grade(floor-theoretical, 0, width)
	}
	s, _ := minApplicable(upper, lower)
	return s
}

// PositionHeadingConsistency checks that the claimed heading points along
// the displacement since the previous report. Only short gaps
// (≤ PosHeadingTime) are compared; slow or nearly stationary senders pass.
func (p *Params) PositionHeadingConsistency(in ConsistencyInput) Score {
	if !p.usable(in) || in.Elapsed > p.PosHeadingTime {
		return NotApplicable
	}
	cur := in.Current
	if cur.Heading.IsZero() || !cur.Heading.IsFinite() {
		return NotApplicable
	}

	disp := cur.Position.Sub(in.Previous.Position)
	d := disp.Norm()
	if d < p.MinHeadingDistance || math.Abs(cur.Speed) < p.MinHeadingSpeed {
		return 1
	}
	if cur.Speed < 0 {
		// Reversing: the displacement opposes the heading.
		disp = disp.Scale(-1)
	}
	angle, ok := bsm.AngleBetween(cur.Heading, disp)
	if !ok {
		return NotApplicable
	}
	width := p.conf(cur.HeadingConfidenceDeg() + math.Atan(in.positionConf()/d)*180/math.Pi)
	return p.grade(angle, p.MaxHeadingChange, width)
}
