// Package bsm defines the kinematic payload of a basic safety message as
// seen by the misbehaviour checks, and the evaluator's own state.
//
// All values are SI: metres, seconds, m/s, m/s². Times are simulation
// seconds, not wall clock.
package bsm

import (
	"fmt"
	"math"
)

// Pseudonym identifies the sender of a safety message. Reports are
// grouped per pseudonym for history tracking.
type Pseudonym uint64

// Vec2 is a planar vector in the world frame.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec2) Add(o Vec2) Vec2         { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2         { return Vec2{v.X - o.X, v.Y - o.Y} }
func (v Vec2) Scale(k float64) Vec2    { return Vec2{v.X * k, v.Y * k} }
func (v Vec2) Dot(o Vec2) float64      { return v.X*o.X + v.Y*o.Y }
func (v Vec2) Norm() float64           { return math.Hypot(v.X, v.Y) }
func (v Vec2) Distance(o Vec2) float64 { return v.Sub(o).Norm() }
func (v Vec2) String() string          { return fmt.Sprintf("(%.2f, %.2f)", v.X, v.Y) }
func (v Vec2) IsZero() bool            { return v.X == 0 && v.Y == 0 }
func (v Vec2) IsFinite() bool          { return isFinite(v.X) && isFinite(v.Y) }

// Unit returns v scaled to length one. ok is false for the zero vector
// (or non-finite input), in which case the zero vector is returned.
func (v Vec2) Unit() (u Vec2, ok bool) {
	n := v.Norm()
	if n == 0 || !isFinite(n) {
		return Vec2{}, false
	}
	return Vec2{v.X / n, v.Y / n}, true
}

// AngleBetween returns the unsigned angle between a and b in degrees,
// in [0, 180]. ok is false if either vector is zero.
func AngleBetween(a, b Vec2) (deg float64, ok bool) {
	ua, okA := a.Unit()
	ub, okB := b.Unit()
	if !okA || !okB {
		return 0, false
	}
	cross := ua.X*ub.Y - ua.Y*ub.X
	return math.Atan2(math.Abs(cross), ua.Dot(ub)) * 180 / math.Pi, true
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Report is the kinematic state a vehicle claims about itself in one
// safety message. It is a value type: once received it is never mutated.
type Report struct {
	Sender Pseudonym `json:"sender"`

	Position           Vec2 `json:"position"`
	PositionConfidence Vec2 `json:"position_confidence"`

	// Heading is a direction vector; only its orientation matters.
	Heading           Vec2 `json:"heading"`
	HeadingConfidence Vec2 `json:"heading_confidence"`

	Speed           float64 `json:"speed"`
	SpeedConfidence float64 `json:"speed_confidence"`

	// Accel is signed along Heading (negative when braking).
	Accel           float64 `json:"accel"`
	AccelConfidence float64 `json:"accel_confidence"`

	// Size is the footprint: X = length along heading, Y = width.
	Size Vec2 `json:"size"`

	Time float64 `json:"time"` // simulation seconds
}

// Velocity returns Speed along the unit heading. A zero heading yields the
// zero vector.
func (r Report) Velocity() Vec2 {
	u, _ := r.Heading.Unit()
	return u.Scale(r.Speed)
}

// Acceleration returns Accel along the unit heading.
func (r Report) Acceleration() Vec2 {
	u, _ := r.Heading.Unit()
	return u.Scale(r.Accel)
}

// Extrapolate returns r advanced dt seconds along its heading with the
// claimed speed and acceleration. A braking vehicle stops rather than
// reversing. Time is advanced by dt.
func (r Report) Extrapolate(dt float64) Report {
	u, ok := r.Heading.Unit()
	if !ok || dt == 0 {
		r.Time += dt
		return r
	}
	travel := r.Speed*dt + 0.5*r.Accel*dt*dt
	if r.Speed*r.Accel < 0 && dt > -r.Speed/r.Accel {
		// Stops before dt: stopping distance v²/(2|a|), signed with v.
		travel = -r.Speed * r.Speed / (2 * r.Accel)
	}
	r.Position = r.Position.Add(u.Scale(travel))
	r.Time += dt
	return r
}

// HeadingConfidenceDeg returns the heading confidence expressed as an
// angle in degrees, derived from the per-axis confidence of the unit
// heading vector.
func (r Report) HeadingConfidenceDeg() float64 {
	c := r.HeadingConfidence.Norm()
	if c >= 1 {
		return 180
	}
	return math.Asin(c) * 180 / math.Pi
}

// EgoState is the evaluator's own kinematic state, supplied by the
// mobility layer before each check.
type EgoState struct {
	Pseudonym          Pseudonym `json:"pseudonym"`
	Position           Vec2      `json:"position"`
	PositionConfidence Vec2      `json:"position_confidence"`
	Heading            Vec2      `json:"heading"`
	HeadingConfidence  Vec2      `json:"heading_confidence"`
	Size               Vec2      `json:"size"`
}
