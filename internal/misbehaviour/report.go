package misbehaviour

import (
	"strings"

	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"github.com/banshee-data/misbehaviour.report/internal/monitoring"
)

// Flags qualify a CheckReport.
type Flags uint8

const (
	// Uncertain marks a report whose position confidence exceeded
	// MaxPositionConfidence. It was not fed to the filters.
	Uncertain Flags = 1 << iota
	// OutOfOrder marks a report no newer than the sender's history. Only
	// history-free checks ran and nothing was committed.
	OutOfOrder
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

func (f Flags) String() string {
	var parts []string
	if f.Has(Uncertain) {
		parts = append(parts, "uncertain")
	}
	if f.Has(OutOfOrder) {
		parts = append(parts, "out_of_order")
	}
	return strings.Join(parts, ",")
}

// Category names, as used in metrics labels and store columns.
const (
	CategoryRange                       = "range"
	CategoryPosition                    = "position"
	CategorySpeed                       = "speed"
	CategoryProximity                   = "proximity"
	CategoryPositionConsistency         = "position_consistency"
	CategorySpeedConsistency            = "speed_consistency"
	CategoryPositionSpeedConsistency    = "position_speed_consistency"
	CategoryPositionSpeedMaxConsistency = "position_speed_max_consistency"
	CategoryKalmanSVIPosition           = "kalman_svi_position"
	CategoryKalmanSVISpeed              = "kalman_svi_speed"
	CategoryKalmanSCPosition            = "kalman_sc_position"
	CategoryKalmanSCSpeed               = "kalman_sc_speed"
	CategoryKalmanPosition              = "kalman_position"
	CategoryKalmanPositionAcc           = "kalman_position_acc"
	CategoryKalmanSpeed                 = "kalman_speed"
	CategoryPositionHeadingConsistency  = "position_heading_consistency"
	CategoryBeaconFrequency             = "beacon_frequency"
	CategorySuddenAppearance            = "sudden_appearance"
	CategoryIntersection                = "intersection"
)

// CategoryScore is one named entry of a CheckReport.
type CategoryScore struct {
	Category string
	Score    Score
}

// CheckReport is the verdict on one safety message. It is built once by
// Checker.Check and never modified.
type CheckReport struct {
	Sender bsm.Pseudonym
	Time   float64

	Range     Score
	Position  Score
	Speed     Score
	Proximity Score

	PositionConsistency         Score
	SpeedConsistency            Score
	PositionSpeedConsistency    Score
	PositionSpeedMaxConsistency Score
	PositionHeadingConsistency  Score

	KalmanPositionSpeed       KalmanResult // SVI
	KalmanPositionSpeedScalar KalmanResult // SC
	KalmanPosition            Score
	KalmanPositionAcc         Score
	KalmanSpeed               Score

	BeaconFrequency  Score
	SuddenAppearance Score

	Intersection Score
	InterTests   []InterTest

	Trust float64
	Flags Flags
}

func newCheckReport(r bsm.Report) CheckReport {
	return CheckReport{
		Sender:                      r.Sender,
		Time:                        r.Time,
		Range:                       NotApplicable,
		Position:                    NotApplicable,
		Speed:                       NotApplicable,
		Proximity:                   NotApplicable,
		PositionConsistency:         NotApplicable,
		SpeedConsistency:            NotApplicable,
		PositionSpeedConsistency:    NotApplicable,
		PositionSpeedMaxConsistency: NotApplicable,
		PositionHeadingConsistency:  NotApplicable,
		KalmanPositionSpeed:         kalmanNotApplicable,
		KalmanPositionSpeedScalar:   kalmanNotApplicable,
		KalmanPosition:              NotApplicable,
		KalmanPositionAcc:           NotApplicable,
		KalmanSpeed:                 NotApplicable,
		BeaconFrequency:             NotApplicable,
		SuddenAppearance:            NotApplicable,
		Intersection:                NotApplicable,
	}
}

// CategoryNames returns every category in report order.
func CategoryNames() []string {
	return []string{
		CategoryRange,
		CategoryPosition,
		CategorySpeed,
		CategoryProximity,
		CategoryPositionConsistency,
		CategorySpeedConsistency,
		CategoryPositionSpeedConsistency,
		CategoryPositionSpeedMaxConsistency,
		CategoryKalmanSVIPosition,
		CategoryKalmanSVISpeed,
		CategoryKalmanSCPosition,
		CategoryKalmanSCSpeed,
		CategoryKalmanPosition,
		CategoryKalmanPositionAcc,
		CategoryKalmanSpeed,
		CategoryPositionHeadingConsistency,
		CategoryBeaconFrequency,
		CategorySuddenAppearance,
		CategoryIntersection,
	}
}

// scores returns pointers to every score field, in CategoryNames order.
func (c *CheckReport) scores() []*Score {
	return []*Score{
		&c.Range,
		&c.Position,
		&c.Speed,
		&c.Proximity,
		&c.PositionConsistency,
		&c.SpeedConsistency,
		&c.PositionSpeedConsistency,
		&c.PositionSpeedMaxConsistency,
		&c.KalmanPositionSpeed.Position,
		&c.KalmanPositionSpeed.Speed,
		&c.KalmanPositionSpeedScalar.Position,
		&c.KalmanPositionSpeedScalar.Speed,
		&c.KalmanPosition,
		&c.KalmanPositionAcc,
		&c.KalmanSpeed,
		&c.PositionHeadingConsistency,
		&c.BeaconFrequency,
		&c.SuddenAppearance,
		&c.Intersection,
	}
}

// Categories lists every score in a fixed order.
func (c CheckReport) Categories() []CategoryScore {
	names := CategoryNames()
	out := make([]CategoryScore, len(names))
	for i, s := range c.scores() {
		out[i] = CategoryScore{Category: names[i], Score: *s}
	}
	return out
}

// SetScore sets the named category. It reports false for an unknown
// category. Used when rebuilding a report from storage.
func (c *CheckReport) SetScore(category string, s Score) bool {
	for i, name := range CategoryNames() {
		if name == category {
			*c.scores()[i] = s
			return true
		}
	}
	return false
}

// NewEmptyCheckReport returns a report for sender at time t with every
// category NotApplicable.
func NewEmptyCheckReport(sender bsm.Pseudonym, t float64) CheckReport {
	return newCheckReport(bsm.Report{Sender: sender, Time: t})
}

// Min returns the lowest applicable score. ok is false if no check ran.
func (c CheckReport) Min() (Score, bool) {
	cats := c.Categories()
	scores := make([]Score, len(cats))
	for i, cs := range cats {
		scores[i] = cs.Score
	}
	return minApplicable(scores...)
}

// Failures returns the categories scoring below threshold.
func (c CheckReport) Failures(threshold float64) []string {
	var out []string
	for _, cs := range c.Categories() {
		if cs.Score.Applicable() && cs.Score.Value() < threshold {
			out = append(out, cs.Category)
		}
	}
	return out
}

// PrintBsmCheck writes every score of c to the debug log.
func PrintBsmCheck(c CheckReport) {
	if !monitoring.DebugEnabled() {
		return
	}
	monitoring.Debugf("bsm check: sender=%d t=%.3f trust=%.3f flags=%s", c.Sender, c.Time, c.Trust, c.Flags)
	for _, cs := range c.Categories() {
		monitoring.Debugf("  %-31s %s", cs.Category, cs.Score)
	}
	for _, it := range c.InterTests {
		monitoring.Debugf("  intersection with %d: %s", it.Sender, it.Score)
	}
}
