package misbehaviour

import (
	"fmt"
	"math"
)

// Score is the outcome of one check: 1 is fully plausible, 0 is
// implausible. NotApplicable marks a check that could not run.
type Score float64

// NotApplicable is returned by checks lacking the history or geometry
// they need. It is never a numeric verdict.
const NotApplicable Score = -1

// Applicable reports whether s is a numeric verdict.
func (s Score) Applicable() bool { return s >= 0 }

// Value returns the score as a float64. NotApplicable yields -1.
func (s Score) Value() float64 { return float64(s) }

func (s Score) String() string {
	if !s.Applicable() {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", float64(s))
}

// falloff is 1 while value ≤ limit and decreases linearly to 0 at
// limit + width. A non-positive width is a hard cutoff.
func falloff(value, limit, width float64) Score {
	if math.IsNaN(value) {
		return 0
	}
	if value <= limit {
		return 1
	}
	if !(width > 0) {
		return 0
	}
	return clamp01(1 - (value-limit)/width)
}

func clamp01(x float64) Score {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	}
	return Score(x)
}

// minApplicable returns the lowest applicable score. ok is false if none
// of the scores is applicable.
func minApplicable(scores ...Score) (low Score, ok bool) {
	low = 1
	for _, s := range scores {
		if !s.Applicable() {
			continue
		}
		if s < low {
			low = s
		}
		ok = true
	}
	return low, ok
}

// Policy selects how checks behave near their thresholds.
type Policy int

const (
	// PolicyContinuous grades with a linear falloff whose width grows
	// with the reported confidences.
	PolicyContinuous Policy = iota
	// PolicyLegacy uses hard thresholds and ignores confidences, so
	// every score is 0, 1 or NotApplicable.
	PolicyLegacy
)

func (p Policy) String() string {
	switch p {
	case PolicyContinuous:
		return "continuous"
	case PolicyLegacy:
		return "legacy"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy maps a configuration name to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "continuous":
		return PolicyContinuous, nil
	case "legacy":
		return PolicyLegacy, nil
	}
	return 0, fmt.Errorf("unknown check policy %q", name)
}
