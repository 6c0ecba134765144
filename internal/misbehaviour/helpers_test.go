package misbehaviour

import (
	"testing"

	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"github.com/stretchr/testify/require"
)

type staticTable []bsm.Report

func (t staticTable) LatestReports() []bsm.Report { return t }

type recordingObserver struct {
	checks    []CheckReport
	evictions []bsm.Pseudonym
}

func (o *recordingObserver) ObserveCheck(c CheckReport)       { o.checks = append(o.checks, c) }
func (o *recordingObserver) ObserveEviction(id bsm.Pseudonym) { o.evictions = append(o.evictions, id) }

func testParams(t *testing.T) Params {
	t.Helper()
	p := DefaultParams()
	require.NoError(t, p.Validate())
	return p
}

func newTestChecker(t *testing.T, observers ...Observer) *Checker {
	t.Helper()
	c, err := NewChecker(testParams(t), observers...)
	require.NoError(t, err)
	c.UpdateEgo(testEgo())
	return c
}

func testEgo() bsm.EgoState {
	return bsm.EgoState{
		Pseudonym: 1,
		Position:  bsm.Vec2{X: 400, Y: 100},
		Heading:   bsm.Vec2{X: 0, Y: 1},
		Size:      bsm.Vec2{X: 4.5, Y: 1.8},
	}
}

// cruising returns the report of a sender moving along +x at speed m/s
// from (100, 100), sampled at time t.
func cruising(sender bsm.Pseudonym, t, speed float64) bsm.Report {
	return bsm.Report{
		Sender:             sender,
		Position:           bsm.Vec2{X: 100 + speed*t, Y: 100},
		PositionConfidence: bsm.Vec2{X: 1, Y: 1},
		Heading:            bsm.Vec2{X: 1, Y: 0},
		Speed:              speed,
		SpeedConfidence:    0.5,
		Size:               bsm.Vec2{X: 4.5, Y: 1.8},
		Time:               t,
	}
}

// bare returns a report with no confidences at pos.
func bare(sender bsm.Pseudonym, t float64, pos bsm.Vec2, speed float64) bsm.Report {
	return bsm.Report{
		Sender:   sender,
		Position: pos,
		Heading:  bsm.Vec2{X: 1, Y: 0},
		Speed:    speed,
		Size:     bsm.Vec2{X: 4, Y: 2},
		Time:     t,
	}
}
