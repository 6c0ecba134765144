package misbehaviour

import (
	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"github.com/banshee-data/misbehaviour.report/internal/kalman"
	"github.com/banshee-data/misbehaviour.report/internal/monitoring"
)

// Observer is notified after every check and every eviction.
type Observer interface {
	ObserveCheck(CheckReport)
	ObserveEviction(bsm.Pseudonym)
}

// Checker runs every check for one evaluating vehicle and owns the
// per-sender history and filter state it needs. It is not safe for
// concurrent use.
type Checker struct {
	params    Params
	ego       bsm.EgoState
	history   *History
	observers []Observer
}

// NewChecker validates p and returns a Checker with empty history.
func NewChecker(p Params, observers ...Observer) (*Checker, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Checker{
		params:    p,
		history:   newHistory(p.HistoryLength),
		observers: observers,
	}, nil
}

// Params returns the thresholds the checker was built with.
func (c *Checker) Params() Params { return c.params }

// UpdateEgo refreshes the evaluator's own state. Call it before Check
// whenever the evaluator has moved.
func (c *Checker) UpdateEgo(e bsm.EgoState) { c.ego = e }

// History returns a read-only view of the tracked senders. It satisfies
// NodeTable.
func (c *Checker) History() *History { return c.history }

// AddObserver registers o for subsequent checks and evictions.
func (c *Checker) AddObserver(o Observer) { c.observers = append(c.observers, o) }

// Check grades r and, unless it is out of order, commits it to the
// sender's history. table supplies the neighbours for the intersection
// checks; nil uses the checker's own history.
func (c *Checker) Check(r bsm.Report, table NodeTable) CheckReport {
	p := &c.params
	if table == nil {
		table = c.history
	}

	rec, seen := c.history.Lookup(r.Sender)
	prev, hasPrev := rec.Latest()
	out := newCheckReport(r)

	outOfOrder := hasPrev && !(r.Time > prev.Time)
	if outOfOrder {
		out.Flags |= OutOfOrder
	}

	out.Range = p.RangePlausibility(c.ego, r)
	var uncertain bool
	out.Position, uncertain = p.PositionPlausibility(r)
	if uncertain {
		out.Flags |= Uncertain
	}
	out.Speed = p.SpeedPlausibility(r)
	out.Proximity = p.ProximityPlausibility(c.ego, r)
	out.Intersection, out.InterTests = p.MultipleIntersectionCheck(table, r)

	trust := 1.0
	var bank *kalman.Bank
	if seen {
		trust = rec.trust
		bank = rec.bank
	}

	if !outOfOrder {
		var last *bsm.Report
		if hasPrev {
			last = &prev
		}
		out.SuddenAppearance = p.SuddenAppearance(c.ego, r, last)
		out.BeaconFrequency = p.BeaconFrequency(r, last)

		if hasPrev {
			in := NewConsistencyInput(r, prev)
			out.PositionConsistency = p.PositionConsistency(in)
			out.SpeedConsistency = p.SpeedConsistency(in)
			out.PositionSpeedConsistency = p.PositionSpeedConsistency(in)
			out.PositionSpeedMaxConsistency = p.PositionSpeedMaxConsistency(in)
			out.PositionHeadingConsistency = p.PositionHeadingConsistency(in)
		}

		if !uncertain {
			var ks KalmanScores
			ks, bank = p.KalmanChecks(bank, r)
			out.KalmanPositionSpeed = ks.PositionSpeed
			out.KalmanPositionSpeedScalar = ks.PositionSpeedScalar
			out.KalmanPosition = ks.Position
			out.KalmanPositionAcc = ks.PositionAcc
			out.KalmanSpeed = ks.Speed
		}

		if low, ok := out.Min(); ok {
			trust = p.TrustSmoothing*trust + (1-p.TrustSmoothing)*low.Value()
		}
	}
	out.Trust = trust

	if !outOfOrder {
		c.history.commit(r, bank, trust)
	}

	PrintBsmCheck(out)
	for _, o := range c.observers {
		o.ObserveCheck(out)
	}
	return out
}

// ResetAll forgets every sender, discarding history and filters.
func (c *Checker) ResetAll() {
	n := c.history.Len()
	c.history.reset()
	monitoring.Logf("misbehaviour: reset %d tracked senders", n)
}

// Evict forgets one sender. The node-table collaborator calls it when a
// neighbour leaves range. Returns false if the sender was not tracked.
func (c *Checker) Evict(id bsm.Pseudonym) bool {
	rec, ok := c.history.Lookup(id)
	if !ok {
		return false
	}
	c.history.evict(id)
	monitoring.Logf("misbehaviour: evicted sender %d after %d messages (trust %.3f)", id, rec.messages, rec.trust)
	for _, o := range c.observers {
		o.ObserveEviction(id)
	}
	return true
}
