package misbehaviour

import (
	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"github.com/banshee-data/misbehaviour.report/internal/kalman"
	"github.com/banshee-data/misbehaviour.report/internal/monitoring"
)

// KalmanResult holds the position and speed verdicts of a two-part filter.
type KalmanResult struct {
	Position Score
	Speed    Score
}

var kalmanNotApplicable = KalmanResult{Position: NotApplicable, Speed: NotApplicable}

// KalmanScores is the outcome of one pass over a sender's filter bank.
type KalmanScores struct {
	PositionSpeed       KalmanResult // SVI
	PositionSpeedScalar KalmanResult // SC
	Position            Score        // SI, v·dt
	PositionAcc         Score        // SI, v·dt + ½a·dt²
	Speed               Score        // SI, a·dt
}

func kalmanScoresNotApplicable() KalmanScores {
	return KalmanScores{
		PositionSpeed:       kalmanNotApplicable,
		PositionSpeedScalar: kalmanNotApplicable,
		Position:            NotApplicable,
		PositionAcc:         NotApplicable,
		Speed:               NotApplicable,
	}
}

// gate maps a Mahalanobis distance to a score between the inner and outer
// gates.
func (p *Params) gate(m float64) Score {
	return p.grade(m, p.KalmanInnerGate, p.KalmanOuterGate-p.KalmanInnerGate)
}

// KalmanChecks advances bank with r and scores the innovations. bank may be
// nil for a sender without filter state. The returned bank is the one to
// keep: a fresh bank seeded from r whenever the old one was missing, stale
// or diverged, in which case every score is NotApplicable. bank is
// mutated in place otherwise.
func (p *Params) KalmanChecks(bank *kalman.Bank, r bsm.Report) (KalmanScores, *kalman.Bank) {
	if bank == nil {
		return kalmanScoresNotApplicable(), kalman.NewBank(p.Kalman, r)
	}
	prev := bank.Last
	dt := r.Time - prev.Time
	if !(dt > 0) || dt > p.MaxKalmanTime {
		return kalmanScoresNotApplicable(), kalman.NewBank(p.Kalman, r)
	}

	scores, err := p.stepBank(bank, dt, prev, r)
	if err != nil {
		monitoring.Debugf("misbehaviour: reseeding filters for sender %d: %v", r.Sender, err)
		return kalmanScoresNotApplicable(), kalman.NewBank(p.Kalman, r)
	}
	bank.Last = r
	return scores, bank
}

func (p *Params) stepBank(bank *kalman.Bank, dt float64, prev, cur bsm.Report) (KalmanScores, error) {
	var out KalmanScores

	svi, err := bank.SVI.Step(dt, prev, cur)
	if err != nil {
		return out, err
	}
	out.PositionSpeed = KalmanResult{Position: p.gate(svi.Position), Speed: p.gate(svi.Velocity)}

	sc, err := bank.SC.Step(dt, prev, cur)
	if err != nil {
		return out, err
	}
	out.PositionSpeedScalar = KalmanResult{Position: p.gate(sc.Position), Speed: p.gate(sc.Velocity)}

	v := prev.Velocity()
	a := prev.Acceleration()

	m, err := bank.Position.Step(dt, v.Scale(dt), cur.Position, cur.PositionConfidence)
	if err != nil {
		return out, err
	}
	out.Position = p.gate(m)

	m, err = bank.PositionAcc.Step(dt, v.Scale(dt).Add(a.Scale(dt*dt/2)), cur.Position, cur.PositionConfidence)
	if err != nil {
		return out, err
	}
	out.PositionAcc = p.gate(m)

	speedConf := bsm.Vec2{X: cur.SpeedConfidence, Y: cur.SpeedConfidence}
	m, err = bank.Speed.Step(dt, a.Scale(dt), cur.Velocity(), speedConf)
	if err != nil {
		return out, err
	}
	out.Speed = p.gate(m)

	return out, nil
}
