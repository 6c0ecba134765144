package kalman

import "github.com/banshee-data/misbehaviour.report/internal/bsm"

// Bank is the set of filters kept for one sender. It is owned by exactly
// one evaluator and never shared.
type Bank struct {
	SVI         *SVI
	SC          *SC
	Position    *SI // position, integrated from v·dt
	PositionAcc *SI // position, integrated from v·dt + ½a·dt²
	Speed       *SI // velocity vector, integrated from a·dt

	// SeededAt is the report time the bank was (re)initialised from.
	SeededAt float64

	// Last is the most recent report fused into the bank.
	Last bsm.Report
}

// NewBank seeds every filter from r.
func NewBank(cfg Config, r bsm.Report) *Bank {
	return &Bank{
		SVI:         NewSVI(cfg, r),
		SC:          NewSC(cfg, r),
		Position:    NewSI(cfg, r.Position, cfg.InitialPosVariance, cfg.ProcessNoisePos),
		PositionAcc: NewSI(cfg, r.Position, cfg.InitialPosVariance, cfg.ProcessNoisePos),
		Speed:       NewSI(cfg, r.Velocity(), cfg.InitialVelVariance, cfg.ProcessNoiseVel),
		SeededAt:    r.Time,
		Last:        r,
	}
}
