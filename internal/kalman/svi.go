package kalman

import (
	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"gonum.org/v1/gonum/mat"
)

// Residuals holds the Mahalanobis distance of the position and velocity
// parts of an innovation, in units of standard deviation.
type Residuals struct {
	Position float64
	Velocity float64
}

// SVI jointly tracks position and velocity with the reported acceleration
// as control input. Every update fuses position and velocity together.
type SVI struct {
	cfg    Config
	filter *Filter
	obs    *mat.Dense
}

// NewSVI seeds the filter from a sender's first report.
func NewSVI(cfg Config, r bsm.Report) *SVI {
	v := r.Velocity()
	state := mat.NewVecDense(4, []float64{r.Position.X, r.Position.Y, v.X, v.Y})
	cov := diag(
		cfg.InitialPosVariance, cfg.InitialPosVariance,
		cfg.InitialVelVariance, cfg.InitialVelVariance,
	)
	model := ConstantVelocity2D{ProcessNoisePos: cfg.ProcessNoisePos, ProcessNoiseVel: cfg.ProcessNoiseVel}
	return &SVI{cfg: cfg, filter: NewFilter(model, state, cov), obs: eye(4)}
}

// Step predicts dt seconds ahead using the acceleration claimed in the
// previous report, then fuses the current report.
func (s *SVI) Step(dt float64, prev, cur bsm.Report) (Residuals, error) {
	a := prev.Acceleration()
	if err := s.filter.Predict(dt, mat.NewVecDense(2, []float64{a.X, a.Y})); err != nil {
		return Residuals{}, err
	}

	v := cur.Velocity()
	m := &Measurement{
		Value: mat.NewVecDense(4, []float64{cur.Position.X, cur.Position.Y, v.X, v.Y}),
		Covariance: diag(
			s.cfg.measurementVariance(cur.PositionConfidence.X),
			s.cfg.measurementVariance(cur.PositionConfidence.Y),
			s.cfg.measurementVariance(cur.SpeedConfidence),
			s.cfg.measurementVariance(cur.SpeedConfidence),
		),
		ObservationModel: s.obs,
	}

	inn, err := s.filter.Update(m)
	if err != nil {
		return Residuals{}, err
	}
	pos, err := inn.Mahalanobis(0, 1)
	if err != nil {
		return Residuals{}, err
	}
	vel, err := inn.Mahalanobis(2, 3)
	if err != nil {
		return Residuals{}, err
	}
	return Residuals{Position: pos, Velocity: vel}, nil
}

// Position returns the current position estimate.
func (s *SVI) Position() bsm.Vec2 {
	st := s.filter.State()
	return bsm.Vec2{X: st.AtVec(0), Y: st.AtVec(1)}
}

// Velocity returns the current velocity estimate.
func (s *SVI) Velocity() bsm.Vec2 {
	st := s.filter.State()
	return bsm.Vec2{X: st.AtVec(2), Y: st.AtVec(3)}
}
