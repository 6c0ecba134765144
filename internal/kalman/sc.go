package kalman

import (
	"math"

	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"gonum.org/v1/gonum/mat"
)

// SC is a constant-velocity tracker fed with positions only. Its velocity
// is learnt from the positions, so its prediction is independent of the
// speed and acceleration the sender claims. Step compares that prediction
// with a straight-line extrapolation of the claims.
type SC struct {
	cfg    Config
	filter *Filter
	obs    *mat.Dense
}

// NewSC seeds the tracker from a sender's first report.
func NewSC(cfg Config, r bsm.Report) *SC {
	v := r.Velocity()
	state := mat.NewVecDense(4, []float64{r.Position.X, r.Position.Y, v.X, v.Y})
	cov := diag(
		cfg.InitialPosVariance, cfg.InitialPosVariance,
		cfg.InitialVelVariance, cfg.InitialVelVariance,
	)
	model := ConstantVelocity2D{ProcessNoisePos: cfg.ProcessNoisePos, ProcessNoiseVel: cfg.ProcessNoiseVel}
	obs := mat.NewDense(2, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})
	return &SC{cfg: cfg, filter: NewFilter(model, state, cov), obs: obs}
}

// Step advances dt seconds. Residuals.Position is the distance between the
// tracker's predicted position and prev's extrapolated position;
// Residuals.Velocity compares the tracker's speed after fusing cur with
// the speed cur claims.
func (s *SC) Step(dt float64, prev, cur bsm.Report) (Residuals, error) {
	if err := s.filter.Predict(dt, nil); err != nil {
		return Residuals{}, err
	}

	extrapolated := prev.Position.
		Add(prev.Velocity().Scale(dt)).
		Add(prev.Acceleration().Scale(dt * dt / 2))

	// Treat the extrapolation as a pseudo-measurement whose uncertainty is
	// the previous position confidence grown by the speed confidence.
	growth := prev.SpeedConfidence * dt
	pseudo := &Measurement{
		Value: mat.NewVecDense(2, []float64{extrapolated.X, extrapolated.Y}),
		Covariance: diag(
			s.cfg.measurementVariance(math.Hypot(prev.PositionConfidence.X, growth)),
			s.cfg.measurementVariance(math.Hypot(prev.PositionConfidence.Y, growth)),
		),
		ObservationModel: s.obs,
	}
	divergence, err := s.filter.Innovation(pseudo).Mahalanobis()
	if err != nil {
		return Residuals{}, err
	}

	m := &Measurement{
		Value: mat.NewVecDense(2, []float64{cur.Position.X, cur.Position.Y}),
		Covariance: diag(
			s.cfg.measurementVariance(cur.PositionConfidence.X),
			s.cfg.measurementVariance(cur.PositionConfidence.Y),
		),
		ObservationModel: s.obs,
	}
	if _, err := s.filter.Update(m); err != nil {
		return Residuals{}, err
	}

	st := s.filter.State()
	cov := s.filter.Covariance()
	trackedSpeed := math.Hypot(st.AtVec(2), st.AtVec(3))
	speedVar := (cov.At(2, 2)+cov.At(3, 3))/2 + s.cfg.measurementVariance(cur.SpeedConfidence)
	speedResidual := math.Abs(trackedSpeed-math.Abs(cur.Speed)) / math.Sqrt(speedVar)

	return Residuals{Position: divergence, Velocity: speedResidual}, nil
}
