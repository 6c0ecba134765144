package kalman

import (
	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"gonum.org/v1/gonum/mat"
)

// SI tracks one planar quantity (a position or a velocity) whose change
// over each step is integrated from the sender's own claims, e.g. v·dt for
// a position. The residual then measures whether the new value agrees with
// what the previous report said would happen.
type SI struct {
	cfg    Config
	filter *Filter
	obs    *mat.Dense
}

// NewSI seeds a scalar-integrated filter at value with the given initial
// variance per axis.
func NewSI(cfg Config, value bsm.Vec2, variance, processNoise float64) *SI {
	state := mat.NewVecDense(2, []float64{value.X, value.Y})
	model := Integrated{N: 2, Noise: processNoise}
	return &SI{cfg: cfg, filter: NewFilter(model, state, diag(variance, variance)), obs: eye(2)}
}

// Step applies increment over dt seconds and fuses measured, whose per-axis
// confidence is conf. It returns the Mahalanobis distance of the
// innovation.
func (s *SI) Step(dt float64, increment, measured, conf bsm.Vec2) (float64, error) {
	if err := s.filter.Predict(dt, mat.NewVecDense(2, []float64{increment.X, increment.Y})); err != nil {
		return 0, err
	}
	m := &Measurement{
		Value: mat.NewVecDense(2, []float64{measured.X, measured.Y}),
		Covariance: diag(
			s.cfg.measurementVariance(conf.X),
			s.cfg.measurementVariance(conf.Y),
		),
		ObservationModel: s.obs,
	}
	inn, err := s.filter.Update(m)
	if err != nil {
		return 0, err
	}
	return inn.Mahalanobis()
}

// Value returns the current estimate.
func (s *SI) Value() bsm.Vec2 {
	st := s.filter.State()
	return bsm.Vec2{X: st.AtVec(0), Y: st.AtVec(1)}
}
