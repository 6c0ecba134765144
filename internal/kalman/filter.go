// Package kalman implements the linear Kalman filters used by the
// consistency checks. Time steps are non-uniform and supplied per call in
// seconds.
//
// A Filter is generic over a LinearModel; svi.go, si.go and sc.go build the
// three filter variants kept per sender on top of it.
package kalman

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrDiverged is returned when a predict or update step produced a
// non-finite state or covariance. The filter must be reseeded.
var ErrDiverged = errors.New("kalman: filter diverged")

// LinearModel provides the process model for a filter.
type LinearModel interface {
	// Dims is the length of the state vector.
	Dims() int
	// Transition returns F for a step of dt seconds.
	Transition(dt float64) mat.Matrix
	// Control returns B for a step of dt seconds, or nil when the model
	// takes no control input.
	Control(dt float64) mat.Matrix
	// ProcessNoise returns Q for a step of dt seconds.
	ProcessNoise(dt float64) mat.Matrix
}

// Measurement is an observation fused by Update.
type Measurement struct {
	Value            mat.Vector
	Covariance       mat.Matrix // R
	ObservationModel mat.Matrix // H
}

// Innovation is the pre-fit residual of a measurement against the
// predicted state and its covariance S = H P Hᵀ + R.
type Innovation struct {
	Residual   *mat.VecDense
	Covariance *mat.Dense
}

// Filter is a linear Kalman filter. It is not safe for concurrent use.
type Filter struct {
	model      LinearModel
	dims       int
	state      *mat.VecDense
	covariance *mat.Dense
}

// NewFilter returns a filter seeded with the given state and covariance.
func NewFilter(model LinearModel, state mat.Vector, covariance mat.Matrix) *Filter {
	return &Filter{
		model:      model,
		dims:       model.Dims(),
		state:      mat.VecDenseCopyOf(state),
		covariance: mat.DenseCopyOf(covariance),
	}
}

// State returns the current state estimate.
func (f *Filter) State() mat.Vector { return f.state }

// Covariance returns the current error covariance.
func (f *Filter) Covariance() mat.Matrix { return f.covariance }

// Predict advances the state by dt seconds applying the optional control
// input u.
func (f *Filter) Predict(dt float64, u mat.Vector) error {
	if dt < 0 || math.IsNaN(dt) {
		return fmt.Errorf("kalman: can't predict backwards (dt=%v)", dt)
	}

	F := f.model.Transition(dt)
	Q := f.model.ProcessNoise(dt)

	next := mat.NewVecDense(f.dims, nil)
	next.MulVec(F, f.state)
	if u != nil {
		if B := f.model.Control(dt); B != nil {
			bu := mat.NewVecDense(f.dims, nil)
			bu.MulVec(B, u)
			next.AddVec(next, bu)
		}
	}
	f.state = next

	cov := mat.NewDense(f.dims, f.dims, nil)
	cov.Product(F, f.covariance, F.T())
	cov.Add(cov, Q)
	f.covariance = cov

	if !f.finite() {
		return ErrDiverged
	}
	return nil
}

// Innovation returns the residual of m against the current (predicted)
// state without modifying the filter.
func (f *Filter) Innovation(m *Measurement) Innovation {
	n := m.Value.Len()
	H := m.ObservationModel

	residual := mat.NewVecDense(n, nil)
	residual.MulVec(H, f.state)
	residual.SubVec(m.Value, residual)

	S := mat.NewDense(n, n, nil)
	S.Product(H, f.covariance, H.T())
	S.Add(S, m.Covariance)

	return Innovation{Residual: residual, Covariance: S}
}

// Update fuses m into the state and returns the pre-fit innovation.
func (f *Filter) Update(m *Measurement) (Innovation, error) {
	inn := f.Innovation(m)
	n := inn.Residual.Len()
	H := m.ObservationModel

	var sInv mat.Dense
	if err := sInv.Inverse(inn.Covariance); err != nil {
		return inn, fmt.Errorf("kalman: singular innovation covariance: %w", err)
	}

	gain := mat.NewDense(f.dims, n, nil)
	gain.Product(f.covariance, H.T(), &sInv)

	correction := mat.NewVecDense(f.dims, nil)
	correction.MulVec(gain, inn.Residual)
	f.state.AddVec(f.state, correction)

	kh := mat.NewDense(f.dims, f.dims, nil)
	kh.Mul(gain, H)
	kh.Sub(eye(f.dims), kh)
	cov := mat.NewDense(f.dims, f.dims, nil)
	cov.Mul(kh, f.covariance)
	f.covariance = cov

	if !f.finite() {
		return inn, ErrDiverged
	}
	return inn, nil
}

// finite reports whether the state and covariance diagonal are free of
// NaN and ±Inf.
func (f *Filter) finite() bool {
	for i := 0; i < f.dims; i++ {
		if v := f.state.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		if v := f.covariance.At(i, i); math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Mahalanobis returns sqrt(yᵀ S⁻¹ y) restricted to the given residual
// components (all components when idx is empty).
func (in Innovation) Mahalanobis(idx ...int) (float64, error) {
	if len(idx) == 0 {
		idx = make([]int, in.Residual.Len())
		for i := range idx {
			idx[i] = i
		}
	}
	k := len(idx)
	y := mat.NewVecDense(k, nil)
	S := mat.NewDense(k, k, nil)
	for i, ri := range idx {
		y.SetVec(i, in.Residual.AtVec(ri))
		for j, cj := range idx {
			S.Set(i, j, in.Covariance.At(ri, cj))
		}
	}

	var sInv mat.Dense
	if err := sInv.Inverse(S); err != nil {
		return 0, fmt.Errorf("kalman: singular residual covariance: %w", err)
	}
	d2 := mat.Inner(y, &sInv, y)
	if d2 < 0 {
		d2 = 0
	}
	return math.Sqrt(d2), nil
}

func eye(n int) *mat.Dense {
	result := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		result.Set(i, i, 1.0)
	}
	return result
}

func diag(values ...float64) *mat.Dense {
	n := len(values)
	result := mat.NewDense(n, n, nil)
	for i, v := range values {
		result.Set(i, i, v)
	}
	return result
}
