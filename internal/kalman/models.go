package kalman

import (
	"gonum.org/v1/gonum/mat"
)

// Config holds the noise parameters shared by every filter in a bank.
// Variances are in SI units squared; process noise is per second.
type Config struct {
	InitialPosVariance float64
	InitialVelVariance float64
	ProcessNoisePos    float64
	ProcessNoiseVel    float64
	// MinMeasurementStd is the floor applied to reported confidences so a
	// sender claiming perfect accuracy cannot make R singular.
	MinMeasurementStd float64
}

// measurementVariance converts a reported confidence to a variance.
func (c Config) measurementVariance(conf float64) float64 {
	if conf < c.MinMeasurementStd {
		conf = c.MinMeasurementStd
	}
	return conf * conf
}

// ConstantVelocity2D models a vehicle in the plane with state
// [x, y, vx, vy]. The optional control input is the acceleration vector.
type ConstantVelocity2D struct {
	ProcessNoisePos float64
	ProcessNoiseVel float64
}

func (ConstantVelocity2D) Dims() int { return 4 }

// Transition returns
//
//	F = [1  0  dt  0 ]
//	    [0  1  0   dt]
//	    [0  0  1   0 ]
//	    [0  0  0   1 ]
func (ConstantVelocity2D) Transition(dt float64) mat.Matrix {
	F := eye(4)
	F.Set(0, 2, dt)
	F.Set(1, 3, dt)
	return F
}

// Control maps an acceleration [ax, ay] onto position and velocity.
func (ConstantVelocity2D) Control(dt float64) mat.Matrix {
	h := dt * dt / 2
	return mat.NewDense(4, 2, []float64{
		h, 0,
		0, h,
		dt, 0,
		0, dt,
	})
}

// ProcessNoise scales the configured noise by dt so uncertainty growth is
// independent of the beacon rate.
func (m ConstantVelocity2D) ProcessNoise(dt float64) mat.Matrix {
	p := m.ProcessNoisePos * dt
	v := m.ProcessNoiseVel * dt
	return diag(p, p, v, v)
}

// Integrated models a quantity of fixed dimension whose increment over the
// step is supplied as the control input (for example v·dt for a position).
// F and B are both the identity.
type Integrated struct {
	N     int
	Noise float64 // process noise variance per second
}

func (m Integrated) Dims() int                     { return m.N }
func (m Integrated) Transition(float64) mat.Matrix { return eye(m.N) }
func (m Integrated) Control(float64) mat.Matrix    { return eye(m.N) }

func (m Integrated) ProcessNoise(dt float64) mat.Matrix {
	values := make([]float64, m.N)
	for i := range values {
		values[i] = m.Noise * dt
	}
	return diag(values...)
}
