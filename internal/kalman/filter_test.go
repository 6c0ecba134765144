package kalman

import (
	"math"
	"testing"

	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestFilterPredictConstantVelocity(t *testing.T) {
	t.Parallel()

	model := ConstantVelocity2D{ProcessNoisePos: 0.1, ProcessNoiseVel: 0.1}
	f := NewFilter(model, mat.NewVecDense(4, []float64{0, 0, 2, 1}), eye(4))

	require.NoError(t, f.Predict(0.5, nil))
	st := f.State()
	assert.InDelta(t, 1.0, st.AtVec(0), 1e-12)
	assert.InDelta(t, 0.5, st.AtVec(1), 1e-12)
	assert.InDelta(t, 2.0, st.AtVec(2), 1e-12)

	// P' = F P Fᵀ + Q: position variance 1 + dt² + q·dt.
	assert.InDelta(t, 1+0.25+0.05, f.Covariance().At(0, 0), 1e-12)
}

func TestFilterPredictWithControl(t *testing.T) {
	t.Parallel()

	f := NewFilter(ConstantVelocity2D{}, mat.NewVecDense(4, []float64{0, 0, 0, 0}), eye(4))
	require.NoError(t, f.Predict(2, mat.NewVecDense(2, []float64{1, 0})))

	st := f.State()
	assert.InDelta(t, 2.0, st.AtVec(0), 1e-12, "½·a·dt²")
	assert.InDelta(t, 2.0, st.AtVec(2), 1e-12, "a·dt")
}

func TestFilterRejectsNegativeDt(t *testing.T) {
	t.Parallel()

	f := NewFilter(Integrated{N: 1, Noise: 1}, mat.NewVecDense(1, []float64{0}), eye(1))
	assert.Error(t, f.Predict(-0.1, nil))
}

func TestFilterUpdateMovesTowardMeasurement(t *testing.T) {
	t.Parallel()

	f := NewFilter(Integrated{N: 1, Noise: 0}, mat.NewVecDense(1, []float64{0}), eye(1))
	m := &Measurement{
		Value:            mat.NewVecDense(1, []float64{10}),
		Covariance:       eye(1),
		ObservationModel: eye(1),
	}
	inn, err := f.Update(m)
	require.NoError(t, err)

	// Equal prior and measurement variance: posterior is the midpoint.
	assert.InDelta(t, 5.0, f.State().AtVec(0), 1e-12)
	assert.InDelta(t, 0.5, f.Covariance().At(0, 0), 1e-12)
	assert.InDelta(t, 10.0, inn.Residual.AtVec(0), 1e-12)

	d, err := inn.Mahalanobis()
	require.NoError(t, err)
	assert.InDelta(t, 10/math.Sqrt(2), d, 1e-9)
}

func TestMahalanobisSubset(t *testing.T) {
	t.Parallel()

	inn := Innovation{
		Residual:   mat.NewVecDense(4, []float64{3, 4, 0, 2}),
		Covariance: diag(1, 1, 4, 4),
	}
	pos, err := inn.Mahalanobis(0, 1)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, pos, 1e-12)

	vel, err := inn.Mahalanobis(2, 3)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vel, 1e-12)
}

func TestMahalanobisSingular(t *testing.T) {
	t.Parallel()

	inn := Innovation{
		Residual:   mat.NewVecDense(2, []float64{1, 1}),
		Covariance: mat.NewDense(2, 2, nil),
	}
	_, err := inn.Mahalanobis()
	assert.Error(t, err)
}

// testConfig matches config/checks.defaults.json.
var testConfig = Config{
	InitialPosVariance: 4,
	InitialVelVariance: 1,
	ProcessNoisePos:    0.5,
	ProcessNoiseVel:    1,
	MinMeasurementStd:  0.1,
}

func stationary(t float64) bsm.Report {
	return bsm.Report{
		Sender:             7,
		Position:           bsm.Vec2{X: 100, Y: 50},
		PositionConfidence: bsm.Vec2{X: 1, Y: 1},
		Heading:            bsm.Vec2{X: 1},
		SpeedConfidence:    0.5,
		Size:               bsm.Vec2{X: 4.5, Y: 1.8},
		Time:               t,
	}
}

func TestBankStationaryConverges(t *testing.T) {
	t.Parallel()

	cfg := testConfig
	bank := NewBank(cfg, stationary(0))

	prev := stationary(0)
	for i := 1; i <= 20; i++ {
		cur := stationary(float64(i) * 0.1)
		svi, err := bank.SVI.Step(0.1, prev, cur)
		require.NoError(t, err)
		assert.InDelta(t, 0, svi.Position, 1e-9)
		assert.InDelta(t, 0, svi.Velocity, 1e-9)

		sc, err := bank.SC.Step(0.1, prev, cur)
		require.NoError(t, err)
		assert.InDelta(t, 0, sc.Position, 1e-9)
		assert.InDelta(t, 0, sc.Velocity, 1e-9)

		d, err := bank.Position.Step(0.1, bsm.Vec2{}, cur.Position, cur.PositionConfidence)
		require.NoError(t, err)
		assert.InDelta(t, 0, d, 1e-9)
		prev = cur
	}
}

func TestSVIDetectsJump(t *testing.T) {
	t.Parallel()

	cfg := testConfig
	prev := stationary(0)
	svi := NewSVI(cfg, prev)

	cur := stationary(0.1)
	cur.Position = cur.Position.Add(bsm.Vec2{X: 40})
	res, err := svi.Step(0.1, prev, cur)
	require.NoError(t, err)
	assert.Greater(t, res.Position, 5.0)
}

func TestSCFollowsConstantVelocity(t *testing.T) {
	t.Parallel()

	cfg := testConfig
	mk := func(t float64) bsm.Report {
		r := stationary(t)
		r.Speed = 10
		r.Position = bsm.Vec2{X: 10 * t, Y: 0}
		return r
	}

	sc := NewSC(cfg, mk(0))
	prev := mk(0)
	var last Residuals
	for i := 1; i <= 10; i++ {
		cur := mk(float64(i) * 0.1)
		res, err := sc.Step(0.1, prev, cur)
		require.NoError(t, err)
		last = res
		prev = cur
	}
	assert.Less(t, last.Position, 0.5)
	assert.Less(t, last.Velocity, 0.5)
}
