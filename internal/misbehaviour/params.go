package misbehaviour

import (
	"errors"
	"fmt"

	"github.com/banshee-data/misbehaviour.report/internal/config"
	"github.com/banshee-data/misbehaviour.report/internal/geom"
	"github.com/banshee-data/misbehaviour.report/internal/kalman"
	"github.com/hashicorp/go-multierror"
	"github.com/paulmach/orb"
)

// ErrInvalidConfiguration is wrapped by every error returned for
// non-physical thresholds.
var ErrInvalidConfiguration = errors.New("invalid misbehaviour configuration")

// Params holds every threshold used by the checks. A Checker copies it at
// construction; it is never mutated afterwards.
type Params struct {
	Policy Policy

	// Plausibility limits
	MaxPlausibleRange     float64 // metres from the evaluator
	MaxPlausibleSpeed     float64 // m/s
	MaxPlausibleAccel     float64 // m/s²
	MaxPlausibleDecel     float64 // m/s², positive
	MaxPositionConfidence float64 // metres; larger confidences mark a report Uncertain
	MaxSpeedConfidence    float64 // m/s
	World                 orb.Bound
	MaxSARange            float64 // metres
	MaxSATime             float64 // seconds
	BeaconInterval        float64 // seconds
	BeaconTolerance       float64 // fraction of BeaconInterval

	// Consistency limits
	MaxTimeDelta       float64 // seconds; older history is stale
	ConsistencyFalloff float64 // falloff width as a fraction of each bound
	MaxMgtRange        float64 // metres
	MaxMgtRangeUp      float64 // m/s
	MaxMgtRangeDown    float64 // m/s
	MaxHeadingChange   float64 // degrees
	PosHeadingTime     float64 // seconds
	MinHeadingDistance float64 // metres
	MinHeadingSpeed    float64 // m/s

	MaxDeltaInter float64 // seconds

	// Kalman gating
	MaxKalmanTime   float64 // seconds
	KalmanInnerGate float64 // Mahalanobis distance scoring 1
	KalmanOuterGate float64 // Mahalanobis distance scoring 0
	Kalman          kalman.Config

	HistoryLength    int     // reports kept per sender
	TrustSmoothing   float64 // weight of the previous trust in the EWMA
	FailureThreshold float64 // scores below this count as a failed check
}

// DefaultParams returns parameters loaded from the canonical defaults file
// (config/checks.defaults.json). Panics if the file cannot be found, so it
// is intended for tests.
func DefaultParams() Params {
	p, err := ParamsFromConfig(config.MustLoadDefaultConfig())
	if err != nil {
		panic(err)
	}
	return p
}

// ParamsFromConfig builds Params from a loaded ChecksConfig. Speeds are
// converted to m/s using the configured units.
func ParamsFromConfig(cfg *config.ChecksConfig) (Params, error) {
	policy, err := ParsePolicy(cfg.GetPolicy())
	if err != nil {
		return Params{}, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	p := Params{
		Policy:                policy,
		MaxPlausibleRange:     cfg.GetMaxPlausibleRange(),
		MaxPlausibleSpeed:     cfg.GetMaxPlausibleSpeed(),
		MaxPlausibleAccel:     cfg.GetMaxPlausibleAccel(),
		MaxPlausibleDecel:     cfg.GetMaxPlausibleDecel(),
		MaxPositionConfidence: cfg.GetMaxPositionConfidence(),
		MaxSpeedConfidence:    cfg.GetMaxSpeedConfidence(),
		World:                 geom.World(cfg.GetWorldMinX(), cfg.GetWorldMinY(), cfg.GetWorldMaxX(), cfg.GetWorldMaxY()),
		MaxSARange:            cfg.GetMaxSARange(),
		MaxSATime:             cfg.GetMaxSATime(),
		BeaconInterval:        cfg.GetBeaconInterval(),
		BeaconTolerance:       cfg.GetBeaconTolerance(),
		MaxTimeDelta:          cfg.GetMaxTimeDelta(),
		ConsistencyFalloff:    cfg.GetConsistencyFalloff(),
		MaxMgtRange:           cfg.GetMaxMgtRange(),
		MaxMgtRangeUp:         cfg.GetMaxMgtRangeUp(),
		MaxMgtRangeDown:       cfg.GetMaxMgtRangeDown(),
		MaxHeadingChange:      cfg.GetMaxHeadingChange(),
		PosHeadingTime:        cfg.GetPosHeadingTime(),
		MinHeadingDistance:    cfg.GetMinHeadingDistance(),
		MinHeadingSpeed:       cfg.GetMinHeadingSpeed(),
		MaxDeltaInter:         cfg.GetMaxDeltaInter(),
		MaxKalmanTime:         cfg.GetMaxKalmanTime(),
		KalmanInnerGate:       cfg.GetKalmanInnerGate(),
		KalmanOuterGate:       cfg.GetKalmanOuterGate(),
		Kalman: kalman.Config{
			InitialPosVariance: cfg.GetKalmanInitialPosVariance(),
			InitialVelVariance: cfg.GetKalmanInitialVelVariance(),
			ProcessNoisePos:    cfg.GetKalmanProcessNoisePos(),
			ProcessNoiseVel:    cfg.GetKalmanProcessNoiseVel(),
			MinMeasurementStd:  cfg.GetKalmanMinMeasurementStd(),
		},
		HistoryLength:    cfg.GetHistoryLength(),
		TrustSmoothing:   cfg.GetTrustSmoothing(),
		FailureThreshold: cfg.GetFailureThreshold(),
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate reports every non-physical threshold in one error wrapping
// ErrInvalidConfiguration.
func (p Params) Validate() error {
	var result *multierror.Error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			result = multierror.Append(result, fmt.Errorf(format, args...))
		}
	}

	check(p.Policy == PolicyContinuous || p.Policy == PolicyLegacy, "unknown policy %v", p.Policy)
	check(p.MaxPlausibleRange > 0, "MaxPlausibleRange must be positive, got %v", p.MaxPlausibleRange)
	check(p.MaxPlausibleSpeed > 0, "MaxPlausibleSpeed must be positive, got %v", p.MaxPlausibleSpeed)
	check(p.MaxPlausibleAccel > 0, "MaxPlausibleAccel must be positive, got %v", p.MaxPlausibleAccel)
	check(p.MaxPlausibleDecel > 0, "MaxPlausibleDecel must be positive, got %v", p.MaxPlausibleDecel)
	check(p.MaxPositionConfidence > 0, "MaxPositionConfidence must be positive, got %v", p.MaxPositionConfidence)
	check(p.MaxSpeedConfidence > 0, "MaxSpeedConfidence must be positive, got %v", p.MaxSpeedConfidence)
	check(p.World.Max.X() > p.World.Min.X() && p.World.Max.Y() > p.World.Min.Y(), "World bounds are empty: %v", p.World)
	check(p.MaxSARange > 0, "MaxSARange must be positive, got %v", p.MaxSARange)
	check(p.MaxSATime > 0, "MaxSATime must be positive, got %v", p.MaxSATime)
	check(p.BeaconInterval > 0, "BeaconInterval must be positive, got %v", p.BeaconInterval)
	check(p.BeaconTolerance >= 0 && p.BeaconTolerance < 1, "BeaconTolerance must be in [0, 1), got %v", p.BeaconTolerance)
	check(p.MaxTimeDelta > 0, "MaxTimeDelta must be positive, got %v", p.MaxTimeDelta)
	check(p.ConsistencyFalloff >= 0, "ConsistencyFalloff must be non-negative, got %v", p.ConsistencyFalloff)
	check(p.MaxMgtRange >= 0, "MaxMgtRange must be non-negative, got %v", p.MaxMgtRange)
	check(p.MaxMgtRangeUp >= 0, "MaxMgtRangeUp must be non-negative, got %v", p.MaxMgtRangeUp)
	check(p.MaxMgtRangeDown >= 0, "MaxMgtRangeDown must be non-negative, got %v", p.MaxMgtRangeDown)
	check(p.MaxHeadingChange > 0 && p.MaxHeadingChange <= 180, "MaxHeadingChange must be in (0, 180], got %v", p.MaxHeadingChange)
	check(p.PosHeadingTime > 0, "PosHeadingTime must be positive, got %v", p.PosHeadingTime)
	check(p.MinHeadingDistance >= 0, "MinHeadingDistance must be non-negative, got %v", p.MinHeadingDistance)
	check(p.MinHeadingSpeed >= 0, "MinHeadingSpeed must be non-negative, got %v", p.MinHeadingSpeed)
	check(p.MaxDeltaInter > 0, "MaxDeltaInter must be positive, got %v", p.MaxDeltaInter)
	check(p.MaxKalmanTime > 0, "MaxKalmanTime must be positive, got %v", p.MaxKalmanTime)
	check(p.KalmanInnerGate >= 0, "KalmanInnerGate must be non-negative, got %v", p.KalmanInnerGate)
	check(p.KalmanOuterGate > p.KalmanInnerGate, "KalmanOuterGate (%v) must exceed KalmanInnerGate (%v)", p.KalmanOuterGate, p.KalmanInnerGate)
	check(p.Kalman.InitialPosVariance > 0, "Kalman.InitialPosVariance must be positive, got %v", p.Kalman.InitialPosVariance)
	check(p.Kalman.InitialVelVariance > 0, "Kalman.InitialVelVariance must be positive, got %v", p.Kalman.InitialVelVariance)
	check(p.Kalman.ProcessNoisePos >= 0, "Kalman.ProcessNoisePos must be non-negative, got %v", p.Kalman.ProcessNoisePos)
	check(p.Kalman.ProcessNoiseVel >= 0, "Kalman.ProcessNoiseVel must be non-negative, got %v", p.Kalman.ProcessNoiseVel)
	check(p.Kalman.MinMeasurementStd > 0, "Kalman.MinMeasurementStd must be positive, got %v", p.Kalman.MinMeasurementStd)
	check(p.HistoryLength >= 2, "HistoryLength must be at least 2, got %d", p.HistoryLength)
	check(p.TrustSmoothing >= 0 && p.TrustSmoothing < 1, "TrustSmoothing must be in [0, 1), got %v", p.TrustSmoothing)
	check(p.FailureThreshold >= 0 && p.FailureThreshold <= 1, "FailureThreshold must be in [0, 1], got %v", p.FailureThreshold)

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	return nil
}

// legacy reports whether hard thresholds are in force.
func (p *Params) legacy() bool { return p.Policy == PolicyLegacy }

// grade applies falloff, collapsing the width to a hard cutoff under the
// legacy policy.
func (p *Params) grade(value, limit, width float64) Score {
	if p.legacy() {
		width = 0
	}
	return falloff(value, limit, width)
}

// conf returns a confidence term, or 0 under the legacy policy.
func (p *Params) conf(c float64) float64 {
	if p.legacy() {
		return 0
	}
	return c
}
