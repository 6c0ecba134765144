package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/misbehaviour.report/internal/units"
	"github.com/goccy/go-json"
	"github.com/hashicorp/go-multierror"
)

// DefaultConfigPath is the path to the canonical checks defaults file.
// This is the single source of truth for all default thresholds.
const DefaultConfigPath = "config/checks.defaults.json"

// Check policies.
const (
	// PolicyContinuous grades every check with a linear falloff that
	// widens with the reported confidences.
	PolicyContinuous = "continuous"
	// PolicyLegacy applies hard thresholds and ignores confidences.
	PolicyLegacy = "legacy"
)

// ChecksConfig represents the root configuration for the misbehaviour
// checks. Every field is optional: Get* accessors return the built-in
// default for anything the file omits.
//
// Speeds (max_plausible_speed, max_mgt_range_up/down, min_heading_speed)
// are expressed in speed_units; everything else is SI.
type ChecksConfig struct {
	Policy     *string `json:"policy,omitempty"`
	SpeedUnits *string `json:"speed_units,omitempty"`

	// Geometric plausibility
	MaxPlausibleRange     *float64 `json:"max_plausible_range,omitempty"`
	MaxPlausibleSpeed     *float64 `json:"max_plausible_speed,omitempty"`
	MaxPlausibleAccel     *float64 `json:"max_plausible_accel,omitempty"`
	MaxPlausibleDecel     *float64 `json:"max_plausible_decel,omitempty"`
	MaxPositionConfidence *float64 `json:"max_position_confidence,omitempty"`
	MaxSpeedConfidence    *float64 `json:"max_speed_confidence,omitempty"`
	WorldMinX             *float64 `json:"world_min_x,omitempty"`
	WorldMinY             *float64 `json:"world_min_y,omitempty"`
	WorldMaxX             *float64 `json:"world_max_x,omitempty"`
	WorldMaxY             *float64 `json:"world_max_y,omitempty"`
	MaxSARange            *float64 `json:"max_sa_range,omitempty"`
	MaxSATime             *float64 `json:"max_sa_time,omitempty"`
	BeaconInterval        *float64 `json:"beacon_interval,omitempty"`
	BeaconTolerance       *float64 `json:"beacon_tolerance,omitempty"`

	// Temporal consistency
	MaxTimeDelta       *float64 `json:"max_time_delta,omitempty"`
	ConsistencyFalloff *float64 `json:"consistency_falloff,omitempty"`
	MaxMgtRange        *float64 `json:"max_mgt_range,omitempty"`
	MaxMgtRangeUp      *float64 `json:"max_mgt_range_up,omitempty"`
	MaxMgtRangeDown    *float64 `json:"max_mgt_range_down,omitempty"`
	MaxHeadingChange   *float64 `json:"max_heading_change,omitempty"`
	PosHeadingTime     *float64 `json:"pos_heading_time,omitempty"`
	MinHeadingDistance *float64 `json:"min_heading_distance,omitempty"`
	MinHeadingSpeed    *float64 `json:"min_heading_speed,omitempty"`

	// Intersection
	MaxDeltaInter *float64 `json:"max_delta_inter,omitempty"`

	// Kalman filters
	MaxKalmanTime            *float64 `json:"max_kalman_time,omitempty"`
	KalmanInnerGate          *float64 `json:"kalman_inner_gate,omitempty"`
	KalmanOuterGate          *float64 `json:"kalman_outer_gate,omitempty"`
	KalmanInitialPosVariance *float64 `json:"kalman_initial_pos_variance,omitempty"`
	KalmanInitialVelVariance *float64 `json:"kalman_initial_vel_variance,omitempty"`
	KalmanProcessNoisePos    *float64 `json:"kalman_process_noise_pos,omitempty"`
	KalmanProcessNoiseVel    *float64 `json:"kalman_process_noise_vel,omitempty"`
	KalmanMinMeasurementStd  *float64 `json:"kalman_min_measurement_std,omitempty"`

	// History and trust
	HistoryLength    *int     `json:"history_length,omitempty"`
	TrustSmoothing   *float64 `json:"trust_smoothing,omitempty"`
	FailureThreshold *float64 `json:"failure_threshold,omitempty"`
}

// LoadChecksConfig loads a checks configuration from a JSON file. Fields
// the file omits keep their defaults, and the result is validated before
// it is returned.
func LoadChecksConfig(path string) (*ChecksConfig, error) {
	if filepath.Ext(path) != ".json" {
		return nil, fmt.Errorf("config file must have .json extension: %s", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxConfigSize = 1 << 20
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ChecksConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults file, searching the
// working directory and its parents so tests in nested packages find it.
// It panics if the file cannot be found or parsed.
func MustLoadDefaultConfig() *ChecksConfig {
	candidates := []string{
		DefaultConfigPath,
		filepath.Join("..", DefaultConfigPath),
		filepath.Join("..", "..", DefaultConfigPath),
		filepath.Join("..", "..", "..", DefaultConfigPath),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			cfg, err := LoadChecksConfig(p)
			if err != nil {
				panic(fmt.Sprintf("failed to load %s: %v", p, err))
			}
			return cfg
		}
	}
	panic(fmt.Sprintf("default config not found: %s", DefaultConfigPath))
}

// GetPolicy returns the check policy or the default (continuous).
func (c *ChecksConfig) GetPolicy() string {
	if c.Policy == nil || *c.Policy == "" {
		return PolicyContinuous
	}
	return *c.Policy
}

// GetSpeedUnits returns the unit speeds are expressed in, defaulting to m/s.
func (c *ChecksConfig) GetSpeedUnits() string {
	if c.SpeedUnits == nil || *c.SpeedUnits == "" {
		return units.MPS
	}
	return *c.SpeedUnits
}

func (c *ChecksConfig) speedMPS(v float64) float64 {
	mps, err := units.ToMPS(v, c.GetSpeedUnits())
	if err != nil {
		// Validate rejects unknown units; treat the raw value as m/s.
		return v
	}
	return mps
}

// Validate reports every problem with the configuration at once.
func (c *ChecksConfig) Validate() error {
	var result *multierror.Error

	switch p := c.GetPolicy(); p {
	case PolicyContinuous, PolicyLegacy:
	default:
		result = multierror.Append(result, fmt.Errorf("policy %q must be %q or %q", p, PolicyContinuous, PolicyLegacy))
	}
	if u := c.GetSpeedUnits(); !units.IsValid(u) {
		result = multierror.Append(result, fmt.Errorf("speed_units %q must be one of %v", u, units.ValidUnits))
	}

	positive := []struct {
		name  string
		value float64
	}{
		{"max_plausible_range", c.GetMaxPlausibleRange()},
		{"max_plausible_speed", c.GetMaxPlausibleSpeed()},
		{"max_plausible_accel", c.GetMaxPlausibleAccel()},
		{"max_plausible_decel", c.GetMaxPlausibleDecel()},
		{"max_position_confidence", c.GetMaxPositionConfidence()},
		{"max_speed_confidence", c.GetMaxSpeedConfidence()},
		{"max_sa_range", c.GetMaxSARange()},
		{"max_sa_time", c.GetMaxSATime()},
		{"beacon_interval", c.GetBeaconInterval()},
		{"max_time_delta", c.GetMaxTimeDelta()},
		{"max_heading_change", c.GetMaxHeadingChange()},
		{"pos_heading_time", c.GetPosHeadingTime()},
		{"max_delta_inter", c.GetMaxDeltaInter()},
		{"max_kalman_time", c.GetMaxKalmanTime()},
		{"kalman_initial_pos_variance", c.GetKalmanInitialPosVariance()},
		{"kalman_initial_vel_variance", c.GetKalmanInitialVelVariance()},
		{"kalman_min_measurement_std", c.GetKalmanMinMeasurementStd()},
	}
	for _, p := range positive {
		if !(p.value > 0) {
			result = multierror.Append(result, fmt.Errorf("%s must be positive, got %v", p.name, p.value))
		}
	}

	nonNegative := []struct {
		name  string
		value float64
	}{
		{"consistency_falloff", c.GetConsistencyFalloff()},
		{"max_mgt_range", c.GetMaxMgtRange()},
		{"max_mgt_range_up", c.GetMaxMgtRangeUp()},
		{"max_mgt_range_down", c.GetMaxMgtRangeDown()},
		{"min_heading_distance", c.GetMinHeadingDistance()},
		{"min_heading_speed", c.GetMinHeadingSpeed()},
		{"kalman_inner_gate", c.GetKalmanInnerGate()},
		{"kalman_process_noise_pos", c.GetKalmanProcessNoisePos()},
		{"kalman_process_noise_vel", c.GetKalmanProcessNoiseVel()},
	}
	for _, p := range nonNegative {
		if !(p.value >= 0) {
			result = multierror.Append(result, fmt.Errorf("%s must be non-negative, got %v", p.name, p.value))
		}
	}

	if c.GetWorldMaxX() <= c.GetWorldMinX() || c.GetWorldMaxY() <= c.GetWorldMinY() {
		result = multierror.Append(result, fmt.Errorf("world bounds are empty: [%v,%v]x[%v,%v]",
			c.GetWorldMinX(), c.GetWorldMaxX(), c.GetWorldMinY(), c.GetWorldMaxY()))
	}
	if c.GetKalmanOuterGate() <= c.GetKalmanInnerGate() {
		result = multierror.Append(result, fmt.Errorf("kalman_outer_gate (%v) must exceed kalman_inner_gate (%v)",
			c.GetKalmanOuterGate(), c.GetKalmanInnerGate()))
	}
	if t := c.GetBeaconTolerance(); t < 0 || t >= 1 {
		result = multierror.Append(result, fmt.Errorf("beacon_tolerance must be in [0, 1), got %v", t))
	}
	if n := c.GetHistoryLength(); n < 2 {
		result = multierror.Append(result, fmt.Errorf("history_length must be at least 2, got %d", n))
	}
	if s := c.GetTrustSmoothing(); s < 0 || s >= 1 {
		result = multierror.Append(result, fmt.Errorf("trust_smoothing must be in [0, 1), got %v", s))
	}
	if f := c.GetFailureThreshold(); f < 0 || f > 1 {
		result = multierror.Append(result, fmt.Errorf("failure_threshold must be in [0, 1], got %v", f))
	}

	return result.ErrorOrNil()
}

// GetMaxPlausibleRange returns the max_plausible_range value or the default.
func (c *ChecksConfig) GetMaxPlausibleRange() float64 {
	if c.MaxPlausibleRange == nil {
		return 420.0
	}
	return *c.MaxPlausibleRange
}

// GetMaxPlausibleSpeed returns the max_plausible_speed value in m/s, or the default.
func (c *ChecksConfig) GetMaxPlausibleSpeed() float64 {
	if c.MaxPlausibleSpeed == nil {
		return 20.0
	}
	return c.speedMPS(*c.MaxPlausibleSpeed)
}

// GetMaxPlausibleAccel returns the max_plausible_accel value or the default.
func (c *ChecksConfig) GetMaxPlausibleAccel() float64 {
	if c.MaxPlausibleAccel == nil {
		return 2.6
	}
	return *c.MaxPlausibleAccel
}

// GetMaxPlausibleDecel returns the max_plausible_decel value or the default.
func (c *ChecksConfig) GetMaxPlausibleDecel() float64 {
	if c.MaxPlausibleDecel == nil {
		return 4.5
	}
	return *c.MaxPlausibleDecel
}

// GetMaxPositionConfidence returns the max_position_confidence value or the default.
func (c *ChecksConfig) GetMaxPositionConfidence() float64 {
	if c.MaxPositionConfidence == nil {
		return 10.0
	}
	return *c.MaxPositionConfidence
}

// GetMaxSpeedConfidence returns the max_speed_confidence value or the default.
func (c *ChecksConfig) GetMaxSpeedConfidence() float64 {
	if c.MaxSpeedConfidence == nil {
		return 5.0
	}
	return *c.MaxSpeedConfidence
}

// GetWorldMinX returns the world_min_x value or the default.
func (c *ChecksConfig) GetWorldMinX() float64 {
	if c.WorldMinX == nil {
		return 0.0
	}
	return *c.WorldMinX
}

// GetWorldMinY returns the world_min_y value or the default.
func (c *ChecksConfig) GetWorldMinY() float64 {
	if c.WorldMinY == nil {
		return 0.0
	}
	return *c.WorldMinY
}

// GetWorldMaxX returns the world_max_x value or the default.
func (c *ChecksConfig) GetWorldMaxX() float64 {
	if c.WorldMaxX == nil {
		return 5000.0
	}
	return *c.WorldMaxX
}

// GetWorldMaxY returns the world_max_y value or the default.
func (c *ChecksConfig) GetWorldMaxY() float64 {
	if c.WorldMaxY == nil {
		return 5000.0
	}
	return *c.WorldMaxY
}

// GetMaxSARange returns the max_sa_range value or the default.
func (c *ChecksConfig) GetMaxSARange() float64 {
	if c.MaxSARange == nil {
		return 210.0
	}
	return *c.MaxSARange
}

// GetMaxSATime returns the max_sa_time value or the default.
func (c *ChecksConfig) GetMaxSATime() float64 {
	if c.MaxSATime == nil {
		return 2.1
	}
	return *c.MaxSATime
}

// GetBeaconInterval returns the beacon_interval value or the default.
func (c *ChecksConfig) GetBeaconInterval() float64 {
	if c.BeaconInterval == nil {
		return 1.0
	}
	return *c.BeaconInterval
}

// GetBeaconTolerance returns the beacon_tolerance value or the default.
func (c *ChecksConfig) GetBeaconTolerance() float64 {
	if c.BeaconTolerance == nil {
		return 0.5
	}
	return *c.BeaconTolerance
}

// GetMaxTimeDelta returns the max_time_delta value or the default.
func (c *ChecksConfig) GetMaxTimeDelta() float64 {
	if c.MaxTimeDelta == nil {
		return 3.1
	}
	return *c.MaxTimeDelta
}

// GetConsistencyFalloff returns the consistency_falloff value or the default.
func (c *ChecksConfig) GetConsistencyFalloff() float64 {
	if c.ConsistencyFalloff == nil {
		return 0.5
	}
	return *c.ConsistencyFalloff
}

// GetMaxMgtRange returns the max_mgt_range value or the default.
func (c *ChecksConfig) GetMaxMgtRange() float64 {
	if c.MaxMgtRange == nil {
		return 4.0
	}
	return *c.MaxMgtRange
}

// GetMaxMgtRangeUp returns the max_mgt_range_up value in m/s, or the default.
func (c *ChecksConfig) GetMaxMgtRangeUp() float64 {
	if c.MaxMgtRangeUp == nil {
		return 2.1
	}
	return c.speedMPS(*c.MaxMgtRangeUp)
}

// GetMaxMgtRangeDown returns the max_mgt_range_down value in m/s, or the default.
func (c *ChecksConfig) GetMaxMgtRangeDown() float64 {
	if c.MaxMgtRangeDown == nil {
		return 6.2
	}
	return c.speedMPS(*c.MaxMgtRangeDown)
}

// GetMaxHeadingChange returns the max_heading_change value or the default.
func (c *ChecksConfig) GetMaxHeadingChange() float64 {
	if c.MaxHeadingChange == nil {
		return 90.0
	}
	return *c.MaxHeadingChange
}

// GetPosHeadingTime returns the pos_heading_time value or the default.
func (c *ChecksConfig) GetPosHeadingTime() float64 {
	if c.PosHeadingTime == nil {
		return 1.1
	}
	return *c.PosHeadingTime
}

// GetMinHeadingDistance returns the min_heading_distance value or the default.
func (c *ChecksConfig) GetMinHeadingDistance() float64 {
	if c.MinHeadingDistance == nil {
		return 1.0
	}
	return *c.MinHeadingDistance
}

// GetMinHeadingSpeed returns the min_heading_speed value in m/s, or the default.
func (c *ChecksConfig) GetMinHeadingSpeed() float64 {
	if c.MinHeadingSpeed == nil {
		return 1.0
	}
	return c.speedMPS(*c.MinHeadingSpeed)
}

// GetMaxDeltaInter returns the max_delta_inter value or the default.
func (c *ChecksConfig) GetMaxDeltaInter() float64 {
	if c.MaxDeltaInter == nil {
		return 2.0
	}
	return *c.MaxDeltaInter
}

// GetMaxKalmanTime returns the max_kalman_time value or the default.
func (c *ChecksConfig) GetMaxKalmanTime() float64 {
	if c.MaxKalmanTime == nil {
		return 3.1
	}
	return *c.MaxKalmanTime
}

// GetKalmanInnerGate returns the kalman_inner_gate value or the default.
func (c *ChecksConfig) GetKalmanInnerGate() float64 {
	if c.KalmanInnerGate == nil {
		return 2.0
	}
	return *c.KalmanInnerGate
}

// GetKalmanOuterGate returns the kalman_outer_gate value or the default.
func (c *ChecksConfig) GetKalmanOuterGate() float64 {
	if c.KalmanOuterGate == nil {
		return 6.0
	}
	return *c.KalmanOuterGate
}

// GetKalmanInitialPosVariance returns the kalman_initial_pos_variance value or the default.
func (c *ChecksConfig) GetKalmanInitialPosVariance() float64 {
	if c.KalmanInitialPosVariance == nil {
		return 4.0
	}
	return *c.KalmanInitialPosVariance
}

// GetKalmanInitialVelVariance returns the kalman_initial_vel_variance value or the default.
func (c *ChecksConfig) GetKalmanInitialVelVariance() float64 {
	if c.KalmanInitialVelVariance == nil {
		return 1.0
	}
	return *c.KalmanInitialVelVariance
}

// GetKalmanProcessNoisePos returns the kalman_process_noise_pos value or the default.
func (c *ChecksConfig) GetKalmanProcessNoisePos() float64 {
	if c.KalmanProcessNoisePos == nil {
		return 0.5
	}
	return *c.KalmanProcessNoisePos
}

// GetKalmanProcessNoiseVel returns the kalman_process_noise_vel value or the default.
func (c *ChecksConfig) GetKalmanProcessNoiseVel() float64 {
	if c.KalmanProcessNoiseVel == nil {
		return 1.0
	}
	return *c.KalmanProcessNoiseVel
}

// GetKalmanMinMeasurementStd returns the kalman_min_measurement_std value or the default.
func (c *ChecksConfig) GetKalmanMinMeasurementStd() float64 {
	if c.KalmanMinMeasurementStd == nil {
		return 0.1
	}
	return *c.KalmanMinMeasurementStd
}

// GetHistoryLength returns the history_length value or the default.
func (c *ChecksConfig) GetHistoryLength() int {
	if c.HistoryLength == nil {
		return 10
	}
	return *c.HistoryLength
}

// GetTrustSmoothing returns the trust_smoothing value or the default.
func (c *ChecksConfig) GetTrustSmoothing() float64 {
	if c.TrustSmoothing == nil {
		return 0.8
	}
	return *c.TrustSmoothing
}

// GetFailureThreshold returns the failure_threshold value or the default.
func (c *ChecksConfig) GetFailureThreshold() float64 {
	if c.FailureThreshold == nil {
		return 0.5
	}
	return *c.FailureThreshold
}
