package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := &ChecksConfig{}

	if got := cfg.GetPolicy(); got != PolicyContinuous {
		t.Errorf("GetPolicy() = %q, want %q", got, PolicyContinuous)
	}
	if got := cfg.GetMaxPlausibleRange(); got != 420 {
		t.Errorf("GetMaxPlausibleRange() = %v, want 420", got)
	}
	if got := cfg.GetMaxPlausibleSpeed(); got != 20 {
		t.Errorf("GetMaxPlausibleSpeed() = %v, want 20", got)
	}
	if got := cfg.GetHistoryLength(); got != 10 {
		t.Errorf("GetHistoryLength() = %d, want 10", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestMustLoadDefaultConfigMatchesBuiltins(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	empty := &ChecksConfig{}

	if cfg.MaxPlausibleRange == nil {
		t.Fatal("defaults file should set max_plausible_range")
	}
	pairs := []struct {
		name      string
		file, def float64
	}{
		{"max_plausible_range", cfg.GetMaxPlausibleRange(), empty.GetMaxPlausibleRange()},
		{"max_plausible_speed", cfg.GetMaxPlausibleSpeed(), empty.GetMaxPlausibleSpeed()},
		{"max_time_delta", cfg.GetMaxTimeDelta(), empty.GetMaxTimeDelta()},
		{"max_delta_inter", cfg.GetMaxDeltaInter(), empty.GetMaxDeltaInter()},
		{"kalman_outer_gate", cfg.GetKalmanOuterGate(), empty.GetKalmanOuterGate()},
		{"trust_smoothing", cfg.GetTrustSmoothing(), empty.GetTrustSmoothing()},
	}
	for _, p := range pairs {
		if p.file != p.def {
			t.Errorf("%s: file %v, built-in %v", p.name, p.file, p.def)
		}
	}
}

func TestLoadChecksConfig(t *testing.T) {
	path := writeConfig(t, "checks.json", `{
		"policy": "legacy",
		"max_plausible_range": 300,
		"history_length": 4
	}`)

	cfg, err := LoadChecksConfig(path)
	if err != nil {
		t.Fatalf("LoadChecksConfig: %v", err)
	}
	if cfg.Policy == nil || *cfg.Policy != PolicyLegacy {
		t.Errorf("Policy = %v, want legacy", cfg.Policy)
	}
	if cfg.MaxPlausibleRange == nil || *cfg.MaxPlausibleRange != 300 {
		t.Errorf("MaxPlausibleRange = %v, want 300", cfg.MaxPlausibleRange)
	}
	if got := cfg.GetHistoryLength(); got != 4 {
		t.Errorf("GetHistoryLength() = %d, want 4", got)
	}
	// Omitted fields keep their defaults.
	if got := cfg.GetMaxSARange(); got != 210 {
		t.Errorf("GetMaxSARange() = %v, want 210", got)
	}
}

func TestLoadChecksConfigSpeedUnits(t *testing.T) {
	path := writeConfig(t, "kmph.json", `{
		"speed_units": "kmph",
		"max_plausible_speed": 72,
		"min_heading_speed": 3.6
	}`)

	cfg, err := LoadChecksConfig(path)
	if err != nil {
		t.Fatalf("LoadChecksConfig: %v", err)
	}
	if got := cfg.GetMaxPlausibleSpeed(); math.Abs(got-20) > 1e-9 {
		t.Errorf("GetMaxPlausibleSpeed() = %v, want 20 m/s", got)
	}
	if got := cfg.GetMinHeadingSpeed(); math.Abs(got-1) > 1e-9 {
		t.Errorf("GetMinHeadingSpeed() = %v, want 1 m/s", got)
	}
	// Accelerations are not speeds and are never converted.
	if got := cfg.GetMaxPlausibleAccel(); got != 2.6 {
		t.Errorf("GetMaxPlausibleAccel() = %v, want 2.6", got)
	}
}

func TestLoadChecksConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "checks.yaml", `{}`, ".json extension"},
		{"bad json", "checks.json", `{"max_plausible_range": }`, "parse config JSON"},
		{"invalid value", "checks.json", `{"max_plausible_range": -1}`, "max_plausible_range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadChecksConfig(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadChecksConfigMissingFile(t *testing.T) {
	_, err := LoadChecksConfig(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLoadChecksConfigTooLarge(t *testing.T) {
	body := `{"policy": "continuous", "pad": "` + strings.Repeat("x", 1<<20) + `"}`
	path := writeConfig(t, "big.json", body)
	_, err := LoadChecksConfig(path)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func ptr[T any](v T) *T { return &v }

func TestValidateRejectsNonPhysicalThresholds(t *testing.T) {
	tests := []struct {
		name  string
		cfg   ChecksConfig
		field string
	}{
		{"negative range", ChecksConfig{MaxPlausibleRange: ptr(-1.0)}, "max_plausible_range"},
		{"zero speed", ChecksConfig{MaxPlausibleSpeed: ptr(0.0)}, "max_plausible_speed"},
		{"NaN accel", ChecksConfig{MaxPlausibleAccel: ptr(math.NaN())}, "max_plausible_accel"},
		{"zero decel", ChecksConfig{MaxPlausibleDecel: ptr(0.0)}, "max_plausible_decel"},
		{"zero beacon interval", ChecksConfig{BeaconInterval: ptr(0.0)}, "beacon_interval"},
		{"tolerance one", ChecksConfig{BeaconTolerance: ptr(1.0)}, "beacon_tolerance"},
		{"negative falloff", ChecksConfig{ConsistencyFalloff: ptr(-0.1)}, "consistency_falloff"},
		{"negative mgt range", ChecksConfig{MaxMgtRange: ptr(-4.0)}, "max_mgt_range"},
		{"zero time delta", ChecksConfig{MaxTimeDelta: ptr(0.0)}, "max_time_delta"},
		{"zero inter window", ChecksConfig{MaxDeltaInter: ptr(0.0)}, "max_delta_inter"},
		{"gates inverted", ChecksConfig{KalmanInnerGate: ptr(6.0), KalmanOuterGate: ptr(2.0)}, "kalman_outer_gate"},
		{"empty world", ChecksConfig{WorldMinX: ptr(10.0), WorldMaxX: ptr(10.0)}, "world bounds"},
		{"short history", ChecksConfig{HistoryLength: ptr(1)}, "history_length"},
		{"smoothing one", ChecksConfig{TrustSmoothing: ptr(1.0)}, "trust_smoothing"},
		{"threshold above one", ChecksConfig{FailureThreshold: ptr(1.5)}, "failure_threshold"},
		{"unknown policy", ChecksConfig{Policy: ptr("fuzzy")}, "policy"},
		{"unknown units", ChecksConfig{SpeedUnits: ptr("knots")}, "speed_units"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not mention %q", err, tt.field)
			}
		})
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := ChecksConfig{
		MaxPlausibleRange: ptr(-1.0),
		MaxPlausibleSpeed: ptr(-1.0),
		HistoryLength:     ptr(0),
	}
	err := cfg.Validate()

	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("expected *multierror.Error, got %T", err)
	}
	if len(merr.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(merr.Errors), merr)
	}
}
