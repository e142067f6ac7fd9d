package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

type AlertType string

const (
	AlertGasAlarm          AlertType = "GAS_ALARM"
	AlertStarterBatteryLow AlertType = "STARTER_BATTERY_LOW"
	AlertUnlevel           AlertType = "UNLEVEL"
)

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

type Alert struct {
	Type     AlertType     `json:"type"`
	Severity AlertSeverity `json:"severity"`
	Value    float64       `json:"value"`
}

// AlertSet is derived from a sample and never stored.
type AlertSet []Alert

func (s AlertSet) Has(t AlertType) bool {
	for _, a := range s {
		if a.Type == t {
			return true
		}
	}
	return false
}

func (s AlertSet) Types() []AlertType {
	out := make([]AlertType, len(s))
	for i, a := range s {
		out[i] = a.Type
	}
	return out
}

// Threshold names as they appear in YAML files and the vehicle_thresholds table.
const (
	ThresholdGasPpmMax          = "gas_ppm_max"
	ThresholdStarterBatteryMinV = "starter_battery_min_v"
	ThresholdLevelToleranceDeg  = "level_tolerance_deg"
)

type Thresholds struct {
	GasPpmMax          float64 `json:"gas_ppm_max" yaml:"gas_ppm_max"`
	StarterBatteryMinV float64 `json:"starter_battery_min_v" yaml:"starter_battery_min_v"`
	LevelToleranceDeg  float64 `json:"level_tolerance_deg" yaml:"level_tolerance_deg"`
}

var DefaultThresholds = Thresholds{
	GasPpmMax:          350,
	StarterBatteryMinV: 11.8,
	LevelToleranceDeg:  1.5,
}

// With returns a copy of t with the named overrides applied.
func (t Thresholds) With(overrides map[string]float64) (Thresholds, error) {
	out := t
	for name, v := range overrides {
		switch name {
		case ThresholdGasPpmMax:
			out.GasPpmMax = v
		case ThresholdStarterBatteryMinV:
			out.StarterBatteryMinV = v
		case ThresholdLevelToleranceDeg:
			out.LevelToleranceDeg = v
		default:
			return t, fmt.Errorf("unknown threshold %q (known: %s)", name, strings.Join(ThresholdNames(), ", "))
		}
	}
	if err := out.Validate(); err != nil {
		return t, err
	}
	return out, nil
}

func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{
		ThresholdGasPpmMax:          t.GasPpmMax,
		ThresholdStarterBatteryMinV: t.StarterBatteryMinV,
		ThresholdLevelToleranceDeg:  t.LevelToleranceDeg,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("threshold %s: value must be finite", name)
		}
		if v < 0 {
			return fmt.Errorf("threshold %s: value must be non-negative, got %g", name, v)
		}
	}
	return nil
}

func ThresholdNames() []string {
	names := []string{ThresholdGasPpmMax, ThresholdStarterBatteryMinV, ThresholdLevelToleranceDeg}
	sort.Strings(names)
	return names
}

type AlertRule struct {
	Type      AlertType
	Severity  AlertSeverity
	Evaluator func(s *Sample, t Thresholds) (float64, bool)
}

// A rule whose input is absent never fires.
var DefaultAlertRules = []AlertRule{
	{
		Type:     AlertGasAlarm,
		Severity: SeverityCritical,
		Evaluator: func(s *Sample, t Thresholds) (float64, bool) {
			if s.GasPpm == nil {
				return 0, false
			}
			v := float64(*s.GasPpm)
			return v, v > t.GasPpmMax
		},
	},
	{
		Type:     AlertStarterBatteryLow,
		Severity: SeverityWarning,
		Evaluator: func(s *Sample, t Thresholds) (float64, bool) {
			if s.BatteryStartV == nil {
				return 0, false
			}
			return *s.BatteryStartV, *s.BatteryStartV < t.StarterBatteryMinV
		},
	},
	{
		Type:     AlertUnlevel,
		Severity: SeverityInfo,
		Evaluator: func(s *Sample, t Thresholds) (float64, bool) {
			var worst float64
			if s.PitchDeg != nil {
				worst = math.Abs(*s.PitchDeg)
			}
			if s.RollDeg != nil && math.Abs(*s.RollDeg) > worst {
				worst = math.Abs(*s.RollDeg)
			}
			return worst, worst > t.LevelToleranceDeg
		},
	},
}

// Evaluate applies DefaultAlertRules in order. It has no side effects.
func Evaluate(s *Sample, t Thresholds) AlertSet {
	var set AlertSet
	for _, rule := range DefaultAlertRules {
		v, active := rule.Evaluator(s, t)
		if !active {
			continue
		}
		set = append(set, Alert{Type: rule.Type, Severity: rule.Severity, Value: v})
	}
	return set
}
