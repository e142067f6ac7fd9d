package domain

import (
	"fmt"
	"math"
	"strings"
)

type floatRange struct {
	field    string
	min, max float64
	value    func(s *Sample) *float64
}

var floatRanges = []floatRange{
	{"temp_in_c", -40, 85, func(s *Sample) *float64 { return s.TempInC }},
	{"temp_out_c", -40, 85, func(s *Sample) *float64 { return s.TempOutC }},
	{"humidity_pct", 0, 100, func(s *Sample) *float64 { return s.HumidityPct }},
	{"battery_board_v", 0, 16, func(s *Sample) *float64 { return s.BatteryBoardV }},
	{"battery_start_v", 0, 16, func(s *Sample) *float64 { return s.BatteryStartV }},
	{"pitch_deg", -90, 90, func(s *Sample) *float64 { return s.PitchDeg }},
	{"roll_deg", -90, 90, func(s *Sample) *float64 { return s.RollDeg }},
}

// Validate checks every present field. Out-of-range values are rejected,
// never clamped. Absent fields are valid.
func Validate(s *Sample) error {
	verr := &ValidationError{}

	if strings.TrimSpace(s.VehicleID) == "" {
		verr.add("vehicle_id", "required")
	}

	for _, r := range floatRanges {
		v := r.value(s)
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			verr.add(r.field, "must be finite")
			continue
		}
		if *v < r.min || *v > r.max {
			verr.add(r.field, fmt.Sprintf("%g outside %g..%g", *v, r.min, r.max))
		}
	}

	if s.WaterLevelPct != nil && (*s.WaterLevelPct < 0 || *s.WaterLevelPct > 100) {
		verr.add("water_level_pct", fmt.Sprintf("%d outside 0..100", *s.WaterLevelPct))
	}
	if s.GasPpm != nil && *s.GasPpm < 0 {
		verr.add("gas_ppm", fmt.Sprintf("%d must be non-negative", *s.GasPpm))
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}
