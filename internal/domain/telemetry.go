package domain

import "time"

// Sample is one immutable telemetry reading for one vehicle. Sensor fields are
// pointers: nil means the node did not report the value.
type Sample struct {
	VehicleID  string    `json:"vehicle_id"`
	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at"`

	TempInC     *float64 `json:"temp_in_c,omitempty"`
	TempOutC    *float64 `json:"temp_out_c,omitempty"`
	HumidityPct *float64 `json:"humidity_pct,omitempty"`

	BatteryBoardV *float64 `json:"battery_board_v,omitempty"`
	BatteryStartV *float64 `json:"battery_start_v,omitempty"`

	WaterLevelPct *int `json:"water_level_pct,omitempty"`
	GasPpm        *int `json:"gas_ppm,omitempty"`

	PitchDeg *float64 `json:"pitch_deg,omitempty"`
	RollDeg  *float64 `json:"roll_deg,omitempty"`

	Weather *Weather `json:"weather,omitempty"`
}

type WeatherCondition string

const (
	WeatherSunny  WeatherCondition = "sunny"
	WeatherCloudy WeatherCondition = "cloudy"
	WeatherRain   WeatherCondition = "rain"
)

// Weather is vehicle-independent enrichment from the weather collaborator.
type Weather struct {
	Condition     WeatherCondition `json:"condition"`
	ExternalTempC *float64         `json:"external_temp_c,omitempty"`
	ForecastText  string           `json:"forecast_text,omitempty"`
	Source        string           `json:"source,omitempty"`
	ObservedAt    time.Time        `json:"observed_at,omitempty"`
}

// EventKind distinguishes sample notifications from loss signals.
type EventKind string

const (
	EventSample EventKind = "sample"
	EventMissed EventKind = "missed"
)

// Event is what the dispatcher hands to subscribers. For EventMissed only
// VehicleID and Missed are set; the subscriber should fetch the latest sample.
type Event struct {
	Kind      EventKind `json:"kind"`
	VehicleID string    `json:"vehicle_id"`
	Sample    *Sample   `json:"sample,omitempty"`
	Alerts    AlertSet  `json:"alerts,omitempty"`
	Missed    int       `json:"missed,omitempty"`
}

// Clone returns a copy of s that shares no pointers with it.
func (s Sample) Clone() Sample {
	s.TempInC = cloneFloat(s.TempInC)
	s.TempOutC = cloneFloat(s.TempOutC)
	s.HumidityPct = cloneFloat(s.HumidityPct)
	s.BatteryBoardV = cloneFloat(s.BatteryBoardV)
	s.BatteryStartV = cloneFloat(s.BatteryStartV)
	s.WaterLevelPct = cloneInt(s.WaterLevelPct)
	s.GasPpm = cloneInt(s.GasPpm)
	s.PitchDeg = cloneFloat(s.PitchDeg)
	s.RollDeg = cloneFloat(s.RollDeg)
	if s.Weather != nil {
		w := *s.Weather
		w.ExternalTempC = cloneFloat(w.ExternalTempC)
		s.Weather = &w
	}
	return s
}

// Clone returns a copy of e whose sample and alerts are private to the caller.
func (e Event) Clone() Event {
	if e.Sample != nil {
		s := e.Sample.Clone()
		e.Sample = &s
	}
	if e.Alerts != nil {
		e.Alerts = append(AlertSet(nil), e.Alerts...)
	}
	return e
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return Float(*v)
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	return Int(*v)
}

func Float(v float64) *float64 { return &v }

func Int(v int) *int { return &v }
