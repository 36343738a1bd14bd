package weather

import (
	"encoding/json"
	"fmt"
	"time"
)

// Location is a named point from the location catalog.
type Location struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinates are inside the WGS84 ranges.
func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180
}

// HourlySeries holds the hourly time axis and one sample column per field.
// Missing samples are explicit nulls so columns stay index-aligned with Time.
type HourlySeries struct {
	Time   []string
	Fields map[string][]*float64
}

// MarshalJSON renders the series as a flat object: {"time": [...], "<field>": [...]}.
func (s *HourlySeries) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(s.Fields)+1)
	out["time"] = s.Time
	for name, samples := range s.Fields {
		out[name] = samples
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the flat object form. The time axis is required to be
// a string array when present; sample columns that are not numeric arrays are
// skipped rather than failing the whole record.
func (s *HourlySeries) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Time = nil
	s.Fields = make(map[string][]*float64, len(raw))

	if t, ok := raw["time"]; ok {
		if err := json.Unmarshal(t, &s.Time); err != nil {
			return fmt.Errorf("decode hourly time axis: %w", err)
		}
	}

	for name, msg := range raw {
		if name == "time" {
			continue
		}
		var samples []*float64
		if err := json.Unmarshal(msg, &samples); err != nil {
			continue
		}
		s.Fields[name] = samples
	}
	return nil
}

// Align pads short columns with nulls and truncates long ones so every field
// has exactly len(Time) samples.
func (s *HourlySeries) Align() {
	n := len(s.Time)
	for name, samples := range s.Fields {
		switch {
		case len(samples) > n:
			s.Fields[name] = samples[:n]
		case len(samples) < n:
			padded := make([]*float64, n)
			copy(padded, samples)
			s.Fields[name] = padded
		}
	}
}

// NonNullFraction returns the share of non-null samples in a column,
// or 0 when the column is absent or empty.
func (s *HourlySeries) NonNullFraction(field string) float64 {
	samples, ok := s.Fields[field]
	if !ok || len(samples) == 0 {
		return 0
	}
	var n int
	for _, v := range samples {
		if v != nil {
			n++
		}
	}
	return float64(n) / float64(len(samples))
}

// Latest returns the last sample of every column plus the last timestamp,
// keyed by field name. Nil when the series has no rows.
func (s *HourlySeries) Latest() map[string]interface{} {
	if len(s.Time) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(s.Fields)+1)
	out["time"] = s.Time[len(s.Time)-1]
	for name, samples := range s.Fields {
		if len(samples) == 0 {
			continue
		}
		out[name] = samples[len(samples)-1]
	}
	return out
}

// Record is one location's fetched weather data. Records are treated as
// immutable once published into a snapshot.
type Record struct {
	City        string            `json:"city"`
	Coordinates []float64         `json:"coordinates"`
	Latitude    float64           `json:"latitude"`
	Longitude   float64           `json:"longitude"`
	Timezone    string            `json:"timezone,omitempty"`
	Elevation   float64           `json:"elevation,omitempty"`
	HourlyUnits map[string]string `json:"hourly_units,omitempty"`
	Hourly      *HourlySeries     `json:"hourly"`
	FetchedAt   time.Time         `json:"fetch_time"`
}

// Snapshot is the atomic unit the store publishes: the full record mapping of
// one batch. Neither the map nor the records are mutated after publication.
type Snapshot struct {
	Records         map[string]*Record
	SavedAt         time.Time
	SourceLocations int
}

// CurrentConditions is the latest-hour view of a single city.
type CurrentConditions struct {
	City        string                 `json:"city"`
	Coordinates []float64              `json:"coordinates"`
	Timezone    string                 `json:"timezone"`
	FetchTime   time.Time              `json:"fetch_time"`
	Current     map[string]interface{} `json:"current"`
}

// OutcomeKind classifies a single fetch attempt.
type OutcomeKind string

const (
	OutcomeAccepted   OutcomeKind = "accepted"
	OutcomeLowQuality OutcomeKind = "low_quality"
	OutcomeTimeout    OutcomeKind = "timeout"
	OutcomeConnection OutcomeKind = "connection_error"
	OutcomeBadStatus  OutcomeKind = "bad_status"
)

// Retryable reports whether another attempt can change the result. Content
// rejections are final; transport-level failures are not.
func (k OutcomeKind) Retryable() bool {
	switch k {
	case OutcomeTimeout, OutcomeConnection, OutcomeBadStatus:
		return true
	}
	return false
}

// Outcome is the result of one fetch: an accepted record or a classified
// rejection with its cause.
type Outcome struct {
	Kind   OutcomeKind
	Record *Record
	Err    error
}

// CanonicalParams is the hourly parameter list requested from the backend.
var CanonicalParams = []string{
	"temperature_2m", "relative_humidity_2m", "dew_point_2m",
	"apparent_temperature", "precipitation_probability", "precipitation",
	"rain", "showers", "snowfall", "snow_depth", "pressure_msl",
	"surface_pressure", "cloud_cover", "vapour_pressure_deficit",
	"visibility", "uv_index", "wind_speed_10m", "wind_direction_10m",
	"wind_gusts_10m", "soil_temperature_0cm", "soil_moisture_0_to_1cm",
}

// ParameterLabels maps canonical fields to display labels for the
// parameter-discovery endpoint.
var ParameterLabels = map[string]string{
	"temperature_2m":            "Temperature (°C)",
	"relative_humidity_2m":      "Relative Humidity (%)",
	"dew_point_2m":              "Dew Point (°C)",
	"apparent_temperature":      "Apparent Temperature (°C)",
	"precipitation_probability": "Precipitation Probability (%)",
	"precipitation":             "Precipitation (mm)",
	"rain":                      "Rain (mm)",
	"showers":                   "Showers (mm)",
	"snowfall":                  "Snowfall (cm)",
	"snow_depth":                "Snow Depth (meters)",
	"pressure_msl":              "Pressure MSL (hPa)",
	"surface_pressure":          "Surface Pressure (hPa)",
	"cloud_cover":               "Cloud Cover (%)",
	"wind_speed_10m":            "Wind Speed (km/h)",
	"wind_direction_10m":        "Wind Direction (degrees)",
	"wind_gusts_10m":            "Wind Gusts (km/h)",
	"soil_temperature_0cm":      "Soil Temperature (°C)",
	"soil_moisture_0_to_1cm":    "Soil Moisture (%)",
	"visibility":                "Visibility (m)",
	"uv_index":                  "UV Index",
	"vapour_pressure_deficit":   "Vapour Pressure Deficit (kPa)",
}
