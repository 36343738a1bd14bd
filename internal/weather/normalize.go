package weather

import "strings"

// modelPriority orders the forecast models used by the self-hosted backend.
// When several models report the same field, the first present wins.
var modelPriority = []string{
	"ecmwf_ifs025",
	"ncep_gfs025",
	"meteofrance_arpege_world025",
}

// ModelsParam is the models query value requested from the self-hosted
// backend, highest priority first.
func ModelsParam() string {
	return strings.Join(modelPriority, ",")
}

// normalizedFields are the canonical fields that model-qualified aliases
// collapse into.
var normalizedFields = []string{
	"temperature_2m",
	"relative_humidity_2m",
	"pressure_msl",
	"wind_speed_10m",
	"wind_direction_10m",
	"precipitation",
	"dew_point_2m",
	"apparent_temperature",
	"precipitation_probability",
	"rain",
	"showers",
	"snowfall",
	"snow_depth",
	"surface_pressure",
	"cloud_cover",
	"wind_gusts_10m",
	"soil_temperature_0cm",
	"soil_moisture_0_to_1cm",
}

// aliasSet holds every known model-qualified field name.
var aliasSet = buildAliasSet()

func buildAliasSet() map[string]struct{} {
	set := make(map[string]struct{}, len(normalizedFields)*len(modelPriority))
	for _, field := range normalizedFields {
		for _, model := range modelPriority {
			set[field+"_"+model] = struct{}{}
		}
	}
	return set
}

// Normalize collapses model-qualified columns into canonical ones and returns
// a new series; the input is not modified.
//
// The time axis is copied first. For each canonical field the highest-priority
// alias present supplies the samples; remaining aliases are dropped. Columns
// that are neither aliases nor already produced pass through untouched, so a
// canonical column in the input survives unless an alias overrides it. A field
// with no alias and no passthrough column stays absent. Normalizing an
// already-canonical series returns an identical one.
func Normalize(s *HourlySeries) *HourlySeries {
	if s == nil {
		return nil
	}

	out := &HourlySeries{
		Time:   s.Time,
		Fields: make(map[string][]*float64, len(s.Fields)),
	}

	for _, field := range normalizedFields {
		for _, model := range modelPriority {
			if samples, ok := s.Fields[field+"_"+model]; ok {
				out.Fields[field] = samples
				break
			}
		}
	}

	for name, samples := range s.Fields {
		if _, done := out.Fields[name]; done {
			continue
		}
		if _, isAlias := aliasSet[name]; isAlias {
			continue
		}
		out.Fields[name] = samples
	}

	return out
}
