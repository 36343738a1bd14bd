package weather

// keyQualityParams are the fields the quality gate inspects. A record is
// usable when any one of them carries enough real samples.
var keyQualityParams = []string{
	"temperature_2m",
	"pressure_msl",
	"relative_humidity_2m",
	"wind_speed_10m",
}

// minNonNullFraction is the share of non-null samples a key parameter must
// exceed for the record to count as valid.
const minNonNullFraction = 0.25

// HasValidData reports whether a record carries usable weather data: an
// hourly block exists and at least one key parameter has strictly more than
// 25% non-null samples. Backends sometimes answer with fully null columns for
// locations they do not cover; those records are rejected here.
func HasValidData(rec *Record) bool {
	if rec == nil || rec.Hourly == nil {
		return false
	}
	for _, param := range keyQualityParams {
		if rec.Hourly.NonNullFraction(param) > minNonNullFraction {
			return true
		}
	}
	return false
}
