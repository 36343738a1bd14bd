package weather

import "testing"

func seriesWithFraction(field string, nonNull, total int) *HourlySeries {
	col := make([]*float64, total)
	for i := 0; i < nonNull; i++ {
		col[i] = fptr(float64(i))
	}
	return &HourlySeries{
		Time:   make([]string, total),
		Fields: map[string][]*float64{field: col},
	}
}

// TestHasValidDataThreshold checks the strict boundary: exactly one quarter
// non-null is not enough, anything above it is.
func TestHasValidDataThreshold(t *testing.T) {
	at := &Record{Hourly: seriesWithFraction("temperature_2m", 1, 4)}
	if HasValidData(at) {
		t.Fatalf("exactly 25%% non-null must be rejected")
	}

	above := &Record{Hourly: seriesWithFraction("temperature_2m", 2, 4)}
	if !HasValidData(above) {
		t.Fatalf("50%% non-null must be accepted")
	}
}

func TestHasValidDataAnyKeyParam(t *testing.T) {
	rec := &Record{Hourly: &HourlySeries{
		Time: make([]string, 2),
		Fields: map[string][]*float64{
			"temperature_2m": {nil, nil},
			"wind_speed_10m": {fptr(12), fptr(14)},
		},
	}}
	if !HasValidData(rec) {
		t.Fatalf("one healthy key parameter must be enough")
	}
}

func TestHasValidDataRejectsEmpty(t *testing.T) {
	if HasValidData(nil) {
		t.Fatalf("nil record must be rejected")
	}
	if HasValidData(&Record{}) {
		t.Fatalf("record without an hourly block must be rejected")
	}

	rec := &Record{Hourly: &HourlySeries{
		Time:   make([]string, 3),
		Fields: map[string][]*float64{"uv_index": {fptr(1), fptr(2), fptr(3)}},
	}}
	if HasValidData(rec) {
		t.Fatalf("non-key parameters must not count")
	}
}
