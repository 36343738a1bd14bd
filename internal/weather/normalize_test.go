package weather

import "testing"

// TestNormalizePriority verifies that when several models report the same
// field, the highest-priority one supplies the canonical column.
func TestNormalizePriority(t *testing.T) {
	in := &HourlySeries{
		Time: []string{"2025-01-01T00:00"},
		Fields: map[string][]*float64{
			"temperature_2m_ncep_gfs025":  {fptr(7)},
			"temperature_2m_ecmwf_ifs025": {fptr(5)},
		},
	}

	out := Normalize(in)

	col, ok := out.Fields["temperature_2m"]
	if !ok {
		t.Fatalf("canonical temperature column missing")
	}
	if *col[0] != 5 {
		t.Fatalf("expected the ecmwf sample 5, got %v", *col[0])
	}
	if _, ok := out.Fields["temperature_2m_ecmwf_ifs025"]; ok {
		t.Fatalf("model-qualified aliases must be dropped")
	}
	if len(out.Time) != 1 || out.Time[0] != in.Time[0] {
		t.Fatalf("time axis must be carried over")
	}
}

func TestNormalizeLowerPriorityFallback(t *testing.T) {
	in := &HourlySeries{
		Time:   []string{"t"},
		Fields: map[string][]*float64{"pressure_msl_ncep_gfs025": {fptr(1000)}},
	}

	out := Normalize(in)

	col := out.Fields["pressure_msl"]
	if col == nil || *col[0] != 1000 {
		t.Fatalf("a lower-priority model must fill in when higher ones are absent")
	}
}

func TestNormalizePassthrough(t *testing.T) {
	in := &HourlySeries{
		Time: []string{"t"},
		Fields: map[string][]*float64{
			"temperature_2m": {fptr(3)},
			"uv_index":       {fptr(1)},
		},
	}

	out := Normalize(in)

	if *out.Fields["temperature_2m"][0] != 3 {
		t.Fatalf("a canonical input column must survive untouched")
	}
	if _, ok := out.Fields["uv_index"]; !ok {
		t.Fatalf("unrelated columns must pass through")
	}
}

func TestNormalizeAliasOverridesCanonical(t *testing.T) {
	in := &HourlySeries{
		Time: []string{"t"},
		Fields: map[string][]*float64{
			"wind_speed_10m":              {fptr(1)},
			"wind_speed_10m_ecmwf_ifs025": {fptr(9)},
		},
	}

	out := Normalize(in)

	if *out.Fields["wind_speed_10m"][0] != 9 {
		t.Fatalf("a model alias must override the plain column")
	}
}

func TestNormalizeAbsentStaysAbsent(t *testing.T) {
	in := &HourlySeries{Time: []string{"t"}, Fields: map[string][]*float64{}}

	out := Normalize(in)

	if len(out.Fields) != 0 {
		t.Fatalf("fields must not be invented, got %v", out.Fields)
	}
	if Normalize(nil) != nil {
		t.Fatalf("a nil series must normalize to nil")
	}
}
