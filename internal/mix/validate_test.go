package mix

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 10, 20, 12, 30, 0, 0, time.UTC)

	cases := []string{
		"2025-10-20T12:30:00Z",
		"2025-10-20T13:30:00+01:00",
		"2025-10-20T12:30:00",
		"2025-10-20 12:30:00",
		"2025-10-20T12:30:00.750Z",
		"  2025-10-20T12:30:00Z ",
	}
	for _, in := range cases {
		t.Run(in, func(t *testing.T) {
			got, err := ParseTimestamp(in)
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	for _, bad := range []string{"", "20/10/2025 12:30", "not-a-date"} {
		_, err := ParseTimestamp(bad)
		assert.Error(t, err, bad)
	}
}

func TestNormalize(t *testing.T) {
	v := NewValidator(Bounds{})

	rec, err := v.Normalize(RawRecord{
		Timestamp:       "2025-10-20T12:00:00",
		Fuels:           map[string]string{"GAS": "1000.5", "COAL": "", "SOLAR": " 0 "},
		CarbonIntensity: "123",
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-10-20T12:00:00Z", rec.Key())
	assert.Equal(t, map[string]float64{"GAS": 1000.5, "SOLAR": 0}, rec.FuelBreakdown)
	assert.Equal(t, 123.0, rec.CarbonIntensity)
	assert.Equal(t, 1000.5, rec.TotalMW())
}

func TestNormalize_Rejects(t *testing.T) {
	base := func() RawRecord {
		return RawRecord{
			Timestamp:       "2025-10-20T12:00:00Z",
			Fuels:           map[string]string{"GAS": "1000"},
			CarbonIntensity: "100",
		}
	}

	tests := []struct {
		name   string
		bounds Bounds
		mutate func(r *RawRecord)
		field  string
	}{
		{"bad timestamp", Bounds{}, func(r *RawRecord) { r.Timestamp = "soon" }, "timestamp"},
		{"negative carbon intensity", Bounds{}, func(r *RawRecord) { r.CarbonIntensity = "-1" }, "CarbonIntensity"},
		{"missing carbon intensity", Bounds{}, func(r *RawRecord) { r.CarbonIntensity = "" }, "carbon_intensity"},
		{"NaN carbon intensity", Bounds{}, func(r *RawRecord) { r.CarbonIntensity = "NaN" }, "carbon_intensity"},
		{"infinite fuel", Bounds{}, func(r *RawRecord) { r.Fuels["WIND"] = "+Inf" }, "WIND"},
		{"non-numeric fuel", Bounds{}, func(r *RawRecord) { r.Fuels["WIND"] = "n/a" }, "WIND"},
		{"negative fuel", Bounds{}, func(r *RawRecord) { r.Fuels["WIND"] = "-3" }, "FuelBreakdown[WIND]"},
		{"fuel over bound", Bounds{MaxFuelMW: 500}, func(r *RawRecord) {}, "GAS"},
		{"carbon intensity over bound", Bounds{MaxCarbonIntensity: 50}, func(r *RawRecord) {}, "carbon_intensity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := base()
			tt.mutate(&raw)

			_, err := NewValidator(tt.bounds).Normalize(raw)
			require.Error(t, err)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "want *ValidationError, got %T", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestNormalize_ZeroBoundsAreUnbounded(t *testing.T) {
	rec, err := NewValidator(Bounds{}).Normalize(RawRecord{
		Timestamp:       "2025-10-20T12:00:00Z",
		Fuels:           map[string]string{"GAS": "1e9"},
		CarbonIntensity: "5000",
	})
	require.NoError(t, err)
	assert.Equal(t, 1e9, rec.FuelBreakdown["GAS"])
}

func TestCheck_EmptyFuelLabel(t *testing.T) {
	err := NewValidator(Bounds{}).Check(Record{
		Timestamp:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		FuelBreakdown: map[string]float64{"": 10},
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}
