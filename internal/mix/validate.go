package mix

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Bounds holds the configurable validation limits. A zero maximum means unbounded.
type Bounds struct {
	MaxFuelMW          float64
	MaxCarbonIntensity float64
}

// timestampLayouts are tried in order; layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
}

// Validator turns raw rows into Records, rejecting anything unparseable or out of bounds.
type Validator struct {
	bounds   Bounds
	validate *validator.Validate
}

// NewValidator creates a Validator with the given bounds.
func NewValidator(bounds Bounds) *Validator {
	return &Validator{
		bounds:   bounds,
		validate: validator.New(),
	}
}

// Normalize parses and validates a raw row. The returned error is always a *ValidationError.
func (v *Validator) Normalize(raw RawRecord) (Record, error) {
	ts, err := ParseTimestamp(raw.Timestamp)
	if err != nil {
		return Record{}, &ValidationError{Timestamp: raw.Timestamp, Field: "timestamp", Reason: err.Error()}
	}

	rec := Record{
		Timestamp:     ts,
		FuelBreakdown: make(map[string]float64, len(raw.Fuels)),
	}

	for fuel, s := range raw.Fuels {
		s = strings.TrimSpace(s)
		if s == "" {
			// Upstream leaves columns blank for fuels with no reading.
			continue
		}
		mw, err := parseFinite(s)
		if err != nil {
			return Record{}, &ValidationError{Timestamp: raw.Timestamp, Field: fuel, Reason: err.Error()}
		}
		if v.bounds.MaxFuelMW > 0 && mw > v.bounds.MaxFuelMW {
			return Record{}, &ValidationError{Timestamp: raw.Timestamp, Field: fuel, Reason: "exceeds configured maximum"}
		}
		rec.FuelBreakdown[fuel] = mw
	}

	ci, err := parseFinite(strings.TrimSpace(raw.CarbonIntensity))
	if err != nil {
		return Record{}, &ValidationError{Timestamp: raw.Timestamp, Field: "carbon_intensity", Reason: err.Error()}
	}
	if v.bounds.MaxCarbonIntensity > 0 && ci > v.bounds.MaxCarbonIntensity {
		return Record{}, &ValidationError{Timestamp: raw.Timestamp, Field: "carbon_intensity", Reason: "exceeds configured maximum"}
	}
	rec.CarbonIntensity = ci

	if err := v.Check(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Check validates an already-parsed record against the struct rules (non-negative values,
// non-zero timestamp, non-empty fuel labels).
func (v *Validator) Check(rec Record) error {
	err := v.validate.Struct(rec)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{
			Timestamp: rec.Key(),
			Field:     fe.Field(),
			Reason:    "failed " + fe.Tag() + " check",
		}
	}
	return &ValidationError{Timestamp: rec.Key(), Field: "record", Reason: err.Error()}
}

// ParseTimestamp accepts the timestamp shapes the upstream API is known to emit and
// returns a UTC instant truncated to the second.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, errors.New("unparseable timestamp")
}

func parseFinite(s string) (float64, error) {
	if s == "" {
		return 0, errors.New("missing value")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.New("not a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("not finite")
	}
	return f, nil
}
