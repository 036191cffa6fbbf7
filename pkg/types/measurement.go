package types

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Measurement is a numeric value that may be missing. The zero value is
// missing.
type Measurement struct {
	Value float64
	Valid bool
}

// Some returns a present measurement. NaN and infinities are treated as
// missing.
func Some(v float64) Measurement {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Measurement{}
	}
	return Measurement{Value: v, Valid: true}
}

// None returns a missing measurement.
func None() Measurement {
	return Measurement{}
}

// ParseMeasurement parses s as a plain decimal number. Anything else,
// including digit separators and hex floats, becomes missing instead of an
// error.
func ParseMeasurement(s string) Measurement {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "_xX") {
		return Measurement{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Measurement{}
	}
	return Some(v)
}

// AtLeast reports whether m >= other. A comparison involving a missing value
// is false.
func (m Measurement) AtLeast(other Measurement) bool {
	if !m.Valid || !other.Valid {
		return false
	}
	return m.Value >= other.Value
}

// OrElse returns the value if present and def otherwise.
func (m Measurement) OrElse(def float64) float64 {
	if !m.Valid {
		return def
	}
	return m.Value
}

// MarshalJSON encodes a missing measurement as null.
func (m Measurement) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON accepts a number or null.
func (m *Measurement) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = Measurement{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*m = Some(v)
	return nil
}
