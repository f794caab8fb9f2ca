package models

import (
	"fmt"
	"math"
	"strings"
)

// Centi is a fixed-point value stored in hundredths to avoid floating point
// in the datastore. It carries the loudness measurements (LUFS, dBTP, LU)
// reported by the transcoding provider. JSON encoding exposes the canonical
// decimal representation while the integer value is what gets persisted.
type Centi int

// CentiFromFloat converts a measured floating point value, rounding to the
// nearest hundredth.
func CentiFromFloat(v float64) Centi {
	return Centi(math.Round(v * 100))
}

// Float returns the decimal value the fixed-point representation encodes.
func (c Centi) Float() float64 {
	return float64(c) / 100
}

// String formats the value with two fractional digits.
func (c Centi) String() string {
	sign := ""
	v := int(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON encodes the fixed-point value as a JSON number.
func (c Centi) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalJSON accepts a JSON number (or numeric string) with at most two
// fractional digits of precision retained.
func (c *Centi) UnmarshalJSON(data []byte) error {
	if c == nil {
		return fmt.Errorf("models: cannot decode into nil Centi pointer")
	}
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*c = 0
		return nil
	}
	var v float64
	if _, err := fmt.Sscanf(raw, "%g", &v); err != nil {
		return fmt.Errorf("decode fixed-point value %q: %w", raw, err)
	}
	*c = CentiFromFloat(v)
	return nil
}
