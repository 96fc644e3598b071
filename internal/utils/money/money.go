// Package money converts between decimal amount strings and integer minor units.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidAmount is returned for strings that are not a non-negative decimal amount.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseMinorUnits parses a major-unit decimal string ("150", "150.5", "150.50")
// into minor units without going through floating point. Digits past the
// second decimal place are accepted only when they are zeros.
func ParseMinorUnits(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || (frac != "" && !isDigits(frac)) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if strings.TrimRight(frac[min(len(frac), 2):], "0") != "" {
		return 0, fmt.Errorf("%w: %q has sub-minor precision", ErrInvalidAmount, s)
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}

	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	minor, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return major*100 + minor, nil
}

// ParseMinorUnitsFloat converts a JSON number in major units to minor units,
// rounding to the nearest minor unit.
func ParseMinorUnitsFloat(v float64) (int64, error) {
	if v < 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, v)
	}
	return ParseMinorUnits(strconv.FormatFloat(v, 'f', 2, 64))
}

// FormatMajor renders minor units as a two-decimal major-unit string.
func FormatMajor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ParseJSONAmount accepts an amount sent either as a JSON string or a JSON number.
func ParseJSONAmount(raw json.RawMessage) (int64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseMinorUnits(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, raw)
	}
	return ParseMinorUnits(n.String())
}
