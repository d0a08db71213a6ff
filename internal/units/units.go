// Package units parses and renders human-readable byte quantities such as
// "250M" or "16Gi".
package units

import (
	"fmt"
	"regexp"
	"strconv"
)

// Multipliers for size suffixes. Plain suffixes follow SI (decimal), the
// *i suffixes are IEC binary units.
var conversions = map[string]int64{
	"K":  1e3,
	"M":  1e6,
	"G":  1e9,
	"T":  1e12,
	"P":  1e15,
	"E":  1e18,
	"Ki": 1 << 10,
	"Mi": 1 << 20,
	"Gi": 1 << 30,
	"Ti": 1 << 40,
	"Pi": 1 << 50,
	"Ei": 1 << 60,
}

var sizePattern = regexp.MustCompile(`^([0-9]+)([A-Za-z]*)$`)

// Parse converts a size string into a number of bytes. Unknown suffixes are
// treated leniently as factor 1.
func Parse(s string) (int64, error) {
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid size string %q", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size string %q: %w", s, err)
	}
	factor, ok := conversions[m[2]]
	if !ok {
		factor = 1
	}
	return n * factor, nil
}

// MustParse is Parse for statically known strings; it panics on bad input.
func MustParse(s string) int64 {
	n, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Format renders a byte count in the given unit with the requested number of
// fraction digits, e.g. Format(1500000, "M", 1) == "1.5M".
func Format(numBytes int64, unit string, precision int) (string, error) {
	factor, ok := conversions[unit]
	if !ok {
		return "", fmt.Errorf("unknown size unit %q", unit)
	}
	value := float64(numBytes) / float64(factor)
	return strconv.FormatFloat(value, 'f', precision, 64) + unit, nil
}
