package listing

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseHumanizedSize parses a humanized size string as printed by a typical
// nginx fancyindex page, e.g. "1.2M", "659", "14.0K". A bare number with no
// suffix is bytes (unit B). Precision is the number of digits that followed
// the decimal point in s, which the comparator needs to reconstruct the
// rounding tolerance the page applied.
func ParseHumanizedSize(s string) (*HumanizedSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("listing: empty size")
	}
	unit := UnitB
	numPart := s
	switch s[len(s)-1] {
	case 'K', 'k':
		unit = UnitK
		numPart = s[:len(s)-1]
	case 'M', 'm':
		unit = UnitM
		numPart = s[:len(s)-1]
	case 'G', 'g':
		unit = UnitG
		numPart = s[:len(s)-1]
	case 'T', 't':
		unit = UnitT
		numPart = s[:len(s)-1]
	}
	numPart = strings.TrimSpace(numPart)
	value, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return nil, fmt.Errorf("listing: invalid size %q: %w", s, err)
	}
	precision := 0
	if dot := strings.IndexByte(numPart, '.'); dot >= 0 {
		precision = len(numPart) - dot - 1
	}
	return &HumanizedSize{Value: value, Unit: unit, Precision: precision}, nil
}

// RoundTo truncates f to the given number of decimal digits, matching the
// printed precision of a humanized size (trimming, not rounding, since that
// is what a naive %.1f-style formatter on the remote side would have done).
func RoundTo(f float64, precision int) float64 {
	scale := 1.0
	for i := 0; i < precision; i++ {
		scale *= 10
	}
	return float64(int64(f*scale)) / scale
}
