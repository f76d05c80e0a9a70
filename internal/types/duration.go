package types

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// durationPattern matches the human TTL grammar: an integer or decimal
// magnitude followed by one of s, m, h, d.
var durationPattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*([smhd])\s*$`)

var unitFactorMs = map[string]float64{
	"s": 1_000,
	"m": 60_000,
	"h": 3_600_000,
	"d": 86_400_000,
}

// ParseTTL accepts either a positive finite integer number of milliseconds
// or a human duration string like "30s", "5m", "2.5h", "1d" and returns the
// millisecond value. Zero, negative, non-finite, unparseable, or
// unknown-unit inputs are rejected synchronously.
func ParseTTL(input any) (int64, error) {
	switch v := input.(type) {
	case int:
		return validateMillis(float64(v))
	case int64:
		return validateMillis(float64(v))
	case float64:
		return validateMillis(v)
	case string:
		return parseTTLString(v)
	default:
		return 0, NewTtlParseError("ttl must be a number of milliseconds or a duration string")
	}
}

func parseTTLString(s string) (int64, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, NewTtlParseError("ttl string " + strconv.Quote(s) + " does not match expected grammar")
	}
	magnitude, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, NewTtlParseError("ttl magnitude is not a valid number")
	}
	factor, ok := unitFactorMs[strings.ToLower(m[2])]
	if !ok {
		return 0, NewTtlParseError("unknown ttl unit " + m[2])
	}
	return validateMillis(magnitude * factor)
}

func validateMillis(ms float64) (int64, error) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return 0, NewTtlParseError("ttl must be a finite number")
	}
	if ms <= 0 {
		return 0, NewTtlParseError("ttl must be positive")
	}
	return int64(ms), nil
}
