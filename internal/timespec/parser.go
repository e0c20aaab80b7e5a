package timespec

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultLookbackMS is the window used when a lookback expression is unusable (3h).
const DefaultLookbackMS int64 = 3 * 60 * 60 * 1000

var unitMS = map[byte]int64{
	'm': 60 * 1000,
	'h': 60 * 60 * 1000,
	'd': 24 * 60 * 60 * 1000,
}

// Parse parses a lookback expression of the form <integer><unit>, unit one of m, h, d.
// Returns the window length in milliseconds.
func Parse(expr string) (int64, error) {
	expr = strings.TrimSpace(expr)
	if len(expr) < 2 {
		return 0, fmt.Errorf("invalid lookback %q (use e.g. '30m', '2h', '1d')", expr)
	}

	mult, ok := unitMS[expr[len(expr)-1]]
	if !ok {
		return 0, fmt.Errorf("invalid lookback unit in %q (use m, h or d)", expr)
	}

	digits := expr[:len(expr)-1]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, fmt.Errorf("invalid lookback amount in %q", expr)
		}
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid lookback amount in %q: %w", expr, err)
	}
	if n > math.MaxInt64/mult {
		return 0, fmt.Errorf("lookback %q overflows", expr)
	}

	return n * mult, nil
}

// ParseLookback is Parse with the 3h default substituted for any unusable input.
// It never fails.
func ParseLookback(expr string) int64 {
	ms, err := Parse(expr)
	if err != nil {
		return DefaultLookbackMS
	}
	return ms
}

// Cutoff returns the Unix millisecond timestamp expr before now.
func Cutoff(expr string, now time.Time) int64 {
	return now.UnixMilli() - ParseLookback(expr)
}
