package output

import (
	"math"
	"strconv"
	"strings"
)

// RoundFloat rounds a float to six decimal places.
func RoundFloat(f float64) float64 {
	const multiplier = 1e6
	return math.Round(f*multiplier) / multiplier
}

// FormatFloat formats a float rounded to six decimal places with no trailing
// zeros.
func FormatFloat(f float64) string {
	str := strconv.FormatFloat(RoundFloat(f), 'f', 6, 64)
	str = strings.TrimRight(str, "0")
	return strings.TrimRight(str, ".")
}
