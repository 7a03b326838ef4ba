package scoring

import (
	"math"
	"strconv"
	"strings"
)

// Minimum absolute tolerance for non-integer numeric answers.
const minTolerance = 0.01

// relativeTolerance is the fraction of the correct value accepted as error.
const relativeTolerance = 0.01

// parseNumber parses a finite float. NaN and infinities are treated as
// unparseable so they fall back to string comparison.
func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// NumericMatch reports whether user matches correct for a numerical or
// integer question.
//
// An integer correct value requires the user value, rounded half up, to
// equal it: -4.5 rounds to -4.
// Otherwise the user value may differ by max(|correct|*1%, 0.01). When
// either side does not parse, trimmed strings are compared exactly.
func NumericMatch(user, correct string) bool {
	c, okC := parseNumber(correct)
	u, okU := parseNumber(user)
	if !okC || !okU {
		return strings.TrimSpace(user) == strings.TrimSpace(correct)
	}
	if c == math.Trunc(c) {
		return math.Floor(u+0.5) == c
	}
	tol := math.Max(math.Abs(c)*relativeTolerance, minTolerance)
	return math.Abs(c-u) <= tol+1e-9
}

// MCQMatch reports whether the submitted option id equals the correct one,
// ignoring case. Surrounding whitespace is trimmed from both sides.
func MCQMatch(user, correct string) bool {
	return strings.EqualFold(strings.TrimSpace(user), strings.TrimSpace(correct))
}
