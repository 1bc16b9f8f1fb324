// Package util contains misc internal utilities.
package util

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// AllElementsNumbers returns true if every character of s is a digit, a
// decimal point, or a sign
func AllElementsNumbers(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789.+-eE", c) {
			return false
		}
	}
	return true
}

// ParseExposure parses an exposure time like "25ms" or "10us".  A bare
// number is taken to be in seconds.  Negative times are an error.
func ParseExposure(s string) (time.Duration, error) {
	if AllElementsNumbers(s) {
		s = s + "s"
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.Errorf("exposure time must not be negative, got %v", d)
	}
	return d, nil
}

// SecsToDuration converts a floating point number of seconds to a time.Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs * 1e9)
}

// Clamp limits v to the closed interval [low, high]
func Clamp(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
