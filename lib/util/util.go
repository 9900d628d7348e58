// Package util contains helper functions used around the code.
package util

import "strconv"

// In returns true if s is found in ss, false otherwise
func In(ss []string, s string) bool {
	for _, v := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// FormatCount renders a counter with K/M suffixes for display, ie. 1500 -> "1.5K". Values below
// one thousand are rendered as-is. This is a presentation concern only, never stored.
func FormatCount(n int64) string {
	switch {
	case n >= 1000000:
		return trimZero(float64(n)/1000000) + "M"
	case n >= 1000:
		return trimZero(float64(n)/1000) + "K"
	}
	return strconv.FormatInt(n, 10)
}

func trimZero(f float64) string {
	s := strconv.FormatFloat(f, 'f', 1, 64)
	if len(s) > 2 && s[len(s)-2:] == ".0" {
		return s[:len(s)-2]
	}
	return s
}
