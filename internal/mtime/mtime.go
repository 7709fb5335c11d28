// Package mtime holds the file modification time helpers shared by the
// dependency and history tables.
package mtime

import (
	"os"
	"strconv"
	"time"
)

// Epsilon is the tolerance used for every timestamp comparison. Some
// filesystems truncate or round modification times, so two times closer
// than this are considered equal.
const Epsilon = 500 * time.Millisecond

// IsSignificantlyBefore reports whether a is more than Epsilon earlier than b.
func IsSignificantlyBefore(a, b time.Time) bool {
	return b.Sub(a) > Epsilon
}

// IsSignificantlyAfter reports whether a is more than Epsilon later than b.
func IsSignificantlyAfter(a, b time.Time) bool {
	return a.Sub(b) > Epsilon
}

// Equal reports whether a and b are within Epsilon of each other.
func Equal(a, b time.Time) bool {
	return !IsSignificantlyBefore(a, b) && !IsSignificantlyAfter(a, b)
}

// Stat returns the modification time of path and whether it exists.
func Stat(path string) (time.Time, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return fi.ModTime(), true
}

// FormatHex encodes t as hex milliseconds since the Unix epoch.
func FormatHex(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 16)
}

// ParseHex is the inverse of FormatHex.
func ParseHex(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
