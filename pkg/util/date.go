package util

import (
	"strconv"
	"time"
)

// unixMilliCutoff separates second from millisecond epochs. Second epochs
// stay below it until the year 5138.
const unixMilliCutoff = 100_000_000_000

// EpochToTime converts a unix epoch in seconds or milliseconds to UTC.
func EpochToTime(v int64) time.Time {
	if v > unixMilliCutoff {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

// ParseTime tries RFC3339, RFC3339Nano and unix seconds or milliseconds.
// Returns (t, true) if any worked. The result is always UTC.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return EpochToTime(ts), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}
