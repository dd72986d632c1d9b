package timeutils

import (
	"strings"
	"time"
)

// ISO8601 is the canonical timestamp layout persisted everywhere. Values are
// UTC and lexicographically ordered, so string comparison doubles as time
// comparison in cursor queries.
const ISO8601 = "2006-01-02T15:04:05.000Z"

// NowISO returns the current UTC time in the canonical layout.
func NowISO() string {
	return time.Now().UTC().Format(ISO8601)
}

// FormatISO renders t in the canonical layout.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISO8601)
}

// ParseISO parses a canonical or RFC3339-ish timestamp. Returns the zero
// time on failure.
func ParseISO(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(ISO8601, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
