package utils

import (
	"net/http"
	"time"
)

// FormatHTTPDate formats t as an HTTP date header value (RFC 1123 in GMT).
//
// Parameters:
//   - t: The instant to format
//
// Returns:
//   - The formatted date, e.g. "Mon, 15 Jan 2024 12:00:00 GMT"
func FormatHTTPDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// MillisUntil returns the whole milliseconds from now until deadline, clamped
// at zero. A zero deadline yields -1, meaning "no deadline".
//
// Parameters:
//   - now: The current time
//   - deadline: The absolute deadline, or the zero time for none
//
// Returns:
//   - Milliseconds remaining, 0 when already past, or -1 when deadline is zero
func MillisUntil(now, deadline time.Time) int {
	if deadline.IsZero() {
		return -1
	}

	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}

	return int(d / time.Millisecond)
}
