package engine

import (
	"strconv"
	"time"
)

// cursorLess orders two cursor values under the stream's declared format:
// unix and unix_ms compare numerically, iso8601 and string lexicographically.
func cursorLess(a, b, format string) bool {
	switch format {
	case "unix", "unix_ms":
		fa, errA := strconv.ParseFloat(a, 64)
		fb, errB := strconv.ParseFloat(b, 64)
		if errA == nil && errB == nil {
			return fa < fb
		}
	}
	return a < b
}

// maxCursor returns the greater of a and b, treating "" as absent.
func maxCursor(a, b, format string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if cursorLess(a, b, format) {
		return b
	}
	return a
}

// effectiveCursor shapes the incremental request parameter: the stored cursor
// shifted back by the lookback window. Lookback never moves the start
// forward, and the string format ignores it.
func effectiveCursor(cursor, format string, lookbackSeconds int64) string {
	if cursor == "" || lookbackSeconds <= 0 {
		return cursor
	}
	switch format {
	case "unix":
		if v, err := strconv.ParseInt(cursor, 10, 64); err == nil {
			return strconv.FormatInt(v-lookbackSeconds, 10)
		}
	case "unix_ms":
		if v, err := strconv.ParseInt(cursor, 10, 64); err == nil {
			return strconv.FormatInt(v-lookbackSeconds*1000, 10)
		}
	case "iso8601":
		if t, err := time.Parse(time.RFC3339, cursor); err == nil {
			return t.Add(-time.Duration(lookbackSeconds) * time.Second).Format(time.RFC3339)
		}
	}
	return cursor
}
