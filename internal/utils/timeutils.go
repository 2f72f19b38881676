package utils

import (
	"fmt"
	"strconv"
	"time"
)

// unixMilliCutoff separates unix-second from unix-millisecond inputs:
// anything above it cannot be a plausible seconds timestamp.
const unixMilliCutoff = int64(1e12)

// ParseTimeParam parses a query time parameter. It accepts RFC3339 strings
// and unix epoch integers in seconds or milliseconds. An empty value
// returns the zero time with no error.
func ParseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		if n < 0 {
			return time.Time{}, fmt.Errorf("negative epoch value %q", value)
		}
		if n > unixMilliCutoff {
			return time.UnixMilli(n), nil
		}
		return time.Unix(n, 0), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value, err)
	}
	return t, nil
}
