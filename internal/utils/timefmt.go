package utils

import (
	"time"
)

const (
	timestampLayout = "2006-01-02 15:04"
	// NeverTimestamp is shown for the zero time, e.g. a cache nothing was recorded in.
	NeverTimestamp = "never"
)

// FormatTimestamp formats value in the local time zone with minute precision.
func FormatTimestamp(value time.Time) string {
	if value.IsZero() {
		return NeverTimestamp
	}
	return value.In(time.Local).Format(timestampLayout)
}

// FormatTimestampRange formats the span between oldest and newest, collapsing
// to a single timestamp when both fall in the same minute.
func FormatTimestampRange(oldest time.Time, newest time.Time) string {
	from, to := FormatTimestamp(oldest), FormatTimestamp(newest)
	if from == to {
		return from
	}
	return from + " to " + to
}
