package transformer

import (
	"errors"
	"fmt"
	"time"
)

// PointTimeLayout is the layout of Point.Time
const PointTimeLayout = "2006-01-02T15:04:05Z"

// ErrMalformedTimestamp is returned for timestamps that are not ISO-8601
var ErrMalformedTimestamp = errors.New("malformed timestamp")

// Fractional seconds are accepted after the seconds field by time.Parse
// even when a layout does not list them.
var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"20060102T150405Z0700",
	"20060102T150405",
}

// ParseTimestamp parses an ISO-8601 timestamp. Inputs without a zone are read as UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTimestamp, raw)
}

// NormalizeTimestamp renders the wall-clock fields of raw with second
// precision and a Z suffix. Any offset in raw is dropped, not applied:
// upstream timestamps are already UTC.
// An empty input means no timestamp and yields "" without error.
func NormalizeTimestamp(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	t, err := ParseTimestamp(raw)
	if err != nil {
		return "", err
	}
	return t.Truncate(time.Second).Format(PointTimeLayout), nil
}
