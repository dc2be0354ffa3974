package correlate

import (
	"strings"
	"time"
)

const dateOnly = "2006-01-02"

var windowLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	dateOnly,
}

// ParseWindowTime parses a window bound. Values without a zone are read in
// loc (UTC when nil).
func ParseWindowTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.TrimSpace(s)
	for _, layout := range windowLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, inputError(ReasonInvalidWindow, "cannot parse time %q", s)
}

// ParseWindowEnd parses an inclusive end bound. A bare date covers the whole
// day, so "2024-03-10" ends at the last instant of March 10 in loc.
func ParseWindowEnd(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if d, err := time.ParseInLocation(dateOnly, strings.TrimSpace(s), loc); err == nil {
		return d.AddDate(0, 0, 1).Add(-time.Nanosecond).UTC(), nil
	}
	return ParseWindowTime(s, loc)
}
