package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// fallbackLayouts are tried after an operator's own layouts.
var fallbackLayouts = []string{
	"20060102150405",
	"200601021504",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02-01-2006 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// excelEpoch is day zero of spreadsheet serial dates (1900 date system).
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// parseTimestamp tries layouts, then the fallback layouts, then spreadsheet
// serial dates. Wall-clock values are interpreted in loc.
func parseTimestamp(raw string, layouts []string, loc *time.Location) (time.Time, error) {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		return time.Time{}, eris.New("empty timestamp")
	}

	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}

	if wall, ok := fromSerial(s); ok {
		return time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), 0, loc), nil
	}

	return time.Time{}, eris.Errorf("unrecognized timestamp %q", raw)
}

// fromSerial converts a spreadsheet serial date to a UTC wall clock. Serial
// dates only make sense for plain decimals within 1954..2119; eight-digit
// values are yyyymmdd dates.
func fromSerial(s string) (time.Time, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 20000 || f >= 80000 || isAllDigits(s, 8) {
		return time.Time{}, false
	}
	days := int64(f)
	secs := int64((f-float64(days))*86400 + 0.5)
	return excelEpoch.AddDate(0, 0, int(days)).Add(time.Duration(secs) * time.Second), true
}

// isAllDigits reports whether s is at least min ASCII digits and nothing else.
func isAllDigits(s string, min int) bool {
	if len(s) < min {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
