package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// placeholders are values operators write into empty cells.
var placeholders = map[string]bool{
	"":     true,
	"-":    true,
	"--":   true,
	"0":    true,
	"na":   true,
	"n/a":  true,
	"null": true,
	"none": true,
	"?":    true,
}

func isPlaceholder(s string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(s))]
}

// stringValue renders an untyped row value. Spreadsheet numbers arrive as
// float64 and must not pick up exponents: 3001234567 stays "3001234567".
func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return cleanString(x)
	case []byte:
		return cleanString(string(x))
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	case interface{ String() string }:
		return cleanString(x.String())
	default:
		return ""
	}
}

// cleanString trims whitespace and surrounding quotes and drops invalid UTF-8.
func cleanString(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.Trim(strings.TrimSpace(s), `"`)
}

// parseNonNegativeInt accepts "123", "123.0" and thousands separators.
func parseNonNegativeInt(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, eris.New("empty value")
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		if v < 0 {
			return 0, eris.Errorf("negative value %d", v)
		}
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Errorf("not a number: %q", s)
	}
	if f < 0 {
		return 0, eris.Errorf("negative value %v", f)
	}
	if f != math.Trunc(f) || f > math.MaxInt64 {
		return 0, eris.Errorf("not an integer: %q", s)
	}
	return int64(f), nil
}

// parseDuration accepts whole seconds or clock notation (HH:MM:SS, MM:SS).
func parseDuration(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ":") {
		return parseNonNegativeInt(s)
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, eris.Errorf("bad clock duration %q", s)
	}
	var total int64
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || v < 0 {
			return 0, eris.Errorf("bad clock duration %q", s)
		}
		total = total*60 + v
	}
	return total, nil
}

// parseDecimal accepts "4.6097", "4,6097" and "-74.08".
func parseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Errorf("not a decimal: %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, eris.Errorf("not a finite decimal: %q", s)
	}
	return v, nil
}

func technology(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
