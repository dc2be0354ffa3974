// Package phone canonicalizes Colombian mobile numbers into the 10-digit
// local form used as the join key across operator and scan data.
package phone

import "strings"

const (
	countryCode = "57"
	localLength = 10
	mobilePlan  = '3'
)

// Canonicalize strips formatting noise and the 57 country prefix from raw and
// returns the 10-digit local mobile number. ok is false unless the result is
// exactly 10 digits starting with 3.
func Canonicalize(raw string) (string, bool) {
	d := Digits(raw)

	switch {
	case len(d) == localLength+len(countryCode) && strings.HasPrefix(d, countryCode):
		d = d[len(countryCode):]
	case len(d) == localLength+len(countryCode)+1 && strings.HasPrefix(d, "0"+countryCode):
		// "+57" exported as "057" by some switches.
		d = d[len(countryCode)+1:]
	}

	if len(d) != localLength || d[0] != mobilePlan {
		return "", false
	}
	return d, true
}

// Digits returns the ASCII digits of raw in order, dropping everything else.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Normalize returns the canonical form of raw when it canonicalizes and its
// bare digits otherwise. Foreign or fixed-line counterparts keep their digits
// so records stay auditable.
func Normalize(raw string) (string, bool) {
	if n, ok := Canonicalize(raw); ok {
		return n, true
	}
	return Digits(raw), false
}
