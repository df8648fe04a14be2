// Package phone normalizes telephone numbers to E.164 so lookups by routing
// number and patient number compare equal regardless of provider formatting.
package phone

import (
	"regexp"
	"strings"
)

var digitsRe = regexp.MustCompile(`\d+`)

// Digits strips everything but digits.
func Digits(value string) string {
	if value == "" {
		return ""
	}
	return strings.Join(digitsRe.FindAllString(value, -1), "")
}

// NormalizeE164 returns +<digits>. Ten-digit numbers are assumed to be North American.
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := Digits(value)
	if digits == "" {
		return ""
	}
	if len(digits) == 10 && !strings.HasPrefix(value, "+") {
		digits = "1" + digits
	}
	return "+" + digits
}

// Mask hides all but the last four digits for logs.
func Mask(value string) string {
	digits := Digits(value)
	if len(digits) <= 4 {
		return digits
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}
