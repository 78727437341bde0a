// Package vin normalizes and validates vehicle identification numbers.
//
// Callers paste VINs from chat apps and documents, so input arrives with
// Arabic-Indic digits, bidirectional control characters, stray hyphens and
// whitespace. Normalize strips all of that before validation.
package vin

import (
	"errors"
	"regexp"
	"strings"
)

// Length is the fixed VIN length after normalization.
const Length = 17

// ErrInvalid is returned when input cannot be normalized into a valid VIN.
var ErrInvalid = errors.New("invalid vin")

// vinRe matches a normalized VIN: 17 chars, no I, O or Q.
var vinRe = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)

// digitMap translates Arabic-Indic and Extended Arabic-Indic (Persian) digits
// to their ASCII equivalents.
var digitMap = map[rune]rune{
	'٠': '0', '١': '1', '٢': '2', '٣': '3', '٤': '4',
	'٥': '5', '٦': '6', '٧': '7', '٨': '8', '٩': '9',
	'۰': '0', '۱': '1', '۲': '2', '۳': '3', '۴': '4',
	'۵': '5', '۶': '6', '۷': '7', '۸': '8', '۹': '9',
}

// Normalize cleans raw VIN input: translates eastern digits to ASCII, drops
// bidi and zero-width control characters, removes whitespace and hyphens, and
// uppercases the rest. It does not validate.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	for _, r := range raw {
		if d, ok := digitMap[r]; ok {
			b.WriteRune(d)
			continue
		}
		if isStripped(r) {
			continue
		}
		b.WriteRune(r)
	}

	return strings.ToUpper(b.String())
}

// Parse normalizes raw input and validates the result. Returns the normalized
// VIN or ErrInvalid.
func Parse(raw string) (string, error) {
	normalized := Normalize(raw)
	if !vinRe.MatchString(normalized) {
		return "", ErrInvalid
	}
	return normalized, nil
}

// IsValid reports whether raw input normalizes to a valid VIN.
func IsValid(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}

// LooksLikeVIN reports whether a token already resembles a normalized VIN.
// Used to skip VIN tokens during translation so they pass through untouched.
func LooksLikeVIN(token string) bool {
	return vinRe.MatchString(strings.ToUpper(strings.TrimSpace(token)))
}

// isStripped reports whether a rune is removed during normalization:
// whitespace, hyphens, and invisible direction/joiner control characters.
func isStripped(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '-', '_', '.':
		return true
	case '\ufeff': // BOM / zero-width no-break space
		return true
	}
	// zero-width space through right-to-left mark
	if r >= '\u200b' && r <= '\u200f' {
		return true
	}
	// bidi embedding and override controls
	if r >= '\u202a' && r <= '\u202e' {
		return true
	}
	// bidi isolate controls
	if r >= '\u2066' && r <= '\u2069' {
		return true
	}
	return false
}
