package vin

import (
	"regexp"
	"strings"
)

// Length is the fixed length of a complete VIN.
const Length = 17

// CheckDigitPos is the 1-based position of the check digit.
const CheckDigitPos = 9

// vinPattern matches the VIN alphabet: A-Z minus I, O, Q, plus digits.
var vinPattern = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)

// transliteration maps each VIN character to its numeric value for the
// ISO 3779 check digit computation.
var transliteration = map[byte]int{
	'A': 1, 'B': 2, 'C': 3, 'D': 4, 'E': 5, 'F': 6, 'G': 7, 'H': 8,
	'J': 1, 'K': 2, 'L': 3, 'M': 4, 'N': 5,
	'P': 7, 'R': 9,
	'S': 2, 'T': 3, 'U': 4, 'V': 5, 'W': 6, 'X': 7, 'Y': 8, 'Z': 9,
	'0': 0, '1': 1, '2': 2, '3': 3, '4': 4,
	'5': 5, '6': 6, '7': 7, '8': 8, '9': 9,
}

// weights holds the per-position weight for positions 1..17. The check
// digit position itself carries weight 0.
var weights = [Length]int{8, 7, 6, 5, 4, 3, 2, 10, 0, 9, 8, 7, 6, 5, 4, 3, 2}

// Normalize strips whitespace and uppercases a raw scan string.
func Normalize(raw string) string {
	return strings.ToUpper(strings.Join(strings.Fields(raw), ""))
}

// HasValidFormat reports whether s is exactly 17 characters drawn from
// the VIN alphabet. It does not inspect the check digit.
func HasValidFormat(s string) bool {
	return vinPattern.MatchString(s)
}

// CheckDigit computes the expected check digit character for s. The
// second return value is false when s contains characters outside the
// VIN alphabet or has the wrong length.
func CheckDigit(s string) (byte, bool) {
	if len(s) != Length {
		return 0, false
	}
	sum := 0
	for i := 0; i < Length; i++ {
		v, ok := transliteration[s[i]]
		if !ok {
			return 0, false
		}
		sum += v * weights[i]
	}
	rem := sum % 11
	if rem == 10 {
		return 'X', true
	}
	return byte('0' + rem), true
}

// IsValid reports whether candidate is a complete VIN: correct format
// and a matching check digit at position 9. A mismatch is an ordinary
// false, never an error.
func IsValid(candidate string) bool {
	if !HasValidFormat(candidate) {
		return false
	}
	want, ok := CheckDigit(candidate)
	if !ok {
		return false
	}
	return candidate[CheckDigitPos-1] == want
}
