// Package swedishbank validates Swedish payment identifiers: organization
// numbers, bank clearing+account pairs, Swish numbers and Bankgiro numbers.
// All validators are pure and total so they can run inline in request
// validation without I/O or panics.
package swedishbank

import "strings"

// Result reports the outcome of a structural validation. When Valid is false,
// Err names the specific rule that was violated so callers can surface an
// actionable message.
type Result struct {
	Valid bool   `json:"valid"`
	Err   string `json:"error,omitempty"`
}

// Validation error codes.
const (
	ErrBadFormat            = "bad_format"
	ErrWrongLength          = "wrong_length"
	ErrBadChecksum          = "bad_checksum"
	ErrUnknownClearingRange = "unknown_clearing_range"
)

func ok() Result              { return Result{Valid: true} }
func fail(code string) Result { return Result{Valid: false, Err: code} }

// Normalize strips spaces, hyphens and dots from an identifier.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case ' ', '-', '.', '\t':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// luhnValid reports whether the digit string passes the mod-10 Luhn check,
// with the final digit acting as the check digit.
func luhnValid(digits string) bool {
	sum := 0
	double := len(digits)%2 == 0
	for _, r := range digits {
		d := int(r - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// mod11Valid reports whether the digit string passes the Swedish mod-11
// check. Weights run 1,2,...,10,1,2,... from the rightmost digit.
func mod11Valid(digits string) bool {
	weight := 1
	sum := 0
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * weight
		weight++
		if weight > 10 {
			weight = 1
		}
	}
	return sum%11 == 0
}
