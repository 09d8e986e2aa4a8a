package swedishbank

import "strings"

// ValidateSwishNumber validates a Swish payout destination. Merchant numbers
// are ten digits starting with 123 and carry a Luhn check digit. Personal
// aliases are Swedish mobile numbers, accepted in national (07X...) or
// international (+46 7X...) form; they are format-checked only since phone
// numbers carry no check digit.
func ValidateSwishNumber(s string) Result {
	normalized := Normalize(strings.TrimPrefix(strings.TrimSpace(s), "+"))
	if !digitsOnly(normalized) {
		return fail(ErrBadFormat)
	}

	switch {
	case strings.HasPrefix(normalized, "123"):
		if len(normalized) != 10 {
			return fail(ErrWrongLength)
		}
		if !luhnValid(normalized) {
			return fail(ErrBadChecksum)
		}
		return ok()
	case strings.HasPrefix(normalized, "467"):
		if len(normalized) != 11 {
			return fail(ErrWrongLength)
		}
		return validateMobileBody(normalized[3:])
	case strings.HasPrefix(normalized, "07"):
		if len(normalized) != 10 {
			return fail(ErrWrongLength)
		}
		return validateMobileBody(normalized[2:])
	default:
		return fail(ErrBadFormat)
	}
}

// validateMobileBody checks the digits after the 07 / +46 7 prefix. Swedish
// mobile series are 070, 072, 073, 076 and 079.
func validateMobileBody(body string) Result {
	if len(body) != 8 {
		return fail(ErrWrongLength)
	}
	switch body[0] {
	case '0', '2', '3', '6', '9':
		return ok()
	default:
		return fail(ErrBadFormat)
	}
}
