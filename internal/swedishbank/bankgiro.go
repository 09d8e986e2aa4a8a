package swedishbank

// ValidateBankgiroNumber validates a Bankgiro number. Bankgiro numbers are
// seven or eight digits, conventionally written XXX-XXXX or XXXX-XXXX, with
// the final digit a Luhn check digit over the full number.
func ValidateBankgiroNumber(s string) Result {
	normalized := Normalize(s)
	if !digitsOnly(normalized) {
		return fail(ErrBadFormat)
	}
	if len(normalized) != 7 && len(normalized) != 8 {
		return fail(ErrWrongLength)
	}
	if !luhnValid(normalized) {
		return fail(ErrBadChecksum)
	}
	return ok()
}
