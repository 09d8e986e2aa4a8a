package swedishbank

import "strings"

// ValidateOrganizationNumber validates a Swedish organization number in the
// national NNNNNN-NNNN format (the hyphen may be omitted). The middle pair
// must be 20 or higher, which is what separates organization numbers from
// personal identity numbers, and the final digit is a Luhn check digit over
// all ten digits.
func ValidateOrganizationNumber(s string) bool {
	trimmed := strings.TrimSpace(s)
	if strings.Contains(trimmed, "-") {
		parts := strings.Split(trimmed, "-")
		if len(parts) != 2 || len(parts[0]) != 6 || len(parts[1]) != 4 {
			return false
		}
		trimmed = parts[0] + parts[1]
	}
	if len(trimmed) != 10 || !digitsOnly(trimmed) {
		return false
	}
	month := int(trimmed[2]-'0')*10 + int(trimmed[3]-'0')
	if month < 20 {
		return false
	}
	return luhnValid(trimmed)
}
