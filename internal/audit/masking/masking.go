package masking

import "strings"

const maskToken = "****"

// Metadata keys whose values hold payout destinations or credentials.
var sensitiveKeys = map[string]struct{}{
	"account_number":  {},
	"clearing_number": {},
	"swish_number":    {},
	"bankgiro_number": {},
	"destination":     {},
	"api_key":         {},
	"webhook_secret":  {},
}

// MaskNumber redacts all but the last four characters of an account or
// phone number so audit readers can still correlate entries.
func MaskNumber(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskMetadata returns a copy of the input with sensitive values redacted.
// Nested maps and slices are walked; non-sensitive values pass through.
func MaskMetadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(trimmedKey, value)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskValue(key string, value any) any {
	switch cast := value.(type) {
	case string:
		if _, sensitive := sensitiveKeys[key]; sensitive {
			return MaskNumber(cast)
		}
		return cast
	case map[string]any:
		return MaskMetadata(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(key, item))
		}
		return out
	default:
		return value
	}
}
