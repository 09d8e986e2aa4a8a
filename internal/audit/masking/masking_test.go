package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskNumber(t *testing.T) {
	assert.Equal(t, "", MaskNumber(""))
	assert.Equal(t, "****", MaskNumber("1234"))
	assert.Equal(t, "****6789", MaskNumber("123456789"))
	assert.Equal(t, "****4007", MaskNumber(" 0701234007 "))
}

func TestMaskMetadataRedactsSensitiveKeys(t *testing.T) {
	masked := MaskMetadata(map[string]any{
		"account_number": "12345678901",
		"swish_number":   "0701234567",
		"rail":           "swish",
		"amount":         int64(2500),
	})

	assert.Equal(t, "****8901", masked["account_number"])
	assert.Equal(t, "****4567", masked["swish_number"])
	assert.Equal(t, "swish", masked["rail"])
	assert.Equal(t, int64(2500), masked["amount"])
}

func TestMaskMetadataWalksNestedValues(t *testing.T) {
	masked := MaskMetadata(map[string]any{
		"destination": map[string]any{
			"account_number":  "12345678901",
			"clearing_number": "83271",
			"bank":            "Swedbank",
		},
	})

	nested, ok := masked["destination"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "****8901", nested["account_number"])
	assert.Equal(t, "****3271", nested["clearing_number"])
	assert.Equal(t, "Swedbank", nested["bank"])
}

func TestMaskMetadataEmpty(t *testing.T) {
	assert.Nil(t, MaskMetadata(nil))
	assert.Nil(t, MaskMetadata(map[string]any{"": "x"}))
}
