package vin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"clean vin", "1HGBH41JXMN109186", "1HGBH41JXMN109186"},
		{"lowercase", "1hgbh41jxmn109186", "1HGBH41JXMN109186"},
		{"with spaces", "1HGBH41 JXMN 109186", "1HGBH41JXMN109186"},
		{"with hyphens", "1HGBH41-JXMN-109186", "1HGBH41JXMN109186"},
		{"arabic digits", "١HGBH٤١JXMN١٠٩١٨٦", "1HGBH41JXMN109186"},
		{"persian digits", "۱HGBH۴۱JXMN۱۰۹۱۸۶", "1HGBH41JXMN109186"},
		{"bidi controls", "\u202b1HGBH41JXMN109186\u202c", "1HGBH41JXMN109186"},
		{"zero width joiners", "1HGBH\u200c41JXMN\u200d109186", "1HGBH41JXMN109186"},
		{"bom prefix", "\ufeff1HGBH41JXMN109186", "1HGBH41JXMN109186"},
		{"isolate controls", "\u20661HGBH41JXMN109186\u2069", "1HGBH41JXMN109186"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"too short", "1HGBH41JXMN10918"},
		{"too long", "1HGBH41JXMN1091867"},
		{"contains I", "IHGBH41JXMN109186"},
		{"contains O", "OHGBH41JXMN109186"},
		{"contains Q", "QHGBH41JXMN109186"},
		{"random text", "hello world please"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("1HGBH41JXMN109186"))
	assert.False(t, IsValid("not-a-vin"))
}

func TestLooksLikeVIN(t *testing.T) {
	assert.True(t, LooksLikeVIN("1HGBH41JXMN109186"))
	assert.True(t, LooksLikeVIN("  1hgbh41jxmn109186  "))
	assert.False(t, LooksLikeVIN("short"))
	assert.False(t, LooksLikeVIN("1HGBH41 JXMN 109186")) // tokens are pre-split
}
