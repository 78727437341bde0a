package requestid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeDeterministic(t *testing.T) {
	a, err := Sanitize("order 42/abc")
	require.NoError(t, err)
	b, err := Sanitize("order 42/abc")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "order-42abc", a)
}

func TestSanitizeCases(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{"plain id", "req-123", "req-123", false},
		{"spaces to hyphens", "my request id", "my-request-id", false},
		{"strips invalid chars", "a!b@c#d", "abcd", false},
		{"collapses hyphens", "a---b", "a-b", false},
		{"trims edge hyphens", "-abc-", "abc", false},
		{"uuid passes through", "550e8400-e29b-41d4-a716-446655440000", "550e8400-e29b-41d4-a716-446655440000", false},
		{"empty input", "", "", true},
		{"only invalid chars", "!!!", "", true},
		{"only hyphens", "---", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sanitize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSanitizeCapsLength(t *testing.T) {
	long := strings.Repeat("a", 100)
	got, err := Sanitize(long)
	require.NoError(t, err)
	assert.Len(t, got, MaxRequestIDLength)
}

func TestNewTraceIDWithHint(t *testing.T) {
	id := NewTraceID("report-gen")
	assert.True(t, strings.HasSuffix(id, "-report-gen"))
	assert.LessOrEqual(t, len(id), MaxRequestIDLength)

	// Random prefix makes trace IDs unique across calls
	other := NewTraceID("report-gen")
	assert.NotEqual(t, id, other)
}

func TestNewTraceIDFallsBackToUUID(t *testing.T) {
	id := NewTraceID("")
	assert.Len(t, id, 36)
	assert.Equal(t, 4, strings.Count(id, "-"))
}
