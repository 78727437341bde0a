package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxRequestIDLength is the maximum total length (same as UUID: 36 chars)
	MaxRequestIDLength = 36
	// PrefixLength is the length of the random prefix in trace IDs
	PrefixLength = 5
)

var (
	// sanitizeRegex removes all characters except a-z, A-Z, 0-9, and hyphens
	sanitizeRegex = regexp.MustCompile(`[^a-zA-Z0-9-]+`)
	// consecutiveHyphensRegex matches one or more consecutive hyphens
	consecutiveHyphensRegex = regexp.MustCompile(`-+`)
)

// Sanitize normalizes a caller-supplied request ID deterministically: spaces
// become hyphens, invalid characters are dropped, hyphen runs collapse, and
// the result is capped at MaxRequestIDLength. The same input always maps to
// the same output, which keeps retried requests idempotent. Returns an error
// if nothing valid remains.
func Sanitize(customID string) (string, error) {
	sanitized := strings.ReplaceAll(customID, " ", "-")
	sanitized = sanitizeRegex.ReplaceAllString(sanitized, "")
	sanitized = consecutiveHyphensRegex.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")

	if sanitized == "" {
		return "", fmt.Errorf("request id is empty after sanitization: %q", customID)
	}

	if len(sanitized) > MaxRequestIDLength {
		sanitized = sanitized[:MaxRequestIDLength]
	}

	return sanitized, nil
}

// NewTraceID creates a unique correlation ID for logging. Unlike Sanitize it
// is random: a 5-character prefix plus the sanitized hint, or a bare UUID if
// the hint is unusable. Never use trace IDs as ledger keys.
func NewTraceID(hint string) string {
	sanitized, err := Sanitize(hint)
	if err != nil {
		return uuid.New().String()
	}

	maxHint := MaxRequestIDLength - PrefixLength - 1
	if len(sanitized) > maxHint {
		sanitized = sanitized[:maxHint]
	}

	return randomPrefix() + "-" + sanitized
}

// randomPrefix creates a 5-character random hex string using crypto/rand
func randomPrefix() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to UUID-based prefix if crypto/rand fails
		return uuid.New().String()[:PrefixLength]
	}

	return hex.EncodeToString(bytes)[:PrefixLength]
}
