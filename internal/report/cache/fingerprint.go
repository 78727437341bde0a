package cache

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint identifies a logical report request: one normalized subject ID
// (VIN) plus one target language. Two requests with the same fingerprint are
// the same work.
type Fingerprint struct {
	SubjectID string
	Language  string
}

// NewFingerprint builds a fingerprint from raw components. The subject ID is
// expected to be pre-normalized by the vin package; the language is case-folded
// and trimmed here so "EN" and "en " collapse to the same entry.
func NewFingerprint(subjectID, language string) Fingerprint {
	return Fingerprint{
		SubjectID: strings.ToUpper(strings.TrimSpace(subjectID)),
		Language:  strings.ToLower(strings.TrimSpace(language)),
	}
}

// Key returns a stable map key for the fingerprint.
func (f Fingerprint) Key() uint64 {
	return xxhash.Sum64String(f.SubjectID + "\x00" + f.Language)
}

// String implements fmt.Stringer for logging.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%s/%s", f.SubjectID, f.Language)
}
