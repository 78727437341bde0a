package render

import "bytes"

var pdfSignature = []byte("%PDF")

// Validator is the cheap document validity heuristic used to decide whether
// a fast-first render can be returned without a full re-render. It checks
// the file signature, a minimum size, and the presence of at least one page
// object. None of these prove the document is complete; they catch the
// common fast-first failure modes (blank page, truncated stream) at
// negligible cost.
type Validator struct {
	minSize int
}

// NewValidator clamps minSize to a sane range: below 4KB even a blank page
// would pass, above 200KB image-light reports would always fail.
func NewValidator(minSize int) *Validator {
	if minSize < 4000 {
		minSize = 4000
	}
	if minSize > 200000 {
		minSize = 200000
	}
	return &Validator{minSize: minSize}
}

// IsPDF checks only the file signature. Used for final acceptance, where a
// small but structurally sound document must not be rejected.
func (v *Validator) IsPDF(doc []byte) bool {
	return len(doc) > len(pdfSignature) && bytes.HasPrefix(doc, pdfSignature)
}

// LooksValid applies the full fast-first heuristic.
func (v *Validator) LooksValid(doc []byte) bool {
	if !v.IsPDF(doc) {
		return false
	}
	if len(doc) < v.minSize {
		return false
	}
	return bytes.Contains(doc, []byte("/Type /Page")) || bytes.Contains(doc, []byte("/Type/Page"))
}

// MinSize returns the clamped minimum document size.
func (v *Validator) MinSize() int {
	return v.minSize
}
