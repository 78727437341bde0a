package pipeline

import "github.com/dejavuplus/engine/pkg/types"

// Metadata keys attached to successful results.
const (
	// MetaTranslationDegraded marks a report whose translation fell back to
	// original text for at least one fragment. The document is still
	// delivered; billing and success status are unaffected.
	MetaTranslationDegraded = "translation_degraded"
	// MetaSource records where the document came from: cache, shared, or
	// generated.
	MetaSource = "source"
)

// Result is the unambiguous outcome of one GenerateReport call. Success and
// ErrorCode drive the caller's commit/refund decision; UserMessage is safe to
// forward to end users verbatim.
type Result struct {
	Success     bool
	Document    []byte
	UserMessage string
	ErrorCode   string
	Metadata    map[string]string
}

func successResult(document []byte, source string, degraded bool) *Result {
	meta := map[string]string{MetaSource: source}
	if degraded {
		meta[MetaTranslationDegraded] = "true"
	}
	return &Result{
		Success:     true,
		Document:    document,
		UserMessage: "Report is ready.",
		Metadata:    meta,
	}
}

func failureResult(errorCode string) *Result {
	return &Result{
		Success:     false,
		ErrorCode:   errorCode,
		UserMessage: userMessageFor(errorCode),
		Metadata:    map[string]string{},
	}
}

// userMessageFor maps error codes to short, stable user-facing text. Raw
// provider errors never reach end users.
func userMessageFor(code string) string {
	switch code {
	case types.ErrorCodeInvalidInput:
		return "The vehicle identifier could not be recognized. Check the VIN and try again."
	case types.ErrorCodeUpstreamUnavailable:
		return "The report service is temporarily unavailable. You have not been charged."
	case types.ErrorCodeRenderFailed:
		return "The report could not be generated right now. You have not been charged."
	case types.ErrorCodeLedgerUnreachable:
		return "The billing service is temporarily unavailable. Please try again shortly."
	default:
		return "Something went wrong. Please try again."
	}
}
