package upstream

import (
	"encoding/json"
	"html"
	"sort"
	"strings"
)

// PayloadKind classifies what the report source returned.
type PayloadKind int

const (
	// KindDocument is a finished PDF, delivered as-is.
	KindDocument PayloadKind = iota
	// KindMarkup is report HTML to translate and render locally.
	KindMarkup
	// KindURL is a link to a hosted report page to fetch and render.
	KindURL
)

func (k PayloadKind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindMarkup:
		return "markup"
	case KindURL:
		return "url"
	default:
		return "unknown"
	}
}

// Payload is one classified upstream response.
type Payload struct {
	Kind     PayloadKind
	Document []byte // KindDocument
	Markup   string // KindMarkup
	URL      string // KindURL
}

// Response field names seen across report source versions. Checked in order;
// the first non-empty value wins.
var (
	urlKeys    = []string{"url", "html_url", "report_url", "viewerUrl", "reportLink"}
	markupKeys = []string{"html", "htmlContent", "report", "content", "body", "data"}
)

// classify maps a raw response body to a payload. PDF bytes pass through
// untouched. JSON bodies are probed for known URL and markup fields; markup
// fields may arrive HTML-entity-escaped and are unescaped once. Bare HTML and
// bare URLs are accepted for older source versions that skip the JSON
// envelope.
func classify(contentType string, body []byte) (*Payload, error) {
	if len(body) == 0 {
		return nil, ErrEmptyResponse
	}

	if strings.Contains(contentType, "application/pdf") || strings.HasPrefix(string(body[:min(4, len(body))]), "%PDF") {
		return &Payload{Kind: KindDocument, Document: body}, nil
	}

	trimmed := strings.TrimSpace(string(body))

	if strings.HasPrefix(trimmed, "{") {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &fields); err == nil {
			if p := classifyJSON(fields); p != nil {
				return p, nil
			}
			// Structured data without a link or markup: render it as a
			// plain field table rather than rejecting the report.
			if len(fields) > 0 {
				return &Payload{Kind: KindMarkup, Markup: tableMarkup(fields)}, nil
			}
			return nil, ErrUnrecognizedShape
		}
	}

	if strings.HasPrefix(trimmed, "<") || strings.Contains(trimmed, "<html") {
		return &Payload{Kind: KindMarkup, Markup: trimmed}, nil
	}

	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return &Payload{Kind: KindURL, URL: trimmed}, nil
	}

	return nil, ErrUnrecognizedShape
}

func classifyJSON(fields map[string]json.RawMessage) *Payload {
	for _, key := range urlKeys {
		if v := stringField(fields, key); v != "" && (strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://")) {
			return &Payload{Kind: KindURL, URL: v}
		}
	}

	for _, key := range markupKeys {
		v := stringField(fields, key)
		if v == "" {
			continue
		}
		// Some source versions double-encode the markup
		if strings.Contains(v, "&lt;") && !strings.Contains(v, "<") {
			v = html.UnescapeString(v)
		}
		if strings.Contains(v, "<") {
			return &Payload{Kind: KindMarkup, Markup: v}
		}
	}

	return nil
}

// tableMarkup renders a JSON envelope with no link or markup field as a
// two-column report table. Output is deterministic: keys sorted, scalars
// printed as-is, nested values printed as compact JSON.
func tableMarkup(fields map[string]json.RawMessage) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("<html><head><meta charset=\"utf-8\"></head><body>")
	b.WriteString("<h1>Vehicle History Report</h1><table>")
	for _, k := range keys {
		val := strings.TrimSpace(string(fields[k]))
		var s string
		if err := json.Unmarshal([]byte(val), &s); err != nil {
			s = val
		}
		b.WriteString("<tr><th>")
		b.WriteString(html.EscapeString(k))
		b.WriteString("</th><td>")
		b.WriteString(html.EscapeString(s))
		b.WriteString("</td></tr>")
	}
	b.WriteString("</table></body></html>")
	return b.String()
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
