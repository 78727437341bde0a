package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// NativeEngine converts simple markup straight to PDF without a browser. It
// extracts the visible text and typesets it onto A4 pages with a built-in
// font, which covers text-only report payloads at a fraction of a Chromium
// render's cost.
//
// It declines URL inputs and any markup with characters outside Latin-1
// (the built-in PDF fonts cannot encode them), handing those to the pooled
// browser instead.
type NativeEngine struct {
	logger *zap.Logger
}

func NewNativeEngine(logger *zap.Logger) *NativeEngine {
	return &NativeEngine{logger: logger}
}

func (e *NativeEngine) Name() string { return "native" }

func (e *NativeEngine) Render(ctx context.Context, in Input) ([]byte, error) {
	if in.Markup == "" {
		return nil, ErrUnsupportedInput
	}

	text, err := extractText(in.Markup)
	if err != nil || strings.TrimSpace(text) == "" {
		return nil, ErrUnsupportedInput
	}

	for _, r := range text {
		if r > 0xFF {
			return nil, fmt.Errorf("%w: non-latin content", ErrUnsupportedInput)
		}
	}

	doc := writePDF(wrapLines(text, 100))
	e.logger.Debug("Native engine produced document",
		zap.Int("size", len(doc)))
	return doc, nil
}

// extractText collects visible text, breaking lines at block elements.
func extractText(markup string) (string, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Head:
				return
			case atom.Br:
				b.WriteByte('\n')
			}
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte(' ')
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode && isBlock(n.DataAtom) {
			b.WriteByte('\n')
		}
	}
	walk(root)

	return b.String(), nil
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Table, atom.Tr,
		atom.Li, atom.Ul, atom.Ol, atom.H1, atom.H2, atom.H3, atom.H4,
		atom.H5, atom.H6, atom.Header, atom.Footer, atom.Blockquote:
		return true
	}
	return false
}

func wrapLines(text string, width int) []string {
	var lines []string
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		for len(raw) > width {
			cut := strings.LastIndexByte(raw[:width], ' ')
			if cut <= 0 {
				cut = width
			}
			lines = append(lines, raw[:cut])
			raw = strings.TrimSpace(raw[cut:])
		}
		if raw != "" {
			lines = append(lines, raw)
		}
	}
	return lines
}

const (
	pdfLinesPerPage = 60
	pdfFontSize     = 10
	pdfLeading      = 12
)

// writePDF typesets lines onto A4 pages. Object layout: catalog, page tree,
// font, then a page/content pair per page, with a correct xref table so
// strict viewers accept the file.
func writePDF(lines []string) []byte {
	if len(lines) == 0 {
		lines = []string{" "}
	}

	var pages [][]string
	for start := 0; start < len(lines); start += pdfLinesPerPage {
		end := start + pdfLinesPerPage
		if end > len(lines) {
			end = len(lines)
		}
		pages = append(pages, lines[start:end])
	}

	// Objects: 1 catalog, 2 page tree, 3 font, then 2 per page
	objCount := 3 + 2*len(pages)
	offsets := make([]int, objCount+1)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	var kids []string
	for i := range pages {
		kids = append(kids, fmt.Sprintf("%d 0 R", 4+2*i))
	}

	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>",
		strings.Join(kids, " "), len(pages)))
	writeObj(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	for i, pageLines := range pages {
		pageNum := 4 + 2*i
		contentNum := pageNum + 1

		writeObj(pageNum, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			contentNum))

		var content strings.Builder
		fmt.Fprintf(&content, "BT\n/F1 %d Tf\n%d TL\n50 792 Td\n", pdfFontSize, pdfLeading)
		for _, line := range pageLines {
			fmt.Fprintf(&content, "(%s) Tj\nT*\n", encodePDFText(line))
		}
		content.WriteString("ET")

		stream := content.String()
		writeObj(contentNum, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", objCount+1)
	for num := 1; num <= objCount; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		objCount+1, xrefStart)

	return buf.Bytes()
}

// encodePDFText escapes string delimiters and emits one byte per rune. The
// font declares WinAnsiEncoding, so accented characters must land in the
// stream as single Latin-1 bytes, not as Go's UTF-8. Render's input gate
// guarantees every rune fits in a byte.
func encodePDFText(s string) string {
	b := make([]byte, 0, len(s))
	for _, r := range s {
		switch r {
		case '\\', '(', ')':
			b = append(b, '\\')
		}
		b = append(b, byte(r))
	}
	return string(b)
}
