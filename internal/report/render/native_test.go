package render

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNativeEngineRendersMarkup(t *testing.T) {
	e := NewNativeEngine(zap.NewNop())

	doc, err := e.Render(context.Background(), Input{
		Markup: "<html><body><h1>Vehicle Report</h1><p>No accidents on record.</p></body></html>",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
	assert.Contains(t, string(doc), "Vehicle Report")
	assert.Contains(t, string(doc), "%%EOF")
}

func TestNativeEngineDeclinesURL(t *testing.T) {
	e := NewNativeEngine(zap.NewNop())

	_, err := e.Render(context.Background(), Input{URL: "https://reports.example.com/r/1"})
	assert.ErrorIs(t, err, ErrUnsupportedInput)
}

func TestNativeEngineDeclinesNonLatin(t *testing.T) {
	e := NewNativeEngine(zap.NewNop())

	_, err := e.Render(context.Background(), Input{
		Markup: "<html><body><p>تقرير السيارة</p></body></html>",
	})
	assert.ErrorIs(t, err, ErrUnsupportedInput)
}

func TestNativeEngineDeclinesEmptyContent(t *testing.T) {
	e := NewNativeEngine(zap.NewNop())

	_, err := e.Render(context.Background(), Input{
		Markup: "<html><head><style>body{}</style></head><body><script>x()</script></body></html>",
	})
	assert.ErrorIs(t, err, ErrUnsupportedInput)
}

func TestNativeEngineMultiPage(t *testing.T) {
	e := NewNativeEngine(zap.NewNop())

	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 200; i++ {
		b.WriteString("<p>Service record entry with odometer reading and dealer details.</p>")
	}
	b.WriteString("</body></html>")

	doc, err := e.Render(context.Background(), Input{Markup: b.String()})
	require.NoError(t, err)
	assert.True(t, bytes.Contains(doc, []byte("/Count 4")), "200 paragraphs span four pages")
}

func TestNativeEngineEncodesAccentsAsLatin1(t *testing.T) {
	e := NewNativeEngine(zap.NewNop())

	doc, err := e.Render(context.Background(), Input{
		Markup: "<html><body><p>Entretien révisé chez Citroën</p></body></html>",
	})
	require.NoError(t, err)

	// WinAnsiEncoding wants one byte per character in the content stream;
	// UTF-8 sequences there would display as mojibake.
	assert.True(t, bytes.Contains(doc, []byte{0xE9}), "single-byte e-acute")
	assert.True(t, bytes.Contains(doc, []byte{0xEB}), "single-byte e-diaeresis")
	assert.False(t, bytes.Contains(doc, []byte{0xC3, 0xA9}), "UTF-8 e-acute must not appear")
	assert.False(t, bytes.Contains(doc, []byte{0xC3, 0xAB}), "UTF-8 e-diaeresis must not appear")
}

func TestNativeEngineEscapesDelimiters(t *testing.T) {
	e := NewNativeEngine(zap.NewNop())

	doc, err := e.Render(context.Background(), Input{
		Markup: `<html><body><p>Model (2019) \ trim</p></body></html>`,
	})
	require.NoError(t, err)
	assert.Contains(t, string(doc), `Model \(2019\) \\ trim`)
}

func TestExtractTextSkipsScriptAndStyle(t *testing.T) {
	text, err := extractText(`<html><head><style>.x{}</style></head><body>
		<p>Visible</p><script>hidden()</script><noscript>also hidden</noscript></body></html>`)
	require.NoError(t, err)
	assert.Contains(t, text, "Visible")
	assert.NotContains(t, text, "hidden")
	assert.NotContains(t, text, ".x{}")
}

func TestWrapLines(t *testing.T) {
	lines := wrapLines(strings.Repeat("word ", 50), 40)
	require.NotEmpty(t, lines)
	for _, l := range lines {
		assert.LessOrEqual(t, len(l), 40)
	}

	// Unbroken run longer than width gets hard-cut
	lines = wrapLines(strings.Repeat("x", 95), 40)
	assert.Len(t, lines, 3)
}
