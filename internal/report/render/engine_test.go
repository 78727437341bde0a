package render

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dejavuplus/engine/internal/report/render/chrome"
)

type fakeEngine struct {
	name  string
	doc   []byte
	err   error
	calls int
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Render(ctx context.Context, in Input) ([]byte, error) {
	f.calls++
	return f.doc, f.err
}

func validPDF() []byte {
	return append([]byte("%PDF-1.4\n/Type /Page\n"), bytes.Repeat([]byte("x"), 8000)...)
}

func TestRendererFirstEngineWins(t *testing.T) {
	first := &fakeEngine{name: "native", doc: validPDF()}
	second := &fakeEngine{name: "chromium", doc: validPDF()}
	r := NewRendererWithEngines([]Engine{first, second}, 4000, zap.NewNop())

	doc, err := r.Render(context.Background(), Input{Markup: "<p>report</p>"})
	require.NoError(t, err)
	assert.Equal(t, first.doc, doc)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls, "second engine never consulted")
}

func TestRendererFallsThroughOnUnsupportedInput(t *testing.T) {
	first := &fakeEngine{name: "native", err: ErrUnsupportedInput}
	second := &fakeEngine{name: "chromium", doc: validPDF()}
	r := NewRendererWithEngines([]Engine{first, second}, 4000, zap.NewNop())

	doc, err := r.Render(context.Background(), Input{URL: "https://reports.example.com/r/1"})
	require.NoError(t, err)
	assert.Equal(t, second.doc, doc)
}

func TestRendererFallsThroughOnFailure(t *testing.T) {
	first := &fakeEngine{name: "native", err: errors.New("boom")}
	second := &fakeEngine{name: "chromium", doc: validPDF()}
	r := NewRendererWithEngines([]Engine{first, second}, 4000, zap.NewNop())

	doc, err := r.Render(context.Background(), Input{Markup: "<p>report</p>"})
	require.NoError(t, err)
	assert.Equal(t, second.doc, doc)
}

func TestRendererAllEnginesFail(t *testing.T) {
	first := &fakeEngine{name: "native", err: errors.New("boom")}
	second := &fakeEngine{name: "chromium", err: errors.New("crash")}
	r := NewRendererWithEngines([]Engine{first, second}, 4000, zap.NewNop())

	_, err := r.Render(context.Background(), Input{Markup: "<p>report</p>"})
	assert.ErrorIs(t, err, ErrRenderFailed)
}

func TestRendererPoolExhaustionDistinct(t *testing.T) {
	first := &fakeEngine{name: "native", err: ErrUnsupportedInput}
	second := &fakeEngine{name: "chromium", err: chrome.ErrPoolExhausted}
	r := NewRendererWithEngines([]Engine{first, second}, 4000, zap.NewNop())

	_, err := r.Render(context.Background(), Input{URL: "https://reports.example.com/r/1"})
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.NotErrorIs(t, err, ErrRenderFailed)
}

func TestRendererRejectsNonPDFOutput(t *testing.T) {
	first := &fakeEngine{name: "native", doc: []byte("<html>not a pdf</html>")}
	second := &fakeEngine{name: "chromium", doc: validPDF()}
	r := NewRendererWithEngines([]Engine{first, second}, 4000, zap.NewNop())

	doc, err := r.Render(context.Background(), Input{Markup: "<p>report</p>"})
	require.NoError(t, err)
	assert.Equal(t, second.doc, doc, "garbage from first engine skipped")
}

func TestRendererEmptyInput(t *testing.T) {
	r := NewRendererWithEngines([]Engine{&fakeEngine{name: "native"}}, 4000, zap.NewNop())
	_, err := r.Render(context.Background(), Input{})
	assert.ErrorIs(t, err, ErrRenderFailed)
}

func TestValidatorHeuristic(t *testing.T) {
	v := NewValidator(12000)

	tests := []struct {
		name string
		doc  []byte
		want bool
	}{
		{"valid document", append([]byte("%PDF-1.7\n/Type /Page\n"), bytes.Repeat([]byte("y"), 15000)...), true},
		{"compact type marker", append([]byte("%PDF-1.7\n/Type/Page\n"), bytes.Repeat([]byte("y"), 15000)...), true},
		{"too small", []byte("%PDF-1.7\n/Type /Page\n"), false},
		{"wrong signature", append([]byte("HTML"), bytes.Repeat([]byte("y"), 15000)...), false},
		{"no page object", append([]byte("%PDF-1.7\n"), bytes.Repeat([]byte("y"), 15000)...), false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.LooksValid(tt.doc))
		})
	}
}

func TestValidatorClampsMinSize(t *testing.T) {
	assert.Equal(t, 4000, NewValidator(10).MinSize())
	assert.Equal(t, 200000, NewValidator(5_000_000).MinSize())
	assert.Equal(t, 12000, NewValidator(12000).MinSize())
}

func TestValidatorIsPDFIgnoresSize(t *testing.T) {
	v := NewValidator(12000)
	assert.True(t, v.IsPDF([]byte("%PDF-1.4\nsmall")))
	assert.False(t, v.IsPDF([]byte("PDF")))
}
