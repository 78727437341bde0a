package translate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dejavuplus/engine/internal/common/configtypes"
)

const samplePage = `<html><head><title>Vehicle Report</title></head><body>
<h1>Accident history</h1>
<p>VIN: 1HGBH41JXMN109186</p>
<script>var x = "do not translate";</script>
<p>Previous owners</p>
</body></html>`

func TestTranslateHTMLReplacesVisibleText(t *testing.T) {
	srv := customServer(t, func(s string) string { return "AR[" + s + "]" })
	defer srv.Close()

	cfg := testConfig()
	cfg.Backends = []configtypes.TranslateBackendConfig{{Kind: "custom", Endpoint: srv.URL}}
	tr := newTestTranslator(t, cfg)

	out, degraded := tr.TranslateHTML(context.Background(), samplePage, "ar")
	assert.False(t, degraded)
	assert.Contains(t, out, "AR[Accident history]")
	assert.Contains(t, out, "AR[Previous owners]")
	assert.Contains(t, out, `var x = "do not translate";`, "script content untouched")
}

func TestTranslateHTMLPreservesVIN(t *testing.T) {
	srv := customServer(t, func(s string) string { return "ترجمة" })
	defer srv.Close()

	cfg := testConfig()
	cfg.Backends = []configtypes.TranslateBackendConfig{{Kind: "custom", Endpoint: srv.URL}}
	tr := newTestTranslator(t, cfg)

	out, _ := tr.TranslateHTML(context.Background(), samplePage, "ar")
	assert.Contains(t, out, "1HGBH41JXMN109186", "VIN survives translation byte for byte")
	assert.Contains(t, out, `<span class="vin">`, "VIN node wrapped for LTR display")
}

func TestTranslateHTMLInjectsRTL(t *testing.T) {
	srv := customServer(t, func(s string) string { return s })
	defer srv.Close()

	cfg := testConfig()
	cfg.Backends = []configtypes.TranslateBackendConfig{{Kind: "custom", Endpoint: srv.URL}}
	tr := newTestTranslator(t, cfg)

	out, _ := tr.TranslateHTML(context.Background(), samplePage, "ar")
	assert.Contains(t, out, `dir="rtl"`)
	assert.Contains(t, out, `lang="ar"`)
	assert.Contains(t, out, "direction: rtl")
}

func TestTranslateHTMLEnglishUnchanged(t *testing.T) {
	tr := newTestTranslator(t, testConfig())

	out, degraded := tr.TranslateHTML(context.Background(), samplePage, "en")
	assert.False(t, degraded)
	assert.Equal(t, samplePage, out)
	assert.NotContains(t, out, "dir=")
}

func TestTranslateHTMLKurdishForcesSorani(t *testing.T) {
	// Backend leaves text in Latin script; every visible text node must end
	// up in Arabic script while tags and attributes stay intact.
	srv := customServer(t, func(s string) string { return s })
	defer srv.Close()

	cfg := testConfig()
	cfg.Backends = []configtypes.TranslateBackendConfig{{Kind: "custom", Endpoint: srv.URL}}
	tr := newTestTranslator(t, cfg)

	out, _ := tr.TranslateHTML(context.Background(), "<html><body><p class=\"section\">accident data</p></body></html>", "ku")
	assert.Contains(t, out, `class="section"`, "attributes not transliterated")
	assert.NotContains(t, out, "accident data")
	assert.Contains(t, out, `lang="ckb"`)
}

func TestTranslateHTMLDegradedWhenAllBackendsFail(t *testing.T) {
	cfg := testConfig()
	cfg.Backends = nil
	cfg.FreeEndpoint = "http://127.0.0.1:1"
	tr := newTestTranslator(t, cfg)

	out, degraded := tr.TranslateHTML(context.Background(), samplePage, "ar")
	assert.True(t, degraded)
	assert.Contains(t, out, "Accident history", "original text kept")
	assert.Contains(t, out, `dir="rtl"`, "layout direction still applied")
}

func TestTranslateHTMLEmptyInput(t *testing.T) {
	tr := newTestTranslator(t, testConfig())
	out, degraded := tr.TranslateHTML(context.Background(), "", "ar")
	assert.Empty(t, out)
	assert.False(t, degraded)
}

func TestTranslateHTMLFragmentWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.FreeEndpoint = srv.URL
	tr := newTestTranslator(t, cfg)

	// x/net/html wraps fragments in a full document; output must still be
	// renderable HTML
	out, _ := tr.TranslateHTML(context.Background(), "<div>History section</div>", "ar")
	require.True(t, strings.Contains(out, "<html"))
	assert.Contains(t, out, "History section")
}
