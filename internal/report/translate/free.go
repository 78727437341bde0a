package translate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// chunkDelimiter joins many fragments into one request to the free endpoint.
// Chosen for near-zero odds of a translation engine altering it; if it does
// get mangled, the whole chunk falls back to its original text.
const chunkDelimiter = "__DVSEP__9f3b0a__"

const defaultFreeEndpoint = "https://translate.googleapis.com/translate_a/single"

// freeTranslator is the high-availability fallback: a public batch endpoint
// with no API key and loose rate limits. Slower than the commercial backends
// but almost never down. Fragments are joined with chunkDelimiter into
// requests bounded by chunkLimit characters.
type freeTranslator struct {
	endpoint   string
	chunkLimit int
	http       *fasthttp.Client
	logger     *zap.Logger
}

func newFreeTranslator(endpoint string, chunkLimit int, http *fasthttp.Client, logger *zap.Logger) *freeTranslator {
	if endpoint == "" {
		endpoint = defaultFreeEndpoint
	}
	return &freeTranslator{
		endpoint:   endpoint,
		chunkLimit: chunkLimit,
		http:       http,
		logger:     logger,
	}
}

// Translate returns exactly one output per input. Chunks whose delimiter did
// not survive translation, and chunks whose request failed, come back with
// their original texts. Never returns an error.
func (f *freeTranslator) Translate(texts []string, target string, timeout time.Duration) []string {
	if len(texts) == 0 {
		return nil
	}

	out := make([]string, 0, len(texts))
	for _, chunk := range f.chunkTexts(texts) {
		out = append(out, f.translateChunk(chunk, target, timeout)...)
	}
	return out
}

// chunkTexts groups fragments so each joined request stays under chunkLimit.
// A single oversized fragment still gets its own chunk.
func (f *freeTranslator) chunkTexts(texts []string) [][]string {
	var chunks [][]string
	var current []string
	currentLen := 0

	for _, text := range texts {
		addLen := len(text)
		if len(current) > 0 {
			addLen += len(chunkDelimiter)
		}
		if len(current) > 0 && currentLen+addLen > f.chunkLimit {
			chunks = append(chunks, current)
			current = []string{text}
			currentLen = len(text)
			continue
		}
		current = append(current, text)
		currentLen += addLen
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func (f *freeTranslator) translateChunk(chunk []string, target string, timeout time.Duration) []string {
	joined := strings.Join(chunk, chunkDelimiter)

	translated, err := f.request(joined, target, timeout)
	if err != nil {
		f.logger.Debug("Free translation request failed, keeping originals",
			zap.Int("fragments", len(chunk)),
			zap.Error(err))
		return chunk
	}

	parts := strings.Split(translated, chunkDelimiter)
	if len(parts) != len(chunk) {
		// Delimiter was altered in transit; fail soft for this chunk
		f.logger.Debug("Chunk delimiter corrupted, keeping originals",
			zap.Int("expected", len(chunk)),
			zap.Int("got", len(parts)))
		return chunk
	}
	return parts
}

// request sends one joined string and reassembles the segment list the
// endpoint returns: a JSON array whose first element is a list of
// [translatedSegment, originalSegment, ...] tuples.
func (f *freeTranslator) request(joined, target string, timeout time.Duration) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(f.endpoint)
	req.URI().QueryArgs().Set("client", "gtx")
	req.URI().QueryArgs().Set("sl", "auto")
	req.URI().QueryArgs().Set("tl", target)
	req.URI().QueryArgs().Set("dt", "t")
	req.URI().QueryArgs().Set("q", joined)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := f.http.DoTimeout(req, resp, timeout); err != nil {
		return "", err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode())
	}

	var data []json.RawMessage
	if err := json.Unmarshal(resp.Body(), &data); err != nil || len(data) == 0 {
		return "", fmt.Errorf("unexpected response format")
	}

	var segments [][]json.RawMessage
	if err := json.Unmarshal(data[0], &segments); err != nil {
		return "", fmt.Errorf("unexpected segment format")
	}

	var b strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		var part string
		if err := json.Unmarshal(seg[0], &part); err == nil {
			b.WriteString(part)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("empty translation")
	}
	return b.String(), nil
}
