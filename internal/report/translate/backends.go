package translate

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/dejavuplus/engine/internal/common/config"
	"github.com/dejavuplus/engine/internal/common/configtypes"
)

// Backend is one translation provider. Implementations return exactly one
// output per input or an error; partial results are treated as failure by the
// race.
type Backend interface {
	Name() string
	Translate(texts []string, target string, timeout time.Duration) ([]string, error)
}

// NewBackend builds a backend from configuration. Kind is validated at config
// load time.
func NewBackend(cfg configtypes.TranslateBackendConfig, http *fasthttp.Client) (Backend, error) {
	switch cfg.Kind {
	case config.BackendAzure:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "https://api.cognitive.microsofttranslator.com"
		}
		region := cfg.Region
		if region == "" {
			region = "global"
		}
		return &azureBackend{endpoint: endpoint, key: cfg.Key, region: region, http: http}, nil
	case config.BackendGoogleCloud:
		return &googleCloudBackend{key: cfg.Key, http: http}, nil
	case config.BackendLibre:
		return &libreBackend{endpoint: cfg.Endpoint, key: cfg.Key, http: http}, nil
	case config.BackendCustom:
		return &customBackend{endpoint: cfg.Endpoint, key: cfg.Key, http: http}, nil
	default:
		return nil, fmt.Errorf("unknown translation backend kind: %s", cfg.Kind)
	}
}

func postJSON(http *fasthttp.Client, uri string, headers map[string]string, body interface{}, timeout time.Duration) ([]byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.SetBody(encoded)

	if err := http.DoTimeout(req, resp, timeout); err != nil {
		return nil, err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode())
	}
	return append([]byte(nil), resp.Body()...), nil
}

type azureBackend struct {
	endpoint string
	key      string
	region   string
	http     *fasthttp.Client
}

func (b *azureBackend) Name() string { return "azure" }

func (b *azureBackend) Translate(texts []string, target string, timeout time.Duration) ([]string, error) {
	uri := strings.TrimRight(b.endpoint, "/") + "/translate?api-version=3.0&to=" + url.QueryEscape(target)

	body := make([]map[string]string, len(texts))
	for i, t := range texts {
		body[i] = map[string]string{"Text": t}
	}

	raw, err := postJSON(b.http, uri, map[string]string{
		"Ocp-Apim-Subscription-Key":    b.key,
		"Ocp-Apim-Subscription-Region": b.region,
	}, body, timeout)
	if err != nil {
		return nil, err
	}

	var parsed []struct {
		Translations []struct {
			Text string `json:"text"`
		} `json:"translations"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(texts))
	for _, item := range parsed {
		if len(item.Translations) == 0 {
			continue
		}
		out = append(out, item.Translations[0].Text)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("azure returned %d of %d translations", len(out), len(texts))
	}
	return out, nil
}

type googleCloudBackend struct {
	key  string
	http *fasthttp.Client
}

func (b *googleCloudBackend) Name() string { return "google_cloud" }

func (b *googleCloudBackend) Translate(texts []string, target string, timeout time.Duration) ([]string, error) {
	uri := "https://translation.googleapis.com/language/translate/v2?key=" + url.QueryEscape(b.key)

	raw, err := postJSON(b.http, uri, nil, map[string]interface{}{
		"q":      texts,
		"target": target,
		"format": "text",
	}, timeout)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data struct {
			Translations []struct {
				TranslatedText string `json:"translatedText"`
			} `json:"translations"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(texts))
	for _, t := range parsed.Data.Translations {
		out = append(out, t.TranslatedText)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("google cloud returned %d of %d translations", len(out), len(texts))
	}
	return out, nil
}

// libreBackend has no batch endpoint; fragments are sent one at a time under
// the shared timeout, which makes it the slowest racer for large batches.
type libreBackend struct {
	endpoint string
	key      string
	http     *fasthttp.Client
}

func (b *libreBackend) Name() string { return "libre" }

func (b *libreBackend) Translate(texts []string, target string, timeout time.Duration) ([]string, error) {
	endpoint := b.endpoint
	if !strings.HasSuffix(endpoint, "/translate") {
		endpoint = strings.TrimRight(endpoint, "/") + "/translate"
	}

	deadline := time.Now().Add(timeout)
	out := make([]string, 0, len(texts))
	for _, text := range texts {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("libre timeout after %d of %d fragments", len(out), len(texts))
		}

		body := map[string]string{"q": text, "source": "auto", "target": target, "format": "text"}
		if b.key != "" {
			body["api_key"] = b.key
		}

		raw, err := postJSON(b.http, endpoint, nil, body, remaining)
		if err != nil {
			return nil, err
		}

		var parsed struct {
			TranslatedText string `json:"translatedText"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, err
		}
		out = append(out, parsed.TranslatedText)
	}
	return out, nil
}

type customBackend struct {
	endpoint string
	key      string
	http     *fasthttp.Client
}

func (b *customBackend) Name() string { return "custom" }

func (b *customBackend) Translate(texts []string, target string, timeout time.Duration) ([]string, error) {
	headers := map[string]string{}
	if b.key != "" {
		headers["Authorization"] = "Bearer " + b.key
	}

	raw, err := postJSON(b.http, b.endpoint, headers, map[string]interface{}{
		"texts":  texts,
		"target": target,
	}, timeout)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Translations []string `json:"translations"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Translations) != len(texts) {
		return nil, fmt.Errorf("custom backend returned %d of %d translations", len(parsed.Translations), len(texts))
	}
	return parsed.Translations, nil
}
