// Package upstream fetches vehicle history reports from the report source.
//
// The source answers in one of three shapes: a finished PDF, a JSON envelope
// carrying report markup or a link to a hosted report page, or bare
// markup/URL without the envelope. Concurrency toward the source is capped;
// callers over the cap wait in a bounded queue.
package upstream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/dejavuplus/engine/internal/common/configtypes"
	"github.com/dejavuplus/engine/internal/common/urlutil"
)

var (
	// ErrUnavailable covers transport failures, timeouts, and non-2xx
	// answers from the report source.
	ErrUnavailable = errors.New("report source unavailable")
	// ErrEmptyResponse is a 200 with no body.
	ErrEmptyResponse = errors.New("report source returned empty response")
	// ErrUnrecognizedShape is a response matching none of the known shapes.
	ErrUnrecognizedShape = errors.New("report source response shape not recognized")
	// ErrQueueTimeout means the concurrency queue stayed full past the
	// configured wait.
	ErrQueueTimeout = errors.New("report source queue timeout")
)

// Client talks to the report source over HTTP.
type Client struct {
	cfg    *configtypes.UpstreamConfig
	http   *fasthttp.Client
	slots  chan struct{}
	logger *zap.Logger
}

func NewClient(cfg *configtypes.UpstreamConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg: cfg,
		http: &fasthttp.Client{
			ReadTimeout:  cfg.Timeout.ToDuration(),
			WriteTimeout: cfg.Timeout.ToDuration(),
			// Report PDFs run large
			MaxResponseBodySize: 64 * 1024 * 1024,
		},
		slots:  make(chan struct{}, cfg.MaxConcurrency),
		logger: logger,
	}
}

// Fetch retrieves the report for vin and classifies the response shape.
// URL payloads are validated against private address ranges before being
// handed to the renderer.
func (c *Client) Fetch(ctx context.Context, vin string) (*Payload, error) {
	release, err := c.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(strings.TrimRight(c.cfg.BaseURL, "/") + "/carfax/" + url.PathEscape(vin))
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/pdf, application/json;q=0.9, text/html;q=0.8")

	start := time.Now()
	if err := c.http.DoTimeout(req, resp, c.cfg.Timeout.ToDuration()); err != nil {
		c.logger.Warn("Report source request failed",
			zap.String("vin", vin),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		c.logger.Warn("Report source returned error status",
			zap.String("vin", vin),
			zap.Int("status_code", status))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}

	body := append([]byte(nil), resp.Body()...)
	payload, err := classify(string(resp.Header.ContentType()), body)
	if err != nil {
		c.logger.Warn("Report source response not usable",
			zap.String("vin", vin),
			zap.Int("body_size", len(body)),
			zap.Error(err))
		return nil, err
	}

	if payload.Kind == KindURL {
		if err := c.validateReportURL(payload.URL); err != nil {
			return nil, err
		}
	}

	sum := sha256.Sum256(body)
	c.logger.Info("Report source response classified",
		zap.String("vin", vin),
		zap.String("shape", payload.Kind.String()),
		zap.Int("body_size", len(body)),
		zap.String("body_sha256", hex.EncodeToString(sum[:8])),
		zap.Duration("elapsed", time.Since(start)))

	return payload, nil
}

// FetchPage retrieves the markup behind a hosted-report link so it can be
// translated before rendering. The link must already have passed
// validateReportURL.
func (c *Client) FetchPage(ctx context.Context, pageURL string) (string, error) {
	release, err := c.acquireSlot(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(pageURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "text/html")

	if err := c.http.DoTimeout(req, resp, c.cfg.Timeout.ToDuration()); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
	}
	if len(resp.Body()) == 0 {
		return "", ErrEmptyResponse
	}

	return string(resp.Body()), nil
}

// acquireSlot blocks until a concurrency slot frees up, the queue wait
// elapses, or ctx is cancelled.
func (c *Client) acquireSlot(ctx context.Context) (func(), error) {
	queueTimer := time.NewTimer(c.cfg.QueueTimeout.ToDuration())
	defer queueTimer.Stop()

	select {
	case c.slots <- struct{}{}:
		return func() { <-c.slots }, nil
	case <-queueTimer.C:
		c.logger.Warn("Report source queue full",
			zap.Int("max_concurrency", c.cfg.MaxConcurrency),
			zap.Duration("queue_timeout", c.cfg.QueueTimeout.ToDuration()))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ErrQueueTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// validateReportURL rejects hosted-report links pointing at private or
// loopback addresses.
func (c *Client) validateReportURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid report url", ErrUnrecognizedShape)
	}
	if err := urlutil.ValidateHostNotPrivateIP(u.Hostname()); err != nil {
		c.logger.Warn("Rejected report url with private address",
			zap.String("host", u.Hostname()))
		return fmt.Errorf("%w: %v", ErrUnrecognizedShape, err)
	}
	return nil
}

// InFlight returns how many fetches currently hold a slot.
func (c *Client) InFlight() int {
	return len(c.slots)
}
