// Package scrape fetches rendered AI-assistant answer pages through a
// Firecrawl-compatible scraping backend.
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/leapgeo/citetrack/internal/circuitbreaker"
	"github.com/leapgeo/citetrack/internal/metrics"
	"github.com/leapgeo/citetrack/internal/tracing"
)

const (
	DefaultEndpoint = "http://localhost:3002/v0/scrape"
	DefaultTimeout  = 30 * time.Second
	DefaultWaitFor  = "networkidle"

	maxBodyBytes = 16 << 20
)

// Config configures the scraping backend
type Config struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	WaitFor  string        `mapstructure:"wait_for"`
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.WaitFor == "" {
		c.WaitFor = DefaultWaitFor
	}
	return c
}

// Page is the content returned for one scraped URL
type Page struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
}

// Content prefers markdown, then raw markup, then "".
func (p *Page) Content() string {
	if p == nil {
		return ""
	}
	if p.Markdown != "" {
		return p.Markdown
	}
	return p.HTML
}

// Failure is returned for every unsuccessful fetch. Blocked pages, auth
// walls and rate limits are routine, so callers treat it as data.
type Failure struct {
	Platform   string
	Reason     string
	StatusCode int
	Err        error
}

func (f *Failure) Error() string {
	msg := "scrape " + f.Platform + ": " + f.Reason
	if f.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", f.StatusCode)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// Pacer delays requests to respect per-platform limits
type Pacer interface {
	Wait(ctx context.Context, platform string) error
}

// Doer sends HTTP requests
type Doer = circuitbreaker.Doer

type scrapeRequest struct {
	URL     string   `json:"url"`
	WaitFor string   `json:"waitFor"`
	Formats []string `json:"formats"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    *Page  `json:"data"`
}

// Client talks to the scraping backend
type Client struct {
	cfg      Config
	http     Doer
	breakers *circuitbreaker.HTTPWrapper
	pacer    Pacer
	logger   *zap.Logger
}

// New creates a Client with one circuit breaker per platform, so a target
// that keeps failing never blocks the others. pacer may be nil.
func New(cfg Config, pacer Pacer, logger *zap.Logger) *Client {
	cfg = cfg.withDefaults()
	return NewGuarded(cfg, &http.Client{Timeout: cfg.Timeout}, circuitbreaker.ScraperSettings(), pacer, logger)
}

// NewGuarded creates a Client over doer with per-platform breakers tuned by settings
func NewGuarded(cfg Config, doer Doer, settings circuitbreaker.Settings, pacer Pacer, logger *zap.Logger) *Client {
	c := NewWithDoer(cfg, doer, pacer, logger)
	c.breakers = circuitbreaker.NewHTTPWrapper(doer, "firecrawl", "scraper", settings, c.logger)
	return c
}

// NewWithDoer creates a Client over an arbitrary transport without breakers
func NewWithDoer(cfg Config, doer Doer, pacer Pacer, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg.withDefaults(), http: doer, pacer: pacer, logger: logger}
}

// WaitFor returns the configured default wait condition
func (c *Client) WaitFor() string { return c.cfg.WaitFor }

// Endpoint returns the scrape endpoint URL
func (c *Client) Endpoint() string { return c.cfg.Endpoint }

// OpenPlatforms lists the platforms whose breaker is rejecting fetches
func (c *Client) OpenPlatforms() []string {
	if c.breakers == nil {
		return []string{}
	}
	return c.breakers.OpenKeys()
}

func (c *Client) send(platform string, req *http.Request) (*http.Response, error) {
	if c.breakers == nil {
		return c.http.Do(req)
	}
	return c.breakers.Do(platform, req)
}

// Fetch asks the backend to render targetURL for platform. The whole call,
// pacing included, is bounded by the configured timeout. Any error returned
// is a *Failure.
func (c *Client) Fetch(ctx context.Context, platform, targetURL, waitFor string) (*Page, error) {
	if waitFor == "" {
		waitFor = c.cfg.WaitFor
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	page, err := c.fetch(ctx, platform, targetURL, waitFor)

	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.RecordScrape(platform, status, time.Since(start).Seconds())
	return page, err
}

func (c *Client) fetch(ctx context.Context, platform, targetURL, waitFor string) (*Page, error) {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx, platform); err != nil {
			return nil, &Failure{Platform: platform, Reason: "rate limit wait aborted", Err: err}
		}
	}

	body, err := json.Marshal(scrapeRequest{
		URL:     targetURL,
		WaitFor: waitFor,
		Formats: []string{"markdown", "html"},
	})
	if err != nil {
		return nil, &Failure{Platform: platform, Reason: "encode request", Err: err}
	}

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, c.cfg.Endpoint)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Failure{Platform: platform, Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.send(platform, req)
	if err != nil {
		reason := "transport error"
		switch {
		case circuitbreaker.IsBreakerError(err):
			reason = "platform circuit open"
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		}
		return nil, &Failure{Platform: platform, Reason: reason, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Debug("Scraping backend returned non-success status",
			zap.String("platform", platform),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", snippet),
		)
		return nil, &Failure{Platform: platform, Reason: "non-success response", StatusCode: resp.StatusCode}
	}

	var decoded scrapeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&decoded); err != nil {
		return nil, &Failure{Platform: platform, Reason: "decode response", StatusCode: resp.StatusCode, Err: err}
	}
	if decoded.Error != "" && !decoded.Success {
		return nil, &Failure{Platform: platform, Reason: decoded.Error, StatusCode: resp.StatusCode}
	}
	if decoded.Data == nil || decoded.Data.Content() == "" {
		return nil, &Failure{Platform: platform, Reason: "empty body", StatusCode: resp.StatusCode}
	}
	return decoded.Data, nil
}
