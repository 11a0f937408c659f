// CLAUDE:SUMMARY Loads page HTML over HTTP (SSRF-guarded, size-capped) or from local files, with content-hash change detection.
// Package fetch loads the documents domsig signs, either over HTTP or from
// local files. Both paths report the SHA-256 of the body so unchanged pages
// can skip signing.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hazyhaar/domsig/horosafe"
	"github.com/hazyhaar/domsig/report"
)

// Result contains the outcome of a fetch.
type Result struct {
	Body       []byte
	StatusCode int    // 0 for files
	Hash       string // SHA-256 of body
	Changed    bool   // false when Hash equals the previous hash
}

// Config configures the fetcher.
type Config struct {
	Timeout   time.Duration // HTTP timeout. Default: 30s.
	MaxBytes  int64         // Max body size. Default: 10MB.
	UserAgent string
	// URLValidator validates URLs before fetch and on every redirect.
	// Default: horosafe.ValidateURL.
	URLValidator func(string) error
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "domsig/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.ValidateURL
	}
}

// Fetcher loads documents.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher with SSRF protection on redirects.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked (SSRF): %w", err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Fetch GETs url. Changed is false when the body hash equals prevHash.
func (f *Fetcher) Fetch(ctx context.Context, url, prevHash string) (*Result, error) {
	if err := f.config.URLValidator(url); err != nil {
		return nil, fmt.Errorf("fetch: URL blocked (SSRF): %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Result{StatusCode: resp.StatusCode}, fmt.Errorf("fetch: http %d", resp.StatusCode)
	}

	body, err := horosafe.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	return newResult(body, resp.StatusCode, prevHash), nil
}

// LoadFile reads a local document under the same size cap.
func (f *Fetcher) LoadFile(path, prevHash string) (*Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fetch: open: %w", err)
	}
	defer file.Close()

	body, err := horosafe.LimitedReadAll(file, f.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch: read %s: %w", path, err)
	}
	return newResult(body, 0, prevHash), nil
}

func newResult(body []byte, status int, prevHash string) *Result {
	hash := report.HashHTML(body)
	return &Result{
		Body:       body,
		StatusCode: status,
		Hash:       hash,
		Changed:    prevHash == "" || hash != prevHash,
	}
}
