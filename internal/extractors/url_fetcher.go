package extractors

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"knowledge-ingest/internal/models"
)

const (
	defaultMaxRedirects = 5
	defaultMaxBodySize  = 100 << 20 // 100 MiB
	defaultFetchTimeout = 30 * time.Second
	fetchRetries        = 1
)

// URLFetcher downloads document bytes over http/https
type URLFetcher struct {
	client      *http.Client
	maxBodySize int64
	userAgent   string
}

// URLFetcherConfig holds fetcher limits; zero values take the defaults
type URLFetcherConfig struct {
	Timeout     time.Duration
	MaxBodySize int64
	UserAgent   string
}

// NewURLFetcher creates a fetcher with bounded redirects, body size and
// request timeout.
func NewURLFetcher(config URLFetcherConfig) *URLFetcher {
	if config.Timeout == 0 {
		config.Timeout = defaultFetchTimeout
	}
	if config.MaxBodySize == 0 {
		config.MaxBodySize = defaultMaxBodySize
	}
	if config.UserAgent == "" {
		config.UserAgent = "knowledge-ingest/1.0"
	}

	client := &http.Client{
		Timeout: config.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= defaultMaxRedirects {
				return fmt.Errorf("stopped after %d redirects", defaultMaxRedirects)
			}
			return nil
		},
	}

	return &URLFetcher{
		client:      client,
		maxBodySize: config.MaxBodySize,
		userAgent:   config.UserAgent,
	}
}

// Fetch downloads the URL and returns the body with its Content-Type.
// Transient failures get one retry.
func (f *URLFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", models.NewPipelineError(models.ErrValidation, "fetch_url", err, "invalid url: "+rawURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, "", models.NewPipelineError(models.ErrValidation, "fetch_url", nil,
			"unsupported url scheme: "+parsed.Scheme)
	}

	var lastErr error
	for attempt := 0; attempt <= fetchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, "", models.NewPipelineError(models.ErrCancelled, "fetch_url", ctx.Err(), "")
			case <-time.After(time.Second):
			}
		}

		data, contentType, retryable, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			return data, contentType, nil
		}
		lastErr = err
		if !retryable {
			return nil, "", err
		}
	}
	return nil, "", lastErr
}

func (f *URLFetcher) fetchOnce(ctx context.Context, rawURL string) (data []byte, contentType string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", false, models.NewPipelineError(models.ErrValidation, "fetch_url", err, "")
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", false, models.NewPipelineError(models.ErrCancelled, "fetch_url", ctx.Err(), "")
		}
		return nil, "", true, models.NewPipelineError(models.ErrNetworkTransient, "fetch_url", err, "")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, "", true, models.NewPipelineError(models.ErrNetworkTransient, "fetch_url", nil,
			fmt.Sprintf("upstream returned %d for %s", resp.StatusCode, rawURL))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", false, models.NewPipelineError(models.ErrValidation, "fetch_url", nil,
			fmt.Sprintf("upstream returned %d for %s", resp.StatusCode, rawURL))
	}

	// Read one byte past the cap to tell "exactly at the limit" from over
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, "", true, models.NewPipelineError(models.ErrNetworkTransient, "fetch_url", err, "failed to read response body")
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, "", false, models.NewPipelineError(models.ErrValidation, "fetch_url", nil,
			fmt.Sprintf("response body exceeds %d bytes", f.maxBodySize))
	}

	return body, resp.Header.Get("Content-Type"), false, nil
}
