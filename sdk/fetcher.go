package sdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/matt-riley/surveyz/internal/core"
)

const (
	defaultFetchAttempts = 3
	defaultMinRetryDelay = 500 * time.Millisecond
	defaultMaxRetryDelay = 5 * time.Second
	maxConfigBytes       = 4 << 20
)

// APIError is returned when the server responds with an HTTP error status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("surveyz: HTTP %d: %s", e.StatusCode, e.Message)
}

// ShouldRetry reports whether a request that failed with status may succeed
// on a later attempt.
func ShouldRetry(status int) bool {
	switch status {
	case http.StatusUnauthorized,
		http.StatusPaymentRequired,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusGone:
		return false
	default:
		return true
	}
}

// Fetcher downloads the project's survey config.
type Fetcher struct {
	apiKey     string
	httpClient *http.Client
	attempts   uint
	minDelay   time.Duration
	maxDelay   time.Duration

	mu      sync.RWMutex
	baseURL string
}

type FetcherOption func(*Fetcher)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if hc != nil {
			f.httpClient = hc
		}
	}
}

// WithRetryDelays bounds the randomized delay between attempts.
func WithRetryDelays(minDelay, maxDelay time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if minDelay > 0 && maxDelay >= minDelay {
			f.minDelay = minDelay
			f.maxDelay = maxDelay
		}
	}
}

func WithMaxAttempts(n uint) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.attempts = n
		}
	}
}

func NewFetcher(baseURL, apiKey string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
		attempts:   defaultFetchAttempts,
		minDelay:   defaultMinRetryDelay,
		maxDelay:   defaultMaxRetryDelay,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// BaseURL returns the server the fetcher currently talks to.
func (f *Fetcher) BaseURL() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.baseURL
}

// SetBaseURL points subsequent fetches at a new server. Empty URLs are
// ignored.
func (f *Fetcher) SetBaseURL(baseURL string) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return
	}
	f.mu.Lock()
	f.baseURL = baseURL
	f.mu.Unlock()
}

// FetchConfig downloads and decodes GET /v1/config, retrying transient
// failures. The raw body is returned alongside the decoded config.
func (f *Fetcher) FetchConfig(ctx context.Context) (core.Config, []byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.minDelay
	b.MaxInterval = f.maxDelay
	b.RandomizationFactor = 0.5

	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		body, err := f.fetchOnce(ctx)
		if err == nil {
			return body, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !ShouldRetry(apiErr.StatusCode) {
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(f.attempts))
	if err != nil {
		return core.Config{}, nil, err
	}

	cfg, err := core.ParseConfig(body)
	if err != nil {
		return core.Config{}, nil, fmt.Errorf("surveyz: decode config: %w", err)
	}
	return cfg, body, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL()+"/v1/config", nil)
	if err != nil {
		return nil, fmt.Errorf("surveyz: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("surveyz: http: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigBytes))
	if err != nil {
		return nil, fmt.Errorf("surveyz: read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return body, nil
}
