package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// Fetcher performs one request for a feed and yields a decoded snapshot or a
// *FetchError. Implementations keep no state between calls and never retry.
type Fetcher interface {
	Fetch(ctx context.Context, desc Descriptor, contextKey string) (any, error)
}

// FetcherFunc is a function adapter for Fetcher.
type FetcherFunc func(ctx context.Context, desc Descriptor, contextKey string) (any, error)

func (f FetcherFunc) Fetch(ctx context.Context, desc Descriptor, contextKey string) (any, error) {
	return f(ctx, desc, contextKey)
}

// HTTPFetcher fetches JSON snapshots from the bot API.
type HTTPFetcher struct {
	client  *resty.Client
	limiter *rate.Limiter
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		f.client.SetTimeout(d)
	}
}

// WithRateLimit throttles outbound requests shared by every feed using this
// fetcher. A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) FetcherOption {
	return func(f *HTTPFetcher) {
		if rps <= 0 {
			f.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewHTTPFetcher creates a fetcher rooted at baseURL.
func NewHTTPFetcher(baseURL string, opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(30 * time.Second).
			SetRetryCount(0).
			SetHeader("Accept", "application/json"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch issues GET for the resolved descriptor path and decodes the body.
func (f *HTTPFetcher) Fetch(ctx context.Context, desc Descriptor, contextKey string) (any, error) {
	path, err := desc.Resolve(contextKey)
	if err != nil {
		return nil, networkError(desc.Key, 0, err)
	}

	resp, err := f.do(ctx, http.MethodGet, path)
	if err != nil {
		return nil, networkError(desc.Key, 0, err)
	}
	if !resp.IsSuccess() {
		return nil, networkError(desc.Key, resp.StatusCode(), fmt.Errorf("unexpected status %s", resp.Status()))
	}

	snapshot, err := desc.Decode(resp.Body())
	if err != nil {
		return nil, decodeError(desc.Key, err)
	}
	return snapshot, nil
}

// Post issues a body-less POST and returns the raw response. Used for
// one-shot actions such as closing a position; the caller interprets the body.
func (f *HTTPFetcher) Post(ctx context.Context, path string) (*resty.Response, error) {
	return f.do(ctx, http.MethodPost, path)
}

func (f *HTTPFetcher) do(ctx context.Context, method, path string) (*resty.Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	return f.client.R().SetContext(ctx).Execute(method, path)
}
