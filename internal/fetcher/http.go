package fetcher

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/hunter-cli/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher. Zero fields take defaults.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	Retry     resilience.RetryConfig
	Limiter   *rate.Limiter
}

// HTTPFetcher downloads exports published over HTTP(S). Requests share one
// rate limiter; network errors and 408/429/5xx responses are retried.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "hunter-cli/1.0"
	}
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(5, 5)
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = resilience.DefaultRetryConfig()
		opts.Retry.InitialBackoff = time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts: opts,
	}
}

// Download GETs rawURL and returns the body of a 200 response.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "http: build request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	retry := f.opts.Retry
	retry.OnRetry = func(attempt int, err error) {
		zap.L().Warn("http download failed, retrying",
			zap.String("component", "fetcher"),
			zap.String("host", req.URL.Host),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*http.Response, error) {
		return f.get(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrap(err, "http: download")
	}
	return resp.Body, nil
}

// get performs one attempt. Failures worth another attempt come back as
// resilience.TransientError.
func (f *HTTPFetcher) get(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := f.opts.Limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}

	resp, err := f.client.Do(req.Clone(ctx))
	if err != nil {
		return nil, resilience.NewTransientError(err, 0)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	_ = resp.Body.Close()
	statusErr := eris.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL.Host)
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
	}
	return nil, statusErr
}
