package discovery

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pepwatch/ingest-cli/internal/config"
	"github.com/pepwatch/ingest-cli/internal/resilience"
)

const maxBodyBytes = 8 << 20

// StatusError reports a non-2xx response that is not worth retrying.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return eris.Errorf("http %d from %s", e.StatusCode, e.URL).Error()
}

// Fetcher is a rate-limited, retrying HTTP getter shared by all discovery
// sources. One limiter per origin keeps concurrent targets on the same
// storefront from hammering it.
type Fetcher struct {
	client    *http.Client
	userAgent string
	retries   int

	perOrigin rate.Limit
	burst     int
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewFetcher builds a Fetcher from discovery config.
func NewFetcher(cfg config.DiscoveryConfig) *Fetcher {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 2
	}
	retries := cfg.FetchRetries
	if retries <= 0 {
		retries = 3
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout, Transport: transport},
		userAgent: cfg.UserAgent,
		retries:   retries,
		perOrigin: rate.Limit(rps),
		burst:     burst,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (f *Fetcher) limiterFor(origin string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limiters[origin]; ok {
		return lim
	}
	lim := rate.NewLimiter(f.perOrigin, f.burst)
	f.limiters[origin] = lim
	return lim
}

// Get fetches a URL with per-origin rate limiting and linear-backoff retries
// on transient failures. A definitive non-2xx status returns a *StatusError
// without retrying.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	cfg := resilience.FetchRetryConfig(f.retries)
	cfg.OnRetry = resilience.RetryLogger("fetch", rawURL)

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		if origin := originOf(rawURL); origin != "" {
			if err := f.limiterFor(origin).Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "fetch: rate limiter wait")
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "fetch: build request for %s", rawURL)
		}
		if f.userAgent != "" {
			req.Header.Set("User-Agent", f.userAgent)
		}
		req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(
				eris.Wrapf(err, "fetch: get %s", rawURL), 0)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			statusErr := &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
			}
			return nil, statusErr
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, resilience.NewTransientError(
				eris.Wrapf(err, "fetch: read body of %s", rawURL), 0)
		}
		zap.L().Debug("fetched",
			zap.String("url", rawURL),
			zap.Int("bytes", len(body)),
		)
		return body, nil
	})
}
