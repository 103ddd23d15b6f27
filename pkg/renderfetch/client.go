// Package renderfetch provides a client for a hosted render-and-fetch API:
// given a URL, it returns the page's final HTML after JS execution.
package renderfetch

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pepwatch/ingest-cli/internal/resilience"
)

// Client fetches rendered HTML for a URL.
type Client interface {
	Render(ctx context.Context, targetURL string) (string, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a render-and-fetch client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://r.jina.ai",
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Render fetches the final HTML for targetURL through the render API.
func (c *httpClient) Render(ctx context.Context, targetURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+targetURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "renderfetch: create request")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	// Ask the service for raw post-JS HTML rather than markdown.
	req.Header.Set("X-Return-Format", "html")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "renderfetch: request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", eris.Wrap(err, "renderfetch: read body")
	}

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return "", resilience.NewTransientError(
			eris.Errorf("renderfetch: status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("renderfetch: status %d", resp.StatusCode)
	}
	if len(body) == 0 {
		return "", eris.New("renderfetch: empty body")
	}
	return string(body), nil
}
