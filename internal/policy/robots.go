// Package policy implements the crawl-policy gate: a robots.txt check with
// per-origin caching for the duration of a run.
package policy

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/pepwatch/ingest-cli/internal/config"
	"github.com/pepwatch/ingest-cli/internal/model"
)

// Gate checks targets against each origin's robots.txt. Robots is treated as
// advisory: if the file cannot be fetched or returns non-2xx, the gate
// default-allows, so a misconfigured vendor site never silently drops out of
// the catalog.
type Gate struct {
	userAgent string
	client    *http.Client

	mu    sync.Mutex
	cache map[string]*robotstxt.Group // origin → matched group, nil = allow-all
}

// NewGate creates a Gate. The cache lives as long as the Gate; create one
// per run.
func NewGate(cfg config.PolicyConfig) *Gate {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "PepwatchBot"
	}
	return &Gate{
		userAgent: ua,
		client:    &http.Client{Timeout: timeout},
		cache:     make(map[string]*robotstxt.Group),
	}
}

// Allowed reports whether the target's page path may be fetched. A target
// with AllowAggressive set is exempt when the run is in aggressive mode.
func (g *Gate) Allowed(ctx context.Context, target model.ScrapeTarget, mode model.ScrapeMode) (bool, error) {
	if mode == model.ScrapeModeAggressive && target.AllowAggressive {
		return true, nil
	}

	u, err := url.Parse(target.PageURL)
	if err != nil {
		return false, eris.Wrapf(err, "policy: parse page url %s", target.PageURL)
	}
	origin := u.Scheme + "://" + u.Host

	group, err := g.group(ctx, origin)
	if err != nil {
		// Default-allow: robots is advisory, not a hard block.
		zap.L().Debug("policy: robots fetch failed, default-allow",
			zap.String("origin", origin),
			zap.Error(err),
		)
		return true, nil
	}
	if group == nil {
		return true, nil
	}
	path := u.Path
	if u.RawQuery != "" {
		// Rules like "Disallow: /shop?sort=" match against path+query.
		path += "?" + u.RawQuery
	}
	return group.Test(path), nil
}

// group fetches and caches the robots group for an origin. A nil group with
// nil error means the origin imposes no rules for our agent.
func (g *Gate) group(ctx context.Context, origin string) (*robotstxt.Group, error) {
	g.mu.Lock()
	if group, ok := g.cache[origin]; ok {
		g.mu.Unlock()
		return group, nil
	}
	g.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, eris.Wrap(err, "policy: create robots request")
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "policy: fetch robots.txt")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, eris.Errorf("policy: robots.txt status %d", resp.StatusCode)
	}

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, eris.Wrap(err, "policy: parse robots.txt")
	}
	group := data.FindGroup(g.userAgent)

	g.mu.Lock()
	g.cache[origin] = group
	g.mu.Unlock()

	return group, nil
}
