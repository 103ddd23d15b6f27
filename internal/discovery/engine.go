package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pepwatch/ingest-cli/internal/config"
	"github.com/pepwatch/ingest-cli/internal/model"
	"github.com/pepwatch/ingest-cli/pkg/renderfetch"
)

// Result is the outcome of one target's discovery cascade.
type Result struct {
	Offers   []model.ExtractedOffer
	Attempts []model.DiscoveryAttempt
	// Source names the source that produced the offers, "" when none did.
	Source string
	// InvalidPricing is set when some source saw product listings whose
	// prices all parsed to zero. Distinguishes a broken payload from a
	// genuinely empty page.
	InvalidPricing bool
}

// Engine runs the source cascade for one target: strictly ordered, stopping
// at the first source that yields at least one offer.
type Engine struct {
	sources []Source
}

// NewEngine assembles the standard cascade from config. renderClient may be
// nil (no API key), which disables the render-and-fetch fallback.
func NewEngine(cfg config.DiscoveryConfig, renderClient renderfetch.Client) *Engine {
	fetch := NewFetcher(cfg)
	cache := NewProbeCache()
	extractor := NewExtractor(cfg.MinCardOffers)
	headlessTimeout := time.Duration(cfg.HeadlessTimeout) * time.Second

	return &Engine{sources: []Source{
		NewWooSource(fetch, cache, cfg.MaxAPIPages),
		NewShopifySource(fetch, cache, cfg.MaxAPIPages),
		NewStaticSource(fetch, extractor),
		NewRenderSource(renderClient, extractor),
		NewHeadlessSource(extractor, cfg.UserAgent, headlessTimeout),
	}}
}

// NewEngineWithSources builds an engine over an explicit source list.
func NewEngineWithSources(sources ...Source) *Engine {
	return &Engine{sources: sources}
}

// Discover runs the cascade. A nil error with zero offers means every
// applicable source worked but the page is empty.
func (e *Engine) Discover(ctx context.Context, target model.ScrapeTarget, mode model.ScrapeMode) (*Result, error) {
	return e.run(ctx, target, mode, e.sources)
}

// DiscoverFallback renders the target in the headless browser and nothing
// else. This is the divert path for robots-disallowed targets: one rendered
// page load, with the API probes and static fetches kept off the origin.
func (e *Engine) DiscoverFallback(ctx context.Context, target model.ScrapeTarget) (*Result, error) {
	var fallback []Source
	for _, src := range e.sources {
		if src.Name() == headlessSourceName {
			fallback = append(fallback, src)
		}
	}
	return e.run(ctx, target, model.ScrapeModeAggressive, fallback)
}

func (e *Engine) run(ctx context.Context, target model.ScrapeTarget, mode model.ScrapeMode, sources []Source) (*Result, error) {
	res := &Result{}

	for _, src := range sources {
		if !src.Supports(target, mode) {
			continue
		}
		if ctx.Err() != nil {
			return res, eris.Wrap(ctx.Err(), "discovery: cascade aborted")
		}

		start := time.Now()
		offers, err := src.Discover(ctx, target)
		attempt := model.DiscoveryAttempt{
			Source:     src.Name(),
			Success:    err == nil,
			OfferCount: len(offers),
			DurationMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			attempt.Error = err.Error()
		}
		res.Attempts = append(res.Attempts, attempt)

		switch {
		case err == nil && len(offers) > 0:
			res.Offers = offers
			res.Source = src.Name()
			zap.L().Info("discovery: source succeeded",
				zap.String("source", src.Name()),
				zap.String("page_url", target.PageURL),
				zap.Int("offers", len(offers)),
				zap.Int64("duration_ms", attempt.DurationMs),
			)
			return res, nil
		case errors.Is(err, ErrInvalidPricing):
			res.InvalidPricing = true
		case errors.Is(err, ErrUnsupported):
			// Expected for most origins; not worth a log line per target.
		case err != nil:
			zap.L().Debug("discovery: source failed, trying next",
				zap.String("source", src.Name()),
				zap.String("page_url", target.PageURL),
				zap.Error(err),
			)
		}
	}

	return res, nil
}
