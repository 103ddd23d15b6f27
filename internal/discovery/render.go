package discovery

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/pepwatch/ingest-cli/internal/model"
	"github.com/pepwatch/ingest-cli/pkg/renderfetch"
)

const renderSourceName = "render_fetch"

// RenderSource asks the third-party render-and-fetch API for a fully
// rendered page and runs the extractor cascade on the result. Used when the
// static fetch produced nothing, which usually means a client-rendered
// storefront.
type RenderSource struct {
	client    renderfetch.Client
	extractor *Extractor
}

// NewRenderSource creates a render-and-fetch source. client may come back
// nil from the factory when no API key is configured; callers skip the
// source in that case.
func NewRenderSource(client renderfetch.Client, extractor *Extractor) *RenderSource {
	return &RenderSource{client: client, extractor: extractor}
}

func (s *RenderSource) Name() string { return renderSourceName }

func (s *RenderSource) Supports(_ model.ScrapeTarget, _ model.ScrapeMode) bool {
	return s.client != nil
}

func (s *RenderSource) Discover(ctx context.Context, target model.ScrapeTarget) ([]model.ExtractedOffer, error) {
	html, err := s.client.Render(ctx, target.PageURL)
	if err != nil {
		return nil, eris.Wrapf(err, "render: %s", target.PageURL)
	}
	offers, _, invalidPricing, err := s.extractor.Extract(html, target)
	if err != nil {
		return nil, err
	}
	if len(offers) == 0 && invalidPricing {
		return nil, ErrInvalidPricing
	}
	return offers, nil
}
