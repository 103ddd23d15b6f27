package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pepwatch/ingest-cli/internal/model"
	"github.com/pepwatch/ingest-cli/internal/resilience"
)

const (
	shopifySourceName = "shopify_api"
	shopifyPerPage    = 250
)

type shopifyProduct struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Handle   string `json:"handle"`
	Variants []struct {
		ID        int64  `json:"id"`
		Title     string `json:"title"`
		Price     string `json:"price"`
		Available bool   `json:"available"`
	} `json:"variants"`
}

// ShopifySource probes the public /products.json catalog endpoint. Same
// per-origin caching and definitive-4xx rules as the WooCommerce probe.
type ShopifySource struct {
	fetch    *Fetcher
	cache    *ProbeCache
	maxPages int
}

// NewShopifySource creates a Shopify products.json source.
func NewShopifySource(fetch *Fetcher, cache *ProbeCache, maxPages int) *ShopifySource {
	if maxPages <= 0 {
		maxPages = 3
	}
	return &ShopifySource{fetch: fetch, cache: cache, maxPages: maxPages}
}

func (s *ShopifySource) Name() string { return shopifySourceName }

func (s *ShopifySource) Supports(target model.ScrapeTarget, _ model.ScrapeMode) bool {
	return originOf(target.PageURL) != ""
}

func (s *ShopifySource) Discover(ctx context.Context, target model.ScrapeTarget) ([]model.ExtractedOffer, error) {
	origin := originOf(target.PageURL)

	if offers, unsupported, ok := s.cache.Lookup(shopifySourceName, origin); ok {
		if unsupported {
			return nil, ErrUnsupported
		}
		return bindOffers(offers, target), nil
	}

	var offers []model.ExtractedOffer
	for page := 1; page <= s.maxPages; page++ {
		u := fmt.Sprintf("%s/products.json?limit=%d&page=%d", origin, shopifyPerPage, page)
		body, err := s.fetch.Get(ctx, u)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && page == 1 &&
				resilience.IsDefinitiveHTTPStatus(statusErr.StatusCode) {
				s.cache.MarkUnsupported(shopifySourceName, origin)
				return nil, ErrUnsupported
			}
			return nil, eris.Wrapf(err, "shopify: page %d of %s", page, origin)
		}

		var payload struct {
			Products []shopifyProduct `json:"products"`
		}
		if err := json.Unmarshal(body, &payload); err != nil || (page == 1 && payload.Products == nil) {
			if page == 1 {
				s.cache.MarkUnsupported(shopifySourceName, origin)
				return nil, ErrUnsupported
			}
			return nil, eris.Wrapf(err, "shopify: decode page %d of %s", page, origin)
		}

		for _, p := range payload.Products {
			if p.Title == "" || p.Handle == "" {
				continue
			}
			productURL := fmt.Sprintf("%s/products/%s", origin, p.Handle)
			raw, _ := json.Marshal(p)
			for _, v := range p.Variants {
				name := p.Title
				if v.Title != "" && v.Title != "Default Title" {
					name = p.Title + " " + v.Title
				}
				offerURL := productURL
				if len(p.Variants) > 1 {
					offerURL = fmt.Sprintf("%s?variant=%d", productURL, v.ID)
				}
				offers = append(offers, model.ExtractedOffer{
					ProductURL:      offerURL,
					ProductName:     name,
					CompoundRawName: p.Title,
					CurrencyCode:    "USD",
					ListPriceCents:  parseDecimalCents(v.Price),
					Available:       v.Available,
					RawPayload:      string(raw),
				})
			}
		}
		if len(payload.Products) < shopifyPerPage {
			break
		}
	}

	if allZeroPriced(offers) {
		return nil, ErrInvalidPricing
	}

	zap.L().Debug("shopify probe complete",
		zap.String("origin", origin),
		zap.Int("offers", len(offers)),
	)
	s.cache.StoreOffers(shopifySourceName, origin, offers)
	return bindOffers(offers, target), nil
}
