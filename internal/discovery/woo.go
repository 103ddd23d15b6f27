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
	wooSourceName = "woocommerce_api"
	wooPerPage    = 100
)

// wooProduct is the subset of the WooCommerce Store API product shape we
// consume. Prices arrive as minor-unit strings ("2999" for $29.99).
type wooProduct struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Permalink string `json:"permalink"`
	IsInStock bool   `json:"is_in_stock"`
	Prices    struct {
		Price             string `json:"price"`
		CurrencyCode      string `json:"currency_code"`
		CurrencyMinorUnit int    `json:"currency_minor_unit"`
	} `json:"prices"`
}

// WooSource probes the WooCommerce Store API
// (/wp-json/wc/store/v1/products). Cheapest and most reliable source when
// the vendor runs WooCommerce, which most peptide storefronts do.
type WooSource struct {
	fetch    *Fetcher
	cache    *ProbeCache
	maxPages int
}

// NewWooSource creates a WooCommerce Store API source.
func NewWooSource(fetch *Fetcher, cache *ProbeCache, maxPages int) *WooSource {
	if maxPages <= 0 {
		maxPages = 3
	}
	return &WooSource{fetch: fetch, cache: cache, maxPages: maxPages}
}

func (s *WooSource) Name() string { return wooSourceName }

func (s *WooSource) Supports(target model.ScrapeTarget, _ model.ScrapeMode) bool {
	return originOf(target.PageURL) != ""
}

func (s *WooSource) Discover(ctx context.Context, target model.ScrapeTarget) ([]model.ExtractedOffer, error) {
	origin := originOf(target.PageURL)

	if offers, unsupported, ok := s.cache.Lookup(wooSourceName, origin); ok {
		if unsupported {
			return nil, ErrUnsupported
		}
		return bindOffers(offers, target), nil
	}

	var offers []model.ExtractedOffer
	for page := 1; page <= s.maxPages; page++ {
		u := fmt.Sprintf("%s/wp-json/wc/store/v1/products?per_page=%d&page=%d",
			origin, wooPerPage, page)
		body, err := s.fetch.Get(ctx, u)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && page == 1 &&
				resilience.IsDefinitiveHTTPStatus(statusErr.StatusCode) {
				// A definitive 4xx on the first page means no Store API at
				// this origin; stop probing it for the rest of the run. A
				// transient status that survived retries settles nothing
				// and must not poison the origin cache.
				s.cache.MarkUnsupported(wooSourceName, origin)
				return nil, ErrUnsupported
			}
			return nil, eris.Wrapf(err, "woo: page %d of %s", page, origin)
		}

		var products []wooProduct
		if err := json.Unmarshal(body, &products); err != nil {
			if page == 1 {
				// Some sites answer 200 with an HTML error page.
				s.cache.MarkUnsupported(wooSourceName, origin)
				return nil, ErrUnsupported
			}
			return nil, eris.Wrapf(err, "woo: decode page %d of %s", page, origin)
		}

		for _, p := range products {
			if p.Name == "" || p.Permalink == "" {
				continue
			}
			raw, _ := json.Marshal(p)
			offers = append(offers, model.ExtractedOffer{
				ProductURL:      p.Permalink,
				ProductName:     p.Name,
				CompoundRawName: p.Name,
				CurrencyCode:    orDefault(p.Prices.CurrencyCode, "USD"),
				ListPriceCents:  parseMinorUnits(p.Prices.Price, p.Prices.CurrencyMinorUnit),
				Available:       p.IsInStock,
				RawPayload:      string(raw),
			})
		}
		if len(products) < wooPerPage {
			break
		}
	}

	if allZeroPriced(offers) {
		// Listings without a single parseable price are a broken payload,
		// same rule as the HTML layers. Not cached, so a later target on
		// the origin re-probes.
		return nil, ErrInvalidPricing
	}

	zap.L().Debug("woo probe complete",
		zap.String("origin", origin),
		zap.Int("offers", len(offers)),
	)
	s.cache.StoreOffers(wooSourceName, origin, offers)
	return bindOffers(offers, target), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
