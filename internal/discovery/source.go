// Package discovery turns a vendor catalog page into extracted offers by
// trying progressively more expensive sources: storefront APIs first, then
// static HTML heuristics, then rendered fetches, then a headless browser.
package discovery

import (
	"context"
	"errors"
	"net/url"

	"github.com/pepwatch/ingest-cli/internal/model"
)

// ErrUnsupported signals that a source cannot serve this target's origin
// (no such API, definitive 4xx). The engine moves on to the next source.
var ErrUnsupported = errors.New("discovery: source unsupported for origin")

// ErrInvalidPricing signals that a source found product listings but every
// price parsed to zero. Zero prices are a broken payload, not free product.
var ErrInvalidPricing = errors.New("discovery: listings present but prices unparseable")

// Source is one strategy for extracting offers from a target.
type Source interface {
	// Name identifies the source in attempt logs and run summaries.
	Name() string
	// Supports reports whether the source should be tried for this target
	// under the given scrape mode.
	Supports(target model.ScrapeTarget, mode model.ScrapeMode) bool
	// Discover extracts offers from the target. An empty slice with a nil
	// error means the source worked but found nothing.
	Discover(ctx context.Context, target model.ScrapeTarget) ([]model.ExtractedOffer, error)
}

// originOf returns the scheme://host origin of a URL, or "" when unparseable.
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// allZeroPriced reports whether listings exist but every price parsed to
// zero. Storefronts that hide prices behind a login produce such payloads.
func allZeroPriced(offers []model.ExtractedOffer) bool {
	if len(offers) == 0 {
		return false
	}
	for _, o := range offers {
		if o.ListPriceCents > 0 {
			return false
		}
	}
	return true
}

// bindOffers stamps target identity onto offers that came from an
// origin-level cache (origin-wide API payloads carry no page binding).
func bindOffers(offers []model.ExtractedOffer, target model.ScrapeTarget) []model.ExtractedOffer {
	bound := make([]model.ExtractedOffer, len(offers))
	for i, o := range offers {
		o.VendorID = target.VendorID
		o.VendorPageID = target.VendorPageID
		o.PageURL = target.PageURL
		bound[i] = o
	}
	return bound
}
