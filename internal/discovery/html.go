package discovery

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pepwatch/ingest-cli/internal/model"
)

const staticSourceName = "html_static"

// Extractor runs a layered cascade over fetched HTML: embedded SPA state
// blobs, then JSON-LD, then CSS product cards, then bare anchor text. Each
// layer is more error-prone than the previous, so the first layer producing
// enough priced offers wins.
type Extractor struct {
	minOffers int
}

// NewExtractor creates an Extractor. minOffers is the acceptance threshold
// per layer.
func NewExtractor(minOffers int) *Extractor {
	if minOffers <= 0 {
		minOffers = 3
	}
	return &Extractor{minOffers: minOffers}
}

// candidate is a pre-filter product sighting from one layer.
type candidate struct {
	name      string
	url       string
	cents     int64
	available bool
}

type layerFn struct {
	name string
	fn   func(doc *goquery.Document) []candidate
}

// Extract parses HTML into offers. invalidPricing is set when some layer
// found enough product listings but every price parsed to zero.
func (e *Extractor) Extract(htmlBody string, target model.ScrapeTarget) (offers []model.ExtractedOffer, layer string, invalidPricing bool, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return nil, "", false, eris.Wrap(err, "html: parse document")
	}

	layers := []layerFn{
		{"spa_state", e.spaStateLayer},
		{"json_ld", e.jsonLDLayer},
		{"css_cards", e.cssCardLayer},
		{"anchors", e.anchorLayer},
	}

	for _, l := range layers {
		cands := l.fn(doc)
		if len(cands) < e.minOffers {
			continue
		}
		priced := make([]candidate, 0, len(cands))
		for _, c := range cands {
			if c.cents > 0 {
				priced = append(priced, c)
			}
		}
		if len(priced) == 0 {
			// Listings without a single parseable price point to a broken
			// payload, not an empty catalog.
			invalidPricing = true
			continue
		}
		if len(priced) < e.minOffers {
			continue
		}
		zap.L().Debug("html layer accepted",
			zap.String("layer", l.name),
			zap.Int("offers", len(priced)),
		)
		return e.toOffers(priced, target), l.name, false, nil
	}
	return nil, "", invalidPricing, nil
}

func (e *Extractor) toOffers(cands []candidate, target model.ScrapeTarget) []model.ExtractedOffer {
	seen := make(map[string]bool, len(cands))
	offers := make([]model.ExtractedOffer, 0, len(cands))
	for _, c := range cands {
		u := resolveURL(target.PageURL, c.url)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		offers = append(offers, model.ExtractedOffer{
			VendorID:        target.VendorID,
			VendorPageID:    target.VendorPageID,
			PageURL:         target.PageURL,
			ProductURL:      u,
			ProductName:     c.name,
			CompoundRawName: c.name,
			CurrencyCode:    "USD",
			ListPriceCents:  c.cents,
			Available:       c.available,
		})
	}
	return offers
}

// spaStateLayer digs product-shaped objects out of embedded client-side
// state: __NEXT_DATA__, window.__INITIAL_STATE__, __NUXT__ and friends.
func (e *Extractor) spaStateLayer(doc *goquery.Document) []candidate {
	var cands []candidate
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		id, _ := s.Attr("id")
		typ, _ := s.Attr("type")

		var blob string
		switch {
		case id == "__NEXT_DATA__" || typ == "application/json":
			blob = text
		case strings.Contains(text, "window.__INITIAL_STATE__") ||
			strings.Contains(text, "window.__NUXT__"):
			blob = jsonAfterAssignment(text)
		default:
			return
		}
		if blob == "" {
			return
		}
		var v any
		if err := json.Unmarshal([]byte(blob), &v); err != nil {
			return
		}
		cands = append(cands, scanForProducts(v, 0)...)
	})
	return cands
}

// jsonAfterAssignment extracts the JSON object literal after the first "="
// in a state-assignment script. Only plain object literals are handled;
// function-wrapped state is skipped.
func jsonAfterAssignment(script string) string {
	idx := strings.Index(script, "=")
	if idx < 0 {
		return ""
	}
	rest := strings.TrimSpace(script[idx+1:])
	if !strings.HasPrefix(rest, "{") {
		return ""
	}
	depth := 0
	for i, r := range rest {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return rest[:i+1]
			}
		}
	}
	return ""
}

const maxScanDepth = 12

// scanForProducts walks decoded JSON looking for objects that carry both a
// product name and a price.
func scanForProducts(v any, depth int) []candidate {
	if depth > maxScanDepth {
		return nil
	}
	switch t := v.(type) {
	case []any:
		var cands []candidate
		for _, item := range t {
			cands = append(cands, scanForProducts(item, depth+1)...)
		}
		return cands
	case map[string]any:
		if c, ok := productFromMap(t); ok {
			return []candidate{c}
		}
		var cands []candidate
		for _, item := range t {
			cands = append(cands, scanForProducts(item, depth+1)...)
		}
		return cands
	default:
		return nil
	}
}

func productFromMap(m map[string]any) (candidate, bool) {
	name := firstString(m, "name", "title", "product_name")
	if name == "" {
		return candidate{}, false
	}
	cents := priceFromAny(m["price"])
	if cents == 0 {
		if prices, ok := m["prices"].(map[string]any); ok {
			cents = priceFromAny(prices["price"])
		}
	}
	u := firstString(m, "url", "permalink", "link", "href")
	if h := firstString(m, "handle"); u == "" && h != "" {
		u = "/products/" + h
	}
	if u == "" && cents == 0 {
		return candidate{}, false
	}
	avail := true
	if b, ok := m["is_in_stock"].(bool); ok {
		avail = b
	} else if b, ok := m["available"].(bool); ok {
		avail = b
	}
	return candidate{name: name, url: u, cents: cents, available: avail}, true
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func priceFromAny(v any) int64 {
	switch t := v.(type) {
	case string:
		if strings.Contains(t, ".") {
			return parseDecimalCents(t)
		}
		// Bare integer strings from storefront APIs are minor units.
		return parseMinorUnits(t, 2)
	case float64:
		if t <= 0 {
			return 0
		}
		if t == float64(int64(t)) && t >= 1000 {
			// Large integral values are already minor units.
			return int64(t)
		}
		return int64(t*100 + 0.5)
	default:
		return 0
	}
}

// jsonLDLayer reads schema.org Product / ItemList annotations.
func (e *Extractor) jsonLDLayer(doc *goquery.Document) []candidate {
	var cands []candidate
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(s.Text()), &v); err != nil {
			return
		}
		cands = append(cands, ldProducts(v, 0)...)
	})
	return cands
}

func ldProducts(v any, depth int) []candidate {
	if depth > 6 {
		return nil
	}
	switch t := v.(type) {
	case []any:
		var cands []candidate
		for _, item := range t {
			cands = append(cands, ldProducts(item, depth+1)...)
		}
		return cands
	case map[string]any:
		typ, _ := t["@type"].(string)
		switch typ {
		case "Product":
			if c, ok := ldProduct(t); ok {
				return []candidate{c}
			}
			return nil
		case "ItemList":
			return ldProducts(t["itemListElement"], depth+1)
		case "ListItem":
			return ldProducts(t["item"], depth+1)
		}
		if graph, ok := t["@graph"]; ok {
			return ldProducts(graph, depth+1)
		}
		return nil
	default:
		return nil
	}
}

func ldProduct(m map[string]any) (candidate, bool) {
	name, _ := m["name"].(string)
	if name == "" {
		return candidate{}, false
	}
	c := candidate{name: name, available: true}
	if u, ok := m["url"].(string); ok {
		c.url = u
	}

	offer, _ := m["offers"].(map[string]any)
	if offer == nil {
		if arr, ok := m["offers"].([]any); ok && len(arr) > 0 {
			offer, _ = arr[0].(map[string]any)
		}
	}
	if offer != nil {
		switch p := offer["price"].(type) {
		case string:
			c.cents = parseDecimalCents(p)
		case float64:
			c.cents = int64(p*100 + 0.5)
		}
		if av, ok := offer["availability"].(string); ok {
			c.available = !strings.Contains(av, "OutOfStock")
		}
		if c.url == "" {
			if u, ok := offer["url"].(string); ok {
				c.url = u
			}
		}
	}
	return c, true
}

// cssCardLayer applies storefront-theme card heuristics.
func (e *Extractor) cssCardLayer(doc *goquery.Document) []candidate {
	selectors := []string{
		"li.product",
		".product-card",
		".product-item",
		".product-grid-item",
		"div.product",
	}
	var cands []candidate
	for _, sel := range selectors {
		doc.Find(sel).Each(func(_ int, card *goquery.Selection) {
			name := strings.TrimSpace(card.Find("h1, h2, h3, .product-title, .woocommerce-loop-product__title").First().Text())
			if name == "" {
				name = strings.TrimSpace(card.Find("a").First().Text())
			}
			if name == "" {
				return
			}
			href, _ := card.Find("a[href]").First().Attr("href")
			priceText := card.Find(".price, .product-price, [class*='price']").First().Text()
			if priceText == "" {
				priceText = card.Text()
			}
			cands = append(cands, candidate{
				name:      collapseWS(name),
				url:       href,
				cents:     extractPriceCents(priceText),
				available: !strings.Contains(strings.ToLower(card.Text()), "out of stock"),
			})
		})
		if len(cands) >= e.minOffers {
			return cands
		}
		cands = cands[:0]
	}
	return nil
}

// anchorLayer is the last-ditch static heuristic: product-path anchors with
// a price somewhere in the surrounding text.
func (e *Extractor) anchorLayer(doc *goquery.Document) []candidate {
	var cands []candidate
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !strings.Contains(href, "/product") && !strings.Contains(href, "/shop/") {
			return
		}
		if seen[href] {
			return
		}
		name := collapseWS(a.Text())
		if name == "" || len(name) > 160 {
			return
		}
		cents := extractPriceCents(name)
		if cents > 0 {
			// The anchor text itself carries the price; strip it from the name.
			name = collapseWS(priceTextRe.ReplaceAllString(name, ""))
		} else if parent := a.Parent(); parent != nil {
			cents = extractPriceCents(parent.Text())
		}
		if name == "" {
			return
		}
		seen[href] = true
		cands = append(cands, candidate{name: name, url: href, cents: cents, available: true})
	})
	return cands
}

func collapseWS(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolveURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return b.ResolveReference(r).String()
}

// StaticSource fetches the catalog page once and runs the extractor cascade.
type StaticSource struct {
	fetch     *Fetcher
	extractor *Extractor
}

// NewStaticSource creates a plain-HTML discovery source.
func NewStaticSource(fetch *Fetcher, extractor *Extractor) *StaticSource {
	return &StaticSource{fetch: fetch, extractor: extractor}
}

func (s *StaticSource) Name() string { return staticSourceName }

func (s *StaticSource) Supports(_ model.ScrapeTarget, _ model.ScrapeMode) bool { return true }

func (s *StaticSource) Discover(ctx context.Context, target model.ScrapeTarget) ([]model.ExtractedOffer, error) {
	body, err := s.fetch.Get(ctx, target.PageURL)
	if err != nil {
		return nil, eris.Wrapf(err, "static: fetch %s", target.PageURL)
	}
	offers, _, invalidPricing, err := s.extractor.Extract(string(body), target)
	if err != nil {
		return nil, err
	}
	if len(offers) == 0 && invalidPricing {
		return nil, ErrInvalidPricing
	}
	return offers, nil
}
