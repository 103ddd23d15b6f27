package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepwatch/ingest-cli/internal/config"
	"github.com/pepwatch/ingest-cli/internal/model"
)

func testFetcher() *Fetcher {
	return NewFetcher(config.DiscoveryConfig{
		UserAgent:         "pepwatch-test/1.0",
		TimeoutSecs:       5,
		RequestsPerSecond: 1000,
		Burst:             1000,
		FetchRetries:      1,
	})
}

func targetFor(srvURL string) model.ScrapeTarget {
	return model.ScrapeTarget{
		VendorPageID: 10,
		VendorID:     1,
		VendorName:   "Acme Peptides",
		PageURL:      srvURL + "/shop",
	}
}

func TestWooSourceParsesStoreAPI(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/wp-json/wc/store/v1/products", r.URL.Path)
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") != "1" {
			_, _ = w.Write([]byte("[]"))
			return
		}
		page := `[
  {"id": 1, "name": "BPC-157 10mg", "permalink": "https://acme.example/product/bpc-157",
   "is_in_stock": true,
   "prices": {"price": "4999", "currency_code": "USD", "currency_minor_unit": 2}},
  {"id": 2, "name": "Semaglutide 5mg", "permalink": "https://acme.example/product/semaglutide",
   "is_in_stock": false,
   "prices": {"price": "12900", "currency_code": "USD", "currency_minor_unit": 2}}
]`
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	src := NewWooSource(testFetcher(), NewProbeCache(), 3)
	offers, err := src.Discover(context.Background(), targetFor(srv.URL))
	require.NoError(t, err)
	require.Len(t, offers, 2)

	assert.Equal(t, "BPC-157 10mg", offers[0].ProductName)
	assert.Equal(t, int64(4999), offers[0].ListPriceCents)
	assert.True(t, offers[0].Available)
	assert.Equal(t, int64(1), offers[0].VendorID)
	assert.Equal(t, int64(10), offers[0].VendorPageID)

	assert.False(t, offers[1].Available)
	assert.Equal(t, int64(12900), offers[1].ListPriceCents)
	assert.Equal(t, int32(1), hits.Load(), "short page should stop pagination")
}

func TestWooSourceDefinitive404MarksOriginUnsupported(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	cache := NewProbeCache()
	src := NewWooSource(testFetcher(), cache, 3)

	_, err := src.Discover(context.Background(), targetFor(srv.URL))
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, int32(1), hits.Load())

	// Second target on the same origin: the cached marker answers without
	// another probe.
	target2 := targetFor(srv.URL)
	target2.VendorPageID = 11
	_, err = src.Discover(context.Background(), target2)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, int32(1), hits.Load())
}

func TestWooSourceTransient503DoesNotMarkUnsupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cache := NewProbeCache()
	src := NewWooSource(testFetcher(), cache, 3)

	_, err := src.Discover(context.Background(), targetFor(srv.URL))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupported)

	// An outage is not a verdict on the origin; nothing is cached.
	_, unsupported, ok := cache.Lookup(wooSourceName, srv.URL)
	assert.False(t, ok)
	assert.False(t, unsupported)
}

func TestWooSourceAllZeroPricesIsInvalidPricing(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`[
  {"id":1,"name":"BPC-157 10mg","permalink":"https://acme.example/product/bpc-157",
   "is_in_stock":true,"prices":{"price":"0","currency_code":"USD","currency_minor_unit":2}},
  {"id":2,"name":"TB-500 5mg","permalink":"https://acme.example/product/tb-500",
   "is_in_stock":true,"prices":{"price":"0","currency_code":"USD","currency_minor_unit":2}}
]`))
	}))
	defer srv.Close()

	cache := NewProbeCache()
	src := NewWooSource(testFetcher(), cache, 3)

	_, err := src.Discover(context.Background(), targetFor(srv.URL))
	assert.ErrorIs(t, err, ErrInvalidPricing)

	// The broken payload is not cached as good offers; the next target on
	// the origin probes again.
	target2 := targetFor(srv.URL)
	target2.VendorPageID = 11
	_, err = src.Discover(context.Background(), target2)
	assert.ErrorIs(t, err, ErrInvalidPricing)
	assert.Equal(t, int32(2), hits.Load())
}

func TestWooSourceHTMLBodyMarksUnsupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>teapot</body></html>"))
	}))
	defer srv.Close()

	src := NewWooSource(testFetcher(), NewProbeCache(), 3)
	_, err := src.Discover(context.Background(), targetFor(srv.URL))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestWooSourceCachesOffersPerOrigin(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`[{"id":1,"name":"TB-500 5mg","permalink":"https://acme.example/product/tb-500","is_in_stock":true,"prices":{"price":"5999","currency_code":"USD","currency_minor_unit":2}}]`))
	}))
	defer srv.Close()

	src := NewWooSource(testFetcher(), NewProbeCache(), 3)

	first, err := src.Discover(context.Background(), targetFor(srv.URL))
	require.NoError(t, err)
	require.Len(t, first, 1)

	target2 := targetFor(srv.URL)
	target2.VendorPageID = 99
	target2.PageURL = srv.URL + "/collections/peptides"
	second, err := src.Discover(context.Background(), target2)
	require.NoError(t, err)
	require.Len(t, second, 1)

	// Origin probed exactly once; the cached offers get rebound to the
	// second target's page identity.
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int64(99), second[0].VendorPageID)
	assert.Equal(t, target2.PageURL, second[0].PageURL)
}

func TestShopifySourceParsesProductsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/products.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"products":[
  {"id": 7, "title": "BPC-157", "handle": "bpc-157", "variants": [
    {"id": 70, "title": "5mg", "price": "39.99", "available": true},
    {"id": 71, "title": "10mg", "price": "59.99", "available": false}
  ]},
  {"id": 8, "title": "Retatrutide 10mg", "handle": "retatrutide", "variants": [
    {"id": 80, "title": "Default Title", "price": "129.00", "available": true}
  ]}
]}`))
	}))
	defer srv.Close()

	src := NewShopifySource(testFetcher(), NewProbeCache(), 3)
	offers, err := src.Discover(context.Background(), targetFor(srv.URL))
	require.NoError(t, err)
	require.Len(t, offers, 3)

	assert.Equal(t, "BPC-157 5mg", offers[0].ProductName)
	assert.Equal(t, int64(3999), offers[0].ListPriceCents)
	assert.Contains(t, offers[0].ProductURL, "/products/bpc-157?variant=70")
	assert.True(t, offers[0].Available)

	assert.Equal(t, "BPC-157 10mg", offers[1].ProductName)
	assert.False(t, offers[1].Available)

	// Single default variant keeps the bare product URL and product title.
	assert.Equal(t, "Retatrutide 10mg", offers[2].ProductName)
	assert.NotContains(t, offers[2].ProductURL, "variant=")
	assert.Equal(t, int64(12900), offers[2].ListPriceCents)
}

func TestShopifySourceAllZeroPricesIsInvalidPricing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"products":[
  {"id": 7, "title": "BPC-157", "handle": "bpc-157", "variants": [
    {"id": 70, "title": "5mg", "price": "0.00", "available": true},
    {"id": 71, "title": "10mg", "price": "0", "available": true}
  ]}
]}`))
	}))
	defer srv.Close()

	cache := NewProbeCache()
	src := NewShopifySource(testFetcher(), cache, 3)

	_, err := src.Discover(context.Background(), targetFor(srv.URL))
	assert.ErrorIs(t, err, ErrInvalidPricing)

	_, _, ok := cache.Lookup(shopifySourceName, srv.URL)
	assert.False(t, ok)
}

func TestShopifySourceNonCatalogJSONMarksUnsupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error": "no such shop"}`))
	}))
	defer srv.Close()

	src := NewShopifySource(testFetcher(), NewProbeCache(), 3)
	_, err := src.Discover(context.Background(), targetFor(srv.URL))
	assert.ErrorIs(t, err, ErrUnsupported)
}
