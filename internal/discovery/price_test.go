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
)

func TestParseDecimalCents(t *testing.T) {
	assert.Equal(t, int64(2999), parseDecimalCents("29.99"))
	assert.Equal(t, int64(129900), parseDecimalCents("1,299.00"))
	assert.Equal(t, int64(5000), parseDecimalCents("50"))
	assert.Equal(t, int64(0), parseDecimalCents(""))
	assert.Equal(t, int64(0), parseDecimalCents("free"))
	assert.Equal(t, int64(0), parseDecimalCents("-5.00"))
}

func TestParseMinorUnits(t *testing.T) {
	assert.Equal(t, int64(2999), parseMinorUnits("2999", 2))
	assert.Equal(t, int64(2999), parseMinorUnits("2999", 0))
	assert.Equal(t, int64(2990), parseMinorUnits("299", 1))
	assert.Equal(t, int64(29), parseMinorUnits("29999", 5))
	assert.Equal(t, int64(0), parseMinorUnits("abc", 2))
}

func TestExtractPriceCents(t *testing.T) {
	assert.Equal(t, int64(5999), extractPriceCents("Sale! $59.99 – $299.00"))
	assert.Equal(t, int64(4500), extractPriceCents("€ 45.00"))
	assert.Equal(t, int64(1050), extractPriceCents("£10.50 per vial"))
	assert.Equal(t, int64(0), extractPriceCents("call for pricing"))
}

func TestFetcherRetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "upstream sad", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewFetcher(config.DiscoveryConfig{
		TimeoutSecs:       5,
		RequestsPerSecond: 1000,
		Burst:             1000,
		FetchRetries:      3,
	})
	body, err := f.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetcherDoesNotRetryDefinitiveStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	f := testFetcher()
	_, err := f.Get(context.Background(), srv.URL)
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusGone, statusErr.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetcherSendsUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pepwatch-test/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	_, err := testFetcher().Get(context.Background(), srv.URL)
	require.NoError(t, err)
}
