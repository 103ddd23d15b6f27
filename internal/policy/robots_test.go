package policy

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

func testGate() *Gate {
	return NewGate(config.PolicyConfig{UserAgent: "PepwatchBot", TimeoutSecs: 5})
}

func targetFor(srv *httptest.Server, path string) model.ScrapeTarget {
	return model.ScrapeTarget{
		VendorPageID: 1,
		VendorID:     1,
		WebsiteURL:   srv.URL,
		PageURL:      srv.URL + path,
	}
}

func TestAllowedWhenRobotsPermits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /admin/\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ok, err := testGate().Allowed(context.Background(), targetFor(srv, "/shop/peptides"), model.ScrapeModeStandard)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDisallowedPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /shop/\n"))
			return
		}
	}))
	defer srv.Close()

	ok, err := testGate().Allowed(context.Background(), targetFor(srv, "/shop/peptides"), model.ScrapeModeStandard)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisallowedQueryPattern(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /shop?sort=\n"))
			return
		}
	}))
	defer srv.Close()

	gate := testGate()

	ok, err := gate.Allowed(context.Background(), targetFor(srv, "/shop?sort=price"), model.ScrapeModeStandard)
	require.NoError(t, err)
	assert.False(t, ok)

	// The bare path carries no query and stays allowed.
	ok, err = gate.Allowed(context.Background(), targetFor(srv, "/shop"), model.ScrapeModeStandard)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDefaultAllowOnFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ok, err := testGate().Allowed(context.Background(), targetFor(srv, "/shop"), model.ScrapeModeStandard)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDefaultAllowOnUnreachableOrigin(t *testing.T) {
	ok, err := testGate().Allowed(context.Background(), model.ScrapeTarget{
		PageURL: "http://127.0.0.1:1/shop",
	}, model.ScrapeModeStandard)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAggressiveOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
			return
		}
	}))
	defer srv.Close()

	target := targetFor(srv, "/shop")
	target.AllowAggressive = true

	gate := testGate()

	// Standard mode still respects the disallow.
	ok, err := gate.Allowed(context.Background(), target, model.ScrapeModeStandard)
	require.NoError(t, err)
	assert.False(t, ok)

	// Aggressive mode plus per-vendor opt-in overrides it.
	ok, err = gate.Allowed(context.Background(), target, model.ScrapeModeAggressive)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRobotsFetchedOncePerOrigin(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fetches.Add(1)
			_, _ = w.Write([]byte("User-agent: *\nDisallow:\n"))
		}
	}))
	defer srv.Close()

	gate := testGate()
	for i := 0; i < 5; i++ {
		_, err := gate.Allowed(context.Background(), targetFor(srv, "/shop"), model.ScrapeModeStandard)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), fetches.Load())
}
