package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepwatch/ingest-cli/internal/model"
	"github.com/pepwatch/ingest-cli/internal/store"
)

type stubTrigger struct {
	fullCalls   chan model.ScrapeMode
	vendorCalls chan int64
}

func newStubTrigger() *stubTrigger {
	return &stubTrigger{
		fullCalls:   make(chan model.ScrapeMode, 1),
		vendorCalls: make(chan int64, 1),
	}
}

func (s *stubTrigger) RunFull(ctx context.Context, mode model.ScrapeMode) (*model.ScrapeRun, error) {
	s.fullCalls <- mode
	return &model.ScrapeRun{ID: "run-1", Status: model.RunStatusSuccess}, nil
}

func (s *stubTrigger) RunVendor(ctx context.Context, vendorID int64, mode model.ScrapeMode) (*model.ScrapeRun, error) {
	s.vendorCalls <- vendorID
	return &model.ScrapeRun{ID: "run-2", Status: model.RunStatusSuccess}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, store.Store, *stubTrigger) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pepwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	trigger := newStubTrigger()
	ts := httptest.NewServer(newServeMux(st, trigger))
	t.Cleanup(ts.Close)
	return ts, st, trigger
}

func TestServeHealth(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestServeTriggerFullRun(t *testing.T) {
	ts, _, trigger := newTestServer(t)

	resp, err := http.Post(ts.URL+"/runs/full", "application/json", strings.NewReader(`{"aggressive":true}`))
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case mode := <-trigger.fullCalls:
		assert.Equal(t, model.ScrapeModeAggressive, mode)
	case <-time.After(2 * time.Second):
		t.Fatal("full run was never triggered")
	}
}

func TestServeTriggerFullRunEmptyBody(t *testing.T) {
	ts, _, trigger := newTestServer(t)

	resp, err := http.Post(ts.URL+"/runs/full", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case mode := <-trigger.fullCalls:
		assert.Equal(t, model.ScrapeModeStandard, mode)
	case <-time.After(2 * time.Second):
		t.Fatal("full run was never triggered")
	}
}

func TestServeTriggerVendorRun(t *testing.T) {
	ts, _, trigger := newTestServer(t)

	resp, err := http.Post(ts.URL+"/runs/vendor/42", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case id := <-trigger.vendorCalls:
		assert.Equal(t, int64(42), id)
	case <-time.After(2 * time.Second):
		t.Fatal("vendor run was never triggered")
	}
}

func TestServeTriggerVendorRunBadID(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/runs/vendor/not-a-number", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServeGetRun(t *testing.T) {
	ts, st, _ := newTestServer(t)

	run, err := st.CreateRun(context.Background(), "scheduled_scrape", model.RunModeFull, model.ScrapeModeStandard)
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/runs/" + run.ID)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got model.ScrapeRun
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, model.RunStatusRunning, got.Status)
}

func TestServeGetRunNotFound(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/runs/no-such-run")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
