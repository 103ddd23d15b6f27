package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pepwatch/ingest-cli/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	started := time.Date(2026, 8, 30, 14, 5, 0, 0, time.UTC)
	runs := []model.ScrapeRun{
		{
			ID:        "0c9b7a2e-1111-2222-3333-444455556666",
			RunMode:   model.RunModeFull,
			Status:    model.RunStatusSuccess,
			StartedAt: started,
			Summary:   &model.RunSummary{TargetsTotal: 12, TargetsSucceeded: 11, OffersUpserted: 80, OffersUnchanged: 140, DurationMs: 93000},
		},
		{
			ID:        "deadbeef-aaaa-bbbb-cccc-ddddeeeeffff",
			RunMode:   model.RunModeVendor,
			Status:    model.RunStatusRunning,
			StartedAt: started,
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()

	assert.Contains(t, out, "0c9b7a2e")
	assert.NotContains(t, out, "0c9b7a2e-1111")
	assert.Contains(t, out, "11/12")
	assert.Contains(t, out, "220")
	assert.Contains(t, out, "1m33s")
	// Unfinished run has no summary columns.
	assert.Contains(t, out, "deadbeef")
	assert.Contains(t, out, "running")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("123456789abc"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestScrapeModeFlag(t *testing.T) {
	assert.Equal(t, model.ScrapeModeStandard, scrapeMode(false))
	assert.Equal(t, model.ScrapeModeAggressive, scrapeMode(true))
}
