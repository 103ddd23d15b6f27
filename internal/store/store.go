// Package store persists vendors, offers, runs, and review items behind a
// driver-agnostic interface. Postgres backs production; SQLite backs local
// development and tests.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pepwatch/ingest-cli/internal/config"
	"github.com/pepwatch/ingest-cli/internal/model"
)

// ErrRunAlreadyFinished is returned by FinishRun when the run has already
// reached a terminal status. Exactly one terminal transition is allowed.
var ErrRunAlreadyFinished = eris.New("store: run already finished")

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = eris.New("store: run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Mode   model.RunMode   `json:"mode,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the offer-ingest pipeline.
type Store interface {
	// Targets
	EnumerateTargets(ctx context.Context) ([]model.ScrapeTarget, error)
	EnumerateVendorTargets(ctx context.Context, vendorID int64) ([]model.ScrapeTarget, error)
	EnqueueScrapeRequest(ctx context.Context, vendorID int64) error
	// DequeueManualRequests drains pending manual scrape requests and
	// returns the targets of the vendors they name.
	DequeueManualRequests(ctx context.Context) ([]model.ScrapeTarget, error)
	MarkPagePolicyBlocked(ctx context.Context, vendorPageID int64) error

	// Compound catalog and alias cache
	ListActiveCompounds(ctx context.Context) ([]model.Compound, error)
	GetAlias(ctx context.Context, normalizedName string) (*model.CompoundAlias, error)
	PutAlias(ctx context.Context, alias model.CompoundAlias) error

	// Variants and offers
	UpsertVariant(ctx context.Context, v model.Variant) (int64, error)
	// UpsertCurrentOfferAndAppendHistory writes the observed offer state.
	// Unchanged offers get a touch-only update with no new history row; a
	// changed or new state closes the prior open history interval and
	// appends a new open-ended one, inside a single transaction.
	UpsertCurrentOfferAndAppendHistory(ctx context.Context, o model.OfferState) (model.OfferChange, error)
	// DeactivateOffersByURL marks every live offer at the URL unavailable,
	// closing open history intervals with a final unavailability row.
	DeactivateOffersByURL(ctx context.Context, vendorID int64, productURL, runID string) (int, error)

	// Runs
	CreateRun(ctx context.Context, jobType string, runMode model.RunMode, scrapeMode model.ScrapeMode) (*model.ScrapeRun, error)
	HeartbeatRun(ctx context.Context, runID string) error
	FinishRun(ctx context.Context, runID string, status model.RunStatus, summary model.RunSummary) error
	SweepStaleRuns(ctx context.Context, ttl time.Duration) (int, error)
	GetRun(ctx context.Context, runID string) (*model.ScrapeRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.ScrapeRun, error)
	// ListRecentRunSummaries returns summaries of finished full runs,
	// newest first, for guardrail baseline scans.
	ListRecentRunSummaries(ctx context.Context, limit int) ([]model.RunSummary, error)

	// Review queue and events
	UpsertReviewItem(ctx context.Context, item model.ReviewItem) (bool, error)
	AppendEvent(ctx context.Context, ev model.Event) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// New opens the store named by cfg.Driver ("postgres" or "sqlite").
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres", "":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
