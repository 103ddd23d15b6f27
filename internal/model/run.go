package model

import "time"

// RunStatus represents the lifecycle state of a scrape run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// RunMode distinguishes a full sweep from a single-vendor targeted scrape.
type RunMode string

const (
	RunModeFull   RunMode = "full"
	RunModeVendor RunMode = "vendor"
)

// ScrapeMode controls how far the discovery cascade is allowed to go.
type ScrapeMode string

const (
	// ScrapeModeStandard uses API probes and plain HTML only.
	ScrapeModeStandard ScrapeMode = "standard"
	// ScrapeModeAggressive additionally permits headless rendering, and
	// overrides a robots disallow for vendors flagged allow_aggressive.
	ScrapeModeAggressive ScrapeMode = "aggressive"
)

// ScrapeRun is one execution of the full or vendor-scoped scrape cycle.
type ScrapeRun struct {
	ID          string      `json:"id"`
	JobType     string      `json:"job_type"`
	RunMode     RunMode     `json:"run_mode"`
	ScrapeMode  ScrapeMode  `json:"scrape_mode"`
	Status      RunStatus   `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	HeartbeatAt time.Time   `json:"heartbeat_at"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
	Summary     *RunSummary `json:"summary,omitempty"`
}

// RunSummary aggregates per-target counters into a run-level result. The
// embedded guardrail report carries the snapshot the next run diffs against.
type RunSummary struct {
	TargetsTotal      int  `json:"targets_total"`
	TargetsSucceeded  int  `json:"targets_succeeded"`
	TargetsFailed     int  `json:"targets_failed"`
	TargetsEmpty      int  `json:"targets_empty"`
	TargetsBlocked    int  `json:"targets_blocked"`
	OffersDiscovered  int  `json:"offers_discovered"`
	OffersUpserted    int  `json:"offers_upserted"`
	OffersUnchanged   int  `json:"offers_unchanged"`
	OffersDeactivated int  `json:"offers_deactivated"`
	ReviewItemsRaised int  `json:"review_items_raised"`
	AICalls           int  `json:"ai_calls"`
	DurationMs        int64 `json:"duration_ms"`

	Guardrail *GuardrailReport `json:"guardrail,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// GuardrailStatus is the outcome of a single guardrail check or of the
// whole report.
type GuardrailStatus string

const (
	GuardrailPass GuardrailStatus = "pass"
	GuardrailWarn GuardrailStatus = "warn"
	GuardrailFail GuardrailStatus = "fail"
)

// GuardrailReport is the per-run snapshot of data-shape checks. Any fail
// marks the whole run failed regardless of page-level success.
type GuardrailReport struct {
	Status   GuardrailStatus   `json:"status"`
	Checks   []GuardrailCheck  `json:"checks"`
	Snapshot GuardrailSnapshot `json:"snapshot"`
}

// GuardrailCheck is one evaluated invariant.
type GuardrailCheck struct {
	Name   string          `json:"name"`
	Status GuardrailStatus `json:"status"`
	Detail string          `json:"detail,omitempty"`
}

// GuardrailSnapshot captures the aggregate data shape this run observed.
// It is persisted inside the run summary so the next run can diff against
// it without a separate baseline table.
type GuardrailSnapshot struct {
	// Formulations keys are "<compound-slug>/<total-mass-mg>".
	Formulations map[string]FormulationCounts `json:"formulations,omitempty"`
	// VendorCoverage maps compound slug to the number of distinct vendors
	// with at least one live offer this run.
	VendorCoverage map[string]int `json:"vendor_coverage,omitempty"`
}

// FormulationCounts tallies offers for one (compound, total-mass) bucket.
type FormulationCounts struct {
	TotalOffers int `json:"total_offers"`
	VialOffers  int `json:"vial_offers"`
}

// Event is a structured audit row recorded for page- and run-level outcomes.
type Event struct {
	RunID        string         `json:"run_id"`
	VendorID     int64          `json:"vendor_id,omitempty"`
	VendorPageID int64          `json:"vendor_page_id,omitempty"`
	Kind         string         `json:"kind"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
