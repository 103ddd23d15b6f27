package model

import "time"

// Compound is one tracked peptide compound from the catalog.
type Compound struct {
	ID     int64  `json:"id"`
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// ResolutionStatus is the state of an alias resolution.
type ResolutionStatus string

const (
	// ResolutionAutoMatched means a compound was matched without review,
	// either deterministically or by an accepted AI decision.
	ResolutionAutoMatched ResolutionStatus = "auto_matched"
	// ResolutionNeedsReview means the alias is queued for a human.
	ResolutionNeedsReview ResolutionStatus = "needs_review"
	// ResolutionResolved with a nil CompoundID means "known non-trackable":
	// the alias is junk and future sightings are suppressed.
	ResolutionResolved ResolutionStatus = "resolved"
)

// CompoundResolution is the outcome of resolving a raw product name.
type CompoundResolution struct {
	CompoundID *int64           `json:"compound_id,omitempty"`
	Confidence float64          `json:"confidence"`
	Status     ResolutionStatus `json:"status"`
	Reason     string           `json:"reason,omitempty"`
	// SkipReview suppresses a recurring review-queue entry for aliases
	// already resolved as non-trackable.
	SkipReview bool `json:"skip_review,omitempty"`
	// CacheHit is true when the resolution came from the alias cache.
	CacheHit bool `json:"-"`
}

// CompoundAlias is one cached mapping from a normalized raw name to a
// compound identity (or a cached non-trackable / needs-review verdict).
type CompoundAlias struct {
	NormalizedName string           `json:"normalized_name"`
	RawName        string           `json:"raw_name"`
	CompoundID     *int64           `json:"compound_id,omitempty"`
	Status         ResolutionStatus `json:"status"`
	Confidence     float64          `json:"confidence"`
	Reason         string           `json:"reason,omitempty"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// ReviewItem is a human work item. Items are deduplicated by update-in-place
// on (vendor, page, alias, kind) while an item is open.
type ReviewItem struct {
	VendorID     int64          `json:"vendor_id"`
	VendorPageID int64          `json:"vendor_page_id"`
	Alias        string         `json:"alias,omitempty"`
	Kind         string         `json:"kind"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details,omitempty"`
}

// Review item kinds. Each failure route gets its own label so operators can
// triage without reading payloads.
const (
	ReviewKindUnresolvedAlias = "unresolved_alias"
	ReviewKindEmptyPage       = "empty_page"
	ReviewKindInvalidPricing  = "invalid_pricing"
	ReviewKindPolicyBlocked   = "policy_blocked"
)
