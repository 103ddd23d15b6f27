package model

import "time"

// ScrapeTarget is one vendor catalog page to be processed. Targets are
// enumerated fresh from the vendor/page catalog at run start and are
// immutable for the duration of the run.
type ScrapeTarget struct {
	VendorPageID    int64  `json:"vendor_page_id"`
	VendorID        int64  `json:"vendor_id"`
	VendorName      string `json:"vendor_name"`
	WebsiteURL      string `json:"website_url"`
	PageURL         string `json:"page_url"`
	AllowAggressive bool   `json:"allow_aggressive"`
}

// DiscoveryAttempt records one source trial for a target. Attempts live only
// in the run summary and event log, never in their own table.
type DiscoveryAttempt struct {
	Source     string `json:"source"`
	Success    bool   `json:"success"`
	OfferCount int    `json:"offer_count"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ExtractedOffer is the normalized intermediate produced by every discovery
// source. VendorID+ProductURL form the natural dedup key within a run.
type ExtractedOffer struct {
	VendorPageID    int64  `json:"vendor_page_id"`
	VendorID        int64  `json:"vendor_id"`
	PageURL         string `json:"page_url"`
	ProductURL      string `json:"product_url"`
	ProductName     string `json:"product_name"`
	CompoundRawName string `json:"compound_raw_name"`
	FormulationRaw  string `json:"formulation_raw,omitempty"`
	SizeRaw         string `json:"size_raw,omitempty"`
	CurrencyCode    string `json:"currency_code"`
	ListPriceCents  int64  `json:"list_price_cents"`
	Available       bool   `json:"available"`
	RawPayload      string `json:"raw_payload,omitempty"`
}

// Variant is a (compound, formulation, size) combination with canonical
// totals derived from the parsed strength and package tokens. At most one of
// the three totals is the primary metric basis for a given formulation.
type Variant struct {
	ID               int64    `json:"id,omitempty"`
	CompoundID       int64    `json:"compound_id"`
	FormulationCode  string   `json:"formulation_code"`
	DisplaySizeLabel string   `json:"display_size_label"`
	StrengthValue    float64  `json:"strength_value,omitempty"`
	StrengthUnit     string   `json:"strength_unit,omitempty"`
	PackageQuantity  int      `json:"package_quantity,omitempty"`
	PackageUnit      string   `json:"package_unit,omitempty"`
	TotalMassMg      *float64 `json:"total_mass_mg,omitempty"`
	TotalVolumeMl    *float64 `json:"total_volume_ml,omitempty"`
	TotalCountUnits  *float64 `json:"total_count_units,omitempty"`
}

// MetricPrices holds the comparable unit-price metrics for one offer.
// A nil metric means "not applicable", never "free".
type MetricPrices struct {
	PricePerMg   *float64 `json:"price_per_mg,omitempty"`
	PricePerMl   *float64 `json:"price_per_ml,omitempty"`
	PricePerVial *float64 `json:"price_per_vial,omitempty"`
	PricePerUnit *float64 `json:"price_per_unit,omitempty"`
}

// OfferState is the observed state of one vendor offer, ready to persist.
type OfferState struct {
	VendorID       int64        `json:"vendor_id"`
	VendorPageID   int64        `json:"vendor_page_id"`
	VariantID      int64        `json:"variant_id"`
	ProductURL     string       `json:"product_url"`
	ProductName    string       `json:"product_name"`
	CurrencyCode   string       `json:"currency_code"`
	ListPriceCents int64        `json:"list_price_cents"`
	Available      bool         `json:"available"`
	Metrics        MetricPrices `json:"metrics"`
	RunID          string       `json:"run_id"`
	SeenAt         time.Time    `json:"seen_at"`
}

// OfferChange describes what an offer upsert actually did.
type OfferChange string

const (
	OfferInserted  OfferChange = "inserted"
	OfferUpdated   OfferChange = "updated"
	OfferUnchanged OfferChange = "unchanged"
)
