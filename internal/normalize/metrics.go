package normalize

import (
	"math"

	"github.com/pepwatch/ingest-cli/internal/model"
)

// ComputeMetricPrices derives the comparable unit-price metrics for an offer
// from its list price in cents and the variant's canonical totals. A metric
// is nil, never zero, when its basis is absent: nil means "not applicable",
// a zero would read as "free".
//
// Per-mg and per-mL prices are often sub-cent, so they keep 4 decimal places
// of cents; per-vial and per-unit prices keep 2.
func ComputeMetricPrices(listPriceCents int64, v model.Variant) model.MetricPrices {
	var m model.MetricPrices
	if listPriceCents <= 0 {
		return m
	}
	price := float64(listPriceCents)

	if v.TotalMassMg != nil && *v.TotalMassMg > 0 {
		m.PricePerMg = ptr(round(price / *v.TotalMassMg, 4))
	}
	if v.TotalVolumeMl != nil && *v.TotalVolumeMl > 0 {
		m.PricePerMl = ptr(round(price / *v.TotalVolumeMl, 4))
	}
	if v.PackageUnit == "vial" && v.PackageQuantity > 0 {
		m.PricePerVial = ptr(round(price/float64(v.PackageQuantity), 2))
	}
	if v.TotalCountUnits != nil && *v.TotalCountUnits > 0 {
		m.PricePerUnit = ptr(round(price / *v.TotalCountUnits, 2))
	}
	return m
}

func round(f float64, places int) float64 {
	shift := math.Pow(10, float64(places))
	return math.Round(f*shift) / shift
}

func ptr(f float64) *float64 { return &f }
