package guardrail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepwatch/ingest-cli/internal/config"
	"github.com/pepwatch/ingest-cli/internal/model"
)

func bpcRule() config.FormulationRule {
	return config.FormulationRule{
		CompoundSlug: "bpc-157",
		TotalMassMg:  10,
		MinOffers:    10,
		MinVialShare: 0.8,
	}
}

func TestFormulationKey(t *testing.T) {
	assert.Equal(t, "bpc-157/10", FormulationKey("bpc-157", 10))
	assert.Equal(t, "tirzepatide/7.5", FormulationKey("tirzepatide", 7.5))
}

func TestFormulationMixFails(t *testing.T) {
	e := NewEvaluator(config.GuardrailConfig{
		FormulationRules: []config.FormulationRule{bpcRule()},
	})

	report := e.Evaluate(model.GuardrailSnapshot{
		Formulations: map[string]model.FormulationCounts{
			"bpc-157/10": {TotalOffers: 20, VialOffers: 7},
		},
	}, nil)

	assert.Equal(t, model.GuardrailFail, report.Status)
	require.Len(t, report.Checks, 1)
	assert.Equal(t, "formulation_mix:bpc-157/10", report.Checks[0].Name)
	assert.Contains(t, report.Checks[0].Detail, "0.35")
}

func TestFormulationMixSkipsSmallSample(t *testing.T) {
	e := NewEvaluator(config.GuardrailConfig{
		FormulationRules: []config.FormulationRule{bpcRule()},
	})

	report := e.Evaluate(model.GuardrailSnapshot{
		Formulations: map[string]model.FormulationCounts{
			"bpc-157/10": {TotalOffers: 5, VialOffers: 0},
		},
	}, nil)

	assert.Equal(t, model.GuardrailPass, report.Status)
	require.Len(t, report.Checks, 1)
	assert.Contains(t, report.Checks[0].Detail, "skipped")
}

func TestFormulationMixPasses(t *testing.T) {
	e := NewEvaluator(config.GuardrailConfig{
		FormulationRules: []config.FormulationRule{bpcRule()},
	})

	report := e.Evaluate(model.GuardrailSnapshot{
		Formulations: map[string]model.FormulationCounts{
			"bpc-157/10": {TotalOffers: 20, VialOffers: 18},
		},
	}, nil)

	assert.Equal(t, model.GuardrailPass, report.Status)
}

func TestDriftWarns(t *testing.T) {
	e := NewEvaluator(config.GuardrailConfig{
		FormulationRules: []config.FormulationRule{{
			CompoundSlug: "bpc-157",
			TotalMassMg:  10,
			MinOffers:    10,
			MinVialShare: 0.5,
		}},
		DriftMaxDrop: 0.2,
	})

	prior := []model.RunSummary{{
		Guardrail: &model.GuardrailReport{
			Snapshot: model.GuardrailSnapshot{
				Formulations: map[string]model.FormulationCounts{
					"bpc-157/10": {TotalOffers: 20, VialOffers: 19},
				},
			},
		},
	}}

	report := e.Evaluate(model.GuardrailSnapshot{
		Formulations: map[string]model.FormulationCounts{
			"bpc-157/10": {TotalOffers: 20, VialOffers: 13},
		},
	}, prior)

	// 0.95 -> 0.65 is past the 0.2 threshold but stays above the mix
	// floor, so the run warns without failing.
	assert.Equal(t, model.GuardrailWarn, report.Status)
	require.Len(t, report.Checks, 2)
	assert.Equal(t, "vial_share_drift:bpc-157/10", report.Checks[1].Name)
	assert.Equal(t, model.GuardrailWarn, report.Checks[1].Status)
}

func TestDriftSkipsRunsWithoutSnapshot(t *testing.T) {
	e := NewEvaluator(config.GuardrailConfig{
		FormulationRules: []config.FormulationRule{bpcRule()},
		DriftMaxDrop:     0.2,
	})

	// Two unusable summaries before the real baseline.
	prior := []model.RunSummary{
		{},
		{Guardrail: &model.GuardrailReport{}},
		{Guardrail: &model.GuardrailReport{
			Snapshot: model.GuardrailSnapshot{
				Formulations: map[string]model.FormulationCounts{
					"bpc-157/10": {TotalOffers: 15, VialOffers: 14},
				},
			},
		}},
	}

	report := e.Evaluate(model.GuardrailSnapshot{
		Formulations: map[string]model.FormulationCounts{
			"bpc-157/10": {TotalOffers: 15, VialOffers: 14},
		},
	}, prior)

	assert.Equal(t, model.GuardrailPass, report.Status)
	require.Len(t, report.Checks, 2)
}

func TestVendorCoverageFails(t *testing.T) {
	e := NewEvaluator(config.GuardrailConfig{
		MinVendorFloor:   8,
		MaxVendorDropPct: 0.3,
	})

	prior := []model.RunSummary{{
		Guardrail: &model.GuardrailReport{
			Snapshot: model.GuardrailSnapshot{
				VendorCoverage: map[string]int{"bpc-157": 10},
			},
		},
	}}

	report := e.Evaluate(model.GuardrailSnapshot{
		VendorCoverage: map[string]int{"bpc-157": 5},
	}, prior)

	assert.Equal(t, model.GuardrailFail, report.Status)
	require.Len(t, report.Checks, 1)
	assert.Equal(t, "vendor_coverage:bpc-157", report.Checks[0].Name)
}

func TestVendorCoverageIgnoresLongTail(t *testing.T) {
	e := NewEvaluator(config.GuardrailConfig{
		MinVendorFloor:   8,
		MaxVendorDropPct: 0.3,
	})

	// Baseline below the floor never gates, even on a drop to zero.
	prior := []model.RunSummary{{
		Guardrail: &model.GuardrailReport{
			Snapshot: model.GuardrailSnapshot{
				VendorCoverage: map[string]int{"obscure-peptide": 3},
			},
		},
	}}

	report := e.Evaluate(model.GuardrailSnapshot{}, prior)

	assert.Equal(t, model.GuardrailPass, report.Status)
	assert.Empty(t, report.Checks)
}

func TestVendorCoveragePassesWithinTolerance(t *testing.T) {
	e := NewEvaluator(config.GuardrailConfig{
		MinVendorFloor:   8,
		MaxVendorDropPct: 0.3,
	})

	prior := []model.RunSummary{{
		Guardrail: &model.GuardrailReport{
			Snapshot: model.GuardrailSnapshot{
				VendorCoverage: map[string]int{"bpc-157": 10},
			},
		},
	}}

	report := e.Evaluate(model.GuardrailSnapshot{
		VendorCoverage: map[string]int{"bpc-157": 7},
	}, prior)

	assert.Equal(t, model.GuardrailPass, report.Status)
}

func TestNoRulesNoBaseline(t *testing.T) {
	e := NewEvaluator(config.GuardrailConfig{})

	report := e.Evaluate(model.GuardrailSnapshot{}, nil)

	assert.Equal(t, model.GuardrailPass, report.Status)
	assert.Empty(t, report.Checks)
	assert.Empty(t, report.Snapshot.Formulations)
}
