// Package guardrail runs post-run data-shape checks: a sudden change in the
// shape of extracted offers usually means a parsing regression, not a real
// market shift.
package guardrail

import (
	"fmt"
	"math"
	"strconv"

	"go.uber.org/zap"

	"github.com/pepwatch/ingest-cli/internal/config"
	"github.com/pepwatch/ingest-cli/internal/model"
)

// FormulationKey builds the snapshot key for a (compound, total-mass) bucket.
func FormulationKey(slug string, totalMassMg float64) string {
	return fmt.Sprintf("%s/%s", slug, strconv.FormatFloat(totalMassMg, 'f', -1, 64))
}

// Evaluator checks a run's snapshot against configured invariants and the
// most recent prior baseline.
type Evaluator struct {
	cfg config.GuardrailConfig
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(cfg config.GuardrailConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate produces the guardrail report for the current snapshot. prior is
// the recent run summaries scan, newest first; the first one with a
// parseable snapshot serves as the baseline.
func (e *Evaluator) Evaluate(current model.GuardrailSnapshot, prior []model.RunSummary) model.GuardrailReport {
	report := model.GuardrailReport{
		Status:   model.GuardrailPass,
		Snapshot: current,
	}

	baseline := findBaseline(prior)

	for _, rule := range e.cfg.FormulationRules {
		report.Checks = append(report.Checks, e.formulationCheck(rule, current))
		if baseline != nil {
			if check, ok := e.driftCheck(rule, current, *baseline); ok {
				report.Checks = append(report.Checks, check)
			}
		}
	}
	if baseline != nil {
		report.Checks = append(report.Checks, e.coverageChecks(current, *baseline)...)
	}

	for _, c := range report.Checks {
		switch c.Status {
		case model.GuardrailFail:
			report.Status = model.GuardrailFail
		case model.GuardrailWarn:
			if report.Status == model.GuardrailPass {
				report.Status = model.GuardrailWarn
			}
		}
		if c.Status != model.GuardrailPass {
			zap.L().Warn("guardrail check flagged",
				zap.String("check", c.Name),
				zap.String("status", string(c.Status)),
				zap.String("detail", c.Detail),
			)
		}
	}
	return report
}

// findBaseline returns the first prior summary carrying a usable snapshot.
func findBaseline(prior []model.RunSummary) *model.GuardrailSnapshot {
	for _, s := range prior {
		if s.Guardrail == nil {
			continue
		}
		snap := s.Guardrail.Snapshot
		if len(snap.Formulations) > 0 || len(snap.VendorCoverage) > 0 {
			return &snap
		}
	}
	return nil
}

// formulationCheck enforces the vial-share floor for one configured bucket.
func (e *Evaluator) formulationCheck(rule config.FormulationRule, current model.GuardrailSnapshot) model.GuardrailCheck {
	key := FormulationKey(rule.CompoundSlug, rule.TotalMassMg)
	check := model.GuardrailCheck{
		Name:   "formulation_mix:" + key,
		Status: model.GuardrailPass,
	}

	counts, ok := current.Formulations[key]
	if !ok || counts.TotalOffers < rule.MinOffers {
		check.Detail = fmt.Sprintf("sample too small (%d < %d), skipped",
			counts.TotalOffers, rule.MinOffers)
		return check
	}

	share := float64(counts.VialOffers) / float64(counts.TotalOffers)
	if share < rule.MinVialShare {
		check.Status = model.GuardrailFail
		check.Detail = fmt.Sprintf("vial share %.2f below floor %.2f (%d/%d offers)",
			share, rule.MinVialShare, counts.VialOffers, counts.TotalOffers)
	}
	return check
}

// driftCheck compares the bucket's vial share against the baseline; a drop
// past the threshold warns without failing the run.
func (e *Evaluator) driftCheck(rule config.FormulationRule, current, baseline model.GuardrailSnapshot) (model.GuardrailCheck, bool) {
	key := FormulationKey(rule.CompoundSlug, rule.TotalMassMg)
	cur, curOK := current.Formulations[key]
	prev, prevOK := baseline.Formulations[key]
	if !curOK || !prevOK || cur.TotalOffers == 0 || prev.TotalOffers == 0 {
		return model.GuardrailCheck{}, false
	}

	curShare := float64(cur.VialOffers) / float64(cur.TotalOffers)
	prevShare := float64(prev.VialOffers) / float64(prev.TotalOffers)
	check := model.GuardrailCheck{
		Name:   "vial_share_drift:" + key,
		Status: model.GuardrailPass,
	}
	if drop := prevShare - curShare; drop > e.cfg.DriftMaxDrop {
		check.Status = model.GuardrailWarn
		check.Detail = fmt.Sprintf("vial share dropped %.2f (%.2f to %.2f)",
			drop, prevShare, curShare)
	}
	return check, true
}

// coverageChecks is the top-compound smoke test: a proportional vendor-count
// drop past the threshold fails the run.
func (e *Evaluator) coverageChecks(current, baseline model.GuardrailSnapshot) []model.GuardrailCheck {
	var checks []model.GuardrailCheck
	for slug, prevCount := range baseline.VendorCoverage {
		if prevCount < e.cfg.MinVendorFloor {
			continue
		}
		required := int(math.Ceil(float64(prevCount) * (1 - e.cfg.MaxVendorDropPct)))
		curCount := current.VendorCoverage[slug]
		check := model.GuardrailCheck{
			Name:   "vendor_coverage:" + slug,
			Status: model.GuardrailPass,
		}
		if curCount < required {
			check.Status = model.GuardrailFail
			check.Detail = fmt.Sprintf("vendor coverage %d below required %d (baseline %d)",
				curCount, required, prevCount)
		}
		checks = append(checks, check)
	}
	return checks
}
