package orchestrator

import (
	"sync"
	"time"

	"github.com/pepwatch/ingest-cli/internal/guardrail"
	"github.com/pepwatch/ingest-cli/internal/model"
)

// runState is the shared per-run accumulator every worker writes into.
// All access goes through the mutex; the guardrail snapshot is assembled
// from the same buckets at the end of the run.
type runState struct {
	mu sync.Mutex

	summary      model.RunSummary
	formulations map[string]model.FormulationCounts
	vendors      map[string]map[int64]struct{}

	lastProgress time.Time
	lagAlerted   bool
}

func newRunState(targetsTotal int) *runState {
	return &runState{
		summary:      model.RunSummary{TargetsTotal: targetsTotal},
		formulations: make(map[string]model.FormulationCounts),
		vendors:      make(map[string]map[int64]struct{}),
		lastProgress: time.Now(),
	}
}

// markProgress records that some page made forward progress, resetting the
// lag-alert clock.
func (s *runState) markProgress() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastProgress = time.Now()
	s.lagAlerted = false
}

// shouldAlertLag reports whether no page has progressed within window. The
// alert fires once per stall; a new progress mark re-arms it.
func (s *runState) shouldAlertLag(window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lagAlerted || time.Since(s.lastProgress) < window {
		return false
	}
	s.lagAlerted = true
	return true
}

func (s *runState) targetSucceeded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.TargetsSucceeded++
}

func (s *runState) targetFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.TargetsFailed++
}

func (s *runState) targetEmpty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.TargetsEmpty++
}

func (s *runState) targetBlocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.TargetsBlocked++
}

func (s *runState) offersDiscovered(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.OffersDiscovered += n
}

func (s *runState) offerPersisted(change model.OfferChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch change {
	case model.OfferUnchanged:
		s.summary.OffersUnchanged++
	default:
		s.summary.OffersUpserted++
	}
}

func (s *runState) offersDeactivated(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.OffersDeactivated += n
}

func (s *runState) reviewRaised() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.ReviewItemsRaised++
}

func (s *runState) aiCalled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.AICalls++
}

// observeOffer feeds the guardrail buckets: formulation mix per
// (compound, total-mass) and distinct-vendor coverage per compound.
func (s *runState) observeOffer(slug string, v model.Variant, vendorID int64, available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.TotalMassMg != nil {
		key := guardrail.FormulationKey(slug, *v.TotalMassMg)
		counts := s.formulations[key]
		counts.TotalOffers++
		if v.FormulationCode == "vial" {
			counts.VialOffers++
		}
		s.formulations[key] = counts
	}

	if available {
		set, ok := s.vendors[slug]
		if !ok {
			set = make(map[int64]struct{})
			s.vendors[slug] = set
		}
		set[vendorID] = struct{}{}
	}
}

// snapshot materializes the guardrail snapshot from the accumulated buckets.
func (s *runState) snapshot() model.GuardrailSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := model.GuardrailSnapshot{}
	if len(s.formulations) > 0 {
		snap.Formulations = make(map[string]model.FormulationCounts, len(s.formulations))
		for k, v := range s.formulations {
			snap.Formulations[k] = v
		}
	}
	if len(s.vendors) > 0 {
		snap.VendorCoverage = make(map[string]int, len(s.vendors))
		for slug, set := range s.vendors {
			snap.VendorCoverage[slug] = len(set)
		}
	}
	return snap
}

// finalSummary returns a copy of the counters for FinishRun.
func (s *runState) finalSummary() model.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}
