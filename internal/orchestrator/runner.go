// Package orchestrator owns the scrape run lifecycle: stale-run sweep, target
// enumeration, the bounded worker pool, heartbeats, guardrail evaluation, and
// the single terminal run transition.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pepwatch/ingest-cli/internal/alias"
	"github.com/pepwatch/ingest-cli/internal/config"
	"github.com/pepwatch/ingest-cli/internal/discovery"
	"github.com/pepwatch/ingest-cli/internal/guardrail"
	"github.com/pepwatch/ingest-cli/internal/model"
	"github.com/pepwatch/ingest-cli/internal/normalize"
	"github.com/pepwatch/ingest-cli/internal/redact"
	"github.com/pepwatch/ingest-cli/internal/resilience"
	"github.com/pepwatch/ingest-cli/internal/store"
)

// ErrGuardrailFailed is returned by a full run whose pages succeeded but
// whose guardrail checks did not. The run record is finalized before this
// propagates.
var ErrGuardrailFailed = eris.New("orchestrator: guardrail checks failed")

// Discoverer runs the source cascade for one target. DiscoverFallback is the
// divert path for robots-disallowed targets: a headless render only, no other
// source touches the origin.
type Discoverer interface {
	Discover(ctx context.Context, target model.ScrapeTarget, mode model.ScrapeMode) (*discovery.Result, error)
	DiscoverFallback(ctx context.Context, target model.ScrapeTarget) (*discovery.Result, error)
}

// Resolver maps raw compound names to compound identities.
type Resolver interface {
	Resolve(ctx context.Context, req alias.Request, compounds []model.Compound) (alias.Result, error)
}

// PolicyGate decides whether a target may be fetched.
type PolicyGate interface {
	Allowed(ctx context.Context, target model.ScrapeTarget, mode model.ScrapeMode) (bool, error)
}

// Alerter delivers fire-and-forget operator notifications.
type Alerter interface {
	Notify(ctx context.Context, subject, body string)
}

// Deps collects the runner's collaborators. Alerter may be nil.
type Deps struct {
	Store    store.Store
	Discover Discoverer
	Resolver Resolver
	Gate     PolicyGate
	Alerter  Alerter
}

// Runner executes scrape runs.
type Runner struct {
	deps     Deps
	guard    *guardrail.Evaluator
	cfg      config.OrchestratorConfig
	guardCfg config.GuardrailConfig
	retryCfg resilience.RetryConfig
}

// NewRunner creates a Runner.
func NewRunner(deps Deps, cfg config.OrchestratorConfig, guardCfg config.GuardrailConfig) *Runner {
	retries := cfg.StorageRetries
	if retries <= 0 {
		retries = 3
	}
	return &Runner{
		deps:     deps,
		guard:    guardrail.NewEvaluator(guardCfg),
		cfg:      cfg,
		guardCfg: guardCfg,
		retryCfg: resilience.StorageRetryConfig(retries),
	}
}

// RunFull executes the full vendor cycle: queued manual requests are drained
// first, then every enumerated target, then guardrails.
func (r *Runner) RunFull(ctx context.Context, scrapeMode model.ScrapeMode) (*model.ScrapeRun, error) {
	return r.execute(ctx, "scheduled_scrape", model.RunModeFull, scrapeMode, func(ctx context.Context) ([]model.ScrapeTarget, error) {
		manual, err := r.deps.Store.DequeueManualRequests(ctx)
		if err != nil {
			return nil, err
		}
		scheduled, err := r.deps.Store.EnumerateTargets(ctx)
		if err != nil {
			return nil, err
		}
		return mergeTargets(manual, scheduled), nil
	})
}

// RunVendor executes a single-vendor targeted scrape. Whole-run guardrails
// are skipped: a one-vendor sample says nothing about catalog-wide shape.
func (r *Runner) RunVendor(ctx context.Context, vendorID int64, scrapeMode model.ScrapeMode) (*model.ScrapeRun, error) {
	return r.execute(ctx, "vendor_scrape", model.RunModeVendor, scrapeMode, func(ctx context.Context) ([]model.ScrapeTarget, error) {
		return r.deps.Store.EnumerateVendorTargets(ctx, vendorID)
	})
}

func (r *Runner) execute(
	ctx context.Context,
	jobType string,
	runMode model.RunMode,
	scrapeMode model.ScrapeMode,
	enumerate func(ctx context.Context) ([]model.ScrapeTarget, error),
) (*model.ScrapeRun, error) {
	started := time.Now()

	ttl := time.Duration(r.cfg.StaleRunTTLMins) * time.Minute
	if ttl > 0 {
		if n, err := r.deps.Store.SweepStaleRuns(ctx, ttl); err != nil {
			zap.L().Warn("orchestrator: stale-run sweep failed", zap.Error(err))
		} else if n > 0 {
			zap.L().Info("orchestrator: reconciled stale runs", zap.Int("count", n))
		}
	}

	run, err := r.deps.Store.CreateRun(ctx, jobType, runMode, scrapeMode)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: create run")
	}

	var once sync.Once
	finish := func(status model.RunStatus, summary model.RunSummary) {
		once.Do(func() {
			summary.DurationMs = time.Since(started).Milliseconds()
			if err := r.deps.Store.FinishRun(ctx, run.ID, status, summary); err != nil {
				zap.L().Error("orchestrator: finish run failed",
					zap.String("run_id", run.ID),
					zap.Error(err),
				)
				return
			}
			run.Status = status
			run.Summary = &summary
			zap.L().Info("orchestrator: run finished",
				zap.String("run_id", run.ID),
				zap.String("status", string(status)),
				zap.Int("targets", summary.TargetsTotal),
				zap.Int("failed", summary.TargetsFailed),
				zap.Int64("duration_ms", summary.DurationMs),
			)
		})
	}

	targets, err := enumerate(ctx)
	if err != nil {
		finish(model.RunStatusFailed, model.RunSummary{Error: "target enumeration failed"})
		return run, eris.Wrap(err, "orchestrator: enumerate targets")
	}
	compounds, err := r.deps.Store.ListActiveCompounds(ctx)
	if err != nil {
		finish(model.RunStatusFailed, model.RunSummary{Error: "compound catalog load failed"})
		return run, eris.Wrap(err, "orchestrator: list compounds")
	}
	slugByID := make(map[int64]string, len(compounds))
	for _, c := range compounds {
		slugByID[c.ID] = c.Slug
	}

	st := newRunState(len(targets))

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hbDone sync.WaitGroup
	hbDone.Add(1)
	go func() {
		defer hbDone.Done()
		r.heartbeatLoop(hbCtx, run.ID, st)
	}()

	g, gctx := errgroup.WithContext(ctx)
	limit := r.cfg.MaxConcurrentTargets
	if limit <= 0 {
		limit = 3
	}
	g.SetLimit(limit)
	for _, target := range targets {
		g.Go(func() error {
			// Target failures are counted, never propagated: one bad
			// vendor must not abort the pool.
			r.processTarget(gctx, run.ID, target, scrapeMode, compounds, slugByID, st)
			return nil
		})
	}
	_ = g.Wait()

	stopHeartbeat()
	hbDone.Wait()

	summary := st.finalSummary()

	guardFailed := false
	if runMode == model.RunModeFull {
		report := r.evaluateGuardrails(ctx, run.ID, st)
		summary.Guardrail = &report
		guardFailed = report.Status == model.GuardrailFail
	}

	status := model.RunStatusSuccess
	switch {
	case guardFailed:
		status = model.RunStatusFailed
		summary.Error = "guardrail checks failed"
	case summary.TargetsFailed > 0:
		status = model.RunStatusPartial
	}

	finish(status, summary)

	if guardFailed {
		r.notify(ctx, "scrape run failed guardrails",
			fmt.Sprintf("run %s: guardrail status fail, %d targets processed", run.ID, summary.TargetsTotal))
		return run, ErrGuardrailFailed
	}
	return run, nil
}

// heartbeatLoop keeps heartbeatAt fresh independently of page processing and
// raises a lag alert when no page has progressed within the window.
func (r *Runner) heartbeatLoop(ctx context.Context, runID string, st *runState) {
	interval := time.Duration(r.cfg.HeartbeatSecs) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	lagWindow := time.Duration(r.cfg.ProgressLagMins) * time.Minute

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.deps.Store.HeartbeatRun(ctx, runID); err != nil {
				zap.L().Warn("orchestrator: heartbeat failed",
					zap.String("run_id", runID),
					zap.Error(err),
				)
			}
			if lagWindow > 0 && st.shouldAlertLag(lagWindow) {
				zap.L().Warn("orchestrator: no page progress within window",
					zap.String("run_id", runID),
					zap.Duration("window", lagWindow),
				)
				r.notify(ctx, "scrape run stalled",
					fmt.Sprintf("run %s: no page progress in %s", runID, lagWindow))
			}
		}
	}
}

func (r *Runner) evaluateGuardrails(ctx context.Context, runID string, st *runState) model.GuardrailReport {
	window := r.guardCfg.RecentRunWindow
	if window <= 0 {
		window = 10
	}
	prior, err := r.deps.Store.ListRecentRunSummaries(ctx, window)
	if err != nil {
		zap.L().Warn("orchestrator: baseline scan failed, drift checks skipped", zap.Error(err))
		prior = nil
	}
	report := r.guard.Evaluate(st.snapshot(), prior)
	if report.Status == model.GuardrailWarn {
		r.notify(ctx, "scrape run guardrail warning",
			fmt.Sprintf("run %s: guardrail status warn", runID))
	}
	return report
}

// processTarget runs one target through policy, discovery, and persistence.
// Every outcome is counted; nothing propagates.
func (r *Runner) processTarget(
	ctx context.Context,
	runID string,
	target model.ScrapeTarget,
	scrapeMode model.ScrapeMode,
	compounds []model.Compound,
	slugByID map[int64]string,
	st *runState,
) {
	log := zap.L().With(
		zap.String("run_id", runID),
		zap.String("vendor", target.VendorName),
		zap.String("page_url", target.PageURL),
	)

	allowed, err := r.deps.Gate.Allowed(ctx, target, scrapeMode)
	if err != nil {
		// The gate is advisory; an evaluation error never blocks crawling.
		log.Warn("policy check errored, proceeding", zap.Error(err))
		allowed = true
	}

	var res *discovery.Result
	if allowed {
		res, err = r.deps.Discover.Discover(ctx, target, scrapeMode)
	} else {
		// Diverted, not fatal: queue a review item, then try the one path
		// that fetches nothing but the page itself, a headless render. The
		// API probes and static fetches stay off the origin.
		r.raiseReview(ctx, st, model.ReviewItem{
			VendorID:     target.VendorID,
			VendorPageID: target.VendorPageID,
			Kind:         model.ReviewKindPolicyBlocked,
			Message:      fmt.Sprintf("robots.txt disallows %s", target.PageURL),
		})
		res, err = r.deps.Discover.DiscoverFallback(ctx, target)
	}
	if err != nil {
		log.Warn("discovery failed", zap.Error(err))
		if !allowed {
			r.markPolicyBlocked(ctx, runID, target, st)
			st.markProgress()
			return
		}
		r.recordEvent(ctx, runID, target, "discovery_failed", err.Error(), nil)
		st.targetFailed()
		st.markProgress()
		return
	}

	if len(res.Offers) == 0 {
		if !allowed {
			r.markPolicyBlocked(ctx, runID, target, st)
			st.markProgress()
			return
		}
		kind := model.ReviewKindEmptyPage
		message := "no offers discovered; page may be JS-rendered or retired"
		if res.InvalidPricing {
			kind = model.ReviewKindInvalidPricing
			message = "listings present but every price parsed to zero"
		}
		r.raiseReview(ctx, st, model.ReviewItem{
			VendorID:     target.VendorID,
			VendorPageID: target.VendorPageID,
			Kind:         kind,
			Message:      message,
			Details:      map[string]any{"attempts": len(res.Attempts)},
		})
		r.recordEvent(ctx, runID, target, kind, message, nil)
		st.targetEmpty()
		st.markProgress()
		return
	}

	st.offersDiscovered(len(res.Offers))
	log.Info("target discovered",
		zap.String("source", res.Source),
		zap.Int("offers", len(res.Offers)),
	)

	failed := false
	for _, offer := range res.Offers {
		if err := r.processOffer(ctx, runID, target, offer, compounds, slugByID, st); err != nil {
			log.Warn("offer persistence failed",
				zap.String("product_url", offer.ProductURL),
				zap.Error(err),
			)
			r.recordEvent(ctx, runID, target, "offer_failed", err.Error(),
				map[string]any{"product_url": offer.ProductURL})
			failed = true
		}
	}

	if failed {
		st.targetFailed()
	} else {
		st.targetSucceeded()
	}
	st.markProgress()
}

// processOffer resolves, normalizes, and persists one extracted offer.
// A needs-review resolution skips the offer without failing the target.
func (r *Runner) processOffer(
	ctx context.Context,
	runID string,
	target model.ScrapeTarget,
	offer model.ExtractedOffer,
	compounds []model.Compound,
	slugByID map[int64]string,
	st *runState,
) error {
	result, err := r.deps.Resolver.Resolve(ctx, alias.Request{
		RawName:     offer.CompoundRawName,
		ProductName: offer.ProductName,
		ProductURL:  offer.ProductURL,
		VendorName:  target.VendorName,
	}, compounds)
	if err != nil {
		return eris.Wrap(err, "orchestrator: resolve alias")
	}
	if result.AICalled {
		st.aiCalled()
	}

	res := result.Resolution
	if res.Status == model.ResolutionNeedsReview {
		if !res.SkipReview {
			r.raiseReview(ctx, st, model.ReviewItem{
				VendorID:     target.VendorID,
				VendorPageID: target.VendorPageID,
				Alias:        offer.CompoundRawName,
				Kind:         model.ReviewKindUnresolvedAlias,
				Message:      fmt.Sprintf("unresolved compound name %q", offer.CompoundRawName),
				Details:      map[string]any{"product_url": offer.ProductURL, "reason": res.Reason},
			})
		}
		return nil
	}

	if res.CompoundID == nil {
		// Known non-trackable: suppress any live offers recorded at this
		// URL by a prior, looser resolution.
		var n int
		err := resilience.Do(ctx, r.retryCfg, func(ctx context.Context) error {
			var derr error
			n, derr = r.deps.Store.DeactivateOffersByURL(ctx, target.VendorID, offer.ProductURL, runID)
			return derr
		})
		if err != nil {
			return eris.Wrap(err, "orchestrator: deactivate non-trackable")
		}
		if n > 0 {
			st.offersDeactivated(n)
		}
		return nil
	}

	parsed := normalize.ParseProductName(offer.ProductName)
	variant := parsed.Variant(*res.CompoundID)

	var variantID int64
	err = resilience.Do(ctx, r.retryCfg, func(ctx context.Context) error {
		var verr error
		variantID, verr = r.deps.Store.UpsertVariant(ctx, variant)
		return verr
	})
	if err != nil {
		return eris.Wrap(err, "orchestrator: upsert variant")
	}

	state := model.OfferState{
		VendorID:       target.VendorID,
		VendorPageID:   target.VendorPageID,
		VariantID:      variantID,
		ProductURL:     offer.ProductURL,
		ProductName:    offer.ProductName,
		CurrencyCode:   offer.CurrencyCode,
		ListPriceCents: offer.ListPriceCents,
		Available:      offer.Available,
		Metrics:        normalize.ComputeMetricPrices(offer.ListPriceCents, variant),
		RunID:          runID,
		SeenAt:         time.Now().UTC(),
	}

	var change model.OfferChange
	err = resilience.Do(ctx, r.retryCfg, func(ctx context.Context) error {
		var uerr error
		change, uerr = r.deps.Store.UpsertCurrentOfferAndAppendHistory(ctx, state)
		return uerr
	})
	if err != nil {
		return eris.Wrap(err, "orchestrator: upsert offer")
	}

	st.offerPersisted(change)
	st.observeOffer(slugByID[*res.CompoundID], variant, target.VendorID, offer.Available)
	return nil
}

// markPolicyBlocked records the terminal divert outcome after the headless
// fallback also came up empty.
func (r *Runner) markPolicyBlocked(ctx context.Context, runID string, target model.ScrapeTarget, st *runState) {
	err := resilience.Do(ctx, r.retryCfg, func(ctx context.Context) error {
		return r.deps.Store.MarkPagePolicyBlocked(ctx, target.VendorPageID)
	})
	if err != nil {
		zap.L().Warn("orchestrator: mark policy_blocked failed",
			zap.Int64("vendor_page_id", target.VendorPageID),
			zap.Error(err),
		)
	}
	r.recordEvent(ctx, runID, target, model.ReviewKindPolicyBlocked,
		"robots disallow, headless fallback empty", nil)
	st.targetBlocked()
}

func (r *Runner) raiseReview(ctx context.Context, st *runState, item model.ReviewItem) {
	var inserted bool
	err := resilience.Do(ctx, r.retryCfg, func(ctx context.Context) error {
		var rerr error
		inserted, rerr = r.deps.Store.UpsertReviewItem(ctx, item)
		return rerr
	})
	if err != nil {
		zap.L().Warn("orchestrator: review item write failed",
			zap.String("kind", item.Kind),
			zap.Error(err),
		)
		return
	}
	if inserted {
		st.reviewRaised()
	}
}

func (r *Runner) recordEvent(ctx context.Context, runID string, target model.ScrapeTarget, kind, message string, details map[string]any) {
	ev := model.Event{
		RunID:        runID,
		VendorID:     target.VendorID,
		VendorPageID: target.VendorPageID,
		Kind:         kind,
		Message:      redact.String(message),
		Details:      redact.Map(details),
	}
	if err := r.deps.Store.AppendEvent(ctx, ev); err != nil {
		zap.L().Warn("orchestrator: event write failed",
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}

func (r *Runner) notify(ctx context.Context, subject, body string) {
	if r.deps.Alerter == nil {
		return
	}
	r.deps.Alerter.Notify(ctx, subject, redact.String(body))
}

// mergeTargets puts manual requests first and drops scheduled duplicates.
func mergeTargets(manual, scheduled []model.ScrapeTarget) []model.ScrapeTarget {
	seen := make(map[int64]struct{}, len(manual))
	out := make([]model.ScrapeTarget, 0, len(manual)+len(scheduled))
	for _, t := range manual {
		if _, ok := seen[t.VendorPageID]; ok {
			continue
		}
		seen[t.VendorPageID] = struct{}{}
		out = append(out, t)
	}
	for _, t := range scheduled {
		if _, ok := seen[t.VendorPageID]; ok {
			continue
		}
		seen[t.VendorPageID] = struct{}{}
		out = append(out, t)
	}
	return out
}
