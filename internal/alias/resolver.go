// Package alias resolves free-text vendor compound names to canonical
// compound identities, with a persistent cache in front of an AI classifier.
package alias

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pepwatch/ingest-cli/internal/config"
	"github.com/pepwatch/ingest-cli/internal/model"
	"github.com/pepwatch/ingest-cli/pkg/anthropic"
)

// Cache is the slice of the store the resolver needs.
type Cache interface {
	GetAlias(ctx context.Context, normalizedName string) (*model.CompoundAlias, error)
	PutAlias(ctx context.Context, alias model.CompoundAlias) error
}

// Request carries the vendor context for one resolution.
type Request struct {
	RawName     string
	ProductName string
	ProductURL  string
	VendorName  string
}

// Result is a resolution plus bookkeeping the orchestrator aggregates.
type Result struct {
	Resolution model.CompoundResolution
	AICalled   bool
}

// Resolver resolves raw compound names. The cache is the cost-control
// mechanism: without it every offer of every run would hit the AI service.
type Resolver struct {
	cache Cache
	ai    anthropic.Client
	cfg   config.AnthropicConfig
}

// NewResolver creates a Resolver. ai may be nil, in which case unresolved
// names go straight to the review queue.
func NewResolver(cache Cache, ai anthropic.Client, cfg config.AnthropicConfig) *Resolver {
	return &Resolver{cache: cache, ai: ai, cfg: cfg}
}

const classifySystem = `You match raw peptide vendor product names to a fixed vocabulary of tracked compounds. Respond with a single JSON object:
{"decision": "match"|"skip"|"review", "canonical_slug": "<slug from the vocabulary, or null>", "alias": "<the raw name>", "confidence": <0.0-1.0>, "reason": "<short>"}
Rules: "match" only when the name clearly refers to one vocabulary compound. "skip" for products that are not trackable peptide compounds (apparel, bacteriostatic water, supplies, blends of many compounds). "review" when unsure.`

const classifyUser = `Raw compound name: %s
Full product name: %s
Product URL: %s
Vendor: %s

Vocabulary (canonical slugs):
%s`

// Resolve maps a raw compound name to a compound identity. Steps run in
// strict priority order and short-circuit: cache, exact catalog match, AI
// classification, review fallback. Every outcome except a cache hit is
// written back to the cache.
func (r *Resolver) Resolve(ctx context.Context, req Request, compounds []model.Compound) (Result, error) {
	norm := NormalizeText(req.RawName)
	if norm == "" {
		return Result{Resolution: model.CompoundResolution{
			Status: model.ResolutionNeedsReview,
			Reason: "empty name",
		}}, nil
	}

	// 1+2. Alias cache: compound hit, cached non-trackable, or cached
	// needs_review all short-circuit.
	cached, err := r.cache.GetAlias(ctx, norm)
	if err != nil {
		return Result{}, eris.Wrap(err, "alias: cache lookup")
	}
	if cached != nil {
		res := model.CompoundResolution{
			CompoundID: cached.CompoundID,
			Confidence: cached.Confidence,
			Status:     cached.Status,
			Reason:     cached.Reason,
			CacheHit:   true,
		}
		if cached.Status == model.ResolutionResolved && cached.CompoundID == nil {
			res.SkipReview = true
		}
		return Result{Resolution: res}, nil
	}

	// 3. Exact match against compound name or slug.
	for _, c := range compounds {
		if NormalizeText(c.Name) == norm || NormalizeText(c.Slug) == norm {
			res := model.CompoundResolution{
				CompoundID: &c.ID,
				Confidence: 1.0,
				Status:     model.ResolutionAutoMatched,
				Reason:     "exact match",
			}
			r.persist(ctx, norm, req.RawName, res)
			return Result{Resolution: res}, nil
		}
	}

	// 4. AI classification, constrained to the active-compound vocabulary.
	if r.ai != nil {
		res, ok := r.classify(ctx, req, compounds)
		if ok {
			r.persist(ctx, norm, req.RawName, res)
			return Result{Resolution: res, AICalled: true}, nil
		}
	}

	// 5. No actionable decision: queue for a human.
	res := model.CompoundResolution{
		Status: model.ResolutionNeedsReview,
		Reason: "no classifier decision",
	}
	r.persist(ctx, norm, req.RawName, res)
	aiCalled := r.ai != nil
	return Result{Resolution: res, AICalled: aiCalled}, nil
}

// classify asks the AI collaborator for a decision. ok is false when the
// service was unavailable or returned nothing actionable.
func (r *Resolver) classify(ctx context.Context, req Request, compounds []model.Compound) (model.CompoundResolution, bool) {
	slugs := make([]string, len(compounds))
	bySlug := make(map[string]int64, len(compounds))
	for i, c := range compounds {
		slugs[i] = c.Slug
		bySlug[c.Slug] = c.ID
	}

	prompt := fmt.Sprintf(classifyUser,
		req.RawName, req.ProductName, req.ProductURL, req.VendorName,
		strings.Join(slugs, "\n"))

	resp, err := r.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     r.cfg.Model,
		MaxTokens: r.cfg.MaxTokens,
		System:    classifySystem,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		zap.L().Warn("alias: classification call failed",
			zap.String("raw_name", req.RawName),
			zap.Error(err),
		)
		return model.CompoundResolution{}, false
	}

	var decision struct {
		Decision      string  `json:"decision"`
		CanonicalSlug *string `json:"canonical_slug"`
		Alias         string  `json:"alias"`
		Confidence    float64 `json:"confidence"`
		Reason        string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &decision); err != nil {
		zap.L().Warn("alias: unparseable classification response",
			zap.String("raw_name", req.RawName),
			zap.Error(err),
		)
		return model.CompoundResolution{}, false
	}

	switch decision.Decision {
	case "match":
		if decision.CanonicalSlug == nil {
			return model.CompoundResolution{}, false
		}
		// A match is trusted only when the returned slug is actually in
		// the supplied vocabulary.
		id, ok := bySlug[*decision.CanonicalSlug]
		if !ok {
			zap.L().Warn("alias: classifier returned out-of-vocabulary slug",
				zap.String("raw_name", req.RawName),
				zap.String("slug", *decision.CanonicalSlug),
			)
			return model.CompoundResolution{}, false
		}
		return model.CompoundResolution{
			CompoundID: &id,
			Confidence: decision.Confidence,
			Status:     model.ResolutionAutoMatched,
			Reason:     decision.Reason,
		}, true
	case "skip":
		return model.CompoundResolution{
			Confidence: decision.Confidence,
			Status:     model.ResolutionResolved,
			Reason:     decision.Reason,
			SkipReview: true,
		}, true
	case "review":
		return model.CompoundResolution{
			Status: model.ResolutionNeedsReview,
			Reason: decision.Reason,
		}, true
	default:
		return model.CompoundResolution{}, false
	}
}

func (r *Resolver) persist(ctx context.Context, norm, raw string, res model.CompoundResolution) {
	err := r.cache.PutAlias(ctx, model.CompoundAlias{
		NormalizedName: norm,
		RawName:        raw,
		CompoundID:     res.CompoundID,
		Status:         res.Status,
		Confidence:     res.Confidence,
		Reason:         res.Reason,
		UpdatedAt:      time.Now().UTC(),
	})
	if err != nil {
		zap.L().Warn("alias: failed to persist alias",
			zap.String("normalized", norm),
			zap.Error(err),
		)
	}
}

var (
	punctRe = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	wsRe    = regexp.MustCompile(`\s+`)
)

// NormalizeText lowercases, strips punctuation, and collapses whitespace.
func NormalizeText(s string) string {
	s = strings.ToLower(s)
	s = punctRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}

// cleanJSON strips markdown code fences the model sometimes wraps around
// its JSON.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
