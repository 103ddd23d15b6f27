package alias

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepwatch/ingest-cli/internal/config"
	"github.com/pepwatch/ingest-cli/internal/model"
	"github.com/pepwatch/ingest-cli/pkg/anthropic"
)

type memCache struct {
	mu      sync.Mutex
	aliases map[string]model.CompoundAlias
}

func newMemCache() *memCache {
	return &memCache{aliases: make(map[string]model.CompoundAlias)}
}

func (m *memCache) GetAlias(_ context.Context, norm string) (*model.CompoundAlias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.aliases[norm]; ok {
		cp := a
		return &cp, nil
	}
	return nil, nil
}

func (m *memCache) PutAlias(_ context.Context, a model.CompoundAlias) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases[a.NormalizedName] = a
	return nil
}

type fakeAI struct {
	mu       sync.Mutex
	calls    int
	response string
	err      error
}

func (f *fakeAI) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.response}},
	}, nil
}

func testCompounds() []model.Compound {
	return []model.Compound{
		{ID: 1, Slug: "bpc-157", Name: "BPC-157", Active: true},
		{ID: 2, Slug: "semaglutide", Name: "Semaglutide", Active: true},
	}
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "bpc 157", NormalizeText("BPC-157"))
	assert.Equal(t, "bpc 157", NormalizeText("  bpc   157!! "))
	assert.Equal(t, "", NormalizeText("***"))
}

func TestResolveExactMatch(t *testing.T) {
	cache := newMemCache()
	ai := &fakeAI{}
	r := NewResolver(cache, ai, config.AnthropicConfig{Model: "m", MaxTokens: 256})

	res, err := r.Resolve(context.Background(), Request{RawName: "Semaglutide"}, testCompounds())
	require.NoError(t, err)
	require.NotNil(t, res.Resolution.CompoundID)
	assert.Equal(t, int64(2), *res.Resolution.CompoundID)
	assert.Equal(t, model.ResolutionAutoMatched, res.Resolution.Status)
	assert.Equal(t, 1.0, res.Resolution.Confidence)
	assert.False(t, res.AICalled)
	assert.Equal(t, 0, ai.calls)

	// Exact match by slug with different punctuation.
	res, err = r.Resolve(context.Background(), Request{RawName: "bpc 157"}, testCompounds())
	require.NoError(t, err)
	require.NotNil(t, res.Resolution.CompoundID)
	assert.Equal(t, int64(1), *res.Resolution.CompoundID)
}

func TestResolveCacheHitSkipsAI(t *testing.T) {
	cache := newMemCache()
	ai := &fakeAI{response: `{"decision":"match","canonical_slug":"bpc-157","alias":"BPC 157 Pure","confidence":0.93,"reason":"brand variant"}`}
	r := NewResolver(cache, ai, config.AnthropicConfig{Model: "m", MaxTokens: 256})

	first, err := r.Resolve(context.Background(), Request{RawName: "BPC 157 Pure"}, testCompounds())
	require.NoError(t, err)
	assert.True(t, first.AICalled)
	require.NotNil(t, first.Resolution.CompoundID)
	assert.Equal(t, int64(1), *first.Resolution.CompoundID)
	assert.False(t, first.Resolution.CacheHit)

	// Same raw name again: cache answers, AI is not consulted.
	second, err := r.Resolve(context.Background(), Request{RawName: "BPC 157 Pure"}, testCompounds())
	require.NoError(t, err)
	assert.False(t, second.AICalled)
	assert.True(t, second.Resolution.CacheHit)
	require.NotNil(t, second.Resolution.CompoundID)
	assert.Equal(t, int64(1), *second.Resolution.CompoundID)
	assert.Equal(t, 1, ai.calls)
}

func TestResolveSkipDecision(t *testing.T) {
	cache := newMemCache()
	ai := &fakeAI{response: `{"decision":"skip","canonical_slug":null,"alias":"Bacteriostatic Water 30ml","confidence":0.99,"reason":"not a tracked compound"}`}
	r := NewResolver(cache, ai, config.AnthropicConfig{Model: "m"})

	res, err := r.Resolve(context.Background(), Request{RawName: "Bacteriostatic Water 30ml"}, testCompounds())
	require.NoError(t, err)
	assert.Nil(t, res.Resolution.CompoundID)
	assert.Equal(t, model.ResolutionResolved, res.Resolution.Status)
	assert.True(t, res.Resolution.SkipReview)

	// Cached skip short-circuits with SkipReview still set.
	res, err = r.Resolve(context.Background(), Request{RawName: "Bacteriostatic Water 30ml"}, testCompounds())
	require.NoError(t, err)
	assert.True(t, res.Resolution.CacheHit)
	assert.True(t, res.Resolution.SkipReview)
	assert.Equal(t, 1, ai.calls)
}

func TestResolveOutOfVocabularySlugGoesToReview(t *testing.T) {
	cache := newMemCache()
	ai := &fakeAI{response: `{"decision":"match","canonical_slug":"made-up-peptide","alias":"Mystery","confidence":0.9,"reason":"?"}`}
	r := NewResolver(cache, ai, config.AnthropicConfig{Model: "m"})

	res, err := r.Resolve(context.Background(), Request{RawName: "Mystery Compound X"}, testCompounds())
	require.NoError(t, err)
	assert.Nil(t, res.Resolution.CompoundID)
	assert.Equal(t, model.ResolutionNeedsReview, res.Resolution.Status)
	assert.Equal(t, 0.0, res.Resolution.Confidence)
}

func TestResolveReviewDecisionCached(t *testing.T) {
	cache := newMemCache()
	ai := &fakeAI{response: `{"decision":"review","canonical_slug":null,"alias":"Blend 9000","confidence":0.2,"reason":"multi-compound blend"}`}
	r := NewResolver(cache, ai, config.AnthropicConfig{Model: "m"})

	res, err := r.Resolve(context.Background(), Request{RawName: "Blend 9000"}, testCompounds())
	require.NoError(t, err)
	assert.Equal(t, model.ResolutionNeedsReview, res.Resolution.Status)

	// The review verdict is cached too; repeated runs do not pay for AI again.
	res, err = r.Resolve(context.Background(), Request{RawName: "Blend 9000"}, testCompounds())
	require.NoError(t, err)
	assert.True(t, res.Resolution.CacheHit)
	assert.Equal(t, model.ResolutionNeedsReview, res.Resolution.Status)
	assert.Equal(t, 1, ai.calls)
}

func TestResolveAIUnavailable(t *testing.T) {
	cache := newMemCache()
	ai := &fakeAI{err: assert.AnError}
	r := NewResolver(cache, ai, config.AnthropicConfig{Model: "m"})

	res, err := r.Resolve(context.Background(), Request{RawName: "Unknown Thing"}, testCompounds())
	require.NoError(t, err)
	assert.Equal(t, model.ResolutionNeedsReview, res.Resolution.Status)
	assert.Equal(t, 0.0, res.Resolution.Confidence)
	assert.True(t, res.AICalled)
}

func TestResolveNilAI(t *testing.T) {
	cache := newMemCache()
	r := NewResolver(cache, nil, config.AnthropicConfig{})

	res, err := r.Resolve(context.Background(), Request{RawName: "Unknown Thing"}, testCompounds())
	require.NoError(t, err)
	assert.Equal(t, model.ResolutionNeedsReview, res.Resolution.Status)
	assert.False(t, res.AICalled)
}

func TestResolveEmptyName(t *testing.T) {
	r := NewResolver(newMemCache(), nil, config.AnthropicConfig{})
	res, err := r.Resolve(context.Background(), Request{RawName: "  !! "}, testCompounds())
	require.NoError(t, err)
	assert.Equal(t, model.ResolutionNeedsReview, res.Resolution.Status)
}

func TestCleanJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSON(`{"a":1}`))
}
