package main

import (
	"context"

	"github.com/pepwatch/ingest-cli/internal/alias"
	"github.com/pepwatch/ingest-cli/internal/discovery"
	"github.com/pepwatch/ingest-cli/internal/monitoring"
	"github.com/pepwatch/ingest-cli/internal/orchestrator"
	"github.com/pepwatch/ingest-cli/internal/policy"
	"github.com/pepwatch/ingest-cli/internal/store"
	anthropicpkg "github.com/pepwatch/ingest-cli/pkg/anthropic"
	"github.com/pepwatch/ingest-cli/pkg/renderfetch"
)

func initStore(ctx context.Context) (store.Store, error) {
	return store.New(ctx, cfg.Store)
}

// buildRunner wires the full target-processing pipeline. Optional
// collaborators (AI classifier, render-and-fetch API) are disabled by an
// empty key rather than failing startup.
func buildRunner(st store.Store) *orchestrator.Runner {
	var aiClient anthropicpkg.Client
	if cfg.Anthropic.Key != "" {
		aiClient = anthropicpkg.NewClient(cfg.Anthropic.Key)
	}

	var renderClient renderfetch.Client
	if cfg.RenderFetch.Key != "" {
		renderClient = renderfetch.NewClient(cfg.RenderFetch.Key, renderfetch.WithBaseURL(cfg.RenderFetch.BaseURL))
	}

	return orchestrator.NewRunner(orchestrator.Deps{
		Store:    st,
		Discover: discovery.NewEngine(cfg.Discovery, renderClient),
		Resolver: alias.NewResolver(st, aiClient, cfg.Anthropic),
		Gate:     policy.NewGate(cfg.Policy),
		Alerter:  monitoring.NewAlerter(cfg.Alert),
	}, cfg.Orchestrator, cfg.Guardrail)
}
