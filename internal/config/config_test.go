package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Orchestrator.MaxConcurrentTargets)
	assert.Equal(t, 30, cfg.Orchestrator.HeartbeatSecs)
	assert.Equal(t, 15, cfg.Orchestrator.StaleRunTTLMins)
	assert.Equal(t, 3, cfg.Discovery.MaxAPIPages)
	assert.Equal(t, 3, cfg.Discovery.MinCardOffers)
	assert.Equal(t, 0.2, cfg.Guardrail.DriftMaxDrop)
	assert.Equal(t, 0.3, cfg.Guardrail.MaxVendorDropPct)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PEPWATCH_ORCHESTRATOR_MAX_CONCURRENT_TARGETS", "7")
	t.Setenv("PEPWATCH_STORE_DRIVER", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Orchestrator.MaxConcurrentTargets)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := `
discovery:
  max_api_pages: 5
guardrail:
  formulation_rules:
    - compound_slug: bpc-157
      total_mass_mg: 10
      min_offers: 10
      min_vial_share: 0.8
`
	writeFile(t, dir+"/config.yaml", yaml)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Discovery.MaxAPIPages)
	require.Len(t, cfg.Guardrail.FormulationRules, 1)
	rule := cfg.Guardrail.FormulationRules[0]
	assert.Equal(t, "bpc-157", rule.CompoundSlug)
	assert.Equal(t, 10.0, rule.TotalMassMg)
	assert.Equal(t, 0.8, rule.MinVialShare)
}

func TestInitLoggerBadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
}
