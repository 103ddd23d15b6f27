package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	RenderFetch  RenderFetchConfig  `yaml:"renderfetch" mapstructure:"renderfetch"`
	Discovery    DiscoveryConfig    `yaml:"discovery" mapstructure:"discovery"`
	Policy       PolicyConfig       `yaml:"policy" mapstructure:"policy"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Guardrail    GuardrailConfig    `yaml:"guardrail" mapstructure:"guardrail"`
	Alert        AlertConfig        `yaml:"alert" mapstructure:"alert"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings for alias classification.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// RenderFetchConfig holds the third-party render-and-fetch API settings.
// An empty key disables the fallback.
type RenderFetchConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// DiscoveryConfig tunes the per-target discovery cascade.
type DiscoveryConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAPIPages       int     `yaml:"max_api_pages" mapstructure:"max_api_pages"`
	MinCardOffers     int     `yaml:"min_card_offers" mapstructure:"min_card_offers"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	FetchRetries      int     `yaml:"fetch_retries" mapstructure:"fetch_retries"`
	HeadlessTimeout   int     `yaml:"headless_timeout_secs" mapstructure:"headless_timeout_secs"`
}

// PolicyConfig configures the robots.txt gate.
type PolicyConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OrchestratorConfig tunes run scheduling and liveness.
type OrchestratorConfig struct {
	MaxConcurrentTargets int `yaml:"max_concurrent_targets" mapstructure:"max_concurrent_targets"`
	HeartbeatSecs        int `yaml:"heartbeat_secs" mapstructure:"heartbeat_secs"`
	StaleRunTTLMins      int `yaml:"stale_run_ttl_mins" mapstructure:"stale_run_ttl_mins"`
	ProgressLagMins      int `yaml:"progress_lag_mins" mapstructure:"progress_lag_mins"`
	StorageRetries       int `yaml:"storage_retries" mapstructure:"storage_retries"`
}

// GuardrailConfig configures post-run data-shape checks.
type GuardrailConfig struct {
	FormulationRules []FormulationRule `yaml:"formulation_rules" mapstructure:"formulation_rules"`
	DriftMaxDrop     float64           `yaml:"drift_max_drop" mapstructure:"drift_max_drop"`
	MinVendorFloor   int               `yaml:"min_vendor_floor" mapstructure:"min_vendor_floor"`
	MaxVendorDropPct float64           `yaml:"max_vendor_drop_pct" mapstructure:"max_vendor_drop_pct"`
	RecentRunWindow  int               `yaml:"recent_run_window" mapstructure:"recent_run_window"`
}

// FormulationRule pins a minimum vial share for one (compound, total-mass)
// bucket. A sudden non-vial majority for a vial-dominant compound indicates
// a parsing regression, not a market shift.
type FormulationRule struct {
	CompoundSlug string  `yaml:"compound_slug" mapstructure:"compound_slug"`
	TotalMassMg  float64 `yaml:"total_mass_mg" mapstructure:"total_mass_mg"`
	MinOffers    int     `yaml:"min_offers" mapstructure:"min_offers"`
	MinVialShare float64 `yaml:"min_vial_share" mapstructure:"min_vial_share"`
}

// AlertConfig configures the fire-and-forget notification webhook.
type AlertConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the job-trigger HTTP surface.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PEPWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 256)
	v.SetDefault("renderfetch.base_url", "https://r.jina.ai")
	v.SetDefault("discovery.user_agent", "Mozilla/5.0 (compatible; PepwatchBot/1.0)")
	v.SetDefault("discovery.timeout_secs", 20)
	v.SetDefault("discovery.max_api_pages", 3)
	v.SetDefault("discovery.min_card_offers", 3)
	v.SetDefault("discovery.requests_per_second", 2)
	v.SetDefault("discovery.burst", 4)
	v.SetDefault("discovery.fetch_retries", 3)
	v.SetDefault("discovery.headless_timeout_secs", 45)
	v.SetDefault("policy.user_agent", "PepwatchBot")
	v.SetDefault("policy.timeout_secs", 10)
	v.SetDefault("orchestrator.max_concurrent_targets", 3)
	v.SetDefault("orchestrator.heartbeat_secs", 30)
	v.SetDefault("orchestrator.stale_run_ttl_mins", 15)
	v.SetDefault("orchestrator.progress_lag_mins", 10)
	v.SetDefault("orchestrator.storage_retries", 3)
	v.SetDefault("guardrail.drift_max_drop", 0.2)
	v.SetDefault("guardrail.min_vendor_floor", 3)
	v.SetDefault("guardrail.max_vendor_drop_pct", 0.3)
	v.SetDefault("guardrail.recent_run_window", 10)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
