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
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Infermedica InfermedicaConfig `yaml:"infermedica" mapstructure:"infermedica"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Consensus   ConsensusConfig   `yaml:"consensus" mapstructure:"consensus"`
	Reward      RewardConfig      `yaml:"reward" mapstructure:"reward"`
	Notify      NotifyConfig      `yaml:"notify" mapstructure:"notify"`
	Artifact    ArtifactConfig    `yaml:"artifact" mapstructure:"artifact"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// InfermedicaConfig holds diagnosis capability credentials and settings.
type InfermedicaConfig struct {
	AppID     string  `yaml:"app_id" mapstructure:"app_id"`
	AppKey    string  `yaml:"app_key" mapstructure:"app_key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	DevMode   bool    `yaml:"dev_mode" mapstructure:"dev_mode"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// AnthropicConfig holds generative capability settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
}

// ConsensusConfig configures the closing rules.
type ConsensusConfig struct {
	MinReviews             int     `yaml:"min_reviews" mapstructure:"min_reviews"`
	SupermajorityThreshold float64 `yaml:"supermajority_threshold" mapstructure:"supermajority_threshold"`
}

// RewardConfig configures reviewer credit amounts in minor currency units.
type RewardConfig struct {
	ReviewCents int    `yaml:"review_cents" mapstructure:"review_cents"`
	BonusCents  int    `yaml:"bonus_cents" mapstructure:"bonus_cents"`
	Currency    string `yaml:"currency" mapstructure:"currency"`
}

// NotifyConfig configures lifecycle event delivery.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ArtifactConfig configures artifact generation.
type ArtifactConfig struct {
	DenylistPath string `yaml:"denylist_path" mapstructure:"denylist_path"`
}

// MonitoringConfig configures the lifecycle health checker.
type MonitoringConfig struct {
	Enabled           bool   `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	StuckClaimMinutes int    `yaml:"stuck_claim_minutes" mapstructure:"stuck_claim_minutes"`
	BacklogThreshold  int    `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
	AlertWebhookURL   string `yaml:"alert_webhook_url" mapstructure:"alert_webhook_url"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TESA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("infermedica.base_url", "https://api.infermedica.com/v3")
	v.SetDefault("infermedica.rate_limit", 10)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("consensus.min_reviews", 3)
	v.SetDefault("consensus.supermajority_threshold", 0.8)
	v.SetDefault("reward.review_cents", 1000)
	v.SetDefault("reward.bonus_cents", 1000)
	v.SetDefault("reward.currency", "EUR")
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.stuck_claim_minutes", 10)
	v.SetDefault("monitoring.backlog_threshold", 25)

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

// Validate checks configuration completeness for the given run mode.
func (c *Config) Validate(mode string) error {
	var problems []string

	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.Store.Driver == "postgres" || c.Store.Driver == "sqlite",
		"store.driver must be postgres or sqlite")
	check(c.Store.DatabaseURL != "", "store.database_url is required")
	check(c.Consensus.MinReviews >= 1 && c.Consensus.MinReviews <= 25,
		"consensus.min_reviews must be between 1 and 25")
	check(c.Consensus.SupermajorityThreshold > 0 && c.Consensus.SupermajorityThreshold <= 1,
		"consensus.supermajority_threshold must be in (0, 1]")
	check(c.Reward.ReviewCents >= 0 && c.Reward.BonusCents >= 0,
		"reward amounts must be >= 0")

	switch mode {
	case "serve":
		check(c.Server.Port > 0, "server.port must be > 0")
		check(c.Infermedica.AppID != "" && c.Infermedica.AppKey != "",
			"infermedica.app_id and infermedica.app_key are required")
		check(c.Anthropic.Key != "", "anthropic.key is required")
	case "migrate", "close":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
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
