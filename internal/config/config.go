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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Odoo      OdooConfig      `yaml:"odoo" mapstructure:"odoo"`
	Matcher   MatcherConfig   `yaml:"matcher" mapstructure:"matcher"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Replay    ReplayConfig    `yaml:"replay" mapstructure:"replay"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings for extraction and
// confirmation generation.
type AnthropicConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	Model            string `yaml:"model" mapstructure:"model"`
	MaxTokens        int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	ConfirmMaxTokens int64  `yaml:"confirm_max_tokens" mapstructure:"confirm_max_tokens"`
}

// OdooConfig holds Odoo JSON-RPC connection settings.
type OdooConfig struct {
	URL                 string  `yaml:"url" mapstructure:"url"`
	Database            string  `yaml:"database" mapstructure:"database"`
	Username            string  `yaml:"username" mapstructure:"username"`
	Password            string  `yaml:"password" mapstructure:"password"` // password or API key
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	RequestsPerSecond   float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// MatcherConfig tunes the fuzzy matcher used for item reconciliation.
type MatcherConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
}

// PricingConfig holds tier discount settings.
type PricingConfig struct {
	Currency             string  `yaml:"currency" mapstructure:"currency"`
	PremiumDiscountPct   float64 `yaml:"premium_discount_pct" mapstructure:"premium_discount_pct"`
	VIPDiscountPct       float64 `yaml:"vip_discount_pct" mapstructure:"vip_discount_pct"`
	DeliveryFee          float64 `yaml:"delivery_fee" mapstructure:"delivery_fee"`
	FreeDeliveryStandard float64 `yaml:"free_delivery_standard" mapstructure:"free_delivery_standard"`
	FreeDeliveryPremium  float64 `yaml:"free_delivery_premium" mapstructure:"free_delivery_premium"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// ReplayConfig configures batch replay of message logs.
type ReplayConfig struct {
	MaxConcurrentConversations int `yaml:"max_concurrent_conversations" mapstructure:"max_concurrent_conversations"`
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
	v.SetEnvPrefix("ORDERDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "order-desk.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2000)
	v.SetDefault("anthropic.confirm_max_tokens", 500)
	v.SetDefault("matcher.similarity_threshold", 0.6)
	v.SetDefault("odoo.similarity_threshold", 0.6)
	v.SetDefault("odoo.requests_per_second", 4)
	v.SetDefault("replay.max_concurrent_conversations", 5)
	v.SetDefault("pricing.currency", "KES")
	v.SetDefault("pricing.premium_discount_pct", 10)
	v.SetDefault("pricing.vip_discount_pct", 20)
	v.SetDefault("pricing.delivery_fee", 500)
	v.SetDefault("pricing.free_delivery_standard", 50000)
	v.SetDefault("pricing.free_delivery_premium", 30000)

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
