package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	Verify    VerifyConfig    `yaml:"verify" mapstructure:"verify"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite | postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`

	RetryAttempts   int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	BreakerFailures int           `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" mapstructure:"breaker_cooldown"`
}

// PipelineConfig sizes the per-step worker pools and job retention.
type PipelineConfig struct {
	ClassifyWorkers int           `yaml:"classify_workers" mapstructure:"classify_workers"`
	DiscoverWorkers int           `yaml:"discover_workers" mapstructure:"discover_workers"`
	VerifyWorkers   int           `yaml:"verify_workers" mapstructure:"verify_workers"`
	Retention       time.Duration `yaml:"retention" mapstructure:"retention"`
	JanitorInterval time.Duration `yaml:"janitor_interval" mapstructure:"janitor_interval"`
}

// NotifyConfig configures progress fan-out.
type NotifyConfig struct {
	MinInterval   time.Duration `yaml:"min_interval" mapstructure:"min_interval"`
	RedisURL      string        `yaml:"redis_url" mapstructure:"redis_url"`
	ChannelPrefix string        `yaml:"channel_prefix" mapstructure:"channel_prefix"`
	AMQPURL       string        `yaml:"amqp_url" mapstructure:"amqp_url"`
	AMQPExchange  string        `yaml:"amqp_exchange" mapstructure:"amqp_exchange"`
}

// ScrapeConfig configures website fetching for classify and discover.
type ScrapeConfig struct {
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent   string        `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerHost float64       `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	MaxBodyKB   int           `yaml:"max_body_kb" mapstructure:"max_body_kb"`
}

// VerifyConfig configures the default email verifier.
type VerifyConfig struct {
	MXTimeout time.Duration `yaml:"mx_timeout" mapstructure:"mx_timeout"`
}

// AnthropicConfig enables model-assisted classification when Key is set.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	// A .env file in cwd seeds the environment; real env vars win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leadflow.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("store.retry_attempts", 3)
	v.SetDefault("store.retry_backoff", 100*time.Millisecond)
	v.SetDefault("store.breaker_failures", 5)
	v.SetDefault("store.breaker_cooldown", 30*time.Second)
	v.SetDefault("pipeline.classify_workers", 15)
	v.SetDefault("pipeline.discover_workers", 12)
	v.SetDefault("pipeline.verify_workers", 25)
	v.SetDefault("pipeline.retention", 15*time.Minute)
	v.SetDefault("pipeline.janitor_interval", time.Minute)
	v.SetDefault("notify.min_interval", 500*time.Millisecond)
	v.SetDefault("notify.redis_url", "")
	v.SetDefault("notify.channel_prefix", "leadflow")
	v.SetDefault("notify.amqp_url", "")
	v.SetDefault("notify.amqp_exchange", "leadflow.jobs")
	v.SetDefault("scrape.timeout", 15*time.Second)
	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (compatible; leadflow/1.0)")
	v.SetDefault("scrape.rate_per_host", 2.0)
	v.SetDefault("scrape.max_body_kb", 2048)
	v.SetDefault("verify.mx_timeout", 5*time.Second)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 256)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command needs. Mode is the command name:
// "serve", "run", "import" or "jobs".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "serve", "run":
		if c.Pipeline.ClassifyWorkers < 1 || c.Pipeline.DiscoverWorkers < 1 || c.Pipeline.VerifyWorkers < 1 {
			errs = append(errs, "pipeline workers must be >= 1")
		}
		if c.Pipeline.Retention <= 0 {
			errs = append(errs, "pipeline.retention must be > 0")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "import", "jobs":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
