package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/nrjais/reposql/internal/engine"
	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/filter"
)

type Config struct {
	Engine         string              `mapstructure:"engine" validate:"required,oneof=memory postgres"`
	PostgresURL    string              `mapstructure:"postgres_url" validate:"required_if=Engine postgres"`
	LogLevel       string              `mapstructure:"log_level" validate:"required,uppercase,oneof=DEBUG INFO WARN ERROR"`
	Transaction    TransactionConfig   `mapstructure:"transaction" validate:"required"`
	Query          QueryConfig         `mapstructure:"query"`
	Metrics        MetricsConfig       `mapstructure:"metrics" validate:"required"`
	Entities       []entity.Definition `mapstructure:"entities"`
	DefaultFilters map[string]string   `mapstructure:"default_filters"`
}

type TransactionConfig struct {
	IdleTimeoutSecs  int    `mapstructure:"idle_timeout_secs" validate:"min=1"`
	ReapIntervalSecs int    `mapstructure:"reap_interval_secs" validate:"min=1"`
	DefaultIsolation string `mapstructure:"default_isolation"`
}

type QueryConfig struct {
	MaxLimit int `mapstructure:"max_limit" validate:"min=0"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace" validate:"required"`
}

func (t TransactionConfig) IdleTimeout() time.Duration {
	return time.Duration(t.IdleTimeoutSecs) * time.Second
}

func (t TransactionConfig) ReapInterval() time.Duration {
	return time.Duration(t.ReapIntervalSecs) * time.Second
}

func (t TransactionConfig) Isolation() (engine.IsolationLevel, error) {
	return engine.ParseIsolationLevel(t.DefaultIsolation)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine", "memory")
	v.SetDefault("postgres_url", "")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("transaction.idle_timeout_secs", 60)
	v.SetDefault("transaction.reap_interval_secs", 10)
	v.SetDefault("transaction.default_isolation", "read-committed")
	v.SetDefault("query.max_limit", 0)
	v.SetDefault("metrics.namespace", "reposql")
}

// Load reads configuration from file and REPOSQL_ environment variables and
// exits the process when it is unusable.
func Load() *Config {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REPOSQL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	configFile := os.Getenv("REPOSQL_CONFIG_PATH")
	if configFile != "" {
		v.SetConfigFile(configFile)
		slog.Info("Loading configuration from specified file", "path", configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/reposql/")
		slog.Info("Config path not set, using default paths",
			"paths", []string{".", "./config", "/etc/reposql/"},
			"filename", "config.yaml")
	}

	err := v.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("Config file not found, using defaults and environment variables")
		} else {
			slog.Error("Failed to read config file", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Info("Configuration loaded", "file", v.ConfigFileUsed())
	}

	cfg, err := Parse(v)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logConfig(cfg)
	return cfg
}

// Parse unmarshals and validates the settings held by v. Defaults are
// applied for keys v does not set.
func Parse(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	validator := validator.New()

	if err := validator.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if _, err := cfg.Transaction.Isolation(); err != nil {
		return fmt.Errorf("config validation failed: transaction.default_isolation: %w", err)
	}
	if _, err := cfg.Registry(); err != nil {
		return fmt.Errorf("config validation failed: entities: %w", err)
	}
	if _, err := cfg.Filters(); err != nil {
		return fmt.Errorf("config validation failed: default_filters: %w", err)
	}
	return nil
}

// Registry builds the entity registry from the configured definitions.
func (c *Config) Registry() (*entity.Registry, error) {
	return entity.NewRegistryFromDefinitions(c.Entities)
}

// Filters decodes the default filters. Each value is a JSON filter object;
// keeping it as a string preserves column name case, which viper would
// otherwise fold.
func (c *Config) Filters() (map[string]*filter.Filter, error) {
	out := make(map[string]*filter.Filter, len(c.DefaultFilters))
	for name, raw := range c.DefaultFilters {
		f, err := filter.Parse([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = f
	}
	return out, nil
}

func logConfig(cfg *Config) {
	names := make([]string, 0, len(cfg.Entities))
	for _, def := range cfg.Entities {
		names = append(names, def.Name)
	}
	sort.Strings(names)
	slog.Info("Final Configuration",
		"engine", cfg.Engine,
		"postgres_url_set", cfg.PostgresURL != "",
		"log_level", cfg.LogLevel,
		"transaction", cfg.Transaction,
		"query", cfg.Query,
		"metrics", cfg.Metrics,
		"entities", names,
		"default_filters", len(cfg.DefaultFilters))
}
