// Package config loads and validates the sitemend configuration from a
// YAML file, with environment variable expansion. Provider API keys are
// never stored in the file; they come from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Provider types.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Generation GenerationConfig `yaml:"generation"`
	Log        LogConfig        `yaml:"log"`
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Providers.Validate(); err != nil {
		return err
	}
	if err := c.Generation.Validate(); err != nil {
		return err
	}
	return c.Log.Validate()
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// Address returns the HTTP listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *ServerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

type StorageConfig struct {
	// StateDir holds the databases and the audit trail.
	StateDir string `yaml:"state_dir"`
}

func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.StateDir, validation.Required),
	)
}

// IndexDBPath is the project-index database file.
func (c *StorageConfig) IndexDBPath() string {
	return filepath.Join(c.StateDir, "indexes.db")
}

// LedgerDBPath is the edit-ledger database file.
func (c *StorageConfig) LedgerDBPath() string {
	return filepath.Join(c.StateDir, "ledger.db")
}

// ProviderConfig is one entry in the provider registry: which service
// backs a pipeline stage and which model it runs.
type ProviderConfig struct {
	Type    string `yaml:"type"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

func (c *ProviderConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Type, validation.Required, validation.In(ProviderAnthropic, ProviderOpenAI)),
		validation.Field(&c.Model, validation.Required),
	)
}

// APIKey reads the provider's key from the environment. Keys are operator
// configuration, not file configuration.
func (c *ProviderConfig) APIKey() string {
	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}

type ProvidersConfig struct {
	Classifier ProviderConfig `yaml:"classifier"`
	Generator  ProviderConfig `yaml:"generator"`
}

func (c *ProvidersConfig) Validate() error {
	if err := c.Classifier.Validate(); err != nil {
		return fmt.Errorf("providers.classifier: %w", err)
	}
	if err := c.Generator.Validate(); err != nil {
		return fmt.Errorf("providers.generator: %w", err)
	}
	return nil
}

type GenerationConfig struct {
	MaxTokens   int     `yaml:"max_tokens"`
	BaseDelayMS int     `yaml:"base_delay_ms"`
	CostPer1K   float64 `yaml:"cost_per_1k"`
}

func (c *GenerationConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxTokens, validation.Min(0)),
		validation.Field(&c.BaseDelayMS, validation.Min(0)),
		validation.Field(&c.CostPer1K, validation.Min(0.0)),
	)
}

// BaseDelay returns the retry backoff unit.
func (c *GenerationConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

type LogConfig struct {
	// Format is "json" or "text".
	Format string `yaml:"format"`
	// Level is "debug|info|warn|error".
	Level string `yaml:"level"`
}

func (c *LogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Format, validation.In("", "json", "text")),
		validation.Field(&c.Level, validation.In("", "debug", "info", "warn", "error")),
	)
}

// Logger builds the process logger per the configured format and level.
func (c *LogConfig) Logger() *slog.Logger {
	level := slog.LevelInfo
	switch c.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: 8090},
		Storage: StorageConfig{StateDir: "./sitemend-data"},
		Providers: ProvidersConfig{
			Classifier: ProviderConfig{Type: ProviderAnthropic, Model: "claude-3-5-haiku-latest"},
			Generator:  ProviderConfig{Type: ProviderAnthropic, Model: "claude-sonnet-4-5"},
		},
		Generation: GenerationConfig{
			MaxTokens:   4096,
			BaseDelayMS: 500,
			CostPer1K:   0.015,
		},
		Log: LogConfig{Format: "text", Level: "info"},
	}
}

// Load reads a YAML config file, expands ${ENV} references, applies it on
// top of the defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
