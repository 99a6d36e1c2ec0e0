package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidMaxTokens   = errors.New("max_tokens must be non-negative")
	ErrInvalidConcurrency = errors.New("pipeline concurrency must be positive")
	ErrInvalidRPM         = errors.New("requests_per_minute must be non-negative")
	ErrInvalidMaxAttempts = errors.New("max_attempts must be non-negative")
)

// Config mirrors the YAML file. Completion keys are top level, as in
//
//	completion_source: openai
//	model: gpt-4
//	max_tokens: 100000
//	log:
//	  level: debug
type Config struct {
	Completion CompletionConfig `yaml:",inline"`
	Log        LogConfig        `yaml:"log"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type CompletionConfig struct {
	Source          string `yaml:"completion_source"`
	Model           string `yaml:"model"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIAPIBase   string `yaml:"openai_api_base"`
	OrganizationID  string `yaml:"organization_id"`
	MaxTokens       int64  `yaml:"max_tokens"`
	DummyCompletion string `yaml:"dummy_completion"`

	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	MaxAttempts       int           `yaml:"max_attempts"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PipelineConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Pipeline: PipelineConfig{
			Concurrency: 4,
		},
	}
}

// Load reads .env (if present), the YAML file at path (if any) and then
// environment overrides.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDotEnv exports the variables of an env file that are not already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Completion.Source = getEnvOrDefault("COMPLETION_SOURCE", c.Completion.Source)
	c.Completion.Model = getEnvOrDefault("OPENAI_MODEL", c.Completion.Model)
	c.Completion.OpenAIAPIBase = getEnvOrDefault("OPENAI_API_BASE", c.Completion.OpenAIAPIBase)
	c.Completion.OrganizationID = getEnvOrDefault("OPENAI_ORGANIZATION", c.Completion.OrganizationID)
	c.Completion.MaxTokens = int64(getEnvIntOrDefault("MAX_TOKENS", int(c.Completion.MaxTokens)))

	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Pipeline.Concurrency = getEnvIntOrDefault("PIPELINE_CONCURRENCY", c.Pipeline.Concurrency)
	c.Metrics.Addr = getEnvOrDefault("METRICS_ADDR", c.Metrics.Addr)
}

func (c *Config) Validate() error {
	if c.Completion.MaxTokens < 0 {
		return ErrInvalidMaxTokens
	}
	if c.Completion.RequestsPerMinute < 0 {
		return ErrInvalidRPM
	}
	if c.Completion.MaxAttempts < 0 {
		return ErrInvalidMaxAttempts
	}
	if c.Pipeline.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
