package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		envVars map[string]string
		wantErr error
	}{
		{
			name:    "no file",
			wantErr: nil,
		},
		{
			name: "valid file",
			yaml: "completion_source: dummy\ndummy_completion: hi\n",
		},
		{
			name:    "negative max tokens",
			yaml:    "max_tokens: -1\n",
			wantErr: ErrInvalidMaxTokens,
		},
		{
			name:    "negative requests per minute",
			yaml:    "requests_per_minute: -5\n",
			wantErr: ErrInvalidRPM,
		},
		{
			name:    "negative max attempts",
			yaml:    "max_attempts: -1\n",
			wantErr: ErrInvalidMaxAttempts,
		},
		{
			name:    "zero concurrency from env",
			envVars: map[string]string{"PIPELINE_CONCURRENCY": "0"},
			wantErr: ErrInvalidConcurrency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars()

			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}
			defer clearEnvVars()

			path := ""
			if tt.yaml != "" {
				path = writeFile(t, "config.yaml", tt.yaml)
			}

			cfg, err := Load(path)

			if tt.wantErr != nil {
				if err != tt.wantErr {
					t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Errorf("Load() unexpected error = %v", err)
				return
			}

			if cfg == nil {
				t.Error("Load() returned nil config")
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	path := writeFile(t, "config.yaml", `
completion_source: openai
model: gpt-3.5-turbo
openai_api_key: sk-test
openai_api_base: http://localhost:8080/v1
organization_id: org-1
max_tokens: 5000
request_timeout: 2m
retry_max_delay: 5s
rate_limit_cooldown: 1s
requests_per_minute: 60
max_attempts: 7
log:
  level: debug
  format: console
pipeline:
  concurrency: 16
metrics:
  addr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	c := cfg.Completion
	assert.Equal(t, "openai", c.Source)
	assert.Equal(t, "gpt-3.5-turbo", c.Model)
	assert.Equal(t, "sk-test", c.OpenAIAPIKey)
	assert.Equal(t, "http://localhost:8080/v1", c.OpenAIAPIBase)
	assert.Equal(t, "org-1", c.OrganizationID)
	assert.Equal(t, int64(5000), c.MaxTokens)
	assert.Equal(t, 2*time.Minute, c.RequestTimeout)
	assert.Equal(t, 5*time.Second, c.RetryMaxDelay)
	assert.Equal(t, time.Second, c.RateLimitCooldown)
	assert.Equal(t, 60, c.RequestsPerMinute)
	assert.Equal(t, 7, c.MaxAttempts)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 16, cfg.Pipeline.Concurrency)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	path := writeFile(t, "config.yaml", "completion_source: openai\nmodel: gpt-4\nmax_tokens: 10\n")

	os.Setenv("COMPLETION_SOURCE", "dummy")
	os.Setenv("OPENAI_MODEL", "gpt-4o")
	os.Setenv("MAX_TOKENS", "99")
	os.Setenv("OPENAI_API_BASE", "http://proxy/v1")
	os.Setenv("OPENAI_ORGANIZATION", "org-env")
	os.Setenv("METRICS_ADDR", ":2112")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dummy", cfg.Completion.Source)
	assert.Equal(t, "gpt-4o", cfg.Completion.Model)
	assert.Equal(t, int64(99), cfg.Completion.MaxTokens)
	assert.Equal(t, "http://proxy/v1", cfg.Completion.OpenAIAPIBase)
	assert.Equal(t, "org-env", cfg.Completion.OrganizationID)
	assert.Equal(t, ":2112", cfg.Metrics.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnvVars()
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	clearEnvVars()
	path := writeFile(t, "config.yaml", "model: [unterminated\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %v, want %v", cfg.Log.Level, "info")
	}
	if cfg.Pipeline.Concurrency != 4 {
		t.Errorf("Pipeline.Concurrency = %v, want 4", cfg.Pipeline.Concurrency)
	}
	if cfg.Completion.Source != "" {
		t.Errorf("Completion.Source = %q, want empty so the factory default applies", cfg.Completion.Source)
	}
	if cfg.Completion.MaxTokens != 0 {
		t.Errorf("Completion.MaxTokens = %v, want 0", cfg.Completion.MaxTokens)
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("DOTENV_TEST_KEY", "")
	os.Unsetenv("DOTENV_TEST_KEY")
	t.Setenv("DOTENV_TEST_SET", "kept")

	path := writeFile(t, ".env", "DOTENV_TEST_KEY=from-file\nDOTENV_TEST_SET=overwritten\n")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("DOTENV_TEST_KEY"))
	assert.Equal(t, "kept", os.Getenv("DOTENV_TEST_SET"))

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestGetEnvIntOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		envValue   string
		defaultVal int
		want       int
	}{
		{"valid int", "42", 10, 42},
		{"empty string", "", 10, 10},
		{"invalid int", "abc", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv("TEST_INT", tt.envValue)
			defer os.Unsetenv("TEST_INT")

			got := getEnvIntOrDefault("TEST_INT", tt.defaultVal)
			if got != tt.want {
				t.Errorf("getEnvIntOrDefault() = %v, want %v", got, tt.want)
			}
		})
	}
}

func clearEnvVars() {
	envVars := []string{
		"COMPLETION_SOURCE",
		"OPENAI_MODEL",
		"OPENAI_API_BASE",
		"OPENAI_ORGANIZATION",
		"MAX_TOKENS",
		"LOG_LEVEL",
		"PIPELINE_CONCURRENCY",
		"METRICS_ADDR",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
