// Package factory turns a completion_source name from configuration into a
// concrete llm.Source.
package factory

import (
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kitbuilder587/completion-source/internal/config"
	"github.com/kitbuilder587/completion-source/internal/llm"
	"github.com/kitbuilder587/completion-source/internal/llm/dummy"
	"github.com/kitbuilder587/completion-source/internal/llm/openai"
)

const (
	DefaultSource = "openai"

	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
	defaultRequestTimeout  = 600 * time.Second
)

// Deps are the collaborators shared by every backend.
type Deps struct {
	Logger   *zap.Logger
	Recorder openai.Recorder
	// OpenAIOptions are appended after the factory's own options.
	OpenAIOptions []openai.Option
}

type Constructor func(cfg config.CompletionConfig, deps Deps) (llm.Source, error)

var sources = map[string]Constructor{
	"openai": newOpenAI,
	"dummy":  newDummy,
}

// Get builds the source named by cfg.Source, "openai" when empty.
func Get(cfg config.CompletionConfig, deps Deps) (llm.Source, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	name := cfg.Source
	if name == "" {
		name = DefaultSource
	}

	ctor, ok := sources[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", llm.ErrUnknownSource, name)
	}

	src, err := ctor(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("initialise %s completion source: %w", name, err)
	}

	deps.Logger.Debug("completion source ready", zap.String("source", name))
	return src, nil
}

// Names lists the known completion sources, sorted.
func Names() []string {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newOpenAI(cfg config.CompletionConfig, deps Deps) (llm.Source, error) {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	opts := []openai.Option{
		openai.WithHTTPClient(newHTTPClient(timeout)),
		openai.WithRecorder(deps.Recorder),
	}
	opts = append(opts, deps.OpenAIOptions...)

	return openai.New(openai.Config{
		APIKey:            cfg.OpenAIAPIKey,
		Model:             cfg.Model,
		BaseURL:           cfg.OpenAIAPIBase,
		OrganizationID:    cfg.OrganizationID,
		MaxTokens:         cfg.MaxTokens,
		Timeout:           timeout,
		RetryMaxDelay:     cfg.RetryMaxDelay,
		RateLimitCooldown: cfg.RateLimitCooldown,
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxAttempts:       cfg.MaxAttempts,
	}, deps.Logger.Named("openai"), opts...)
}

func newDummy(cfg config.CompletionConfig, deps Deps) (llm.Source, error) {
	return dummy.New(dummy.Config{Message: cfg.DummyCompletion}), nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
