package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kitbuilder587/completion-source/internal/llm"
	"github.com/kitbuilder587/completion-source/internal/ratelimit"
	"github.com/kitbuilder587/completion-source/internal/retry"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4"
	APIKeyEnv      = "OPENAI_API_KEY"

	defaultTimeout           = 600 * time.Second
	defaultRateLimitCooldown = 30 * time.Second

	chatCompletionsPath = "/chat/completions"
	modelsPath          = "/models"
)

type Config struct {
	APIKey         string
	Model          string
	BaseURL        string
	OrganizationID string
	// MaxTokens is the lifetime token budget of the source, 0 disables it.
	MaxTokens int64

	Timeout           time.Duration
	RetryMaxDelay     time.Duration
	RateLimitCooldown time.Duration
	RequestsPerMinute int
	MaxAttempts       int
}

// Recorder receives per-attempt measurements. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordLLMRequest(model, status string, duration time.Duration)
	RecordRetry(kind string)
	AddTokens(model string, n int64)
	RecordCompletion(model, outcome string)
}

type Option func(*Source)

func WithHTTPClient(client *http.Client) Option {
	return func(s *Source) {
		if client != nil {
			s.client = client
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Source) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithSleep replaces how backoff and rate-limit cooldown waits are done.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Source) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithJitter replaces the backoff jitter, nil disables it.
func WithJitter(jitter func(time.Duration) time.Duration) Option {
	return func(s *Source) {
		s.jitter = jitter
	}
}

type Source struct {
	apiKey         string
	model          string
	baseURL        string
	organizationID string
	maxTokens      int64
	usedTokens     atomic.Int64

	client   *http.Client
	logger   *zap.Logger
	recorder Recorder
	limiter  *ratelimit.Limiter

	retryMaxDelay time.Duration
	maxAttempts   int
	cooldown      time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
	jitter        func(time.Duration) time.Duration
}

func New(cfg Config, logger *zap.Logger, opts ...Option) (*Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv(APIKeyEnv))
	}
	if apiKey == "" {
		return nil, llm.ErrMissingAPIKey
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = retry.DefaultMaxDelay
	}
	if cfg.RateLimitCooldown == 0 {
		cfg.RateLimitCooldown = defaultRateLimitCooldown
	}

	s := &Source{
		apiKey:         apiKey,
		model:          cfg.Model,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		organizationID: cfg.OrganizationID,
		maxTokens:      cfg.MaxTokens,
		client:         &http.Client{Timeout: cfg.Timeout},
		logger:         logger,
		recorder:       nopRecorder{},
		retryMaxDelay:  cfg.RetryMaxDelay,
		maxAttempts:    cfg.MaxAttempts,
		cooldown:       cfg.RateLimitCooldown,
		sleep:          retry.Sleep,
		jitter:         retry.FullJitter,
	}
	if cfg.RequestsPerMinute > 0 {
		s.limiter = ratelimit.New(ratelimit.Config{RequestsPerMinute: cfg.RequestsPerMinute})
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Source) Model() string { return s.model }

func (s *Source) BaseURL() string { return s.baseURL }

// UsedTokens is the total_tokens sum of every successful call so far.
func (s *Source) UsedTokens() int64 {
	return s.usedTokens.Load()
}

// Close stops background work of the request limiter, if any.
func (s *Source) Close() error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return nil
}

func (s *Source) ValidateModel(ctx context.Context, model string) error {
	if model == "" {
		model = s.model
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+modelsPath, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	s.setHeaders(httpReq)

	respBody, statusCode, err := llm.DoRequest(s.client, httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", llm.ErrValidationFailed, err)
	}

	if statusCode != http.StatusOK {
		return fmt.Errorf("%w: invalid openai API key [%d: %s]",
			llm.ErrValidationFailed, statusCode, strings.TrimSpace(string(respBody)))
	}

	var list llm.ModelList
	if err := json.Unmarshal(respBody, &list); err != nil {
		return fmt.Errorf("%w: unmarshal model list: %v", llm.ErrValidationFailed, err)
	}

	available := make(map[string]struct{}, len(list.Data))
	for _, m := range list.Data {
		available[m.ID] = struct{}{}
	}
	s.logger.Debug("available models", zap.Int("count", len(available)))

	if _, ok := available[model]; !ok {
		return fmt.Errorf("%w: %s", llm.ErrModelUnavailable, model)
	}

	s.logger.Info("successfully validated model", zap.String("model", model))
	return nil
}

func (s *Source) GenerateResponse(ctx context.Context, instruction string, opts ...llm.Option) (string, bool) {
	req := llm.BuildRequest(opts...)

	model := req.Model
	if model == "" {
		model = s.model
	}
	payload := llm.NewChatPayload(model, instruction, req.Messages, req.Params)
	model = fmt.Sprint(payload["model"])

	resp := s.postNoErr(ctx, chatCompletionsPath, payload, model)
	content, ok := llm.ExtractContent(resp)

	switch {
	case resp == nil:
		s.recorder.RecordCompletion(model, "failed")
	case !ok:
		s.recorder.RecordCompletion(model, "unusable")
	default:
		s.recorder.RecordCompletion(model, "ok")
	}

	return content, ok
}

// postNoErr is the last stop for errors: anything left after retries is
// logged and turned into a nil response.
func (s *Source) postNoErr(ctx context.Context, path string, payload map[string]any, model string) *llm.ChatResponse {
	resp, err := s.postWithRetry(ctx, path, payload, model)
	if err != nil {
		s.logger.Error("error performing post",
			zap.String("path", path),
			zap.String("model", model),
			zap.Error(err),
		)
		return nil
	}
	return resp
}

func (s *Source) postWithRetry(ctx context.Context, path string, payload map[string]any, model string) (*llm.ChatResponse, error) {
	policy := retry.Policy{
		MaxDelay:    s.retryMaxDelay,
		MaxAttempts: s.maxAttempts,
		Jitter:      s.jitter,
		Retryable:   llm.Retryable,
		Sleep:       s.sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			s.recorder.RecordRetry(llm.Kind(err))
			s.logger.Warn("retrying completion request",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
	}

	return retry.Do(ctx, policy, func(ctx context.Context, attempt int) (*llm.ChatResponse, error) {
		return s.post(ctx, path, payload, model)
	})
}

// post is a single attempt.
func (s *Source) post(ctx context.Context, path string, payload map[string]any, model string) (resp *llm.ChatResponse, err error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, model); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	requestID := uuid.NewString()
	log := s.logger.With(zap.String("request_id", requestID))
	log.Debug("POST", zap.String("path", path), zap.ByteString("payload", body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	s.setHeaders(httpReq)

	start := time.Now()
	defer func() {
		s.recorder.RecordLLMRequest(model, llm.Kind(err), time.Since(start))
	}()

	respBody, statusCode, err := llm.DoRequest(s.client, httpReq)
	if err != nil {
		return nil, err
	}

	if statusCode < 200 || statusCode >= 300 {
		log.Error("openai request error",
			zap.Int("status", statusCode),
			zap.String("body", string(respBody)),
		)
		apiErr := llm.ClassifyError(statusCode, respBody)
		if errors.Is(apiErr, llm.ErrRateLimit) {
			// cooldown on top of the regular backoff
			_ = s.sleep(ctx, s.cooldown)
		}
		return nil, apiErr
	}

	chatResp, err := llm.ParseChatResponse(respBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrBadResponse, err)
	}
	log.Debug("POST response", zap.ByteString("response", respBody))

	used := s.usedTokens.Add(chatResp.Usage.TotalTokens)
	s.recorder.AddTokens(model, chatResp.Usage.TotalTokens)

	// budget is checked after the fact: the tokens are already spent
	if s.maxTokens > 0 && used > s.maxTokens {
		return nil, fmt.Errorf("%w: %d", llm.ErrTokensExhausted, used)
	}
	log.Debug("token usage", zap.Int64("used_tokens", used))

	return chatResp, nil
}

func (s *Source) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	if s.organizationID != "" {
		req.Header.Set("OpenAI-Organization", s.organizationID)
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordLLMRequest(string, string, time.Duration) {}

func (nopRecorder) RecordRetry(string) {}

func (nopRecorder) AddTokens(string, int64) {}

func (nopRecorder) RecordCompletion(string, string) {}

var _ llm.Source = (*Source)(nil)
