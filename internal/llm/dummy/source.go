package dummy

import (
	"context"

	"github.com/kitbuilder587/completion-source/internal/llm"
)

const DefaultMessage = "I'm sorry, but as a large language model I'm only able to return this placeholder."

type Config struct {
	Message string
}

// Source answers every call with the same message. No network, no cost.
type Source struct {
	message string
}

func New(cfg Config) *Source {
	if cfg.Message == "" {
		cfg.Message = DefaultMessage
	}
	return &Source{message: cfg.Message}
}

func (s *Source) Message() string { return s.message }

func (s *Source) ValidateModel(ctx context.Context, model string) error {
	return nil
}

func (s *Source) GenerateResponse(ctx context.Context, instruction string, opts ...llm.Option) (string, bool) {
	return s.message, true
}

var _ llm.Source = (*Source)(nil)
