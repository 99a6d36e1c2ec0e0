package llm

import (
	"context"
	"slices"
)

// Source is a completion backend. GenerateResponse never returns an error:
// ok == false means no usable completion was obtained for this call.
type Source interface {
	ValidateModel(ctx context.Context, model string) error
	GenerateResponse(ctx context.Context, instruction string, opts ...Option) (string, bool)
}

// Request holds the per-call settings collected from Options.
type Request struct {
	Messages []Message
	Model    string
	Params   map[string]any
}

type Option func(*Request)

// WithMessages continues an existing conversation. The slice is copied
// before use, the caller's history is never modified.
func WithMessages(messages []Message) Option {
	return func(r *Request) {
		r.Messages = messages
	}
}

// WithModel overrides the source's default model for one call.
func WithModel(model string) Option {
	return func(r *Request) {
		r.Model = model
	}
}

// WithParam adds an extra request option (temperature, top_p, ...) that is
// sent verbatim in the payload.
func WithParam(key string, value any) Option {
	return func(r *Request) {
		if r.Params == nil {
			r.Params = make(map[string]any)
		}
		r.Params[key] = value
	}
}

// WithParams is WithParam for a whole map.
func WithParams(params map[string]any) Option {
	return func(r *Request) {
		for k, v := range params {
			WithParam(k, v)(r)
		}
	}
}

func BuildRequest(opts ...Option) Request {
	var r Request
	for _, opt := range opts {
		if opt != nil {
			opt(&r)
		}
	}
	return r
}

func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return []Message{}
	}
	return slices.Clone(messages)
}
