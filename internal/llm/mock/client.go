package mock

import (
	"context"
	"sync"
	"time"

	"github.com/kitbuilder587/completion-source/internal/llm"
)

// Source is a recording test double. Responses maps an instruction to its
// answer; anything else gets Response. Fail makes every call return no result.
type Source struct {
	mu sync.Mutex

	Response    string
	Responses   map[string]string
	Fail        bool
	Delay       time.Duration
	ValidateErr error

	CallCount       int
	LastInstruction string
	AllCalls        []Call
}

type Call struct {
	Instruction string
	Request     llm.Request
}

func New() *Source {
	return &Source{
		Response: "This is a mock completion.",
	}
}

func (s *Source) WithResponse(response string) *Source {
	s.Response = response
	return s
}

func (s *Source) WithResponseFor(instruction, response string) *Source {
	if s.Responses == nil {
		s.Responses = make(map[string]string)
	}
	s.Responses[instruction] = response
	return s
}

func (s *Source) WithFailure() *Source {
	s.Fail = true
	return s
}

func (s *Source) WithDelay(delay time.Duration) *Source {
	s.Delay = delay
	return s
}

func (s *Source) WithValidateError(err error) *Source {
	s.ValidateErr = err
	return s
}

func (s *Source) ValidateModel(ctx context.Context, model string) error {
	return s.ValidateErr
}

func (s *Source) GenerateResponse(ctx context.Context, instruction string, opts ...llm.Option) (string, bool) {
	req := llm.BuildRequest(opts...)
	req.Messages = llm.CloneMessages(req.Messages)

	s.mu.Lock()
	s.CallCount++
	s.LastInstruction = instruction
	s.AllCalls = append(s.AllCalls, Call{Instruction: instruction, Request: req})
	s.mu.Unlock()

	if s.Delay > 0 {
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(s.Delay):
		}
	}

	if s.Fail {
		return "", false
	}

	if resp, ok := s.Responses[instruction]; ok {
		return resp, true
	}
	return s.Response, true
}

func (s *Source) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.AllCalls...)
}

func (s *Source) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCount = 0
	s.LastInstruction = ""
	s.AllCalls = nil
}

var _ llm.Source = (*Source)(nil)
