package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	FinishReasonLength = "length"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatResponse struct {
	ID      string   `json:"id,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type ModelList struct {
	Data []ModelInfo `json:"data"`
}

type ModelInfo struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// NewChatPayload builds the chat-completion body. An explicit "model" param
// wins over the model argument; messages are always set here.
func NewChatPayload(model, instruction string, history []Message, params map[string]any) map[string]any {
	payload := make(map[string]any, len(params)+2)
	for k, v := range params {
		payload[k] = v
	}
	if _, ok := payload["model"]; !ok {
		payload["model"] = model
	}

	messages := CloneMessages(history)
	if instruction != "" {
		messages = append(messages, Message{Role: RoleUser, Content: instruction})
	}
	payload["messages"] = messages

	return payload
}

func ParseChatResponse(body []byte) (*ChatResponse, error) {
	var resp ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

// ExtractContent returns the first choice's text. Truncated output
// (finish_reason "length") counts as no result.
func ExtractContent(resp *ChatResponse) (string, bool) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", false
	}
	first := resp.Choices[0]
	if first.FinishReason == FinishReasonLength {
		return "", false
	}
	return first.Message.Content, true
}

func DoRequest(client *http.Client, req *http.Request) ([]byte, int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		// a body cut short is a transport failure like any other
		return nil, resp.StatusCode, fmt.Errorf("%w: read response: %v", ErrRequestFailed, err)
	}

	return body, resp.StatusCode, nil
}
