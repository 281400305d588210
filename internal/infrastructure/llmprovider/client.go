package llmprovider

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"mcp-chat-server/internal/domain/llm"
)

// Client implements the llm.Provider interface against an OpenAI-compatible
// chat completions endpoint.
type Client struct {
	httpClient *resty.Client
}

// NewClient creates a Resty-backed client.
func NewClient(baseURL, apiKey string) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(75 * time.Second)
	if apiKey != "" {
		httpClient.SetAuthToken(apiKey)
	}
	return &Client{httpClient: httpClient}
}

// chatCompletionResponse mirrors the wire shape of /v1/chat/completions.
type chatCompletionResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role      string         `json:"role"`
			Content   string         `json:"content"`
			ToolCalls []llm.ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Chat calls /v1/chat/completions and decodes the first choice. When the
// request excludes tools, no tool definitions are sent and any tool calls in
// the answer are dropped.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResult, error) {
	if req.ExcludeTools {
		req.Tools = nil
	}

	var completion chatCompletionResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&completion).
		Post("/v1/chat/completions")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("llm api error: %s", resp.String())
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("llm api returned no choices")
	}

	choice := completion.Choices[0]
	result := &llm.ChatResult{Content: choice.Message.Content}
	if req.ExcludeTools {
		return result, nil
	}

	for _, raw := range choice.Message.ToolCalls {
		call, err := llm.ParseToolCall(raw)
		if err != nil {
			return nil, fmt.Errorf("decode tool call %q arguments: %w", raw.Function.Name, err)
		}
		result.ToolCalls = append(result.ToolCalls, call)
	}
	return result, nil
}

// Ensure interface compliance.
var _ llm.Provider = (*Client)(nil)
