// Package llm defines the OpenAI-compatible wire shapes exchanged with the
// model endpoint and the provider contract consumed by the engine.
package llm

import (
	"context"
	"encoding/json"
)

// Provider is the model chat endpoint. ExcludeTools forces a plain-text
// answer: no tool definitions are sent and the history must already be
// stripped of tool traffic by the sanitizer.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResult, error)
}

// ChatRequest is one call to the model endpoint.
type ChatRequest struct {
	ModelConfigID string           `json:"model"`
	Messages      []ChatMessage    `json:"messages"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
	ExcludeTools  bool             `json:"-"`
}

// ChatMessage mirrors the OpenAI chat message format.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID *string    `json:"tool_call_id,omitempty"`
}

// ToolCall mirrors the OpenAI tool call format.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction contains the function name and raw JSON arguments.
type ToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition declares one callable tool to the model.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the JSON-schema contract of a tool.
type ToolFunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatResult is the model's answer: free text plus any tool calls it wants
// executed before it can finish.
type ChatResult struct {
	Content   string
	ToolCalls []ToolCallRequest
}

// ToolCallRequest is a tool call as requested by the model, with arguments
// already decoded.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ParseToolCall decodes a wire tool call into a ToolCallRequest.
func ParseToolCall(call ToolCall) (ToolCallRequest, error) {
	var args map[string]any
	if len(call.Function.Arguments) > 0 {
		if err := json.Unmarshal(call.Function.Arguments, &args); err != nil {
			return ToolCallRequest{}, err
		}
	}
	return ToolCallRequest{
		ID:        call.ID,
		Name:      call.Function.Name,
		Arguments: args,
	}, nil
}
