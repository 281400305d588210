// Package orchestrator drives the bounded multi-round tool execution loop:
// execute the model's tool calls, repair or retry failures, report results
// back, and repeat until the model answers in plain text or a bound is hit.
package orchestrator

import (
	"time"

	"mcp-chat-server/internal/domain/chat"
	"mcp-chat-server/internal/domain/llm"
)

// Status is the terminal state of one orchestration invocation.
type Status string

const (
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ExecutionContext is the live state of one orchestration invocation. It is
// owned exclusively by the engine for the lifetime of one top-level call;
// model-assisted retry continuations mutate the same context rather than
// forking a new one.
type ExecutionContext struct {
	AssistantMessageID string
	UserText           string
	ModelConfigID      string
	RetryDepth         int
	Batch              []chat.ToolCall
}

// Result is what a top-level invocation produced.
type Result struct {
	Status    Status
	FinalText string
	Metrics   Metrics
}

// NewBatch converts the model's tool call requests into a pending batch.
func NewBatch(calls []llm.ToolCallRequest) []chat.ToolCall {
	batch := make([]chat.ToolCall, len(calls))
	for i, call := range calls {
		batch[i] = chat.ToolCall{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: call.Arguments,
			Status:    chat.ToolCallPending,
		}
	}
	return batch
}

// Metrics records one top-level invocation for post-hoc inspection.
type Metrics struct {
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	Rounds       int       `json:"rounds"`
	ToolCalls    int       `json:"tool_calls"`
	Retries      int       `json:"retries"`
	CacheHitRate float64   `json:"cache_hit_rate"`
	HeapBeforeMB uint64    `json:"heap_before_mb"`
	HeapAfterMB  uint64    `json:"heap_after_mb"`
	Success      bool      `json:"success"`
	Status       Status    `json:"status"`
}
