// Package chat defines the conversation data model shared by the
// orchestration engine and its collaborators.
package chat

import (
	"context"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallStatus represents the lifecycle of one requested tool call.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallError     ToolCallStatus = "error"
)

// ToolCall is one structured tool request made by the model. It is mutated
// in place while the owning round executes and discarded afterwards.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Status    ToolCallStatus `json:"status"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Message is a single entry of the conversation history.
//
// Invariant: a tool message's ToolCallID must reference a tool call carried
// by an earlier, not-yet-answered assistant message. Violators are orphans
// and are dropped by the sanitizer before the history reaches the model.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// MessagePatch carries the mutable fields of a stored message. Nil fields
// are left untouched.
type MessagePatch struct {
	Content   *string
	ToolCalls []ToolCall
}

// Store is the durable record of the conversation. The engine reconciles its
// in-flight view against it before each model call.
type Store interface {
	AddMessage(ctx context.Context, msg Message) (string, error)
	UpdateMessage(ctx context.Context, id string, patch MessagePatch) error
	Messages(ctx context.Context) ([]Message, error)
}
