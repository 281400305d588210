// Package conversation enforces the message-sequence invariants required by
// the model API: no orphan tool replies, bounded history length, and a
// transcript that opens with a user turn.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"mcp-chat-server/internal/domain/chat"
	"mcp-chat-server/internal/domain/llm"
)

// DefaultMaxMessages bounds the history sent to the model.
const DefaultMaxMessages = 50

// ErrEmptyConversation is returned when sanitizing leaves nothing to send.
var ErrEmptyConversation = errors.New("conversation is empty after sanitizing")

// Report summarizes what ValidateForExecution changed or flagged. None of it
// is fatal except an empty resulting history.
type Report struct {
	OrphansRemoved      int
	UnansweredToolCalls int
	Truncated           int
	Warnings            []string
}

// Sanitizer cleans and serializes conversation histories.
type Sanitizer struct {
	maxMessages int
	log         zerolog.Logger
}

// New constructs a sanitizer with the given history bound.
func New(maxMessages int, log zerolog.Logger) *Sanitizer {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Sanitizer{maxMessages: maxMessages, log: log}
}

// Clean drops orphan tool messages: tool replies whose back-reference does
// not match a still-open tool call of an earlier assistant message. A user
// message resets the open set, since a new user turn invalidates prior
// outstanding tool-call expectations. Clean is idempotent.
func (s *Sanitizer) Clean(messages []chat.Message) []chat.Message {
	open := make(map[string]bool)
	cleaned := make([]chat.Message, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			open = make(map[string]bool)
			cleaned = append(cleaned, msg)
		case chat.RoleAssistant:
			for _, call := range msg.ToolCalls {
				open[call.ID] = true
			}
			cleaned = append(cleaned, msg)
		case chat.RoleTool:
			if msg.ToolCallID != "" && open[msg.ToolCallID] {
				delete(open, msg.ToolCallID)
				cleaned = append(cleaned, msg)
				continue
			}
			s.log.Warn().
				Str("message_id", msg.ID).
				Str("tool_call_id", msg.ToolCallID).
				Msg("dropping orphan tool message")
		default:
			cleaned = append(cleaned, msg)
		}
	}
	return cleaned
}

// Limit keeps the most recent maxLen messages, then trims further from the
// front until the transcript starts with a user message, so the model never
// sees a dangling assistant/tool fragment.
func (s *Sanitizer) Limit(messages []chat.Message, maxLen int) []chat.Message {
	if maxLen <= 0 {
		maxLen = s.maxMessages
	}
	if len(messages) > maxLen {
		messages = messages[len(messages)-maxLen:]
	}
	for len(messages) > 0 && messages[0].Role != chat.RoleUser {
		messages = messages[1:]
	}
	return messages
}

// PrepareForModel serializes the history into the model API's wire shape.
// When excludeTools is set, tool messages and the tool_calls attached to
// assistant messages are stripped entirely: the model must answer in plain
// text.
func (s *Sanitizer) PrepareForModel(messages []chat.Message, excludeTools bool) []llm.ChatMessage {
	wire := make([]llm.ChatMessage, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleTool:
			if excludeTools {
				continue
			}
			id := msg.ToolCallID
			wire = append(wire, llm.ChatMessage{
				Role:       "tool",
				Content:    msg.Content,
				ToolCallID: &id,
			})
		case chat.RoleAssistant:
			out := llm.ChatMessage{Role: "assistant", Content: msg.Content}
			if !excludeTools && len(msg.ToolCalls) > 0 {
				out.ToolCalls = make([]llm.ToolCall, 0, len(msg.ToolCalls))
				for _, call := range msg.ToolCalls {
					args, err := json.Marshal(call.Arguments)
					if err != nil {
						args = []byte("{}")
					}
					out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
						ID:   call.ID,
						Type: "function",
						Function: llm.ToolFunction{
							Name:      call.Name,
							Arguments: args,
						},
					})
				}
			}
			if out.Content == "" && len(out.ToolCalls) == 0 {
				continue
			}
			wire = append(wire, out)
		default:
			wire = append(wire, llm.ChatMessage{Role: string(msg.Role), Content: msg.Content})
		}
	}
	return wire
}

// ValidateForExecution runs the full pipeline: clean, limit, flow check. It
// reports what it removed without failing, unless the resulting history is
// empty.
func (s *Sanitizer) ValidateForExecution(messages []chat.Message) ([]chat.Message, Report, error) {
	var report Report

	cleaned := s.Clean(messages)
	report.OrphansRemoved = len(messages) - len(cleaned)
	if report.OrphansRemoved > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("removed %d orphan tool message(s)", report.OrphansRemoved))
	}

	limited := s.Limit(cleaned, s.maxMessages)
	report.Truncated = len(cleaned) - len(limited)
	if report.Truncated > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("truncated %d message(s) to fit history bound", report.Truncated))
	}

	report.UnansweredToolCalls = countUnanswered(limited)
	if report.UnansweredToolCalls > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%d tool call(s) have no matching response", report.UnansweredToolCalls))
	}

	if len(limited) == 0 {
		return nil, report, ErrEmptyConversation
	}
	return limited, report, nil
}

func countUnanswered(messages []chat.Message) int {
	open := make(map[string]bool)
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			open = make(map[string]bool)
		case chat.RoleAssistant:
			for _, call := range msg.ToolCalls {
				open[call.ID] = true
			}
		case chat.RoleTool:
			delete(open, msg.ToolCallID)
		}
	}
	return len(open)
}
