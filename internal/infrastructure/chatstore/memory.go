package chatstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mcp-chat-server/internal/domain/chat"
)

// MemoryStore keeps one conversation in memory. It backs stateless
// deployments and the test suites.
type MemoryStore struct {
	mu       sync.Mutex
	messages []chat.Message
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AddMessage appends the message and returns its ID.
func (s *MemoryStore) AddMessage(_ context.Context, msg chat.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, cloneMessage(msg))
	return msg.ID, nil
}

// UpdateMessage applies the patch to the stored message.
func (s *MemoryStore) UpdateMessage(_ context.Context, id string, patch chat.MessagePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID != id {
			continue
		}
		if patch.Content != nil {
			s.messages[i].Content = *patch.Content
		}
		if patch.ToolCalls != nil {
			s.messages[i].ToolCalls = cloneToolCalls(patch.ToolCalls)
		}
		return nil
	}
	return fmt.Errorf("message not found: %s", id)
}

// Messages returns a copy of the conversation in insertion order.
func (s *MemoryStore) Messages(context.Context) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]chat.Message, len(s.messages))
	for i, msg := range s.messages {
		out[i] = cloneMessage(msg)
	}
	return out, nil
}

func cloneMessage(msg chat.Message) chat.Message {
	msg.ToolCalls = cloneToolCalls(msg.ToolCalls)
	return msg
}

func cloneToolCalls(calls []chat.ToolCall) []chat.ToolCall {
	if calls == nil {
		return nil
	}
	out := make([]chat.ToolCall, len(calls))
	copy(out, calls)
	return out
}

// Ensure interface compliance.
var _ chat.Store = (*MemoryStore)(nil)
