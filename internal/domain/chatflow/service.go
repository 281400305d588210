// Package chatflow owns the request-level chat flow: persist the user turn,
// make the initial model call, and hand any requested tool calls to the
// orchestration engine.
package chatflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mcp-chat-server/internal/domain/chat"
	"mcp-chat-server/internal/domain/conversation"
	"mcp-chat-server/internal/domain/discovery"
	"mcp-chat-server/internal/domain/llm"
	"mcp-chat-server/internal/domain/orchestrator"
)

// ErrEmptyMessage rejects requests without user text.
var ErrEmptyMessage = errors.New("message text is required")

// StoreProvider resolves the conversation-scoped message store.
type StoreProvider interface {
	Store(conversationID string) chat.Store
}

// Request is one user chat turn. ExcludeTools forces a plain-text answer
// without advertising any tool to the model.
type Request struct {
	ConversationID string
	Message        string
	ModelConfigID  string
	ExcludeTools   bool
}

// Response is the completed turn.
type Response struct {
	ConversationID string
	Reply          string
	Status         orchestrator.Status
	Rounds         int
	ToolCalls      int
	Retries        int
}

// Service coordinates one chat turn end to end.
type Service struct {
	stores       StoreProvider
	cache        *discovery.Cache
	provider     llm.Provider
	sanitizer    *conversation.Sanitizer
	engine       *orchestrator.Engine
	defaultModel string
	log          zerolog.Logger
}

// NewService wires the chat flow.
func NewService(
	stores StoreProvider,
	cache *discovery.Cache,
	provider llm.Provider,
	sanitizer *conversation.Sanitizer,
	engine *orchestrator.Engine,
	defaultModel string,
	log zerolog.Logger,
) *Service {
	return &Service{
		stores:       stores,
		cache:        cache,
		provider:     provider,
		sanitizer:    sanitizer,
		engine:       engine,
		defaultModel: defaultModel,
		log:          log,
	}
}

// Handle runs one chat turn: append the user message, call the model with
// the discovered tools, and orchestrate any tool calls it requests.
func (s *Service) Handle(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	model := req.ModelConfigID
	if model == "" {
		model = s.defaultModel
	}

	store := s.stores.Store(req.ConversationID)
	if _, err := store.AddMessage(ctx, chat.Message{
		Role:    chat.RoleUser,
		Content: req.Message,
	}); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	history, err := store.Messages(ctx)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	sanitized, report, err := s.sanitizer.ValidateForExecution(history)
	if err != nil {
		return nil, fmt.Errorf("sanitize conversation: %w", err)
	}
	for _, warning := range report.Warnings {
		s.log.Warn().
			Str("conversation_id", req.ConversationID).
			Str("warning", warning).
			Msg("sanitizer flagged conversation")
	}

	modelReq := llm.ChatRequest{
		ModelConfigID: model,
		Messages:      s.sanitizer.PrepareForModel(sanitized, req.ExcludeTools),
		ExcludeTools:  req.ExcludeTools,
	}
	if !req.ExcludeTools {
		modelReq.Tools = s.cache.ToolDefinitions(ctx)
	}
	answer, err := s.provider.Chat(ctx, modelReq)
	if err != nil {
		return nil, fmt.Errorf("initial model call: %w", err)
	}

	if len(answer.ToolCalls) == 0 {
		if _, err := store.AddMessage(ctx, chat.Message{
			Role:    chat.RoleAssistant,
			Content: answer.Content,
		}); err != nil {
			s.log.Error().Err(err).Msg("failed to persist assistant reply")
		}
		return &Response{
			ConversationID: req.ConversationID,
			Reply:          answer.Content,
			Status:         orchestrator.StatusDone,
		}, nil
	}

	batch := orchestrator.NewBatch(answer.ToolCalls)
	assistantID, err := store.AddMessage(ctx, chat.Message{
		Role:      chat.RoleAssistant,
		Content:   answer.Content,
		ToolCalls: batch,
	})
	if err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}

	result := s.engine.Execute(ctx, store, &orchestrator.ExecutionContext{
		AssistantMessageID: assistantID,
		UserText:           req.Message,
		ModelConfigID:      model,
		Batch:              batch,
	})

	return &Response{
		ConversationID: req.ConversationID,
		Reply:          result.FinalText,
		Status:         result.Status,
		Rounds:         result.Metrics.Rounds,
		ToolCalls:      result.Metrics.ToolCalls,
		Retries:        result.Metrics.Retries,
	}, nil
}
