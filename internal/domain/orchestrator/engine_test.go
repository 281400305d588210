package orchestrator_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mcp-chat-server/internal/domain/chat"
	"mcp-chat-server/internal/domain/conversation"
	"mcp-chat-server/internal/domain/correction"
	"mcp-chat-server/internal/domain/discovery"
	"mcp-chat-server/internal/domain/llm"
	"mcp-chat-server/internal/domain/orchestrator"
	"mcp-chat-server/internal/domain/tool"
	"mcp-chat-server/internal/infrastructure/chatstore"
)

type mockDiscovery struct {
	servers map[string][]discovery.ToolInfo
}

func (m *mockDiscovery) ListServers(context.Context) ([]discovery.ServerInfo, error) {
	servers := make([]discovery.ServerInfo, 0, len(m.servers))
	for id := range m.servers {
		servers = append(servers, discovery.ServerInfo{ID: id, Name: id})
	}
	return servers, nil
}

func (m *mockDiscovery) ListServerTools(_ context.Context, serverID string) ([]discovery.ToolInfo, error) {
	return m.servers[serverID], nil
}

type toolInvocation struct {
	ServerID string
	Name     string
	Args     map[string]any
}

type mockToolClient struct {
	CallFunc    func(ctx context.Context, inv toolInvocation) (*tool.CallResponse, error)
	invocations []toolInvocation
}

func (m *mockToolClient) CallTool(ctx context.Context, serverID, name string, args map[string]any) (*tool.CallResponse, error) {
	inv := toolInvocation{ServerID: serverID, Name: name, Args: args}
	m.invocations = append(m.invocations, inv)
	if m.CallFunc != nil {
		return m.CallFunc(ctx, inv)
	}
	return &tool.CallResponse{Success: true, Result: "ok"}, nil
}

type modelCall struct {
	ExcludeTools bool
	ToolsSent    int
}

type mockProvider struct {
	ChatFunc func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResult, error)
	calls    []modelCall
}

func (m *mockProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResult, error) {
	m.calls = append(m.calls, modelCall{ExcludeTools: req.ExcludeTools, ToolsSent: len(req.Tools)})
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return &llm.ChatResult{Content: "final answer"}, nil
}

type fixture struct {
	engine     *orchestrator.Engine
	store      *chatstore.MemoryStore
	tools      *mockToolClient
	provider   *mockProvider
	correction *correction.Engine
}

func newFixture(t *testing.T, tools *mockToolClient, provider *mockProvider, opts orchestrator.Options) *fixture {
	t.Helper()

	log := zerolog.Nop()
	disc := &mockDiscovery{servers: map[string][]discovery.ToolInfo{
		"srv-1": {
			{Name: "search", Enabled: true},
			{Name: "list_indices", Enabled: true},
		},
	}}
	cache := discovery.NewCache(disc, time.Minute, log)
	sanitizer := conversation.New(conversation.DefaultMaxMessages, log)
	correctionEngine := correction.NewEngine(provider, log)

	return &fixture{
		engine:     orchestrator.NewEngine(cache, tools, provider, sanitizer, correctionEngine, opts, log),
		store:      chatstore.NewMemoryStore(),
		tools:      tools,
		provider:   provider,
		correction: correctionEngine,
	}
}

// seed records the user turn plus the assistant message owning the batch, the
// shape every invocation starts from.
func (f *fixture) seed(t *testing.T, userText string, batch []chat.ToolCall) *orchestrator.ExecutionContext {
	t.Helper()
	ctx := context.Background()

	if _, err := f.store.AddMessage(ctx, chat.Message{Role: chat.RoleUser, Content: userText}); err != nil {
		t.Fatalf("seed user message: %v", err)
	}
	assistantID, err := f.store.AddMessage(ctx, chat.Message{
		Role:      chat.RoleAssistant,
		ToolCalls: batch,
	})
	if err != nil {
		t.Fatalf("seed assistant message: %v", err)
	}
	return &orchestrator.ExecutionContext{
		AssistantMessageID: assistantID,
		UserText:           userText,
		ModelConfigID:      "test-model",
		Batch:              batch,
	}
}

func (f *fixture) messages(t *testing.T) []chat.Message {
	t.Helper()
	msgs, err := f.store.Messages(context.Background())
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	return msgs
}

func searchBatch() []chat.ToolCall {
	return []chat.ToolCall{{
		ID:        "call-1",
		Name:      "search",
		Arguments: map[string]any{"query": "x"},
		Status:    chat.ToolCallPending,
	}}
}

func TestExecute_SingleToolSuccess(t *testing.T) {
	tools := &mockToolClient{
		CallFunc: func(_ context.Context, _ toolInvocation) (*tool.CallResponse, error) {
			return &tool.CallResponse{Success: true, Result: "3 documents"}, nil
		},
	}
	provider := &mockProvider{}
	f := newFixture(t, tools, provider, orchestrator.Options{})
	ec := f.seed(t, "find x", searchBatch())

	result := f.engine.Execute(context.Background(), f.store, ec)

	if result.Status != orchestrator.StatusDone {
		t.Fatalf("status = %s, want done", result.Status)
	}
	if result.FinalText != "final answer" {
		t.Errorf("final text = %q", result.FinalText)
	}
	// Exactly two external calls: one tool invocation, one model call.
	if len(tools.invocations) != 1 {
		t.Errorf("tool invocations = %d, want 1", len(tools.invocations))
	}
	if len(provider.calls) != 1 {
		t.Errorf("model calls = %d, want 1", len(provider.calls))
	}
	if provider.calls[0].ExcludeTools || provider.calls[0].ToolsSent == 0 {
		t.Error("the follow-up model call must carry tools")
	}

	var toolReplies, assistantReplies int
	for _, msg := range f.messages(t) {
		switch msg.Role {
		case chat.RoleTool:
			toolReplies++
			if msg.ToolCallID != "call-1" {
				t.Errorf("tool reply back-reference = %q", msg.ToolCallID)
			}
		case chat.RoleAssistant:
			if msg.Content == "final answer" {
				assistantReplies++
			}
		}
	}
	if toolReplies != 1 {
		t.Errorf("tool replies = %d, want exactly 1", toolReplies)
	}
	if assistantReplies != 1 {
		t.Error("final assistant answer missing from the store")
	}
	if result.Metrics.Rounds != 1 || !result.Metrics.Success {
		t.Errorf("metrics = %+v, want one successful round", result.Metrics)
	}
}

func TestExecute_AutoFixRetriesSameRound(t *testing.T) {
	tools := &mockToolClient{
		CallFunc: func(_ context.Context, inv toolInvocation) (*tool.CallResponse, error) {
			if _, ok := inv.Args["limit"]; !ok {
				return &tool.CallResponse{Success: false, Error: "missing required parameter: limit"}, nil
			}
			return &tool.CallResponse{Success: true, Result: "ok"}, nil
		},
	}
	provider := &mockProvider{}
	f := newFixture(t, tools, provider, orchestrator.Options{})
	ec := f.seed(t, "find x", searchBatch())

	result := f.engine.Execute(context.Background(), f.store, ec)

	if result.Status != orchestrator.StatusDone {
		t.Fatalf("status = %s, want done", result.Status)
	}
	if len(tools.invocations) != 2 {
		t.Fatalf("tool invocations = %d, want 2 (original + fixed)", len(tools.invocations))
	}
	if tools.invocations[1].Args["limit"] != 10 {
		t.Errorf("fixed limit = %v, want the injected default 10", tools.invocations[1].Args["limit"])
	}
	// The fix is same-round: exactly one model call, no correction round.
	if len(provider.calls) != 1 {
		t.Errorf("model calls = %d, want 1", len(provider.calls))
	}
	if result.Metrics.Retries != 1 {
		t.Errorf("retries = %d, want 1", result.Metrics.Retries)
	}
	if stats := f.correction.Stats(0); stats.LLMRetries != 0 {
		t.Errorf("LLM-assisted retries = %d, want 0", stats.LLMRetries)
	}
}

func TestExecute_ModelAssistedCorrection(t *testing.T) {
	tools := &mockToolClient{
		CallFunc: func(_ context.Context, inv toolInvocation) (*tool.CallResponse, error) {
			if inv.Args["query"] == "fixed" {
				return &tool.CallResponse{Success: true, Result: "ok"}, nil
			}
			// Validation-shaped but with no auto-fixable rule.
			return &tool.CallResponse{Success: false, Error: "Invalid params: query shape mismatch"}, nil
		},
	}
	provider := &mockProvider{
		ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResult, error) {
			last := req.Messages[len(req.Messages)-1]
			if strings.Contains(last.Content, "failed") {
				return &llm.ChatResult{ToolCalls: []llm.ToolCallRequest{
					{ID: "call-2", Name: "search", Arguments: map[string]any{"query": "fixed"}},
				}}, nil
			}
			return &llm.ChatResult{Content: "all done"}, nil
		},
	}
	f := newFixture(t, tools, provider, orchestrator.Options{})
	ec := f.seed(t, "find x", searchBatch())

	result := f.engine.Execute(context.Background(), f.store, ec)

	if result.Status != orchestrator.StatusDone {
		t.Fatalf("status = %s, want done", result.Status)
	}
	if ec.RetryDepth != 1 {
		t.Errorf("retry depth = %d, want 1 after one correction", ec.RetryDepth)
	}
	// Correction call plus the final answer call.
	if len(provider.calls) != 2 {
		t.Errorf("model calls = %d, want 2", len(provider.calls))
	}
	if tools.invocations[len(tools.invocations)-1].Args["query"] != "fixed" {
		t.Error("corrected batch was not executed")
	}
}

func TestExecute_CorrectionWithoutToolCallsFails(t *testing.T) {
	tools := &mockToolClient{
		CallFunc: func(context.Context, toolInvocation) (*tool.CallResponse, error) {
			return &tool.CallResponse{Success: false, Error: "Invalid params: query shape mismatch"}, nil
		},
	}
	provider := &mockProvider{
		ChatFunc: func(context.Context, llm.ChatRequest) (*llm.ChatResult, error) {
			return &llm.ChatResult{Content: "cannot fix"}, nil
		},
	}
	f := newFixture(t, tools, provider, orchestrator.Options{})
	ec := f.seed(t, "find x", searchBatch())

	result := f.engine.Execute(context.Background(), f.store, ec)

	if result.Status != orchestrator.StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if result.FinalText == "" {
		t.Error("a failed correction must surface an apology")
	}
}

func TestExecute_NotFoundToolSurfacesError(t *testing.T) {
	tools := &mockToolClient{}
	provider := &mockProvider{}
	f := newFixture(t, tools, provider, orchestrator.Options{})
	ec := f.seed(t, "do it", []chat.ToolCall{{
		ID:        "call-1",
		Name:      "no_such_tool",
		Arguments: map[string]any{},
		Status:    chat.ToolCallPending,
	}})

	result := f.engine.Execute(context.Background(), f.store, ec)

	if result.Status != orchestrator.StatusDone {
		t.Fatalf("status = %s, want done (failure reported to the model)", result.Status)
	}
	if len(tools.invocations) != 0 {
		t.Error("an undiscoverable tool must not be invoked")
	}

	var sawFailureReply bool
	for _, msg := range f.messages(t) {
		if msg.Role == chat.RoleTool && strings.Contains(msg.Content, "not found") {
			sawFailureReply = true
		}
	}
	if !sawFailureReply {
		t.Error("missing tool-role reply documenting the not-found failure")
	}
}

func TestExecute_RoundCapForcesTextOnlySummary(t *testing.T) {
	tools := &mockToolClient{}
	var callSeq int
	provider := &mockProvider{
		ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResult, error) {
			if req.ExcludeTools {
				return &llm.ChatResult{Content: "summary"}, nil
			}
			// The model keeps asking for tools forever.
			callSeq++
			return &llm.ChatResult{ToolCalls: []llm.ToolCallRequest{
				{ID: fmt.Sprintf("again-%d", callSeq), Name: "search", Arguments: map[string]any{"query": "more"}},
			}}, nil
		},
	}
	f := newFixture(t, tools, provider, orchestrator.Options{})
	ec := f.seed(t, "loop forever", searchBatch())

	result := f.engine.Execute(context.Background(), f.store, ec)

	if result.Status != orchestrator.StatusDone {
		t.Fatalf("status = %s, want done", result.Status)
	}
	if result.FinalText != "summary" {
		t.Errorf("final text = %q, want the forced summary", result.FinalText)
	}
	if result.Metrics.Rounds != orchestrator.DefaultMaxRounds {
		t.Errorf("rounds = %d, want %d", result.Metrics.Rounds, orchestrator.DefaultMaxRounds)
	}

	last := provider.calls[len(provider.calls)-1]
	if !last.ExcludeTools || last.ToolsSent != 0 {
		t.Error("the final model call must exclude tools")
	}
	for _, call := range provider.calls[:len(provider.calls)-1] {
		if call.ExcludeTools {
			t.Error("only the final model call may exclude tools")
		}
	}
}

func TestExecute_CancellationBeforeToolReturnIsTerminal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tools := &mockToolClient{
		CallFunc: func(context.Context, toolInvocation) (*tool.CallResponse, error) {
			cancel() // trip the signal while the call is in flight
			return &tool.CallResponse{Success: true, Result: "ok"}, nil
		},
	}
	provider := &mockProvider{}
	f := newFixture(t, tools, provider, orchestrator.Options{})
	ec := f.seed(t, "find x", searchBatch())

	result := f.engine.Execute(ctx, f.store, ec)

	if result.Status != orchestrator.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", result.Status)
	}
	if len(provider.calls) != 0 {
		t.Error("no model call may be issued after cancellation")
	}
}

func TestExecute_EntryGuardOnExhaustedRetryDepth(t *testing.T) {
	tools := &mockToolClient{}
	provider := &mockProvider{}
	f := newFixture(t, tools, provider, orchestrator.Options{MaxRetryDepth: 2})
	ec := f.seed(t, "find x", searchBatch())
	ec.RetryDepth = 2

	result := f.engine.Execute(context.Background(), f.store, ec)

	if result.Status != orchestrator.StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if len(tools.invocations) != 0 || len(provider.calls) != 0 {
		t.Error("the entry guard must not issue any external call")
	}

	var failureReplies, apologies int
	for _, msg := range f.messages(t) {
		switch msg.Role {
		case chat.RoleTool:
			failureReplies++
		case chat.RoleAssistant:
			if msg.Content != "" && len(msg.ToolCalls) == 0 {
				apologies++
			}
		}
	}
	if failureReplies != 1 {
		t.Errorf("failure replies = %d, want one per pending tool", failureReplies)
	}
	if apologies != 1 {
		t.Errorf("apologies = %d, want exactly one", apologies)
	}
}

func TestExecute_PartialFailureToleratesBadTool(t *testing.T) {
	tools := &mockToolClient{
		CallFunc: func(_ context.Context, inv toolInvocation) (*tool.CallResponse, error) {
			if inv.Name == "search" {
				return &tool.CallResponse{Success: false, Error: "something odd happened"}, nil
			}
			return &tool.CallResponse{Success: true, Result: []any{"logs-2024"}}, nil
		},
	}
	provider := &mockProvider{}
	f := newFixture(t, tools, provider, orchestrator.Options{})
	ec := f.seed(t, "both", []chat.ToolCall{
		{ID: "c1", Name: "search", Arguments: map[string]any{"query": "x"}, Status: chat.ToolCallPending},
		{ID: "c2", Name: "list_indices", Arguments: map[string]any{}, Status: chat.ToolCallPending},
	})

	result := f.engine.Execute(context.Background(), f.store, ec)

	if result.Status != orchestrator.StatusDone {
		t.Fatalf("status = %s, want done", result.Status)
	}
	// Both tools were attempted: one bad tool never blocks the other.
	if len(tools.invocations) != 2 {
		t.Fatalf("tool invocations = %d, want 2", len(tools.invocations))
	}

	var errorReply, successReply bool
	for _, msg := range f.messages(t) {
		if msg.Role != chat.RoleTool {
			continue
		}
		switch msg.ToolCallID {
		case "c1":
			errorReply = strings.Contains(msg.Content, "failed")
		case "c2":
			successReply = msg.Content != ""
		}
	}
	if !errorReply || !successReply {
		t.Error("each tool call needs its own reply, success and failure alike")
	}
}

func TestExecute_MetricsHistoryBounded(t *testing.T) {
	tools := &mockToolClient{}
	provider := &mockProvider{}
	f := newFixture(t, tools, provider, orchestrator.Options{})

	for i := 0; i < 60; i++ {
		ec := f.seed(t, "q", searchBatch())
		f.engine.Execute(context.Background(), f.store, ec)
	}

	history := f.engine.History()
	if len(history) != 50 {
		t.Errorf("history length = %d, want the 50 most recent", len(history))
	}
	for _, m := range history {
		if m.Status != orchestrator.StatusDone {
			t.Errorf("unexpected status in history: %s", m.Status)
		}
	}
}
