package correction

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"mcp-chat-server/internal/domain/chat"
	"mcp-chat-server/internal/domain/llm"
)

// Engine owns the model-assisted correction path and the cumulative retry
// statistics. The deterministic pieces (Classify, ShouldRetry,
// ApplyAutomaticFixes) are package functions; the engine records their use.
type Engine struct {
	provider llm.Provider
	log      zerolog.Logger

	mu          sync.Mutex
	autoFixes   int
	autoFixHits int
	llmRetries  int
	llmHits     int
	errorCounts map[string]int
}

// NewEngine constructs a correction engine backed by the given model
// provider.
func NewEngine(provider llm.Provider, log zerolog.Logger) *Engine {
	return &Engine{
		provider:    provider,
		log:         log,
		errorCounts: make(map[string]int),
	}
}

// TryAutomaticFix attempts deterministic parameter repair and records the
// outcome in the retry statistics.
func (e *Engine) TryAutomaticFix(call chat.ToolCall, verr ValidationError) (*Fix, bool) {
	e.mu.Lock()
	e.autoFixes++
	e.errorCounts[truncateError(verr.Raw)]++
	e.mu.Unlock()

	fix, ok := ApplyAutomaticFixes(call, verr)
	if ok {
		e.mu.Lock()
		e.autoFixHits++
		e.mu.Unlock()
		e.log.Debug().
			Str("tool", call.Name).
			Str("fix", fix.Applied).
			Msg("automatic parameter fix applied")
	}
	return fix, ok
}

// ExecuteRetryWithLLM builds a correction-request conversation (the original
// history plus a synthetic user turn summarizing which tools failed and why)
// and asks the model to resubmit corrected tool calls. It returns the new
// calls for re-execution, or an error when the model does not supply any.
func (e *Engine) ExecuteRetryWithLLM(
	ctx context.Context,
	history []llm.ChatMessage,
	failed []chat.ToolCall,
	modelConfigID string,
	tools []llm.ToolDefinition,
) ([]llm.ToolCallRequest, error) {
	e.mu.Lock()
	e.llmRetries++
	for _, call := range failed {
		if call.Error != "" {
			e.errorCounts[truncateError(call.Error)]++
		}
	}
	e.mu.Unlock()

	messages := append([]llm.ChatMessage(nil), history...)
	messages = append(messages, llm.ChatMessage{
		Role:    "user",
		Content: correctionPrompt(failed),
	})

	result, err := e.provider.Chat(ctx, llm.ChatRequest{
		ModelConfigID: modelConfigID,
		Messages:      messages,
		Tools:         tools,
	})
	if err != nil {
		return nil, fmt.Errorf("model-assisted correction call: %w", err)
	}
	if len(result.ToolCalls) == 0 {
		return nil, fmt.Errorf("model supplied no corrected tool calls")
	}

	e.mu.Lock()
	e.llmHits++
	e.mu.Unlock()

	e.log.Info().
		Int("failed", len(failed)).
		Int("resubmitted", len(result.ToolCalls)).
		Msg("model supplied corrected tool calls")
	return result.ToolCalls, nil
}

func correctionPrompt(failed []chat.ToolCall) string {
	var b strings.Builder
	b.WriteString("The following tool calls failed. ")
	b.WriteString("Resubmit them with corrected arguments that satisfy each tool's contract.\n")
	for _, call := range failed {
		fmt.Fprintf(&b, "- %s (arguments: %v): %s\n", call.Name, call.Arguments, call.Error)
	}
	return b.String()
}

// StatsSnapshot is a point-in-time view of the retry statistics.
type StatsSnapshot struct {
	AutoFixAttempts  int          `json:"auto_fix_attempts"`
	AutoFixSuccesses int          `json:"auto_fix_successes"`
	LLMRetries       int          `json:"llm_retries"`
	LLMRetryHits     int          `json:"llm_retry_successes"`
	SuccessRate      float64      `json:"success_rate"`
	TopErrors        []ErrorCount `json:"top_errors,omitempty"`
}

// ErrorCount pairs an error text with how often it was seen.
type ErrorCount struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

// Stats returns the cumulative retry statistics with the topN most frequent
// error strings.
func (e *Engine) Stats(topN int) StatsSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := StatsSnapshot{
		AutoFixAttempts:  e.autoFixes,
		AutoFixSuccesses: e.autoFixHits,
		LLMRetries:       e.llmRetries,
		LLMRetryHits:     e.llmHits,
	}
	if attempts := e.autoFixes + e.llmRetries; attempts > 0 {
		snap.SuccessRate = float64(e.autoFixHits+e.llmHits) / float64(attempts)
	}

	counts := make([]ErrorCount, 0, len(e.errorCounts))
	for text, n := range e.errorCounts {
		counts = append(counts, ErrorCount{Error: text, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Error < counts[j].Error
	})
	if topN > 0 && len(counts) > topN {
		counts = counts[:topN]
	}
	snap.TopErrors = counts
	return snap
}

func truncateError(text string) string {
	const max = 120
	if len(text) > max {
		return text[:max]
	}
	return text
}
