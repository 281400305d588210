package orchestrator

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mcp-chat-server/internal/domain/chat"
	"mcp-chat-server/internal/domain/conversation"
	"mcp-chat-server/internal/domain/correction"
	"mcp-chat-server/internal/domain/discovery"
	"mcp-chat-server/internal/domain/extract"
	"mcp-chat-server/internal/domain/llm"
	"mcp-chat-server/internal/domain/tool"
	"mcp-chat-server/internal/infrastructure/metrics"
	"mcp-chat-server/internal/infrastructure/observability"
)

const (
	// DefaultMaxRounds bounds the number of tool execution rounds before the
	// model is forced into a text-only summary.
	DefaultMaxRounds = 15

	// DefaultMaxRetryDepth bounds model-assisted correction continuations.
	DefaultMaxRetryDepth = 3

	// metricsHistorySize bounds the retained per-invocation metrics.
	metricsHistorySize = 50
)

const (
	apologyText = "I'm sorry, I wasn't able to complete the requested tool calls. " +
		"Please try rephrasing your request."
	internalErrorText = "I ran into an internal error while working on your request. " +
		"Please try again."
)

// Options tune the engine's bounds.
type Options struct {
	MaxRounds      int
	MaxRetryDepth  int
	MaxToolRetries int
}

func (o Options) withDefaults() Options {
	if o.MaxRounds <= 0 {
		o.MaxRounds = DefaultMaxRounds
	}
	if o.MaxRetryDepth <= 0 {
		o.MaxRetryDepth = DefaultMaxRetryDepth
	}
	if o.MaxToolRetries <= 0 {
		o.MaxToolRetries = correction.DefaultMaxRetries
	}
	return o
}

// Engine is the top-level state machine. One engine serves many concurrent
// invocations; the only shared mutable state is the discovery cache (safe by
// construction) and the bounded metrics history (guarded here).
type Engine struct {
	cache      *discovery.Cache
	tools      tool.Client
	provider   llm.Provider
	sanitizer  *conversation.Sanitizer
	correction *correction.Engine
	opts       Options
	log        zerolog.Logger

	mu      sync.Mutex
	history []Metrics
}

// NewEngine wires the engine with its collaborators. It is constructed once
// at process start; the conversation store is scoped per invocation and
// passed to Execute.
func NewEngine(
	cache *discovery.Cache,
	tools tool.Client,
	provider llm.Provider,
	sanitizer *conversation.Sanitizer,
	correctionEngine *correction.Engine,
	opts Options,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		cache:      cache,
		tools:      tools,
		provider:   provider,
		sanitizer:  sanitizer,
		correction: correctionEngine,
		opts:       opts.withDefaults(),
		log:        log,
	}
}

// execution is the per-invocation working state. It tracks every message the
// invocation emitted so the history can be patched when the store lags.
type execution struct {
	eng     *Engine
	store   chat.Store
	ec      *ExecutionContext
	metrics *Metrics
	emitted []chat.Message
}

// Execute runs one top-level orchestration invocation to a terminal state
// against the given conversation store. It never returns an error: failures
// are logged, converted into a user-visible assistant message, and reflected
// in the result status.
func (e *Engine) Execute(ctx context.Context, store chat.Store, ec *ExecutionContext) (result *Result) {
	m := Metrics{
		StartedAt:    time.Now().UTC(),
		HeapBeforeMB: heapAllocMB(),
	}
	result = &Result{Status: StatusFailed}

	spanCtx, span := observability.StartOrchestrationSpan(ctx, ec.AssistantMessageID, ec.RetryDepth, len(ec.Batch))
	ctx = spanCtx

	x := &execution{eng: e, store: store, ec: ec, metrics: &m}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error().
				Interface("panic", r).
				Str("assistant_message_id", ec.AssistantMessageID).
				Msg("orchestration panicked")
			x.emitAssistant(context.WithoutCancel(ctx), internalErrorText)
			result.Status = StatusFailed
			result.FinalText = internalErrorText
		}
		m.EndedAt = time.Now().UTC()
		m.HeapAfterMB = heapAllocMB()
		m.CacheHitRate = e.cache.Stats().Rate
		m.Status = result.Status
		m.Success = result.Status == StatusDone
		result.Metrics = m
		e.record(m)
		metrics.OrchestrationRounds.Observe(float64(m.Rounds))
		observability.EndSpan(span, nil)
	}()

	// Entry guard: a continuation that already exhausted its retry budget
	// surfaces every pending tool as failed plus one apology, and never
	// enters the loop.
	if ec.RetryDepth >= e.opts.MaxRetryDepth {
		e.log.Warn().
			Int("retry_depth", ec.RetryDepth).
			Int("max", e.opts.MaxRetryDepth).
			Msg("retry depth exhausted before execution")
		for i := range ec.Batch {
			call := &ec.Batch[i]
			call.Status = chat.ToolCallError
			call.Error = "retry limit reached"
			x.emitToolReply(ctx, call.ID,
				fmt.Sprintf("Tool %s was not executed: retry limit reached.", call.Name))
		}
		x.emitAssistant(ctx, apologyText)
		result.FinalText = apologyText
		return result
	}

	x.run(ctx, result)
	return result
}

// run drives Executing -> Correcting? -> AwaitingModel -> {ExecutingMore,
// Done, Failed, Cancelled} until a terminal state is reached.
func (x *execution) run(ctx context.Context, result *Result) {
	e := x.eng
	batch := x.ec.Batch
	round := 0

	for {
		// Cancellation is checked before each round.
		if ctx.Err() != nil {
			result.Status = StatusCancelled
			return
		}
		round++
		x.metrics.Rounds = round

		// Tool calls run sequentially: replies must keep the order the
		// model requested them in.
		for i := range batch {
			if ctx.Err() != nil {
				result.Status = StatusCancelled
				return
			}
			x.runToolCall(ctx, round, &batch[i])
		}
		x.metrics.ToolCalls += len(batch)
		if ctx.Err() != nil {
			result.Status = StatusCancelled
			return
		}

		failed, hasValidation := partitionFailures(batch)

		if len(failed) > 0 && hasValidation {
			newBatch, status := x.correct(ctx, batch, failed)
			if status != "" {
				result.Status = status
				if status == StatusFailed {
					result.FinalText = apologyText
				}
				return
			}
			batch = newBatch
			continue
		}

		// AwaitingModel: surface every outcome as a tool reply, reconcile
		// the store, then ask the model what comes next.
		x.emitRoundReplies(ctx, batch)
		x.reconcileAssistant(ctx, batch)

		history, err := x.assembleHistory(ctx)
		if err != nil {
			e.log.Error().Err(err).Msg("failed to assemble conversation history")
			x.emitAssistant(ctx, internalErrorText)
			result.Status = StatusFailed
			result.FinalText = internalErrorText
			return
		}

		sanitized, report, err := e.sanitizer.ValidateForExecution(history)
		if err != nil {
			e.log.Error().Err(err).Msg("conversation invalid after sanitizing")
			x.emitAssistant(ctx, internalErrorText)
			result.Status = StatusFailed
			result.FinalText = internalErrorText
			return
		}
		for _, warning := range report.Warnings {
			e.log.Warn().Str("warning", warning).Msg("sanitizer flagged conversation")
		}

		// Cancellation is checked before each model call.
		if ctx.Err() != nil {
			result.Status = StatusCancelled
			return
		}

		excludeTools := round >= e.opts.MaxRounds
		if excludeTools {
			e.log.Warn().
				Int("round", round).
				Msg("round bound reached, forcing a text-only model call")
		}

		answer, err := x.callModel(ctx, sanitized, excludeTools)
		if err != nil {
			if ctx.Err() != nil {
				result.Status = StatusCancelled
				return
			}
			e.log.Error().Err(err).Msg("model call failed")
			x.emitAssistant(ctx, apologyText)
			result.Status = StatusFailed
			result.FinalText = apologyText
			return
		}

		if excludeTools || len(answer.ToolCalls) == 0 {
			x.emitAssistant(ctx, answer.Content)
			result.Status = StatusDone
			result.FinalText = answer.Content
			return
		}

		// ExecutingMore: the model wants another round.
		batch = NewBatch(answer.ToolCalls)
		x.ec.AssistantMessageID = x.emitAssistantWithCalls(ctx, answer.Content, batch)
		x.ec.Batch = batch
	}
}

// runToolCall executes one tool call to completion or terminal failure:
// resolve the server, invoke, and on failure apply validation auto-fixes with
// same-round re-invocation or class-specific backoff.
func (x *execution) runToolCall(ctx context.Context, round int, call *chat.ToolCall) {
	e := x.eng

	serverID, found := e.cache.FindServer(ctx, call.Name)
	if !found {
		call.Status = chat.ToolCallError
		call.Error = fmt.Sprintf("tool not found: %s is not available on any server", call.Name)
		metrics.CacheLookupsTotal.WithLabelValues("not_found").Inc()
		metrics.ToolCallsTotal.WithLabelValues(call.Name, "not_found").Inc()
		e.log.Warn().Str("tool", call.Name).Msg("tool not found on any server")
		return
	}
	metrics.CacheLookupsTotal.WithLabelValues("found").Inc()

	spanCtx, span := observability.StartToolSpan(ctx, call.Name, serverID, round)
	var lastErr error
	defer func() { observability.EndSpan(span, lastErr) }()

	rc := correction.RetryContext{
		MaxRetries:     e.opts.MaxToolRetries,
		OriginalParams: call.Arguments,
	}

	for {
		// Cancellation is checked before each individual invocation.
		if spanCtx.Err() != nil {
			call.Status = chat.ToolCallError
			call.Error = "cancelled"
			return
		}

		start := time.Now()
		resp, err := e.tools.CallTool(spanCtx, serverID, call.Name, call.Arguments)
		metrics.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())

		var errText string
		switch {
		case err != nil:
			errText = err.Error()
		case resp.Success:
			call.Status = chat.ToolCallCompleted
			call.Result = resp.Result
			call.Error = ""
			metrics.ToolCallsTotal.WithLabelValues(call.Name, "success").Inc()
			return
		default:
			errText = resp.Error
		}

		call.Status = chat.ToolCallError
		call.Error = errText

		if spanCtx.Err() != nil {
			call.Error = "cancelled"
			return
		}

		if correction.Classify(errText) == correction.ClassValidation {
			if rc.RetryCount < rc.MaxRetries {
				verr := correction.ParseValidationError(errText)
				if fix, ok := e.correction.TryAutomaticFix(*call, verr); ok {
					call.Arguments = fix.Params
					call.Status = chat.ToolCallPending
					rc.RetryCount++
					x.metrics.Retries++
					metrics.RetriesTotal.WithLabelValues("auto_fix").Inc()
					e.log.Info().
						Str("tool", call.Name).
						Str("fix", fix.Applied).
						Msg("re-invoking tool after automatic parameter fix")
					continue
				}
			}
			// Unfixable validation failure: leave it for the
			// model-assisted correction pass.
			lastErr = fmt.Errorf("%s", errText)
			metrics.ToolCallsTotal.WithLabelValues(call.Name, "error").Inc()
			return
		}

		rc.LastError = errText
		decision := correction.ShouldRetry(false, rc)
		if !decision.Retry {
			lastErr = fmt.Errorf("%s", errText)
			metrics.ToolCallsTotal.WithLabelValues(call.Name, "error").Inc()
			e.log.Warn().
				Str("tool", call.Name).
				Str("reason", decision.Reason).
				Str("error", errText).
				Msg("tool call failed, not retrying")
			return
		}

		rc.RetryCount++
		x.metrics.Retries++
		metrics.RetriesTotal.WithLabelValues("backoff").Inc()
		e.log.Info().
			Str("tool", call.Name).
			Str("reason", decision.Reason).
			Dur("delay", decision.Delay).
			Int("attempt", rc.RetryCount).
			Msg("retrying tool call")

		if decision.Delay > 0 {
			if !sleepCtx(spanCtx, decision.Delay) {
				call.Error = "cancelled"
				return
			}
		}
	}
}

// correct runs the Correcting state: emit an error reply for every failed
// call, then ask the model to resubmit corrected tool calls. It returns the
// new batch, or a terminal status when correction is impossible.
func (x *execution) correct(ctx context.Context, batch []chat.ToolCall, failed []chat.ToolCall) ([]chat.ToolCall, Status) {
	e := x.eng

	// Every call in the round gets a reply, errors included, so the
	// correction conversation carries no unanswered tool calls.
	x.emitRoundReplies(ctx, batch)
	x.reconcileAssistant(ctx, batch)

	x.ec.RetryDepth++
	if x.ec.RetryDepth >= e.opts.MaxRetryDepth {
		e.log.Warn().
			Int("retry_depth", x.ec.RetryDepth).
			Msg("retry depth exhausted during correction")
		x.emitAssistant(ctx, apologyText)
		return nil, StatusFailed
	}

	history, err := x.assembleHistory(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("failed to assemble history for correction")
		x.emitAssistant(ctx, apologyText)
		return nil, StatusFailed
	}
	sanitized, _, err := e.sanitizer.ValidateForExecution(history)
	if err != nil {
		x.emitAssistant(ctx, apologyText)
		return nil, StatusFailed
	}

	if ctx.Err() != nil {
		return nil, StatusCancelled
	}

	x.metrics.Retries++
	metrics.RetriesTotal.WithLabelValues("llm").Inc()

	newCalls, err := e.correction.ExecuteRetryWithLLM(
		ctx,
		e.sanitizer.PrepareForModel(sanitized, false),
		failed,
		x.ec.ModelConfigID,
		e.cache.ToolDefinitions(ctx),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, StatusCancelled
		}
		e.log.Error().Err(err).Msg("model-assisted correction failed")
		x.emitAssistant(ctx, apologyText)
		return nil, StatusFailed
	}

	newBatch := NewBatch(newCalls)
	x.ec.AssistantMessageID = x.emitAssistantWithCalls(ctx, "", newBatch)
	x.ec.Batch = newBatch
	return newBatch, ""
}

// callModel sends the sanitized history to the model. Tools are attached
// unless this is the forced text-only summary call.
func (x *execution) callModel(ctx context.Context, history []chat.Message, excludeTools bool) (*llm.ChatResult, error) {
	e := x.eng

	spanCtx, span := observability.StartModelSpan(ctx, x.ec.ModelConfigID, excludeTools)
	req := llm.ChatRequest{
		ModelConfigID: x.ec.ModelConfigID,
		Messages:      e.sanitizer.PrepareForModel(history, excludeTools),
		ExcludeTools:  excludeTools,
	}
	if !excludeTools {
		req.Tools = e.cache.ToolDefinitions(spanCtx)
	}

	answer, err := e.provider.Chat(spanCtx, req)
	observability.EndSpan(span, err)
	if err != nil {
		metrics.ModelCallsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ModelCallsTotal.WithLabelValues("success").Inc()
	return answer, nil
}

// emitRoundReplies appends one tool reply per executed call: extracted text
// for successes, an explicit failure note otherwise. Empty extractions are
// dropped here so the model never sees blank tool turns.
func (x *execution) emitRoundReplies(ctx context.Context, batch []chat.ToolCall) {
	for i := range batch {
		call := &batch[i]
		if call.Status == chat.ToolCallCompleted {
			text := extract.Extract(call.Result, call.Name)
			if strings.TrimSpace(text) == "" {
				continue
			}
			x.emitToolReply(ctx, call.ID, text)
			continue
		}
		x.emitToolReply(ctx, call.ID, fmt.Sprintf("Tool execution failed: %s", call.Error))
	}
}

// reconcileAssistant writes the batch's final statuses back onto the owning
// assistant message so the store matches the in-flight view.
func (x *execution) reconcileAssistant(ctx context.Context, batch []chat.ToolCall) {
	if x.ec.AssistantMessageID == "" {
		return
	}
	patch := chat.MessagePatch{ToolCalls: append([]chat.ToolCall(nil), batch...)}
	if err := x.store.UpdateMessage(ctx, x.ec.AssistantMessageID, patch); err != nil {
		x.eng.log.Warn().
			Err(err).
			Str("message_id", x.ec.AssistantMessageID).
			Msg("failed to reconcile assistant message")
	}
	for i := range x.emitted {
		if x.emitted[i].ID == x.ec.AssistantMessageID {
			x.emitted[i].ToolCalls = append([]chat.ToolCall(nil), batch...)
		}
	}
}

// assembleHistory loads the stored conversation and patches in any message
// this invocation emitted that the store does not return yet.
func (x *execution) assembleHistory(ctx context.Context) ([]chat.Message, error) {
	stored, err := x.store.Messages(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(stored))
	for _, msg := range stored {
		seen[msg.ID] = true
	}
	for _, msg := range x.emitted {
		if !seen[msg.ID] {
			stored = append(stored, msg)
		}
	}
	return stored, nil
}

func (x *execution) emitToolReply(ctx context.Context, toolCallID, text string) {
	x.emit(ctx, chat.Message{
		Role:       chat.RoleTool,
		Content:    text,
		ToolCallID: toolCallID,
	})
}

func (x *execution) emitAssistant(ctx context.Context, text string) {
	x.emit(ctx, chat.Message{
		Role:    chat.RoleAssistant,
		Content: text,
	})
}

func (x *execution) emitAssistantWithCalls(ctx context.Context, text string, calls []chat.ToolCall) string {
	return x.emit(ctx, chat.Message{
		Role:      chat.RoleAssistant,
		Content:   text,
		ToolCalls: append([]chat.ToolCall(nil), calls...),
	})
}

// emit appends a message to the store and records it locally so history
// assembly can patch over store lag. Store failures are logged, never fatal.
func (x *execution) emit(ctx context.Context, msg chat.Message) string {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	id, err := x.store.AddMessage(ctx, msg)
	if err != nil {
		x.eng.log.Error().
			Err(err).
			Str("role", string(msg.Role)).
			Msg("failed to append conversation message")
		return ""
	}
	msg.ID = id
	x.emitted = append(x.emitted, msg)
	return id
}

// record appends to the bounded metrics history.
func (e *Engine) record(m Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, m)
	if len(e.history) > metricsHistorySize {
		e.history = e.history[len(e.history)-metricsHistorySize:]
	}
}

// History returns the retained per-invocation metrics, newest last.
func (e *Engine) History() []Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Metrics, len(e.history))
	copy(out, e.history)
	return out
}

func partitionFailures(batch []chat.ToolCall) ([]chat.ToolCall, bool) {
	var failed []chat.ToolCall
	hasValidation := false
	for _, call := range batch {
		if call.Status != chat.ToolCallError {
			continue
		}
		failed = append(failed, call)
		if correction.Classify(call.Error) == correction.ClassValidation {
			hasValidation = true
		}
	}
	return failed, hasValidation
}

// sleepCtx waits for the delay or the context, reporting false on
// cancellation.
func sleepCtx(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func heapAllocMB() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapAlloc / (1 << 20)
}
