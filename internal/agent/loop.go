package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ggurov/local-llm/internal/providers"
	"github.com/ggurov/local-llm/internal/sessions"
	"github.com/ggurov/local-llm/internal/tools"
	"github.com/ggurov/local-llm/internal/tracing"
)

const defaultSystemPrompt = "You are an engine diagnostics assistant. Use the available tools to " +
	"inspect calibration maps, logs, files and tests before answering. Answer concisely."

// Retriever augments a user query with retrieved context. Implementations
// must degrade to returning the query unchanged when retrieval fails.
type Retriever interface {
	Augment(ctx context.Context, query string) string
}

// Options configures a Loop.
type Options struct {
	Model         string
	SystemPrompt  string
	Temperature   float64
	MaxTokens     int
	MaxToolRounds int
	Retriever     Retriever
	Tracer        *tracing.Collector
	Logger        *slog.Logger
}

// Loop drives one conversation turn against the model: call the model, run
// any tools it asks for, feed results back, repeat until the model answers
// or the round budget runs out.
type Loop struct {
	provider providers.Provider
	registry *tools.Registry
	opts     Options
	logger   *slog.Logger
}

func NewLoop(provider providers.Provider, registry *tools.Registry, opts Options) *Loop {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{provider: provider, registry: registry, opts: opts, logger: logger}
}

// Run processes one user message on a session the caller has leased and
// returns the model's final answer. The session accumulates the user turn,
// every intermediate assistant and tool message, and the final answer.
func (l *Loop) Run(ctx context.Context, sess *sessions.Session, userMessage string) (string, error) {
	traceID := uuid.New()
	runStart := time.Now()

	message := userMessage
	if l.opts.Retriever != nil && len(sess.Messages) == 0 {
		message = l.opts.Retriever.Augment(ctx, userMessage)
	}
	sess.Append("user", message)

	state := StateAwaitingModel
	rounds := 0
	defer func() {
		l.emitRunSpan(traceID, runStart, state, userMessage)
	}()

	for {
		turn := l.callModel(ctx, traceID, sess)
		switch turn.Kind {
		case TurnError:
			state = StateFailed
			return "", fmt.Errorf("model call failed: %w", turn.Err)

		case TurnFinalAnswer:
			sess.AppendAssistant(turn.Content, nil)
			state = StateDone
			return turn.Content, nil

		case TurnToolCalls:
			if rounds >= l.opts.MaxToolRounds {
				state = StateFailed
				return "", fmt.Errorf("%w: model still requesting tools after %d rounds", ErrTurnLimit, rounds)
			}
			rounds++
			state = StateExecutingTools
			sess.AppendAssistant(turn.Content, turn.ToolCalls)
			l.executeTools(ctx, traceID, sess, turn.ToolCalls)
			state = StateAwaitingModel
		}
	}
}

func (l *Loop) callModel(ctx context.Context, traceID uuid.UUID, sess *sessions.Session) Turn {
	messages := append(
		[]providers.ChatMessage{{Role: "system", Content: l.opts.SystemPrompt}},
		pruneHistory(sess.History())...,
	)
	req := providers.ChatRequest{
		Model:       l.opts.Model,
		Messages:    messages,
		Tools:       l.registry.Specs(),
		Temperature: l.opts.Temperature,
		MaxTokens:   l.opts.MaxTokens,
	}

	start := time.Now()
	resp, err := l.provider.Chat(ctx, req)
	turn := classify(resp, err)

	span := tracing.Span{
		TraceID:   traceID,
		Name:      "chat_completion",
		Type:      "llm_call",
		StartTime: start,
		EndTime:   time.Now(),
		Model:     l.opts.Model,
		Status:    "ok",
	}
	if turn.Kind == TurnError {
		span.Status = "error"
		span.Error = turn.Err.Error()
	} else {
		span.OutputPreview = turn.Content
		if resp.Usage != nil {
			span.InputTokens = resp.Usage.PromptTokens
			span.OutputTokens = resp.Usage.CompletionTokens
		}
	}
	l.opts.Tracer.EmitSpan(span)
	return turn
}

// executeTools runs the requested calls concurrently and appends one tool
// message per call, in the order the model issued them. Tool failures are
// results, not errors; the model sees them and decides what to do next.
func (l *Loop) executeTools(ctx context.Context, traceID uuid.UUID, sess *sessions.Session, calls []providers.ToolCall) {
	results := make([]*tools.Result, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = l.executeOne(gctx, traceID, call)
			return nil
		})
	}
	// Workers only ever return nil; Wait is for completion.
	_ = g.Wait()

	for _, res := range results {
		sess.AppendToolResult(res.ToolCallID, res.Content)
	}
}

func (l *Loop) executeOne(ctx context.Context, traceID uuid.UUID, call providers.ToolCall) *tools.Result {
	start := time.Now()
	var res *tools.Result
	args, err := parseArguments(call.Function.Arguments)
	if err != nil {
		res = tools.Errorf(tools.CodeValidation, "malformed arguments for %s: %v", call.Function.Name, err)
	} else {
		res = l.registry.Execute(ctx, call.Function.Name, args)
	}
	res.ToolCallID = call.ID

	status := "ok"
	errText := ""
	if res.IsError {
		status = "error"
		errText = res.Content
	}
	l.opts.Tracer.EmitSpan(tracing.Span{
		TraceID:       traceID,
		Name:          call.Function.Name,
		Type:          "tool_call",
		StartTime:     start,
		EndTime:       time.Now(),
		ToolName:      call.Function.Name,
		ToolCallID:    call.ID,
		Status:        status,
		Error:         errText,
		InputPreview:  call.Function.Arguments,
		OutputPreview: res.Content,
	})
	l.logger.Info("tool call finished",
		"tool", call.Function.Name,
		"tool_call_id", call.ID,
		"is_error", res.IsError,
		"duration_ms", res.Duration.Milliseconds())
	return res
}

func (l *Loop) emitRunSpan(traceID uuid.UUID, start time.Time, state State, input string) {
	status := "ok"
	if state == StateFailed {
		status = "error"
	}
	l.opts.Tracer.EmitSpan(tracing.Span{
		TraceID:      traceID,
		Name:         "agent_run",
		Type:         "agent_run",
		StartTime:    start,
		EndTime:      time.Now(),
		Status:       status,
		InputPreview: input,
	})
	l.logger.Debug("agent run finished", "state", state.String(), "duration_ms", time.Since(start).Milliseconds())
}

func parseArguments(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
