// Package agent runs conversation turns: classify and store the user message,
// call the model with tools, execute requested tools, and stream the final answer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hattiebot/familiar/internal/core"
	"github.com/hattiebot/familiar/internal/metrics"
	"github.com/hattiebot/familiar/internal/profile"
	"github.com/hattiebot/familiar/internal/significance"
	"github.com/hattiebot/familiar/internal/store"
	"github.com/hattiebot/familiar/internal/tools"
)

// DefaultMaxSteps bounds the completion requests made in one turn.
const DefaultMaxSteps = 10

const (
	// BudgetNotice is the answer when the step budget runs out without any text from the model.
	BudgetNotice = "I ran out of steps before finishing that. Could you try a simpler request?"
	// EmptyNotice is the answer when the model replies with no text at all.
	EmptyNotice = "(No text in model response; try rephrasing or a different model.)"
)

var tracer = otel.Tracer("github.com/hattiebot/familiar/internal/agent")

// Store is the persistence the loop needs.
type Store interface {
	HistorySource
	AppendMessage(ctx context.Context, m store.NewMessage) (int64, error)
}

// Classifier scores user messages for memory significance.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (significance.Result, error)
}

// Loop runs turns: user message -> model with tools -> execute tool_calls -> repeat
// until the model answers or the step budget is spent -> save and return.
type Loop struct {
	Store    Store
	Client   core.LLMClient
	Executor core.ToolExecutor
	// Classifier may be nil; messages are then recorded with the unknown score.
	Classifier  Classifier
	Personality *profile.Document
	UserProfile *profile.Document
	Window      int
	MaxSteps    int
	Log         zerolog.Logger
	Now         func() time.Time

	locks turnLocks
}

// RunTurn runs one turn synchronously. onToken receives answer text as it is produced.
func (l *Loop) RunTurn(ctx context.Context, conversation, prompt string, onToken func(string)) (*TurnResult, error) {
	return l.run(ctx, conversation, prompt, Observer{Token: onToken})
}

// RunTurnObserved is RunTurn with tool progress callbacks.
func (l *Loop) RunTurnObserved(ctx context.Context, conversation, prompt string, obs Observer) (*TurnResult, error) {
	return l.run(ctx, conversation, prompt, obs)
}

// Stream runs one turn in the background. The channel yields token and tool events,
// then exactly one done or error event, and is closed. Cancel ctx to abandon the turn;
// events the caller does not read after that are dropped.
func (l *Loop) Stream(ctx context.Context, conversation, prompt string) <-chan Event {
	events := make(chan Event, 16)
	send := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	go func() {
		defer close(events)
		res, err := l.run(ctx, conversation, prompt, Observer{
			Token: func(s string) { send(Event{Type: EventToken, Text: s}) },
			ToolCall: func(c core.ToolCall) {
				send(Event{Type: EventToolCall, Call: &c})
			},
			ToolResult: func(c core.ToolCall, result string) {
				send(Event{Type: EventToolResult, Call: &c, Text: result})
			},
		})
		if err != nil {
			send(Event{Type: EventError, Err: err})
			return
		}
		send(Event{Type: EventDone, Result: res})
	}()
	return events
}

// turn is the mutable state of one running turn.
type turn struct {
	conversation string
	obs          Observer
	log          zerolog.Logger
	window       []core.Message
	toolsUsed    []string
	seen         map[string]bool
	lastText     string
	streamed     strings.Builder
	steps        int
}

func (t *turn) useTool(name string) {
	if !t.seen[name] {
		t.seen[name] = true
		t.toolsUsed = append(t.toolsUsed, name)
	}
}

func (l *Loop) run(ctx context.Context, conversation, prompt string, obs Observer) (res *TurnResult, err error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if conversation == "" {
		conversation = store.DefaultConversation
	}

	start := time.Now()
	metrics.ActiveTurns.Inc()
	ctx, span := tracer.Start(ctx, "agent.turn", trace.WithAttributes(attribute.String("conversation", conversation)))
	t := &turn{
		conversation: conversation,
		obs:          obs,
		log:          l.Log.With().Str("conversation", conversation).Logger(),
		seen:         map[string]bool{},
	}
	defer func() {
		metrics.ActiveTurns.Dec()
		metrics.TurnDuration.Observe(time.Since(start).Seconds())
		metrics.TurnSteps.Observe(float64(t.steps))
		outcome := "ok"
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			outcome = "canceled"
		case err != nil:
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.TurnsTotal.WithLabelValues(outcome).Inc()
		span.SetAttributes(attribute.Int("steps", t.steps), attribute.String("outcome", outcome))
		span.End()
		t.log.Debug().Str("outcome", outcome).Int("steps", t.steps).Dur("duration", time.Since(start)).Msg("turn finished")
	}()

	release, err := l.locks.acquire(ctx, conversation)
	if err != nil {
		return nil, err
	}
	defer release()

	sig := l.classify(ctx, t, prompt)
	if _, err := l.Store.AppendMessage(ctx, store.NewMessage{
		Conversation: conversation,
		Role:         core.RoleUser,
		Content:      store.Text(prompt),
		Metadata: store.Metadata{
			"significance":        sig.Score,
			"significance_reason": sig.Reason,
		},
	}); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}

	cm := &ContextManager{History: l.Store, Limit: l.Window}
	t.window, err = cm.BuildWindow(ctx, conversation, l.systemPrompt())
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	answer, partial, err := l.steps(ctx, t)
	if err != nil {
		return nil, err
	}
	return &TurnResult{
		Response:     answer,
		Significance: sig,
		ToolsUsed:    t.toolsUsed,
		Steps:        t.steps,
		Partial:      partial,
	}, nil
}

func (l *Loop) classify(ctx context.Context, t *turn, prompt string) significance.Result {
	if l.Classifier == nil {
		return significance.Unknown
	}
	res, err := l.Classifier.Classify(ctx, prompt)
	if err != nil {
		metrics.Classifications.WithLabelValues("unknown").Inc()
		t.log.Warn().Err(err).Msg("significance classification failed")
		return significance.Unknown
	}
	return res
}

func (l *Loop) systemPrompt() string {
	var personality, userProfile profile.Values
	if l.Personality != nil {
		personality = l.Personality.Snapshot()
	}
	if l.UserProfile != nil {
		userProfile = l.UserProfile.Snapshot()
	}
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	return BuildSystemPrompt(personality, userProfile, now())
}

// steps drives the completion/tool rounds. The first request is non-streaming; later
// ones stream, and the last one forbids further tool calls.
func (l *Loop) steps(ctx context.Context, t *turn) (answer string, partial bool, err error) {
	maxSteps := l.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if maxSteps < 2 {
		maxSteps = 2
	}
	defs := l.Executor.Definitions()

	for step := 1; step <= maxSteps; step++ {
		t.steps = step
		last := step == maxSteps
		if err := ctx.Err(); err != nil {
			return "", false, l.savePartial(ctx, t, err)
		}

		req := core.CompletionRequest{Messages: t.window, Tools: defs}
		if last {
			req.ToolChoice = "none"
		}
		t.streamed.Reset()
		comp, err := l.complete(ctx, t, req, step)
		if err != nil {
			if ctx.Err() != nil {
				return "", false, l.savePartial(ctx, t, ctx.Err())
			}
			return "", false, fmt.Errorf("step %d: %w", step, err)
		}

		calls := comp.ToolCalls
		content := comp.Content
		if len(calls) == 0 && !last {
			if parsed, cleaned := ParseContentToolCalls(content); len(parsed) > 0 {
				t.log.Debug().Int("calls", len(parsed)).Msg("parsed tool calls from message text")
				calls, content = parsed, cleaned
			}
		}

		text := StripInlineToolCallMarkers(content)
		streamed := step > 1 && t.streamed.Len() > 0

		if len(calls) == 0 {
			answer = text
			if answer == "" {
				answer = t.lastText
				if answer == "" {
					answer = EmptyNotice
				}
			}
			if err := l.saveAnswer(ctx, t, answer, comp.Model, false); err != nil {
				return "", false, err
			}
			if text == "" || !streamed {
				t.obs.token(answer)
			}
			return answer, false, nil
		}

		if last {
			t.log.Warn().Int("steps", step).Msg("step budget exhausted with tool calls pending")
			answer = text
			if answer == "" {
				answer = l.fallback(t)
			}
			if err := l.saveAnswer(ctx, t, answer, comp.Model, true); err != nil {
				return "", false, err
			}
			if text == "" || !streamed {
				t.obs.token(answer)
			}
			return answer, true, nil
		}

		if text != "" {
			t.lastText = text
		}
		t.streamed.Reset()
		if err := l.runTools(ctx, t, content, calls, comp.Model, step == 1); err != nil {
			if ctx.Err() != nil {
				return "", false, l.savePartial(ctx, t, ctx.Err())
			}
			return "", false, err
		}
	}
	return "", false, errors.New("step loop ended without an answer")
}

func (l *Loop) complete(ctx context.Context, t *turn, req core.CompletionRequest, step int) (*core.Completion, error) {
	log := t.log.With().Int("step", step).Logger()
	log.Debug().Int("messages", len(req.Messages)).Str("tool_choice", req.ToolChoice).Msg("requesting completion")
	if step == 1 {
		return l.Client.ChatCompletion(ctx, req)
	}
	return l.Client.ChatCompletionStream(ctx, req, func(delta string) {
		t.streamed.WriteString(delta)
		t.obs.token(delta)
	})
}

// fallback is the answer when the step budget ran out.
func (l *Loop) fallback(t *turn) string {
	if t.lastText != "" {
		return t.lastText
	}
	return BudgetNotice
}

// runTools records the assistant tool-call message, then executes every call in
// order and records one tool message per call. echo emits the message text once
// it is saved, for steps that were not streamed.
func (l *Loop) runTools(ctx context.Context, t *turn, content string, calls []core.ToolCall, model string, echo bool) error {
	records := make([]store.ToolCallRecord, len(calls))
	seen := make(map[string]bool, len(calls))
	for i := range calls {
		if calls[i].ID == "" || seen[calls[i].ID] {
			calls[i].ID = "call_" + uuid.NewString()
		}
		seen[calls[i].ID] = true
		if calls[i].Type == "" {
			calls[i].Type = "function"
		}
		records[i] = store.ToolCallRecord{
			CallID:    calls[i].ID,
			ToolName:  calls[i].Function.Name,
			Arguments: calls[i].Function.Arguments,
		}
	}

	text := StripInlineToolCallMarkers(content)
	var stored *string
	if text != "" {
		stored = store.Text(text)
	}
	if _, err := l.Store.AppendMessage(ctx, store.NewMessage{
		Conversation: t.conversation,
		Role:         core.RoleAssistant,
		Content:      stored,
		Model:        l.modelName(model),
		Provider:     store.Text(l.Client.Provider()),
		ToolCalls:    records,
	}); err != nil {
		return fmt.Errorf("save tool calls: %w", err)
	}
	t.window = append(t.window, core.Message{Role: core.RoleAssistant, Content: text, ToolCalls: calls})
	if echo && text != "" {
		t.obs.token(text + "\n")
	}

	for _, call := range calls {
		t.obs.toolCall(call)
		result := l.dispatch(tools.WithConversation(ctx, t.conversation), t, call)
		if _, err := l.Store.AppendMessage(ctx, store.NewMessage{
			Conversation: t.conversation,
			Role:         core.RoleTool,
			Content:      store.Text(result),
			ToolCallID:   store.Text(call.ID),
		}); err != nil {
			return fmt.Errorf("save tool result: %w", err)
		}
		t.window = append(t.window, core.Message{Role: core.RoleTool, Content: result, ToolCallID: call.ID})
		t.useTool(call.Function.Name)
		t.obs.toolResult(call, result)
	}
	return nil
}

// dispatch runs one tool call. Failures are returned to the model as an error envelope.
func (l *Loop) dispatch(ctx context.Context, t *turn, call core.ToolCall) string {
	name := call.Function.Name
	ctx, span := tracer.Start(ctx, "agent.tool", trace.WithAttributes(
		attribute.String("tool", name),
		attribute.String("call_id", call.ID),
	))
	defer span.End()

	start := time.Now()
	result, err := l.Executor.Dispatch(ctx, name, call.Function.Arguments)
	log := t.log.With().Str("tool", name).Str("call_id", call.ID).Dur("duration", time.Since(start)).Logger()
	if err != nil {
		if !tools.IsRecoverable(err) {
			log.Error().Err(err).Msg("tool dispatch failed")
		} else {
			log.Info().Err(err).Msg("tool returned an error")
		}
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return tools.ErrorEnvelope(err)
	}
	log.Debug().Int("bytes", len(result)).Msg("tool executed")
	metrics.ToolCalls.WithLabelValues(name, "ok").Inc()
	return result
}

func (l *Loop) saveAnswer(ctx context.Context, t *turn, answer, model string, partial bool) error {
	md := store.Metadata{"tools_used": nonNil(t.toolsUsed)}
	if partial {
		md["partial"] = true
	}
	if _, err := l.Store.AppendMessage(ctx, store.NewMessage{
		Conversation: t.conversation,
		Role:         core.RoleAssistant,
		Content:      store.Text(answer),
		Model:        l.modelName(model),
		Provider:     store.Text(l.Client.Provider()),
		Metadata:     md,
	}); err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

// savePartial stores whatever answer text was streamed before cancellation and
// returns cause. The write uses a context that is not canceled with the turn.
func (l *Loop) savePartial(ctx context.Context, t *turn, cause error) error {
	text := strings.TrimSpace(t.streamed.String())
	if text == "" {
		return cause
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_, err := l.Store.AppendMessage(saveCtx, store.NewMessage{
		Conversation: t.conversation,
		Role:         core.RoleAssistant,
		Content:      store.Text(text),
		Model:        store.Text(l.Client.Model()),
		Provider:     store.Text(l.Client.Provider()),
		Metadata:     store.Metadata{"partial": true, "tools_used": nonNil(t.toolsUsed)},
	})
	if err != nil {
		t.log.Warn().Err(err).Msg("could not save partial answer")
	} else {
		t.log.Info().Int("chars", len(text)).Msg("saved partial answer after cancellation")
	}
	return cause
}

func (l *Loop) modelName(reported string) *string {
	if reported != "" {
		return store.Text(reported)
	}
	return store.Text(l.Client.Model())
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
