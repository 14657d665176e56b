package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hattiebot/familiar/internal/core"
	"github.com/hattiebot/familiar/internal/llmclient"
	"github.com/hattiebot/familiar/internal/significance"
	"github.com/hattiebot/familiar/internal/store"
	"github.com/hattiebot/familiar/internal/tools"
	"github.com/hattiebot/familiar/internal/tools/builtin"
)

// scriptStep is one scripted model reply. Streamed replies emit deltas (or the whole
// content when deltas is nil); after runs once the deltas are out.
type scriptStep struct {
	comp   core.Completion
	deltas []string
	err    error
	after  func()
}

type scriptedLLM struct {
	mu    sync.Mutex
	steps []scriptStep
	reqs  []core.CompletionRequest
	modes []string
}

func (s *scriptedLLM) next(req core.CompletionRequest, mode string) (scriptStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req.Messages = append([]core.Message(nil), req.Messages...)
	s.reqs = append(s.reqs, req)
	s.modes = append(s.modes, mode)
	if len(s.steps) == 0 {
		return scriptStep{}, fmt.Errorf("unexpected %s request #%d", mode, len(s.reqs))
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st, nil
}

func (s *scriptedLLM) ChatCompletion(ctx context.Context, req core.CompletionRequest) (*core.Completion, error) {
	st, err := s.next(req, "complete")
	if err != nil {
		return nil, err
	}
	if st.err != nil {
		return nil, st.err
	}
	c := st.comp
	return &c, nil
}

func (s *scriptedLLM) ChatCompletionStream(ctx context.Context, req core.CompletionRequest, onDelta func(string)) (*core.Completion, error) {
	st, err := s.next(req, "stream")
	if err != nil {
		return nil, err
	}
	deltas := st.deltas
	if deltas == nil && st.comp.Content != "" {
		deltas = []string{st.comp.Content}
	}
	for _, d := range deltas {
		onDelta(d)
	}
	if st.after != nil {
		st.after()
	}
	if st.err != nil {
		return nil, st.err
	}
	c := st.comp
	return &c, nil
}

func (s *scriptedLLM) Provider() string { return "openai" }
func (s *scriptedLLM) Model() string    { return "gpt-4o" }

type stubClassifier struct {
	res significance.Result
	err error
}

func (c stubClassifier) Classify(context.Context, string) (significance.Result, error) {
	return c.res, c.err
}

type fixture struct {
	db   *store.DB
	llm  *scriptedLLM
	loop *Loop
}

func newFixture(t *testing.T, steps ...scriptStep) *fixture {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "familiar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg, err := tools.NewRegistry(builtin.AdditionTool{}, builtin.WeatherTool{})
	require.NoError(t, err)

	llm := &scriptedLLM{steps: steps}
	return &fixture{
		db:  db,
		llm: llm,
		loop: &Loop{
			Store:    db,
			Client:   llm,
			Executor: reg,
			Window:   DefaultWindow,
			MaxSteps: DefaultMaxSteps,
			Log:      zerolog.Nop(),
			Now:      func() time.Time { return time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC) },
		},
	}
}

func (f *fixture) messages(t *testing.T) []store.Message {
	t.Helper()
	msgs, err := f.db.RecentMessages(context.Background(), store.DefaultConversation, 0)
	require.NoError(t, err)
	return msgs
}

func roles(msgs []store.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

// failingStore passes appends through to the database until okAppends have
// succeeded, then fails every later append.
type failingStore struct {
	*store.DB
	okAppends int
	appends   int
}

func (s *failingStore) AppendMessage(ctx context.Context, m store.NewMessage) (int64, error) {
	s.appends++
	if s.appends > s.okAppends {
		return 0, fmt.Errorf("%w: disk full", store.ErrStoreUnavailable)
	}
	return s.DB.AppendMessage(ctx, m)
}

func toolCallStep(content string, calls ...core.ToolCall) scriptStep {
	return scriptStep{comp: core.Completion{Content: content, ToolCalls: calls, FinishReason: "tool_calls"}}
}

func answerStep(deltas ...string) scriptStep {
	return scriptStep{comp: core.Completion{Content: strings.Join(deltas, ""), FinishReason: "stop"}, deltas: deltas}
}

func TestRunTurn_AdditionAndWeather(t *testing.T) {
	f := newFixture(t,
		toolCallStep("",
			core.NewToolCall("call_a", "addition", `{"numbers":[2,2]}`),
			core.NewToolCall("", "getWeather", `{"location":"Boston"}`),
		),
		answerStep("It's 4, ", "and 72F and partly cloudy in Boston."),
	)

	var tokens []string
	res, err := f.loop.RunTurn(context.Background(), "", "What's 2+2 and the weather in Boston?", func(s string) { tokens = append(tokens, s) })
	require.NoError(t, err)

	assert.Equal(t, "It's 4, and 72F and partly cloudy in Boston.", res.Response)
	assert.Equal(t, []string{"It's 4, ", "and 72F and partly cloudy in Boston."}, tokens)
	assert.Equal(t, []string{"addition", "getWeather"}, res.ToolsUsed)
	assert.Equal(t, 2, res.Steps)
	assert.False(t, res.Partial)

	assert.Equal(t, []string{"complete", "stream"}, f.llm.modes)
	first, second := f.llm.reqs[0], f.llm.reqs[1]
	assert.Len(t, first.Tools, 2)
	assert.Empty(t, first.ToolChoice)
	assert.Equal(t, core.RoleSystem, first.Messages[0].Role)
	assert.Contains(t, first.Messages[0].Content, "living in your user's computer")
	assert.Equal(t, core.Message{Role: core.RoleUser, Content: "What's 2+2 and the weather in Boston?"}, first.Messages[len(first.Messages)-1])

	// The second request carries the tool round in order.
	n := len(second.Messages)
	require.GreaterOrEqual(t, n, 4)
	assistant := second.Messages[n-3]
	assert.Equal(t, core.RoleAssistant, assistant.Role)
	require.Len(t, assistant.ToolCalls, 2)
	assert.Equal(t, "call_a", assistant.ToolCalls[0].ID)
	assert.True(t, strings.HasPrefix(assistant.ToolCalls[1].ID, "call_"))
	assert.Equal(t, core.Message{Role: core.RoleTool, Content: `{"result":4}`, ToolCallID: "call_a"}, second.Messages[n-2])
	assert.Equal(t, assistant.ToolCalls[1].ID, second.Messages[n-1].ToolCallID)
	assert.Contains(t, second.Messages[n-1].Content, `"location":"Boston"`)

	msgs := f.messages(t)
	assert.Equal(t, []string{"user", "assistant", "tool", "tool", "assistant"}, roles(msgs))
	assert.Nil(t, msgs[1].Content)
	assert.Equal(t, "gpt-4o", *msgs[1].Model)
	assert.Equal(t, "openai", *msgs[1].Provider)
	require.Len(t, msgs[1].ToolCalls, 2)
	assert.Equal(t, store.ToolCallRecord{CallID: "call_a", ToolName: "addition", Arguments: `{"numbers":[2,2]}`}, msgs[1].ToolCalls[0])
	assert.Equal(t, "call_a", *msgs[2].ToolCallID)
	assert.Equal(t, res.Response, *msgs[4].Content)
	assert.Equal(t, []any{"addition", "getWeather"}, msgs[4].Metadata["tools_used"])

	// Replaying the stored history reproduces what the model saw, minus the system prompt.
	projected, err := f.db.ProviderMessages(context.Background(), store.DefaultConversation, DefaultWindow)
	require.NoError(t, err)
	assert.Equal(t, second.Messages[1:], projected[:len(projected)-1])
}

func TestRunTurn_NightOwlIsSignificant(t *testing.T) {
	f := newFixture(t, scriptStep{comp: core.Completion{Content: "Noted. Late nights it is."}})
	f.loop.Classifier = stubClassifier{res: significance.Result{Score: significance.Significant, Reason: "sleep habit"}}

	var tokens []string
	res, err := f.loop.RunTurn(context.Background(), "", "Remember that I'm a night owl.", func(s string) { tokens = append(tokens, s) })
	require.NoError(t, err)

	assert.Equal(t, "Noted. Late nights it is.", res.Response)
	assert.Equal(t, []string{"Noted. Late nights it is."}, tokens)
	assert.Equal(t, significance.Significant, res.Significance.Score)
	assert.Empty(t, res.ToolsUsed)
	assert.Equal(t, []string{"complete"}, f.llm.modes)

	msgs := f.messages(t)
	require.Equal(t, []string{"user", "assistant"}, roles(msgs))
	assert.EqualValues(t, 2, msgs[0].Metadata["significance"])
	assert.Equal(t, "sleep habit", msgs[0].Metadata["significance_reason"])
	assert.Equal(t, []any{}, msgs[1].Metadata["tools_used"])
}

func TestRunTurn_ClassifierFailureDegrades(t *testing.T) {
	f := newFixture(t, scriptStep{comp: core.Completion{Content: "Hi."}})
	f.loop.Classifier = stubClassifier{err: significance.ErrClassificationParse}

	res, err := f.loop.RunTurn(context.Background(), "", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, significance.Unknown, res.Significance)

	msgs := f.messages(t)
	assert.EqualValues(t, 0, msgs[0].Metadata["significance"])
	assert.Equal(t, "unknown", msgs[0].Metadata["significance_reason"])
}

func TestRunTurn_StoreUnavailable(t *testing.T) {
	f := newFixture(t, scriptStep{comp: core.Completion{Content: "never sent"}})
	require.NoError(t, f.db.Close())

	var tokens []string
	res, err := f.loop.RunTurn(context.Background(), "", "hello", func(s string) { tokens = append(tokens, s) })
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	assert.True(t, IsFatal(err))
	assert.Equal(t, ErrInternal, PublicError(err))
	assert.Empty(t, tokens)
	assert.Empty(t, f.llm.reqs)
}

func TestRunTurn_AnswerNotShownUntilSaved(t *testing.T) {
	f := newFixture(t, scriptStep{comp: core.Completion{Content: "Hello!"}})
	f.loop.Store = &failingStore{DB: f.db, okAppends: 1}

	var tokens []string
	res, err := f.loop.RunTurn(context.Background(), "", "hi", func(s string) { tokens = append(tokens, s) })
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	assert.Empty(t, tokens)
	assert.Equal(t, []string{"user"}, roles(f.messages(t)))
}

func TestRunTurn_DuplicateCallIDsAreReplaced(t *testing.T) {
	f := newFixture(t,
		toolCallStep("",
			core.NewToolCall("call_0", "addition", `{"numbers":[1,1]}`),
			core.NewToolCall("call_0", "addition", `{"numbers":[2,2]}`),
		),
		answerStep("2 and 4."),
	)

	res, err := f.loop.RunTurn(context.Background(), "", "1+1 and 2+2", nil)
	require.NoError(t, err)
	assert.Equal(t, "2 and 4.", res.Response)

	msgs := f.messages(t)
	require.Equal(t, []string{"user", "assistant", "tool", "tool", "assistant"}, roles(msgs))
	calls := msgs[1].ToolCalls
	require.Len(t, calls, 2)
	assert.Equal(t, "call_0", calls[0].CallID)
	assert.NotEqual(t, "call_0", calls[1].CallID)
	assert.True(t, strings.HasPrefix(calls[1].CallID, "call_"))
	assert.Equal(t, calls[0].CallID, *msgs[2].ToolCallID)
	assert.Equal(t, calls[1].CallID, *msgs[3].ToolCallID)
	assert.Equal(t, `{"result":4}`, *msgs[3].Content)
}

func TestRunTurn_TransportFailureIsFatal(t *testing.T) {
	f := newFixture(t, scriptStep{err: &llmclient.APIError{Status: 503, Body: "overloaded"}})

	_, err := f.loop.RunTurn(context.Background(), "", "hello", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, llmclient.ErrTransport)
	assert.True(t, IsFatal(err))
	assert.Equal(t, []string{"user"}, roles(f.messages(t)))
}

func TestRunTurn_UnknownToolAnsweredInBand(t *testing.T) {
	f := newFixture(t,
		toolCallStep("", core.NewToolCall("call_x", "teleport", `{"to":"Mars"}`)),
		answerStep("I can't do that."),
	)

	res, err := f.loop.RunTurn(context.Background(), "", "Beam me to Mars", nil)
	require.NoError(t, err)
	assert.Equal(t, "I can't do that.", res.Response)
	assert.Equal(t, []string{"teleport"}, res.ToolsUsed)

	msgs := f.messages(t)
	require.Equal(t, []string{"user", "assistant", "tool", "assistant"}, roles(msgs))
	var envelope map[string]string
	require.NoError(t, json.Unmarshal([]byte(*msgs[2].Content), &envelope))
	assert.Contains(t, envelope["error"], "teleport")
}

func TestRunTurn_MalformedArgumentsAnsweredInBand(t *testing.T) {
	f := newFixture(t,
		toolCallStep("", core.NewToolCall("call_m", "addition", `{"numbers":"two and two"}`)),
		answerStep("Let me try that differently."),
	)

	_, err := f.loop.RunTurn(context.Background(), "", "2+2?", nil)
	require.NoError(t, err)
	tool := f.messages(t)[2]
	assert.Contains(t, *tool.Content, `"error"`)
	assert.Contains(t, *tool.Content, "malformed arguments")
}

func TestRunTurn_MultipleRounds(t *testing.T) {
	f := newFixture(t,
		toolCallStep("", core.NewToolCall("c1", "addition", `{"numbers":[1,2]}`)),
		scriptStep{comp: core.Completion{Content: "Now the weather. ", ToolCalls: []core.ToolCall{core.NewToolCall("c2", "getWeather", `{"location":"Oslo"}`)}}},
		answerStep("3, and mild in Oslo."),
	)
	f.loop.MaxSteps = 3

	var tokens []string
	res, err := f.loop.RunTurn(context.Background(), "", "1+2 then Oslo weather", func(s string) { tokens = append(tokens, s) })
	require.NoError(t, err)
	assert.Equal(t, "3, and mild in Oslo.", res.Response)
	assert.Equal(t, []string{"addition", "getWeather"}, res.ToolsUsed)
	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, []string{"Now the weather. ", "3, and mild in Oslo."}, tokens)

	assert.Equal(t, []string{"complete", "stream", "stream"}, f.llm.modes)
	assert.Empty(t, f.llm.reqs[1].ToolChoice)
	assert.Equal(t, "none", f.llm.reqs[2].ToolChoice)
	assert.Equal(t, []string{"user", "assistant", "tool", "assistant", "tool", "assistant"}, roles(f.messages(t)))
	assert.Equal(t, "Now the weather.", *f.messages(t)[3].Content)
}

func TestRunTurn_StepBudgetExhausted(t *testing.T) {
	f := newFixture(t,
		toolCallStep("Checking the numbers.", core.NewToolCall("c1", "addition", `{"numbers":[1]}`)),
		toolCallStep("", core.NewToolCall("c2", "addition", `{"numbers":[2]}`)),
	)
	f.loop.MaxSteps = 2

	res, err := f.loop.RunTurn(context.Background(), "", "keep adding", nil)
	require.NoError(t, err)
	assert.Equal(t, "Checking the numbers.", res.Response)
	assert.True(t, res.Partial)
	assert.Equal(t, "none", f.llm.reqs[1].ToolChoice)

	msgs := f.messages(t)
	require.Equal(t, []string{"user", "assistant", "tool", "assistant"}, roles(msgs))
	assert.Equal(t, true, msgs[3].Metadata["partial"])
	assert.Empty(t, msgs[3].ToolCalls)
}

func TestRunTurn_StepBudgetExhaustedKeepsStreamedText(t *testing.T) {
	f := newFixture(t,
		toolCallStep("", core.NewToolCall("c1", "addition", `{"numbers":[1,1]}`)),
		scriptStep{
			comp:   core.Completion{Content: "The sum is 2", ToolCalls: []core.ToolCall{core.NewToolCall("c2", "addition", `{"numbers":[2]}`)}},
			deltas: []string{"The sum ", "is 2"},
		},
	)
	f.loop.MaxSteps = 2

	var tokens []string
	res, err := f.loop.RunTurn(context.Background(), "", "1+1", func(s string) { tokens = append(tokens, s) })
	require.NoError(t, err)
	assert.Equal(t, "The sum is 2", res.Response)
	assert.True(t, res.Partial)
	assert.Equal(t, []string{"The sum ", "is 2"}, tokens)

	msgs := f.messages(t)
	require.Equal(t, []string{"user", "assistant", "tool", "assistant"}, roles(msgs))
	assert.Equal(t, "The sum is 2", *msgs[3].Content)
	assert.Equal(t, true, msgs[3].Metadata["partial"])
}

func TestRunTurn_StepBudgetExhaustedWithoutText(t *testing.T) {
	f := newFixture(t,
		toolCallStep("", core.NewToolCall("c1", "addition", `{"numbers":[1]}`)),
		toolCallStep("", core.NewToolCall("c2", "addition", `{"numbers":[2]}`)),
	)
	f.loop.MaxSteps = 2

	res, err := f.loop.RunTurn(context.Background(), "", "keep adding", nil)
	require.NoError(t, err)
	assert.Equal(t, BudgetNotice, res.Response)
}

func TestRunTurn_ToolCallsWrittenInText(t *testing.T) {
	f := newFixture(t,
		scriptStep{comp: core.Completion{Content: `<invoke name="addition"><arg name="numbers">[1,2]</arg></invoke>`}},
		answerStep("That's 3."),
	)

	res, err := f.loop.RunTurn(context.Background(), "", "1+2", nil)
	require.NoError(t, err)
	assert.Equal(t, "That's 3.", res.Response)

	msgs := f.messages(t)
	require.Equal(t, []string{"user", "assistant", "tool", "assistant"}, roles(msgs))
	assert.Nil(t, msgs[1].Content)
	assert.True(t, strings.HasPrefix(msgs[1].ToolCalls[0].CallID, "call_"))
	assert.Equal(t, `{"result":3}`, *msgs[2].Content)
}

func TestRunTurn_CancelDuringStreamSavesPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t,
		toolCallStep("", core.NewToolCall("c1", "addition", `{"numbers":[2,2]}`)),
		scriptStep{deltas: []string{"It's ", "4 and"}, after: cancel, err: context.Canceled},
	)

	_, err := f.loop.RunTurn(ctx, "", "2+2 and weather", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, context.Canceled, PublicError(err))

	msgs := f.messages(t)
	require.Equal(t, []string{"user", "assistant", "tool", "assistant"}, roles(msgs))
	last := msgs[3]
	assert.Equal(t, "It's 4 and", *last.Content)
	assert.Equal(t, true, last.Metadata["partial"])
	assert.Equal(t, []any{"addition"}, last.Metadata["tools_used"])
}

func TestRunTurn_EmptyPrompt(t *testing.T) {
	f := newFixture(t)
	_, err := f.loop.RunTurn(context.Background(), "", "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Empty(t, f.messages(t))
}

func TestRunTurn_ConversationsAreIsolated(t *testing.T) {
	f := newFixture(t,
		scriptStep{comp: core.Completion{Content: "A."}},
		scriptStep{comp: core.Completion{Content: "B."}},
	)
	_, err := f.loop.RunTurn(context.Background(), "alpha", "first", nil)
	require.NoError(t, err)
	_, err = f.loop.RunTurn(context.Background(), "beta", "second", nil)
	require.NoError(t, err)

	second := f.llm.reqs[1].Messages
	require.Len(t, second, 2)
	assert.Equal(t, "second", second[1].Content)
}

func TestStream_EventOrder(t *testing.T) {
	f := newFixture(t,
		toolCallStep("", core.NewToolCall("call_a", "addition", `{"numbers":[2,2]}`)),
		answerStep("It's ", "4."),
	)

	var types []EventType
	var final *TurnResult
	for ev := range f.loop.Stream(context.Background(), "", "2+2?") {
		types = append(types, ev.Type)
		switch ev.Type {
		case EventToolCall:
			assert.Equal(t, "addition", ev.Call.Function.Name)
		case EventToolResult:
			assert.Equal(t, `{"result":4}`, ev.Text)
		case EventDone:
			final = ev.Result
		case EventError:
			t.Fatalf("unexpected error: %v", ev.Err)
		}
	}
	assert.Equal(t, []EventType{EventToolCall, EventToolResult, EventToken, EventToken, EventDone}, types)
	require.NotNil(t, final)
	assert.Equal(t, "It's 4.", final.Response)
}

func TestStream_Error(t *testing.T) {
	f := newFixture(t, scriptStep{err: errors.Join(llmclient.ErrTransport, errors.New("dial tcp: refused"))})

	var last Event
	for ev := range f.loop.Stream(context.Background(), "", "hi") {
		last = ev
	}
	assert.Equal(t, EventError, last.Type)
	assert.ErrorIs(t, last.Err, llmclient.ErrTransport)
}
