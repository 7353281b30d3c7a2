package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRuntime replays a fixed sequence of tokens and tool events.
type scriptedRuntime struct {
	steps []scriptStep
	usage TokenUsage
	err   error

	lastRequest TurnRequest
}

type scriptStep struct {
	token      string
	toolCall   string
	toolArgs   string
	toolResult string
	toolOK     bool
	mutated    bool
}

func (r *scriptedRuntime) Run(ctx context.Context, req TurnRequest, hooks Hooks) (*Completion, error) {
	r.lastRequest = req
	completion := &Completion{Usage: r.usage}
	var text []byte
	for _, step := range r.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch {
		case step.token != "":
			text = append(text, step.token...)
			if err := hooks.Token(step.token); err != nil {
				return nil, err
			}
		case step.toolCall != "":
			if err := hooks.ToolCall(step.toolCall, json.RawMessage(step.toolArgs)); err != nil {
				return nil, err
			}
			if err := hooks.ToolResult(step.toolCall, step.toolResult, step.toolOK); err != nil {
				return nil, err
			}
			if step.mutated {
				completion.ItineraryUpdated = true
				completion.SegmentsModified++
			}
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	completion.Text = string(text)
	return completion, nil
}

// recordingSink captures emitted events in order.
type recordingSink struct {
	events []StreamEvent
	failAt string
}

func (s *recordingSink) Emit(ev StreamEvent) error {
	if s.failAt != "" && ev.EventName() == s.failAt {
		return errors.New("client went away")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) names() []string {
	names := make([]string, len(s.events))
	for i, ev := range s.events {
		names[i] = ev.EventName()
	}
	return names
}

func tokens(text string, size int) []scriptStep {
	var steps []scriptStep
	for len(text) > 0 {
		n := size
		if n > len(text) {
			n = len(text)
		}
		steps = append(steps, scriptStep{token: text[:n]})
		text = text[n:]
	}
	return steps
}

func newTestEngine(runtime Runtime) (*Engine, *Store) {
	store := NewStore()
	return NewEngine(store, runtime, slog.Default()), store
}

func TestStreamTurnFullSequence(t *testing.T) {
	reply := `{"message": "Added the flight to your plan.", "structuredQuestions": []}`
	runtime := &scriptedRuntime{
		steps: append(
			[]scriptStep{{
				toolCall:   "add_transportation",
				toolArgs:   `{"origin": "LIS", "destination": "FCO"}`,
				toolResult: `{"created": "rec1"}`,
				toolOK:     true,
				mutated:    true,
			}},
			tokens(reply, 7)...,
		),
		usage: TokenUsage{Input: 200, Output: 80},
	}
	engine, store := newTestEngine(runtime)
	session := store.Create("tripX", ModeTripDesigner)
	sink := &recordingSink{}

	err := engine.StreamTurn(context.Background(), session.ID, "book me a flight", TurnOptions{}, sink)
	require.NoError(t, err)

	names := sink.names()
	require.GreaterOrEqual(t, len(names), 4)
	assert.Equal(t, "connected", names[0])
	assert.Equal(t, "tool_call", names[1])
	assert.Equal(t, "tool_result", names[2])
	for _, n := range names[3 : len(names)-1] {
		assert.Equal(t, "text", n)
	}
	assert.Equal(t, "done", names[len(names)-1])

	done := sink.events[len(sink.events)-1].(DoneEvent)
	assert.True(t, done.ItineraryUpdated)
	assert.Equal(t, 1, done.SegmentsModified)

	// Streamed text deltas reassemble to the extracted message.
	var streamed string
	for _, ev := range sink.events {
		if te, ok := ev.(TextEvent); ok {
			streamed += te.Content
		}
	}
	assert.Equal(t, "Added the flight to your plan.", streamed)

	history := session.History()
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, "book me a flight", history[0].Content)
	assert.Equal(t, RoleAssistant, history[1].Role)
	assert.Equal(t, "Added the flight to your plan.", history[1].Content)

	usage, cost := session.Usage()
	assert.Equal(t, TokenUsage{Input: 200, Output: 80}, usage)
	assert.Zero(t, cost)
}

func TestStreamTurnEmitsStructuredQuestionsBeforeDone(t *testing.T) {
	reply := `{"message": "A couple of questions.", "structuredQuestions": [
		{"id": "q1", "kind": "single_choice", "prompt": "Pace?", "options": [{"id": "a", "label": "Slow"}]}]}`
	engine, store := newTestEngine(&scriptedRuntime{steps: tokens(reply, 11)})
	session := store.Create("tripX", ModeTripDesigner)
	sink := &recordingSink{}

	require.NoError(t, engine.StreamTurn(context.Background(), session.ID, "plan it", TurnOptions{}, sink))

	names := sink.names()
	require.GreaterOrEqual(t, len(names), 3)
	assert.Equal(t, "structured_questions", names[len(names)-2])
	assert.Equal(t, "done", names[len(names)-1])

	require.Len(t, session.PendingQuestions(), 1)
	assert.Equal(t, "q1", session.PendingQuestions()[0].ID)
}

func TestStreamTurnQuestionsSurviveUntilReplaced(t *testing.T) {
	withQuestions := `{"message": "First.", "structuredQuestions": [{"id": "q1", "kind": "text", "prompt": "Where to?"}]}`
	engine, store := newTestEngine(&scriptedRuntime{steps: tokens(withQuestions, 9)})
	session := store.Create("tripX", ModeTripDesigner)

	require.NoError(t, engine.StreamTurn(context.Background(), session.ID, "hello", TurnOptions{}, &recordingSink{}))
	require.Len(t, session.PendingQuestions(), 1)

	// A failed follow-up turn must not clear them.
	failing := NewEngine(store, &scriptedRuntime{err: errors.New("model unavailable")}, slog.Default())
	err := failing.StreamTurn(context.Background(), session.ID, "Paris", TurnOptions{}, &recordingSink{})
	assert.Error(t, err)
	assert.Len(t, session.PendingQuestions(), 1, "questions must survive a turn that never finalized")

	// A completed turn without questions clears them.
	plain := NewEngine(store, &scriptedRuntime{steps: tokens(`{"message": "Paris it is."}`, 5)}, slog.Default())
	require.NoError(t, plain.StreamTurn(context.Background(), session.ID, "Paris", TurnOptions{}, &recordingSink{}))
	assert.Empty(t, session.PendingQuestions())
}

func TestStreamTurnErrorLeavesHistoryUntouched(t *testing.T) {
	engine, store := newTestEngine(&scriptedRuntime{
		steps: []scriptStep{
			{token: "Working on "},
			{toolCall: "search_segments", toolArgs: `{}`, toolResult: `{}`, toolOK: true},
		},
		err: errors.New("runtime exploded"),
	})
	session := store.Create("tripX", ModeTripDesigner)
	sink := &recordingSink{}

	err := engine.StreamTurn(context.Background(), session.ID, "hi", TurnOptions{}, sink)
	assert.Error(t, err)

	names := sink.names()
	assert.Equal(t, "error", names[len(names)-1])
	errEv := sink.events[len(sink.events)-1].(ErrorEvent)
	assert.True(t, errEv.Retryable)

	assert.Empty(t, session.History(), "aborted turns must not pollute history")
	usage, _ := session.Usage()
	assert.Zero(t, usage.Input)
}

func TestStreamTurnDisconnectAbandonsSilently(t *testing.T) {
	engine, store := newTestEngine(&scriptedRuntime{
		steps: []scriptStep{
			{toolCall: "search_segments", toolArgs: `{}`, toolResult: `{}`, toolOK: true},
			{token: "never delivered"},
		},
	})
	session := store.Create("tripX", ModeTripDesigner)

	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordingSink{failAt: "text"}
	// The transport rejecting a write is how a disconnect surfaces; the
	// request context is cancelled alongside.
	cancel()

	err := engine.StreamTurn(ctx, session.ID, "hi", TurnOptions{}, sink)
	assert.ErrorIs(t, err, context.Canceled)

	for _, name := range sink.names() {
		assert.NotEqual(t, "error", name, "abandoned turns emit no error event")
		assert.NotEqual(t, "done", name)
	}
	assert.Empty(t, session.History())
}

func TestStreamTurnContextTurnHidesInboundMessage(t *testing.T) {
	reply := `{"message": "Welcome back! Your Rome trip has 3 segments."}`
	runtime := &scriptedRuntime{steps: tokens(reply, 13)}
	engine, store := newTestEngine(runtime)
	session := store.Create("tripX", ModeTripDesigner)

	require.NoError(t, engine.StreamTurn(context.Background(), session.ID, "trip context: ...", TurnOptions{Context: true}, &recordingSink{}))

	history := session.History()
	require.Len(t, history, 2)
	assert.Equal(t, RoleSystem, history[0].Role, "context message is never user-visible")
	assert.Equal(t, RoleAssistant, history[1].Role)

	// The runtime still saw the context message as part of the turn.
	require.NotEmpty(t, runtime.lastRequest.History)
	assert.Equal(t, "trip context: ...", runtime.lastRequest.History[len(runtime.lastRequest.History)-1].Content)
}

func TestStreamTurnFencedReplyStillStreamsText(t *testing.T) {
	reply := "```json\n{\"message\": \"Recovered text.\", \"structuredQuestions\": [{\"id\": \"q1\", \"kind\": \"text\", \"prompt\": \"City?\"}]}\n```"
	engine, store := newTestEngine(&scriptedRuntime{steps: tokens(reply, 8)})
	session := store.Create("tripX", ModeTripDesigner)
	sink := &recordingSink{}

	require.NoError(t, engine.StreamTurn(context.Background(), session.ID, "hi", TurnOptions{}, sink))

	// A fence reveals nothing token-by-token; the finalized message must
	// still reach the client as a text event before the terminal frames.
	var streamed string
	lastText := -1
	for i, ev := range sink.events {
		if te, ok := ev.(TextEvent); ok {
			streamed += te.Content
			lastText = i
		}
	}
	assert.Equal(t, "Recovered text.", streamed)

	names := sink.names()
	require.GreaterOrEqual(t, lastText, 0)
	assert.Less(t, lastText, len(names)-2, "text precedes structured_questions and done")
	assert.Equal(t, "structured_questions", names[len(names)-2])
	assert.Equal(t, "done", names[len(names)-1])

	history := session.History()
	require.Len(t, history, 2)
	assert.Equal(t, "Recovered text.", history[1].Content)
}

func TestStreamTurnEmptyReplyFails(t *testing.T) {
	engine, store := newTestEngine(&scriptedRuntime{})
	session := store.Create("tripX", ModeTripDesigner)
	sink := &recordingSink{}

	err := engine.StreamTurn(context.Background(), session.ID, "hi", TurnOptions{}, sink)
	assert.ErrorIs(t, err, ErrEmptyReply)
	assert.Empty(t, session.History())
}

func TestStreamTurnUnknownSession(t *testing.T) {
	engine, _ := newTestEngine(&scriptedRuntime{})
	err := engine.StreamTurn(context.Background(), "nope", "hi", TurnOptions{}, &recordingSink{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
