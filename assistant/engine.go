package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// ErrEmptyReply is returned when a turn completes without producing any
// displayable content or questions.
var ErrEmptyReply = errors.New("assistant returned an empty message")

// Engine orchestrates one turn: it pulls tokens and tool events from the
// runtime, feeds text through the content buffer, emits the typed event
// sequence to the sink and, on success, commits the turn to the session.
type Engine struct {
	store   *Store
	runtime Runtime
	logger  *slog.Logger
}

func NewEngine(store *Store, runtime Runtime, logger *slog.Logger) *Engine {
	return &Engine{store: store, runtime: runtime, logger: logger}
}

// TurnOptions vary the entry path of a turn.
type TurnOptions struct {
	// Context marks a priming turn: the outbound message is recorded with
	// the system role so it is never displayed as a user message, while
	// the assistant's reply is recorded and streamed normally.
	Context bool
}

// StreamTurn runs one turn for the session. Events are pushed to sink as
// they are produced; the call returns when the turn has emitted its
// terminal done or error event, or when it was abandoned.
//
// Nothing is committed to session history until the turn completes: a
// cancelled or failed turn leaves the session exactly as it was, so a
// partial assistant message can never pollute later turns.
func (en *Engine) StreamTurn(ctx context.Context, sessionID, message string, opts TurnOptions, sink Sink) error {
	sess, err := en.store.Get(sessionID)
	if err != nil {
		return err
	}
	defer sess.BeginTurn()()

	if err := sink.Emit(ConnectedEvent{SessionID: sess.ID}); err != nil {
		return err
	}

	role := RoleUser
	if opts.Context {
		role = RoleSystem
	}
	inbound := Message{Role: role, Content: message, Timestamp: time.Now().UTC()}

	buf := &ContentBuffer{}
	hooks := Hooks{
		Token: func(token string) error {
			if delta := buf.Append(token); delta != "" {
				return sink.Emit(TextEvent{Content: delta})
			}
			return nil
		},
		ToolCall: func(name string, arguments json.RawMessage) error {
			return sink.Emit(ToolCallEvent{Name: name, Arguments: arguments})
		},
		ToolResult: func(name, result string, success bool) error {
			return sink.Emit(ToolResultEvent{Name: name, Result: result, Success: success})
		},
	}

	completion, err := en.runtime.Run(ctx, TurnRequest{
		Mode:    sess.Mode,
		TripID:  sess.TripID,
		History: append(sess.History(), inbound),
	}, hooks)
	if err != nil {
		return en.abort(ctx, sess, err, sink)
	}

	questions := ExtractQuestions(completion.Text)
	display := FinalMessage(completion.Text, questions)
	if display == "" && len(questions) == 0 {
		return en.abort(ctx, sess, ErrEmptyReply, sink)
	}

	// The finalized message can exceed what streamed: a fully fenced or
	// recovered envelope reveals nothing token-by-token. Whatever the
	// client has not seen yet goes out as one last text increment, so the
	// displayed turn is never blank.
	if revealed := buf.Revealed(); len(display) > len(revealed) && strings.HasPrefix(display, revealed) {
		if err := sink.Emit(TextEvent{Content: display[len(revealed):]}); err != nil {
			return err
		}
	}

	sess.Commit(TurnCommit{
		Inbound:   inbound,
		Assistant: Message{Role: RoleAssistant, Content: display, Timestamp: time.Now().UTC()},
		Usage:     completion.Usage,
		Cost:      completion.Cost,
		Questions: questions,
	})

	if len(questions) > 0 {
		if err := sink.Emit(StructuredQuestionsEvent{Questions: questions}); err != nil {
			return err
		}
	}
	return sink.Emit(DoneEvent{
		ItineraryUpdated: completion.ItineraryUpdated,
		SegmentsModified: completion.SegmentsModified,
	})
}

// abort ends a failed turn without touching session history. A turn whose
// client is already gone is abandoned silently; otherwise the error event
// is the stream's terminal frame.
func (en *Engine) abort(ctx context.Context, sess *Session, cause error, sink Sink) error {
	if ctx.Err() != nil {
		en.logger.Debug("assistant turn abandoned", "sessionId", sess.ID, "error", cause)
		return ctx.Err()
	}
	en.logger.Error("assistant turn failed", "sessionId", sess.ID, "tripId", sess.TripID, "error", cause)
	_ = sink.Emit(ErrorEvent{
		Message:   "The assistant could not complete this reply. Please try again.",
		Retryable: true,
	})
	return cause
}
