package assistant

import "encoding/json"

// StreamEvent is one frame of the turn wire protocol. Events are produced
// in order by the engine and never persisted; the transport marshals each
// event value as the frame payload under its Event name.
type StreamEvent interface {
	EventName() string
}

// Sink delivers stream events to the client transport. Emit blocks until
// the transport has accepted the event, which is how client back-pressure
// reaches the engine; an Emit error aborts the turn.
type Sink interface {
	Emit(ev StreamEvent) error
}

// ConnectedEvent opens a turn's stream.
type ConnectedEvent struct {
	SessionID string `json:"sessionId"`
}

func (ConnectedEvent) EventName() string { return "connected" }

// TextEvent carries one increment of display-safe prose.
type TextEvent struct {
	Content string `json:"content"`
}

func (TextEvent) EventName() string { return "text" }

// ToolCallEvent reports the agent invoking an external capability.
type ToolCallEvent struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (ToolCallEvent) EventName() string { return "tool_call" }

// ToolResultEvent reports a capability's outcome.
type ToolResultEvent struct {
	Name    string `json:"name"`
	Result  string `json:"result"`
	Success bool   `json:"success"`
}

func (ToolResultEvent) EventName() string { return "tool_result" }

// StructuredQuestionsEvent surfaces follow-up questions for the client to
// render. At most one per turn, after all text and tool events.
type StructuredQuestionsEvent struct {
	Questions []StructuredQuestion `json:"questions"`
}

func (StructuredQuestionsEvent) EventName() string { return "structured_questions" }

// DoneEvent terminates a successful turn.
type DoneEvent struct {
	ItineraryUpdated bool `json:"itineraryUpdated"`
	SegmentsModified int  `json:"segmentsModified,omitempty"`
}

func (DoneEvent) EventName() string { return "done" }

// ErrorEvent terminates an aborted turn.
type ErrorEvent struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (ErrorEvent) EventName() string { return "error" }
