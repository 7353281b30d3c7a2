package assistant

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mode selects the system instructions and tool capabilities a session's
// agent runs with. It is fixed at session creation.
type Mode string

const (
	ModeTripDesigner Mode = "trip-designer"
	ModeHelp         Mode = "help"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a session's conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TokenUsage tracks the input/output token counters of a session. Counters
// only grow; a fresh session is the only way to reset them.
type TokenUsage struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

func (u *TokenUsage) add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
}

// Session is one conversational context, scoped to at most one trip.
//
// A session's TripID never changes after creation: clients switching trips
// delete the session and create a new one, which is what keeps history from
// one trip out of another. All state behind mu is mutated only by committed
// turns and read by snapshot requests; turnMu serializes turns so that turn
// N+1 always reads the history turn N wrote.
type Session struct {
	ID      string
	TripID  string
	Mode    Mode
	Created time.Time

	turnMu sync.Mutex

	mu        sync.RWMutex
	messages  []Message
	questions []StructuredQuestion
	usage     TokenUsage
	cost      float64
}

func newSession(tripID string, mode Mode) *Session {
	return &Session{
		ID:      uuid.NewString(),
		TripID:  tripID,
		Mode:    mode,
		Created: time.Now().UTC(),
	}
}

// BeginTurn acquires the session's turn lock and returns the release func.
// At most one turn runs per session; callers from other sessions are not
// affected.
func (s *Session) BeginTurn() func() {
	s.turnMu.Lock()
	return s.turnMu.Unlock
}

// History returns a copy of the session's messages.
func (s *Session) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// PendingQuestions returns the structured questions surfaced by the most
// recent completed turn, if any.
func (s *Session) PendingQuestions() []StructuredQuestion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StructuredQuestion, len(s.questions))
	copy(out, s.questions)
	return out
}

// Usage returns the session's running token counters and estimated cost.
func (s *Session) Usage() (TokenUsage, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage, s.cost
}

// TurnCommit is the full outcome of a successful turn. Nothing of a turn
// reaches the session unless it goes through Commit, which is what keeps
// abandoned turns out of history.
type TurnCommit struct {
	Inbound   Message
	Assistant Message
	Usage     TokenUsage
	Cost      float64
	Questions []StructuredQuestion
}

// Commit appends the turn's messages, advances the usage counters and
// replaces or clears the pending structured questions. Questions from a
// prior turn survive until a turn without questions completes, so the user
// never loses them before a replacement reply has fully arrived.
func (s *Session) Commit(c TurnCommit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, c.Inbound, c.Assistant)
	s.usage.add(c.Usage)
	s.cost += c.Cost
	s.questions = c.Questions
}
