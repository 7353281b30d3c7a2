package assistant

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreCreateAndGet(t *testing.T) {
	store := NewStore()

	created := store.Create("trip123", ModeTripDesigner)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "trip123", created.TripID)
	assert.Empty(t, created.History())

	got, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Same(t, created, got)

	_, err = store.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	store := NewStore()
	s := store.Create("", ModeHelp)

	store.Delete(s.ID)
	store.Delete(s.ID) // second delete must be a no-op, not an error

	_, err := store.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStoreDeleteByTrip(t *testing.T) {
	store := NewStore()
	a1 := store.Create("tripA", ModeTripDesigner)
	a2 := store.Create("tripA", ModeTripDesigner)
	b := store.Create("tripB", ModeTripDesigner)
	help := store.Create("", ModeHelp)

	removed := store.DeleteByTrip("tripA")
	assert.Equal(t, 2, removed)

	_, err := store.Get(a1.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Get(a2.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = store.Get(b.ID)
	assert.NoError(t, err)
	_, err = store.Get(help.ID)
	assert.NoError(t, err)
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := store.Create("trip", ModeTripDesigner)
			_, err := store.Get(s.ID)
			assert.NoError(t, err)
			store.Delete(s.ID)
		}()
	}
	wg.Wait()
	assert.Zero(t, store.Count())
}

func TestSessionsSingleton(t *testing.T) {
	assert.Same(t, Sessions(), Sessions())
}

func TestSessionCommitAndCounters(t *testing.T) {
	s := newSession("trip1", ModeTripDesigner)

	s.Commit(TurnCommit{
		Inbound:   Message{Role: RoleUser, Content: "hi"},
		Assistant: Message{Role: RoleAssistant, Content: "hello"},
		Usage:     TokenUsage{Input: 100, Output: 40},
		Cost:      0.001,
		Questions: []StructuredQuestion{{ID: "q1", Kind: QuestionText, Prompt: "?"}},
	})
	s.Commit(TurnCommit{
		Inbound:   Message{Role: RoleUser, Content: "more"},
		Assistant: Message{Role: RoleAssistant, Content: "sure"},
		Usage:     TokenUsage{Input: 50, Output: 10},
		Cost:      0.0005,
	})

	history := s.History()
	require.Len(t, history, 4)
	assert.Equal(t, []string{"hi", "hello", "more", "sure"},
		[]string{history[0].Content, history[1].Content, history[2].Content, history[3].Content})

	usage, cost := s.Usage()
	assert.Equal(t, TokenUsage{Input: 150, Output: 50}, usage)
	assert.InDelta(t, 0.0015, cost, 1e-9)

	// The second commit carried no questions, so the pending ones cleared.
	assert.Empty(t, s.PendingQuestions())
}
