package assistant

import (
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// ErrSessionNotFound is returned by Store.Get for unknown or expired ids.
var ErrSessionNotFound = errors.New("assistant session not found")

const (
	// Sessions idle longer than this are evicted. The TTL slides: every
	// Get refreshes it, so only truly abandoned sessions expire.
	sessionTTL      = 12 * time.Hour
	janitorInterval = 15 * time.Minute
)

// Store is the registry of live assistant sessions. Sessions are in-process
// state only; a restart drops them all, which is acceptable since clients
// recreate sessions on demand.
type Store struct {
	sessions *cache.Cache
}

func NewStore() *Store {
	return &Store{sessions: cache.New(sessionTTL, janitorInterval)}
}

var (
	defaultStore     *Store
	defaultStoreOnce sync.Once
)

// Sessions returns the process-wide session store. It is constructed once
// for the lifetime of the process and deliberately lives outside any
// request handler or route-registration scope: re-running route setup (or
// rebuilding handler state) must not discard live conversations.
func Sessions() *Store {
	defaultStoreOnce.Do(func() {
		defaultStore = NewStore()
	})
	return defaultStore
}

// Create registers a fresh session with empty history. tripID may be empty
// for trip-independent help sessions.
func (st *Store) Create(tripID string, mode Mode) *Session {
	s := newSession(tripID, mode)
	st.sessions.Set(s.ID, s, cache.DefaultExpiration)
	return s
}

// Get looks up a session by id and refreshes its idle TTL.
func (st *Store) Get(id string) (*Session, error) {
	v, ok := st.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	s := v.(*Session)
	st.sessions.Set(id, s, cache.DefaultExpiration)
	return s, nil
}

// Delete removes a session. Deleting an absent session is a no-op: cleanup
// calls race with manual deletion and both must succeed.
func (st *Store) Delete(id string) {
	st.sessions.Delete(id)
}

// DeleteByTrip removes every session referencing the given trip and reports
// how many were dropped. Called when a trip is deleted so no session keeps
// stale context for it.
func (st *Store) DeleteByTrip(tripID string) int {
	removed := 0
	for id, item := range st.sessions.Items() {
		if s, ok := item.Object.(*Session); ok && s.TripID == tripID {
			st.sessions.Delete(id)
			removed++
		}
	}
	return removed
}

// Count reports the number of live sessions.
func (st *Store) Count() int {
	return st.sessions.ItemCount()
}
