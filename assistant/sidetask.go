package assistant

import "log/slog"

// Background runs fn on its own goroutine as a best-effort side task. The
// caller's critical path never waits on it and never sees its failure; an
// error is logged and dropped. Used for cleanup work (deleting a superseded
// session, purging sessions of a deleted trip) that must not block or fail
// the action that triggered it.
func Background(logger *slog.Logger, op string, fn func() error) {
	go func() {
		if err := fn(); err != nil {
			logger.Error("background task failed", "op", op, "error", err)
		}
	}()
}
