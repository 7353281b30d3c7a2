package routes

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pocketbase/pocketbase/core"
	"github.com/samber/lo"

	"backend/assistant"
)

type assistantAPI struct {
	store  *assistant.Store
	engine *assistant.Engine
}

type createSessionRequest struct {
	TripID            string `json:"tripId"`
	Mode              string `json:"mode"`
	PreviousSessionID string `json:"previousSessionId"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

func (api *assistantAPI) createSession(e *core.RequestEvent) error {
	var req createSessionRequest
	if err := json.NewDecoder(e.Request.Body).Decode(&req); err != nil {
		return e.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	mode := parseMode(req.Mode)
	if mode == assistant.ModeTripDesigner && req.TripID == "" {
		return e.JSON(http.StatusBadRequest, map[string]string{
			"error": "tripId is required for trip-designer sessions",
		})
	}

	if req.TripID != "" {
		trip, err := e.App.FindRecordById("trips", req.TripID)
		if err != nil || !canAccessTrip(e, trip) {
			return e.JSON(http.StatusNotFound, map[string]string{
				"error": "trip not found",
			})
		}
	}

	// The client is switching context; its old session must not be reused
	// for the new trip. Removal is best-effort and never delays creation.
	if prev := req.PreviousSessionID; prev != "" {
		logger := e.App.Logger()
		store := api.store
		assistant.Background(logger, "assistant session cleanup", func() error {
			store.Delete(prev)
			return nil
		})
	}

	session := api.store.Create(req.TripID, mode)
	return e.JSON(http.StatusOK, createSessionResponse{SessionID: session.ID})
}

type sessionSnapshot struct {
	SessionID string                         `json:"sessionId"`
	TripID    string                         `json:"tripId,omitempty"`
	Mode      assistant.Mode                 `json:"mode"`
	Messages  []assistant.Message            `json:"messages"`
	Questions []assistant.StructuredQuestion `json:"questions,omitempty"`
	Usage     assistant.TokenUsage           `json:"tokenUsage"`
	Cost      float64                        `json:"cost"`
}

func (api *assistantAPI) getSession(e *core.RequestEvent) error {
	session, err := api.store.Get(e.Request.PathValue("sessionId"))
	if err != nil {
		return e.JSON(http.StatusNotFound, map[string]string{
			"error": "session not found",
		})
	}

	usage, cost := session.Usage()
	visible := lo.Filter(session.History(), func(m assistant.Message, _ int) bool {
		return m.Role != assistant.RoleSystem
	})

	return e.JSON(http.StatusOK, sessionSnapshot{
		SessionID: session.ID,
		TripID:    session.TripID,
		Mode:      session.Mode,
		Messages:  visible,
		Questions: session.PendingQuestions(),
		Usage:     usage,
		Cost:      cost,
	})
}

// deleteSession always reports success: deleting an already-absent session
// is how racing cleanup paths are expected to land.
func (api *assistantAPI) deleteSession(e *core.RequestEvent) error {
	api.store.Delete(e.Request.PathValue("sessionId"))
	return e.NoContent(http.StatusNoContent)
}

func parseMode(s string) assistant.Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "help":
		return assistant.ModeHelp
	default:
		return assistant.ModeTripDesigner
	}
}
