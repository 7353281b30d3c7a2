package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/samber/lo"

	"backend/assistant"
	"backend/trips"
)

type streamMessageRequest struct {
	Message string `json:"message"`
	Context bool   `json:"context,omitempty"`
}

func (api *assistantAPI) streamMessage(e *core.RequestEvent) error {
	var req streamMessageRequest
	if err := json.NewDecoder(e.Request.Body).Decode(&req); err != nil {
		return e.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	session, err := api.store.Get(e.Request.PathValue("sessionId"))
	if err != nil {
		return e.JSON(http.StatusNotFound, map[string]string{
			"error": "session not found",
		})
	}

	message := req.Message
	if req.Context && strings.TrimSpace(message) == "" && session.TripID != "" {
		trip, err := e.App.FindRecordById("trips", session.TripID)
		if err != nil {
			return e.JSON(http.StatusNotFound, map[string]string{
				"error": "trip not found",
			})
		}
		if message, err = trips.Primer(e.App, trip); err != nil {
			e.App.Logger().Error("assistant primer failed", "error", err, "tripId", session.TripID)
			return e.JSON(http.StatusInternalServerError, map[string]string{
				"error": "unable to load the latest trip context",
			})
		}
	}
	if strings.TrimSpace(message) == "" {
		return e.JSON(http.StatusBadRequest, map[string]string{
			"error": "message is required",
		})
	}

	return api.stream(e, session.ID, message, assistant.TurnOptions{Context: req.Context})
}

func (api *assistantAPI) streamAnswer(e *core.RequestEvent) error {
	var answer assistant.Answer
	if err := json.NewDecoder(e.Request.Body).Decode(&answer); err != nil {
		return e.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	session, err := api.store.Get(e.Request.PathValue("sessionId"))
	if err != nil {
		return e.JSON(http.StatusNotFound, map[string]string{
			"error": "session not found",
		})
	}

	question, ok := lo.Find(session.PendingQuestions(), func(q assistant.StructuredQuestion) bool {
		return q.ID == answer.QuestionID
	})
	if !ok {
		return e.JSON(http.StatusNotFound, map[string]string{
			"error": "no pending question with that id",
		})
	}

	// Invalid answers stop here; a malformed submission never becomes a turn.
	submission, err := question.Submission(answer, time.Now().UTC())
	if err != nil {
		return e.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	return api.stream(e, session.ID, submission, assistant.TurnOptions{})
}

func (api *assistantAPI) stream(e *core.RequestEvent, sessionID, message string, opts assistant.TurnOptions) error {
	if strings.TrimSpace(os.Getenv("OPENAI_API_KEY")) == "" {
		return e.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "OPENAI_API_KEY is not configured on the server",
		})
	}

	flusher, ok := e.Response.(http.Flusher)
	if !ok {
		return e.JSON(http.StatusInternalServerError, map[string]string{
			"error": "streaming is not supported by this connection",
		})
	}

	h := e.Response.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	e.Response.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &sseSink{w: e.Response, flusher: flusher}
	if err := api.engine.StreamTurn(e.Request.Context(), sessionID, message, opts, sink); err != nil {
		// Terminal events are already on the wire (or the client is gone);
		// nothing useful can be sent past this point.
		e.App.Logger().Debug("assistant stream ended with error", "sessionId", sessionID, "error", err)
	}
	return nil
}

// sseSink frames engine events as Server-Sent Events. Writes go straight
// to the response and are flushed per event, so the engine blocks on the
// client's ability to receive.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Emit(ev assistant.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.EventName(), data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
