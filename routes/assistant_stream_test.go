package routes

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backend/assistant"
)

func TestSSESinkFramesEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := &sseSink{w: rec, flusher: rec}

	require.NoError(t, sink.Emit(assistant.ConnectedEvent{SessionID: "s1"}))
	require.NoError(t, sink.Emit(assistant.TextEvent{Content: "Hello"}))
	require.NoError(t, sink.Emit(assistant.DoneEvent{ItineraryUpdated: true, SegmentsModified: 2}))

	body := rec.Body.String()
	assert.Contains(t, body, "event: connected\ndata: {\"sessionId\":\"s1\"}\n\n")
	assert.Contains(t, body, "event: text\ndata: {\"content\":\"Hello\"}\n\n")
	assert.Contains(t, body, "event: done\ndata: {\"itineraryUpdated\":true,\"segmentsModified\":2}\n\n")
	assert.True(t, rec.Flushed)
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, assistant.ModeHelp, parseMode("help"))
	assert.Equal(t, assistant.ModeHelp, parseMode("  HELP "))
	assert.Equal(t, assistant.ModeTripDesigner, parseMode("trip-designer"))
	assert.Equal(t, assistant.ModeTripDesigner, parseMode(""))
}
