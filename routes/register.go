package routes

import (
	"os"
	"strings"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"backend/assistant"
	"backend/trips"
)

const defaultAssistantModel = "gpt-5-mini"

// Register binds all API routes. Handler state is rebuilt on every serve
// event, but the session store it wraps is the process-wide singleton, so
// re-registration never drops live conversations.
func Register(se *core.ServeEvent) error {
	model := strings.TrimSpace(os.Getenv("ASSISTANT_MODEL"))
	if model == "" {
		model = defaultAssistantModel
	}

	runtime := assistant.NewOpenAIRuntime(
		strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		model,
		trips.NewToolProvider(se.App),
		se.App.Logger(),
	)
	api := &assistantAPI{
		store:  assistant.Sessions(),
		engine: assistant.NewEngine(assistant.Sessions(), runtime, se.App.Logger()),
	}

	g := se.Router.Group("/api/assistant")
	g.Bind(apis.RequireAuth())
	g.POST("/sessions", api.createSession)
	g.GET("/sessions/{sessionId}", api.getSession)
	g.DELETE("/sessions/{sessionId}", api.deleteSession)
	g.POST("/sessions/{sessionId}/messages", api.streamMessage)
	g.POST("/sessions/{sessionId}/answers", api.streamAnswer)

	tg := se.Router.Group("/api/trip/{tripId}")
	tg.Bind(apis.RequireAuth())
	tg.BindFunc(loadTrip)
	tg.GET("/calendar", TripCalendar)
	tg.GET("/assistant/suggest", TripSuggestions)

	return nil
}
