package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	openai "github.com/gosticks/openai-responses-api-go"
	"github.com/pocketbase/pocketbase/core"
	"github.com/samber/lo"

	"backend/trips"
)

// loadTrip resolves the {tripId} path segment to a trip record the caller
// may access and stashes it for downstream handlers.
func loadTrip(e *core.RequestEvent) error {
	trip, err := e.App.FindRecordById("trips", e.Request.PathValue("tripId"))
	if err != nil || !canAccessTrip(e, trip) {
		return e.JSON(http.StatusNotFound, map[string]string{
			"error": "trip not found",
		})
	}
	e.Set("trip", trip)
	return e.Next()
}

func canAccessTrip(e *core.RequestEvent, trip *core.Record) bool {
	if e.Auth == nil {
		return false
	}
	if trip.GetString("ownerId") == e.Auth.Id {
		return true
	}
	return lo.Contains(trip.GetStringSlice("collaborators"), e.Auth.Id)
}

// TripCalendar serves the trip's segments as an iCalendar document.
func TripCalendar(e *core.RequestEvent) error {
	trip := e.Get("trip").(*core.Record)

	ctx, err := trips.BuildContext(e.App, trip)
	if err != nil {
		e.App.Logger().Error("TripCalendar build context error", "error", err, "tripId", trip.Id)
		return e.JSON(http.StatusInternalServerError, map[string]string{
			"error": "unable to load trip segments",
		})
	}

	e.Response.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	e.Response.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", trip.GetString("name")+".ics"))
	return e.String(http.StatusOK, trips.BuildCalendar(ctx).Serialize())
}

// TripSuggestions asks the model for a one-shot itinerary review of the
// whole trip, outside any conversational session.
func TripSuggestions(e *core.RequestEvent) error {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return e.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "OPENAI_API_KEY is not configured on the server",
		})
	}

	trip := e.Get("trip").(*core.Record)
	ctx, err := trips.BuildContext(e.App, trip)
	if err != nil {
		e.App.Logger().Error("TripSuggestions build context error", "error", err, "tripId", trip.Id)
		return e.JSON(http.StatusInternalServerError, map[string]string{
			"error": "unable to load the latest trip context",
		})
	}

	ctxJSON, err := json.Marshal(ctx)
	if err != nil {
		return err
	}

	client := openai.NewClient(apiKey)
	resp, err := client.Responses.Create(
		context.Background(),
		openai.ResponseRequest{
			Model: defaultAssistantModel,
			Messages: []openai.ResponseMessage{
				{
					Role:    "system",
					Content: "Review this trip itinerary and suggest improvements: gaps in the schedule, missing transfers or lodging, and activities worth adding. Be concise.",
				},
				{
					Role:    "user",
					Content: string(ctxJSON),
				},
			},
		},
	)
	if err != nil {
		e.App.Logger().Error("TripSuggestions call failed", "error", err, "tripId", trip.Id)
		return e.JSON(http.StatusBadGateway, map[string]string{
			"error": fmt.Sprintf("suggestion request failed: %s", err.Error()),
		})
	}

	return e.JSON(http.StatusOK, resp)
}
