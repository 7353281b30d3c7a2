package main

import (
	"log"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"

	"backend/assistant"
	"backend/routes"
)

func main() {
	app := pocketbase.New()

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		if err := routes.Register(se); err != nil {
			return err
		}
		return se.Next()
	})

	// Sessions belonging to a deleted trip would otherwise keep answering
	// from stale context. Cleanup runs off the deletion path; the trip's
	// delete succeeds regardless.
	app.OnRecordAfterDeleteSuccess("trips").BindFunc(func(e *core.RecordEvent) error {
		tripID := e.Record.Id
		logger := e.App.Logger()
		assistant.Background(logger, "assistant trip cleanup", func() error {
			removed := assistant.Sessions().DeleteByTrip(tripID)
			if removed > 0 {
				logger.Info("removed assistant sessions for deleted trip", "tripId", tripID, "sessions", removed)
			}
			return nil
		})
		return e.Next()
	})

	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
}
