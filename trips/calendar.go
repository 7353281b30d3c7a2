package trips

import (
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
)

// BuildCalendar renders a trip context as an iCalendar document: one event
// per transportation, lodging and activity segment. Pure over Context so
// it can be exercised without a database.
func BuildCalendar(ctx *Context) *ics.Calendar {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetName(ctx.Trip.Name)
	if ctx.Trip.Description != "" {
		cal.SetDescription(ctx.Trip.Description)
	}

	for _, seg := range ctx.Transportations {
		ev := cal.AddEvent(seg.Id + "@" + ctx.Trip.Id)
		ev.SetSummary(fmt.Sprintf("%s: %s → %s", titleOr(seg.Type, "Transportation"), seg.Origin, seg.Destination))
		if seg.Notes != "" {
			ev.SetDescription(seg.Notes)
		}
		setSpan(ev, seg.Departure, seg.Arrival)
	}
	for _, seg := range ctx.Lodgings {
		ev := cal.AddEvent(seg.Id + "@" + ctx.Trip.Id)
		ev.SetSummary(fmt.Sprintf("Stay: %s", seg.Name))
		if seg.Address != "" {
			ev.SetLocation(seg.Address)
		}
		setSpan(ev, seg.CheckIn, seg.CheckOut)
	}
	for _, seg := range ctx.Activities {
		ev := cal.AddEvent(seg.Id + "@" + ctx.Trip.Id)
		ev.SetSummary(seg.Name)
		if seg.Description != "" {
			ev.SetDescription(seg.Description)
		}
		if seg.Address != "" {
			ev.SetLocation(seg.Address)
		}
		setSpan(ev, seg.Start, seg.End)
	}
	return cal
}

func setSpan(ev *ics.VEvent, start, end string) {
	if t, err := time.Parse(time.RFC3339, start); err == nil {
		ev.SetStartAt(t)
		if end == "" {
			ev.SetEndAt(t.Add(time.Hour))
		}
	}
	if t, err := time.Parse(time.RFC3339, end); err == nil {
		ev.SetEndAt(t)
	}
}

func titleOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
