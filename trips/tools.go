package trips

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/samber/lo"

	"backend/assistant"
)

// segmentCollections are the collections the designer tools may touch.
// Everything else is off limits to the model.
var segmentCollections = []string{"transportations", "lodgings", "activities"}

// ToolProvider binds the Trip Designer toolset to a PocketBase app. Help
// sessions and sessions without a trip get no tools.
type ToolProvider struct {
	app core.App
}

func NewToolProvider(app core.App) *ToolProvider {
	return &ToolProvider{app: app}
}

func (p *ToolProvider) ToolsFor(mode assistant.Mode, tripID string) assistant.Toolset {
	if mode != assistant.ModeTripDesigner || tripID == "" {
		return nil
	}
	return &designerTools{app: p.app, tripID: tripID}
}

// designerTools exposes searching and mutating the segments of exactly one
// trip. Every lookup re-checks the record's trip relation, so a guessed id
// from another trip is rejected rather than leaked or modified.
type designerTools struct {
	app    core.App
	tripID string
}

func (t *designerTools) Specs() []assistant.ToolSpec {
	collectionEnum := []any{"transportations", "lodgings", "activities"}
	return []assistant.ToolSpec{
		{
			Name:        "search_segments",
			Description: "List the trip's transportation, lodging and activity segments, optionally filtered by a substring match.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":      map[string]any{"type": "string", "description": "Case-insensitive substring to match against names, places and descriptions."},
					"collection": map[string]any{"type": "string", "enum": collectionEnum},
				},
			},
		},
		{
			Name:        "add_transportation",
			Description: "Add a transportation segment (flight, train, car, ...) to the trip.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type":        map[string]any{"type": "string", "description": "flight, train, bus, car, ferry or boat"},
					"origin":      map[string]any{"type": "string"},
					"destination": map[string]any{"type": "string"},
					"departure":   map[string]any{"type": "string", "description": "RFC3339 or YYYY-MM-DD"},
					"arrival":     map[string]any{"type": "string"},
					"notes":       map[string]any{"type": "string"},
				},
				"required": []any{"type", "origin", "destination", "departure"},
			},
		},
		{
			Name:        "add_lodging",
			Description: "Add a lodging segment (hotel, rental, ...) to the trip.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type":     map[string]any{"type": "string", "description": "hotel, home, rental or camp"},
					"name":     map[string]any{"type": "string"},
					"address":  map[string]any{"type": "string"},
					"checkIn":  map[string]any{"type": "string", "description": "RFC3339 or YYYY-MM-DD"},
					"checkOut": map[string]any{"type": "string"},
				},
				"required": []any{"name", "checkIn", "checkOut"},
			},
		},
		{
			Name:        "add_activity",
			Description: "Add an activity segment to the trip.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":        map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"address":     map[string]any{"type": "string"},
					"start":       map[string]any{"type": "string", "description": "RFC3339 or YYYY-MM-DD"},
					"end":         map[string]any{"type": "string"},
				},
				"required": []any{"name", "start"},
			},
		},
		{
			Name:        "update_segment",
			Description: "Update fields of an existing segment, e.g. to shift a date or fix a name.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"collection": map[string]any{"type": "string", "enum": collectionEnum},
					"id":         map[string]any{"type": "string"},
					"fields": map[string]any{
						"type":        "object",
						"description": "Field name to new value. Dates accept RFC3339 or YYYY-MM-DD.",
					},
				},
				"required": []any{"collection", "id", "fields"},
			},
		},
		{
			Name:        "remove_segment",
			Description: "Remove a segment from the trip by id.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"collection": map[string]any{"type": "string", "enum": collectionEnum},
					"id":         map[string]any{"type": "string"},
				},
				"required": []any{"collection", "id"},
			},
		},
	}
}

func (t *designerTools) Call(ctx context.Context, name string, arguments json.RawMessage) (assistant.ToolOutcome, error) {
	switch name {
	case "search_segments":
		return t.searchSegments(arguments)
	case "add_transportation":
		return t.addTransportation(arguments)
	case "add_lodging":
		return t.addLodging(arguments)
	case "add_activity":
		return t.addActivity(arguments)
	case "update_segment":
		return t.updateSegment(arguments)
	case "remove_segment":
		return t.removeSegment(arguments)
	default:
		return assistant.ToolOutcome{}, fmt.Errorf("unknown tool %q", name)
	}
}

type searchArgs struct {
	Query      string `json:"query"`
	Collection string `json:"collection"`
}

func (t *designerTools) searchSegments(arguments json.RawMessage) (assistant.ToolOutcome, error) {
	var args searchArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return assistant.ToolOutcome{}, fmt.Errorf("invalid search arguments: %w", err)
	}

	results := map[string]any{}
	query := strings.ToLower(strings.TrimSpace(args.Query))

	if args.Collection == "" || args.Collection == "transportations" {
		segments, err := collectTransportations(t.app, t.tripID)
		if err != nil {
			return assistant.ToolOutcome{}, err
		}
		results["transportations"] = lo.Filter(segments, func(s TransportationSegment, _ int) bool {
			return matches(query, s.Type, s.Origin, s.Destination, s.Notes)
		})
	}
	if args.Collection == "" || args.Collection == "lodgings" {
		segments, err := collectLodgings(t.app, t.tripID)
		if err != nil {
			return assistant.ToolOutcome{}, err
		}
		results["lodgings"] = lo.Filter(segments, func(s LodgingSegment, _ int) bool {
			return matches(query, s.Type, s.Name, s.Address)
		})
	}
	if args.Collection == "" || args.Collection == "activities" {
		segments, err := collectActivities(t.app, t.tripID)
		if err != nil {
			return assistant.ToolOutcome{}, err
		}
		results["activities"] = lo.Filter(segments, func(s ActivitySegment, _ int) bool {
			return matches(query, s.Name, s.Description, s.Address)
		})
	}

	data, err := json.Marshal(results)
	if err != nil {
		return assistant.ToolOutcome{}, err
	}
	return assistant.ToolOutcome{Content: string(data)}, nil
}

func matches(query string, fields ...string) bool {
	if query == "" {
		return true
	}
	return lo.SomeBy(fields, func(f string) bool {
		return strings.Contains(strings.ToLower(f), query)
	})
}

type transportationArgs struct {
	Type        string `json:"type"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Departure   string `json:"departure"`
	Arrival     string `json:"arrival"`
	Notes       string `json:"notes"`
}

func (t *designerTools) addTransportation(arguments json.RawMessage) (assistant.ToolOutcome, error) {
	var args transportationArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return assistant.ToolOutcome{}, fmt.Errorf("invalid transportation arguments: %w", err)
	}
	if args.Origin == "" || args.Destination == "" {
		return assistant.ToolOutcome{}, fmt.Errorf("origin and destination are required")
	}
	departure, err := parseWhen(args.Departure)
	if err != nil {
		return assistant.ToolOutcome{}, err
	}

	record, err := t.newSegmentRecord("transportations")
	if err != nil {
		return assistant.ToolOutcome{}, err
	}
	record.Set("type", args.Type)
	record.Set("origin", args.Origin)
	record.Set("destination", args.Destination)
	record.Set("departureTime", departure)
	record.Set("notes", args.Notes)
	if args.Arrival != "" {
		arrival, err := parseWhen(args.Arrival)
		if err != nil {
			return assistant.ToolOutcome{}, err
		}
		record.Set("arrivalTime", arrival)
	}
	return t.saveSegment(record, "transportation")
}

type lodgingArgs struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	CheckIn  string `json:"checkIn"`
	CheckOut string `json:"checkOut"`
}

func (t *designerTools) addLodging(arguments json.RawMessage) (assistant.ToolOutcome, error) {
	var args lodgingArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return assistant.ToolOutcome{}, fmt.Errorf("invalid lodging arguments: %w", err)
	}
	if args.Name == "" {
		return assistant.ToolOutcome{}, fmt.Errorf("lodging name is required")
	}
	checkIn, err := parseWhen(args.CheckIn)
	if err != nil {
		return assistant.ToolOutcome{}, err
	}
	checkOut, err := parseWhen(args.CheckOut)
	if err != nil {
		return assistant.ToolOutcome{}, err
	}

	record, err := t.newSegmentRecord("lodgings")
	if err != nil {
		return assistant.ToolOutcome{}, err
	}
	record.Set("type", args.Type)
	record.Set("name", args.Name)
	record.Set("address", args.Address)
	record.Set("startDate", checkIn)
	record.Set("endDate", checkOut)
	return t.saveSegment(record, "lodging")
}

type activityArgs struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Address     string `json:"address"`
	Start       string `json:"start"`
	End         string `json:"end"`
}

func (t *designerTools) addActivity(arguments json.RawMessage) (assistant.ToolOutcome, error) {
	var args activityArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return assistant.ToolOutcome{}, fmt.Errorf("invalid activity arguments: %w", err)
	}
	if args.Name == "" {
		return assistant.ToolOutcome{}, fmt.Errorf("activity name is required")
	}
	start, err := parseWhen(args.Start)
	if err != nil {
		return assistant.ToolOutcome{}, err
	}

	record, err := t.newSegmentRecord("activities")
	if err != nil {
		return assistant.ToolOutcome{}, err
	}
	record.Set("name", args.Name)
	record.Set("description", args.Description)
	record.Set("address", args.Address)
	record.Set("startDate", start)
	if args.End != "" {
		end, err := parseWhen(args.End)
		if err != nil {
			return assistant.ToolOutcome{}, err
		}
		record.Set("endDate", end)
	}
	return t.saveSegment(record, "activity")
}

// updatableFields whitelists what the model may change per collection; the
// trip relation and record id stay out of reach.
var updatableFields = map[string][]string{
	"transportations": {"type", "origin", "destination", "departureTime", "arrivalTime", "notes"},
	"lodgings":        {"type", "name", "address", "startDate", "endDate", "confirmationCode"},
	"activities":      {"name", "description", "address", "startDate", "endDate"},
}

var segmentDateFields = []string{"departureTime", "arrivalTime", "startDate", "endDate"}

type updateArgs struct {
	Collection string         `json:"collection"`
	Id         string         `json:"id"`
	Fields     map[string]any `json:"fields"`
}

func (t *designerTools) updateSegment(arguments json.RawMessage) (assistant.ToolOutcome, error) {
	var args updateArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return assistant.ToolOutcome{}, fmt.Errorf("invalid update arguments: %w", err)
	}
	if _, ok := updatableFields[args.Collection]; !ok {
		return assistant.ToolOutcome{}, fmt.Errorf("unknown segment collection %q", args.Collection)
	}
	if len(args.Fields) == 0 {
		return assistant.ToolOutcome{}, fmt.Errorf("no fields to update")
	}

	record, err := t.app.FindRecordById(args.Collection, args.Id)
	if err != nil || record.GetString("trip") != t.tripID {
		return assistant.ToolOutcome{}, fmt.Errorf("segment %s not found in this trip", args.Id)
	}
	if err := applySegmentFields(record, args.Collection, args.Fields); err != nil {
		return assistant.ToolOutcome{}, err
	}
	if err := t.app.Save(record); err != nil {
		return assistant.ToolOutcome{}, fmt.Errorf("update segment: %w", err)
	}

	return assistant.ToolOutcome{
		Content:          fmt.Sprintf(`{"updated": %q}`, args.Id),
		ItineraryUpdated: true,
		SegmentsModified: 1,
	}, nil
}

// applySegmentFields validates and coerces a field update onto a segment
// record. Date fields are parsed rather than stored as raw strings.
func applySegmentFields(record *core.Record, collection string, fields map[string]any) error {
	allowed := updatableFields[collection]
	for name, value := range fields {
		if !lo.Contains(allowed, name) {
			return fmt.Errorf("field %q cannot be updated on %s", name, collection)
		}
		if lo.Contains(segmentDateFields, name) {
			raw, ok := value.(string)
			if !ok {
				return fmt.Errorf("field %q expects a date string", name)
			}
			when, err := parseWhen(raw)
			if err != nil {
				return err
			}
			record.Set(name, when)
			continue
		}
		record.Set(name, value)
	}
	return nil
}

type removeArgs struct {
	Collection string `json:"collection"`
	Id         string `json:"id"`
}

func (t *designerTools) removeSegment(arguments json.RawMessage) (assistant.ToolOutcome, error) {
	var args removeArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return assistant.ToolOutcome{}, fmt.Errorf("invalid remove arguments: %w", err)
	}
	if !lo.Contains(segmentCollections, args.Collection) {
		return assistant.ToolOutcome{}, fmt.Errorf("unknown segment collection %q", args.Collection)
	}

	record, err := t.app.FindRecordById(args.Collection, args.Id)
	if err != nil || record.GetString("trip") != t.tripID {
		return assistant.ToolOutcome{}, fmt.Errorf("segment %s not found in this trip", args.Id)
	}
	if err := t.app.Delete(record); err != nil {
		return assistant.ToolOutcome{}, fmt.Errorf("delete segment: %w", err)
	}

	return assistant.ToolOutcome{
		Content:          fmt.Sprintf(`{"removed": %q}`, args.Id),
		ItineraryUpdated: true,
		SegmentsModified: 1,
	}, nil
}

func (t *designerTools) newSegmentRecord(collection string) (*core.Record, error) {
	col, err := t.app.FindCollectionByNameOrId(collection)
	if err != nil {
		return nil, fmt.Errorf("find collection %s: %w", collection, err)
	}
	record := core.NewRecord(col)
	record.Set("trip", t.tripID)
	return record, nil
}

func (t *designerTools) saveSegment(record *core.Record, kind string) (assistant.ToolOutcome, error) {
	if err := t.app.Save(record); err != nil {
		return assistant.ToolOutcome{}, fmt.Errorf("save %s: %w", kind, err)
	}
	return assistant.ToolOutcome{
		Content:          fmt.Sprintf(`{"created": %q, "kind": %q}`, record.Id, kind),
		ItineraryUpdated: true,
		SegmentsModified: 1,
	}, nil
}

// parseWhen accepts the timestamp shapes the model tends to produce.
func parseWhen(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}
