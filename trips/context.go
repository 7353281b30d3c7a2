package trips

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	pbtypes "github.com/pocketbase/pocketbase/tools/types"
	"github.com/ringsaturn/tzf"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Context is the machine-readable snapshot of a trip handed to the
// assistant when a session is primed. It mirrors what the app itself knows
// about the trip: metadata, destinations, participants, budget and the
// three segment collections, each sorted chronologically.
type Context struct {
	Trip            TripInfo                `json:"trip"`
	Notes           string                  `json:"notes,omitempty"`
	Destinations    []Destination           `json:"destinations,omitempty"`
	Participants    []Participant           `json:"participants,omitempty"`
	Budget          *Cost                   `json:"budget,omitempty"`
	BudgetDisplay   string                  `json:"budgetDisplay,omitempty"`
	Transportations []TransportationSegment `json:"transportations,omitempty"`
	Lodgings        []LodgingSegment        `json:"lodgings,omitempty"`
	Activities      []ActivitySegment       `json:"activities,omitempty"`
	GeneratedAt     string                  `json:"generatedAt"`
}

type TripInfo struct {
	Id          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
}

type Destination struct {
	Name        string `json:"name"`
	Country     string `json:"country,omitempty"`
	State       string `json:"state,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Latitude    string `json:"latitude,omitempty"`
	Longitude   string `json:"longitude,omitempty"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
}

type Participant struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type Cost struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

type TransportationSegment struct {
	Id          string         `json:"id"`
	Type        string         `json:"type"`
	Origin      string         `json:"origin"`
	Destination string         `json:"destination"`
	Departure   string         `json:"departure"`
	Arrival     string         `json:"arrival,omitempty"`
	Cost        *Cost          `json:"cost,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Notes       string         `json:"notes,omitempty"`
}

type LodgingSegment struct {
	Id            string         `json:"id"`
	Type          string         `json:"type"`
	Name          string         `json:"name"`
	Address       string         `json:"address,omitempty"`
	CheckIn       string         `json:"checkIn"`
	CheckOut      string         `json:"checkOut"`
	Confirmation  string         `json:"confirmation,omitempty"`
	Cost          *Cost          `json:"cost,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ReservationBy string         `json:"reservationBy,omitempty"`
}

type ActivitySegment struct {
	Id          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Address     string         `json:"address,omitempty"`
	Start       string         `json:"start"`
	End         string         `json:"end,omitempty"`
	Cost        *Cost          `json:"cost,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// BuildContext assembles the full assistant context for a trip record.
func BuildContext(app core.App, trip *core.Record) (*Context, error) {
	ctx := &Context{
		Trip: TripInfo{
			Id:          trip.Id,
			Name:        trip.GetString("name"),
			Description: trip.GetString("description"),
			StartDate:   formatStamp(trip.GetDateTime("startDate")),
			EndDate:     formatStamp(trip.GetDateTime("endDate")),
		},
		Notes:        trip.GetString("notes"),
		Destinations: decodeDestinations(app, trip),
		Participants: decodeParticipants(app, trip),
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if ctx.Notes == "" {
		ctx.Notes = trip.GetString("description")
	}

	var budget Cost
	if err := trip.UnmarshalJSONField("budget", &budget); err == nil {
		if budget.Value != 0 || budget.Currency != "" {
			ctx.Budget = &budget
			ctx.BudgetDisplay = FormatCost(budget)
		}
	}

	var err error
	if ctx.Transportations, err = collectTransportations(app, trip.Id); err != nil {
		return nil, err
	}
	if ctx.Lodgings, err = collectLodgings(app, trip.Id); err != nil {
		return nil, err
	}
	if ctx.Activities, err = collectActivities(app, trip.Id); err != nil {
		return nil, err
	}
	return ctx, nil
}

// Primer renders the hidden context-turn message that seeds a new Trip
// Designer session: the serialized trip snapshot plus the current date, so
// the model can reason about "next week" and past segments.
func Primer(app core.App, trip *core.Record) (string, error) {
	ctx, err := BuildContext(app, trip)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"Current trip context (reference this when planning, do not repeat it back):\n%s\n\nToday's date is %s.",
		data, time.Now().UTC().Format("2006-01-02"),
	), nil
}

func segmentRecords(app core.App, collection, tripID, orderField string) ([]*core.Record, error) {
	records, err := app.FindAllRecords(collection, dbx.NewExp("trip = {:tripId}", dbx.Params{"tripId": tripID}))
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].GetDateTime(orderField).Time().Before(records[j].GetDateTime(orderField).Time())
	})
	return records, nil
}

func collectTransportations(app core.App, tripID string) ([]TransportationSegment, error) {
	records, err := segmentRecords(app, "transportations", tripID, "departureTime")
	if err != nil {
		return nil, err
	}
	segments := make([]TransportationSegment, 0, len(records))
	for _, record := range records {
		seg := TransportationSegment{
			Id:          record.Id,
			Type:        record.GetString("type"),
			Origin:      record.GetString("origin"),
			Destination: record.GetString("destination"),
			Departure:   formatStamp(record.GetDateTime("departureTime")),
			Arrival:     formatStamp(record.GetDateTime("arrivalTime")),
			Notes:       record.GetString("notes"),
		}
		seg.Cost, seg.Metadata = costAndMetadata(record)
		segments = append(segments, seg)
	}
	return segments, nil
}

func collectLodgings(app core.App, tripID string) ([]LodgingSegment, error) {
	records, err := segmentRecords(app, "lodgings", tripID, "startDate")
	if err != nil {
		return nil, err
	}
	segments := make([]LodgingSegment, 0, len(records))
	for _, record := range records {
		seg := LodgingSegment{
			Id:            record.Id,
			Type:          record.GetString("type"),
			Name:          record.GetString("name"),
			Address:       record.GetString("address"),
			CheckIn:       formatStamp(record.GetDateTime("startDate")),
			CheckOut:      formatStamp(record.GetDateTime("endDate")),
			Confirmation:  record.GetString("confirmationCode"),
			ReservationBy: record.GetString("reservationName"),
		}
		seg.Cost, seg.Metadata = costAndMetadata(record)
		segments = append(segments, seg)
	}
	return segments, nil
}

func collectActivities(app core.App, tripID string) ([]ActivitySegment, error) {
	records, err := segmentRecords(app, "activities", tripID, "startDate")
	if err != nil {
		return nil, err
	}
	segments := make([]ActivitySegment, 0, len(records))
	for _, record := range records {
		seg := ActivitySegment{
			Id:          record.Id,
			Name:        record.GetString("name"),
			Description: record.GetString("description"),
			Address:     record.GetString("address"),
			Start:       formatStamp(record.GetDateTime("startDate")),
			End:         formatStamp(record.GetDateTime("endDate")),
		}
		seg.Cost, seg.Metadata = costAndMetadata(record)
		segments = append(segments, seg)
	}
	return segments, nil
}

func costAndMetadata(record *core.Record) (*Cost, map[string]any) {
	var cost Cost
	var metadata map[string]any
	_ = record.UnmarshalJSONField("cost", &cost)
	_ = record.UnmarshalJSONField("metadata", &metadata)

	var costPtr *Cost
	if cost.Value != 0 || cost.Currency != "" {
		costPtr = &cost
	}
	if len(metadata) == 0 {
		metadata = nil
	}
	return costPtr, metadata
}

func decodeDestinations(app core.App, trip *core.Record) []Destination {
	raw := decodeJSONList(app, trip, "destinations")
	results := make([]Destination, 0, len(raw))
	for _, d := range raw {
		dest := Destination{
			Name:        stringValue(d["name"]),
			Country:     stringValue(d["countryName"]),
			State:       stringValue(d["stateName"]),
			Timezone:    stringValue(d["timezone"]),
			Latitude:    stringValue(d["latitude"]),
			Longitude:   stringValue(d["longitude"]),
			Category:    stringValue(d["category"]),
			Description: stringValue(d["description"]),
		}
		if dest.Timezone == "" {
			dest.Timezone = inferTimezone(dest.Latitude, dest.Longitude)
		}
		results = append(results, dest)
	}
	return results
}

func decodeParticipants(app core.App, trip *core.Record) []Participant {
	raw := decodeJSONList(app, trip, "participants")
	results := make([]Participant, 0, len(raw))
	for _, p := range raw {
		results = append(results, Participant{
			Name:  stringValue(p["name"]),
			Email: stringValue(p["email"]),
		})
	}
	return results
}

func decodeJSONList(app core.App, trip *core.Record, field string) []map[string]any {
	data := trip.GetString(field)
	if strings.TrimSpace(data) == "" {
		return nil
	}
	var raw []map[string]any
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		app.Logger().Warn("unable to parse trip field", "field", field, "error", err, "tripId", trip.Id)
		return nil
	}
	return raw
}

var (
	tzFinder     tzf.F
	tzFinderOnce sync.Once
)

// inferTimezone resolves an IANA timezone name from stored coordinates.
// The finder's polygon data is loaded once per process.
func inferTimezone(lat, lon string) string {
	latV, latErr := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	lonV, lonErr := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if latErr != nil || lonErr != nil {
		return ""
	}
	tzFinderOnce.Do(func() {
		tzFinder, _ = tzf.NewDefaultFinder()
	})
	if tzFinder == nil {
		return ""
	}
	return tzFinder.GetTimezoneName(lonV, latV)
}

var costPrinter = message.NewPrinter(language.English)

// FormatCost renders a cost for display, e.g. "1,250.00 USD".
func FormatCost(c Cost) string {
	amount := costPrinter.Sprint(number.Decimal(c.Value, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
	if c.Currency == "" {
		return amount
	}
	return amount + " " + c.Currency
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func formatStamp(dt pbtypes.DateTime) string {
	if dt.IsZero() {
		return ""
	}
	return dt.Time().UTC().Format(time.RFC3339)
}
