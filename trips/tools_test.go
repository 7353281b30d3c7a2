package trips

import (
	"testing"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transportationRecord() *core.Record {
	col := core.NewBaseCollection("transportations")
	col.Fields.Add(
		&core.TextField{Name: "trip"},
		&core.TextField{Name: "type"},
		&core.TextField{Name: "origin"},
		&core.TextField{Name: "destination"},
		&core.TextField{Name: "notes"},
		&core.DateField{Name: "departureTime"},
		&core.DateField{Name: "arrivalTime"},
	)
	return core.NewRecord(col)
}

func TestApplySegmentFields(t *testing.T) {
	record := transportationRecord()

	err := applySegmentFields(record, "transportations", map[string]any{
		"origin":        "LIS",
		"destination":   "FCO",
		"departureTime": "2026-04-10T08:30:00Z",
	})
	require.NoError(t, err)

	assert.Equal(t, "LIS", record.GetString("origin"))
	assert.Equal(t, "FCO", record.GetString("destination"))
	assert.Equal(t,
		time.Date(2026, 4, 10, 8, 30, 0, 0, time.UTC),
		record.GetDateTime("departureTime").Time().UTC())
}

func TestApplySegmentFieldsAcceptsDateOnly(t *testing.T) {
	record := transportationRecord()

	require.NoError(t, applySegmentFields(record, "transportations", map[string]any{
		"departureTime": "2026-04-10",
	}))
	assert.Equal(t, 2026, record.GetDateTime("departureTime").Time().Year())
}

func TestApplySegmentFieldsRejectsUnknownField(t *testing.T) {
	record := transportationRecord()

	err := applySegmentFields(record, "transportations", map[string]any{"trip": "other"})
	assert.Error(t, err, "the trip relation must stay immutable")

	err = applySegmentFields(record, "transportations", map[string]any{"price": 12})
	assert.Error(t, err)

	// Lodging fields are not transportation fields.
	err = applySegmentFields(record, "transportations", map[string]any{"checkIn": "2026-04-10"})
	assert.Error(t, err)
}

func TestApplySegmentFieldsRejectsBadDates(t *testing.T) {
	record := transportationRecord()

	assert.Error(t, applySegmentFields(record, "transportations", map[string]any{
		"departureTime": "next tuesday",
	}))
	assert.Error(t, applySegmentFields(record, "transportations", map[string]any{
		"departureTime": 20260410,
	}))
}

func TestParseWhen(t *testing.T) {
	for _, value := range []string{
		"2026-04-10T08:30:00Z",
		"2026-04-10T08:30",
		"2026-04-10 08:30",
		"2026-04-10",
	} {
		when, err := parseWhen(value)
		require.NoError(t, err, value)
		assert.Equal(t, 2026, when.Year())
	}

	_, err := parseWhen("soon")
	assert.Error(t, err)
}
