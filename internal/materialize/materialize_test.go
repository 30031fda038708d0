package materialize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icloudsyncd/internal/model"
	"icloudsyncd/internal/normalize"
	"icloudsyncd/internal/recur"
)

func TestMaterialize_NonRecurringAppointmentProducesOneEvent(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	appts := []model.Appointment{
		{GlobalID: "g1", Subject: "Lunch", StartLocal: start, EndLocal: start.Add(time.Hour), HasLocal: true},
	}

	desired := Materialize("ACME", appts, start.AddDate(0, 0, -1), start.AddDate(0, 0, 1), normalize.Options{})
	require.Equal(t, model.DesiredPopulated, desired.State)
	assert.Len(t, desired.Events, 1)
}

func TestMaterialize_EmptyInputYieldsDesiredEmpty(t *testing.T) {
	desired := Materialize("ACME", nil, time.Now(), time.Now().Add(24*time.Hour), normalize.Options{})
	assert.Equal(t, model.DesiredEmpty, desired.State)
	assert.Empty(t, desired.Events)
}

func TestMaterialize_SeriesMasterExpandedIntoMultipleEvents(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	patternStart := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	patternEnd := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	appts := []model.Appointment{
		{
			GlobalID:   "series-1",
			StartLocal: patternStart,
			EndLocal:   patternEnd,
			HasLocal:   true,
			Series: &recur.SeriesDescriptor{
				Frequency:         recur.FreqDaily,
				Interval:          1,
				GlobalID:          "series-1",
				Subject:           "Standup",
				Termination:       recur.Termination{Never: true},
				PatternStartLocal: &patternStart,
				PatternEndLocal:   &patternEnd,
			},
		},
	}

	desired := Materialize("ACME", appts, from, to, normalize.Options{})
	require.Equal(t, model.DesiredPopulated, desired.State)
	assert.Len(t, desired.Events, 4)
}

func TestMaterialize_SameUIDAcrossDuplicateAppointmentsCollapses(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := model.Appointment{GlobalID: "g1", StartLocal: start, EndLocal: start.Add(time.Hour), HasLocal: true}

	desired := Materialize("ACME", []model.Appointment{a, a}, start.AddDate(0, 0, -1), start.AddDate(0, 0, 1), normalize.Options{})
	assert.Len(t, desired.Events, 1)
}
