package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icloudsyncd/internal/model"
)

func TestNormalize_LocalOnlyAppointmentDerivesUTC(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	p := New(Options{SourceLoc: loc, TargetLoc: loc})
	a := model.Appointment{
		GlobalID:   "g1",
		Subject:    "Lunch",
		StartLocal: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		EndLocal:   time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
		HasLocal:   true,
	}

	evs, err := p.Normalize("ACME", a)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.False(t, evs[0].IsAllDay)
	assert.True(t, evs[0].EndUTC.After(evs[0].StartUTC))
}

func TestNormalize_UTCOnlyAppointmentDerivesLocal(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	p := New(Options{SourceLoc: loc, TargetLoc: loc})
	a := model.Appointment{
		GlobalID: "g2",
		StartUTC: time.Date(2025, 6, 1, 16, 0, 0, 0, time.UTC),
		EndUTC:   time.Date(2025, 6, 1, 17, 0, 0, 0, time.UTC),
		HasUTC:   true,
	}

	evs, err := p.Normalize("ACME", a)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, 12, evs[0].StartLocal.Hour()) // 16:00 UTC -> noon EDT
}

func TestNormalize_MissingBothTimesIsError(t *testing.T) {
	p := New(Options{})
	a := model.Appointment{GlobalID: "g3"}
	_, err := p.Normalize("ACME", a)
	assert.Error(t, err)
}

func TestNormalize_EndNotAfterStartIsError(t *testing.T) {
	p := New(Options{})
	a := model.Appointment{
		GlobalID:   "g4",
		StartLocal: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		EndLocal:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		HasLocal:   true,
	}
	_, err := p.Normalize("ACME", a)
	assert.Error(t, err)
}

func TestNormalize_AllDayFlagHonored(t *testing.T) {
	p := New(Options{})
	a := model.Appointment{
		GlobalID:     "g5",
		StartLocal:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		EndLocal:     time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		HasLocal:     true,
		IsAllDayFlag: true,
	}
	evs, err := p.Normalize("ACME", a)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.True(t, evs[0].IsAllDay)
}

func TestNormalize_MidnightToMidnightInferredAllDayWithoutFlag(t *testing.T) {
	p := New(Options{})
	a := model.Appointment{
		GlobalID:   "g6",
		StartLocal: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		EndLocal:   time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		HasLocal:   true,
	}
	evs, err := p.Normalize("ACME", a)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.True(t, evs[0].IsAllDay)
}

func TestNormalize_ShortMidnightSpanIsNotAllDay(t *testing.T) {
	p := New(Options{})
	a := model.Appointment{
		GlobalID:   "g7",
		StartLocal: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		EndLocal:   time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC),
		HasLocal:   true,
	}
	evs, err := p.Normalize("ACME", a)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.False(t, evs[0].IsAllDay)
}

func TestNormalize_MultiDayAllDayChunkedPerDay(t *testing.T) {
	p := New(Options{})
	a := model.Appointment{
		GlobalID:     "g8",
		Subject:      "Conference",
		StartLocal:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		EndLocal:     time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC),
		HasLocal:     true,
		IsAllDayFlag: true,
	}
	evs, err := p.Normalize("ACME", a)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	for _, ev := range evs {
		assert.True(t, ev.IsAllDay)
		assert.Equal(t, 24*time.Hour, ev.EndLocal.Sub(ev.StartLocal))
	}
}

func TestNormalize_DuplicateSignatureDroppedWithinBatch(t *testing.T) {
	p := New(Options{})
	a := model.Appointment{
		GlobalID:   "g9",
		StartLocal: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		EndLocal:   time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
		HasLocal:   true,
	}

	first, err := p.Normalize("ACME", a)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := p.Normalize("ACME", a)
	require.NoError(t, err)
	assert.Len(t, second, 0, "duplicate signature suppressed within the same cycle")
}

func TestNormalize_LocalUTCMismatchBeyondToleranceUsesUTCDerived(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	p := New(Options{SourceLoc: loc, TargetLoc: loc, Tolerance: time.Minute})
	startUTC := time.Date(2025, 6, 1, 16, 0, 0, 0, time.UTC)
	a := model.Appointment{
		GlobalID:   "g10",
		StartLocal: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC), // off by three hours vs. derived 12:00
		EndLocal:   time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		StartUTC:   startUTC,
		EndUTC:     startUTC.Add(time.Hour),
		HasLocal:   true,
		HasUTC:     true,
	}

	evs, err := p.Normalize("ACME", a)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, 12, evs[0].StartLocal.Hour())
}
