package tzresolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_IANA(t *testing.T) {
	r := NewResolver()
	loc, ok := r.Resolve("America/New_York")
	require.True(t, ok)
	assert.Equal(t, "America/New_York", loc.String())
}

func TestResolve_WindowsAlias(t *testing.T) {
	r := NewResolver()
	loc, ok := r.Resolve("Pacific Standard Time")
	require.True(t, ok)
	assert.Equal(t, "America/Los_Angeles", loc.String())
}

func TestResolve_WindowsAliasCaseInsensitive(t *testing.T) {
	r := NewResolver()
	loc, ok := r.Resolve("korea standard time")
	require.True(t, ok)
	assert.Equal(t, "Asia/Seoul", loc.String())
}

func TestResolve_Empty(t *testing.T) {
	r := NewResolver()
	loc, ok := r.Resolve("")
	assert.True(t, ok)
	assert.Equal(t, time.Local, loc)
}

func TestResolve_Unknown(t *testing.T) {
	r := NewResolver()
	loc, ok := r.Resolve("Not/A/Real/Zone")
	assert.False(t, ok)
	assert.Equal(t, time.Local, loc)
}

func TestResolve_CachesSecondLookup(t *testing.T) {
	r := NewResolver()
	loc1, _ := r.Resolve("Europe/Berlin")
	loc2, _ := r.Resolve("Europe/Berlin")
	assert.Same(t, loc1, loc2)
}

func TestToUTCAndToLocal_RoundTrip(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	local := time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC) // wall clock components only
	utc := ToUTC(local, loc)
	back := ToLocal(utc, loc)

	assert.Equal(t, local.Hour(), back.Hour())
	assert.Equal(t, local.Minute(), back.Minute())
}

func TestCheckAlignment_WithinTolerance(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	local := time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)
	utc := ToUTC(local, loc)

	assert.True(t, CheckAlignment(local, utc, loc, DefaultTolerance))
}

func TestCheckAlignment_OutsideTolerance(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	local := time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)
	utc := ToUTC(local, loc).Add(10 * time.Minute)

	assert.False(t, CheckAlignment(local, utc, loc, DefaultTolerance))
}
