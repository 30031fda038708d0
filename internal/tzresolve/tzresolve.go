// Package tzresolve implements C1: zone resolution, source/target
// conversion, and the tolerance-based alignment checks spec §4.5/§8 (P5)
// require. Grounded on the teacher's internal/web.resolveLocationOrLocal
// and internal/ics/expand.go's DisplayLocation handling, generalized into
// a standalone, cacheable component.
package tzresolve

import (
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"icloudsyncd/internal/logging"
)

// windowsZoneAliases maps the small set of legacy Windows display names the
// COM automation layer may hand back for a source appointment's time zone
// onto IANA equivalents. This is not exhaustive; unknown names fall back to
// time.Local with a warning, matching spec §9's "do not fail the cycle"
// guidance.
var windowsZoneAliases = map[string]string{
	"pacific standard time": "America/Los_Angeles",
	"mountain standard time": "America/Denver",
	"central standard time": "America/Chicago",
	"eastern standard time": "America/New_York",
	"gmt standard time":     "Europe/London",
	"w. europe standard time": "Europe/Berlin",
	"romance standard time":   "Europe/Paris",
	"korea standard time":     "Asia/Seoul",
	"tokyo standard time":     "Asia/Tokyo",
}

// Resolver resolves and caches time zone lookups.
type Resolver struct {
	cache *lru.Cache[string, *time.Location]
}

// NewResolver constructs a Resolver with a small bounded LRU cache, so
// repeated lookups of the same name reuse the loaded *time.Location.
func NewResolver() *Resolver {
	c, _ := lru.New[string, *time.Location](16)
	return &Resolver{cache: c}
}

// Resolve accepts an IANA zone name or a legacy Windows display name. On
// miss it logs a warning and returns time.Local with ok=false; it never
// errors, per spec §9 ("do not fail the cycle").
func (r *Resolver) Resolve(name string) (loc *time.Location, ok bool) {
	if name == "" {
		return time.Local, true
	}
	if r.cache != nil {
		if cached, found := r.cache.Get(name); found {
			return cached, true
		}
	}

	if loc, err := time.LoadLocation(name); err == nil {
		r.store(name, loc)
		return loc, true
	}

	if iana, known := windowsZoneAliases[strings.ToLower(name)]; known {
		if loc, err := time.LoadLocation(iana); err == nil {
			r.store(name, loc)
			return loc, true
		}
	}

	logging.Warn("tzresolve: unknown time zone, falling back to host local", "name", name)
	return time.Local, false
}

func (r *Resolver) store(name string, loc *time.Location) {
	if r.cache != nil {
		r.cache.Add(name, loc)
	}
}

// ToUTC converts a wall-clock time in loc to its UTC instant.
func ToUTC(local time.Time, loc *time.Location) time.Time {
	wall := time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), loc)
	return wall.UTC()
}

// ToLocal converts a UTC instant to its wall-clock representation in loc.
func ToLocal(utc time.Time, loc *time.Location) time.Time {
	return utc.In(loc)
}

// CheckAlignment implements the P5 tolerance check: |local -
// convert_utc_to_local(utc)| <= tol. The comparison takes the wall-clock
// components of local and of the utc-derived local time, rebuilds both in
// UTC, and diffs those two instants.
func CheckAlignment(local, utc time.Time, loc *time.Location, tol time.Duration) bool {
	derived := ToLocal(utc, loc)
	localWall := time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), 0, time.UTC)
	derivedWall := time.Date(derived.Year(), derived.Month(), derived.Day(),
		derived.Hour(), derived.Minute(), derived.Second(), 0, time.UTC)
	diff := localWall.Sub(derivedWall)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tol
}

// DefaultTolerance is the spec's default zone-alignment tolerance.
const DefaultTolerance = time.Minute
