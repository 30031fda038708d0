// Package model holds the data shapes shared across the sync pipeline:
// raw appointments coming off the source bridge, materialized events ready
// for upsert, and the destination snapshot they are reconciled against.
package model

import (
	"time"

	"icloudsyncd/internal/recur"
)

// Appointment is the raw, not-yet-normalized shape of a single calendar
// item: a single appointment or series master handed back by the
// source-host bridge, or a post-expansion occurrence that
// internal/materialize builds from a master's series.
type Appointment struct {
	GlobalID string // stable identifier of the originating appointment/series
	Subject  string
	Body     string
	Location string

	StartLocal time.Time // source-zone wall clock, zero Location
	EndLocal   time.Time
	StartUTC   time.Time
	EndUTC     time.Time
	HasLocal   bool
	HasUTC     bool

	IsAllDayFlag bool // explicit flag from the source, see normalize heuristic
	Cancelled    bool

	Categories []string
	IsPrivate  bool

	ReminderMinutesOverride *int

	// OriginalDate is set for exception occurrences: the date (in source
	// local time) of the instance this appointment replaces or removes.
	OriginalDate *time.Time

	// Series is non-nil when the source-host bridge classified this
	// appointment as a recurring series master (spec §4.3/§4.4). StartLocal/
	// EndLocal/HasLocal on the master itself are the series' own first
	// occurrence, used as one of C4's base-duration timing sources; the
	// materialization pipeline expands Series via internal/recur instead of
	// normalizing the master directly.
	Series *recur.SeriesDescriptor
}

// Event is an atomic, post-normalization event ready for UID assignment and
// encoding. Invariant: EndUTC.After(StartUTC).
type Event struct {
	SourceID string // instance tag (config SourceId), may be empty
	GlobalID string // originating appointment/series identifier

	Subject  string
	Body     string
	Location string

	StartLocal time.Time
	EndLocal   time.Time
	StartUTC   time.Time
	EndUTC     time.Time

	IsAllDay bool

	Categories []string
	IsPrivate  bool

	ReminderMinutesOverride *int
}

// Signature returns the dedup key from spec §4.5: (global_id, start_utc, end_utc).
func (e Event) Signature() string {
	return e.GlobalID + "|" + e.StartUTC.UTC().Format(time.RFC3339) + "|" + e.EndUTC.UTC().Format(time.RFC3339)
}

// DesiredState distinguishes "the source produced zero appointments" from
// "the source could not be reached at all" so the reconciler never treats a
// HostUnavailable cycle as license to reap every managed destination entry.
type DesiredState int

const (
	// DesiredNoData means the source bridge failed; the desired set carries
	// no information and must not drive any delete.
	DesiredNoData DesiredState = iota
	// DesiredEmpty means the source was reached and genuinely has zero
	// appointments in the sync window.
	DesiredEmpty
	// DesiredPopulated means the desired set contains events.
	DesiredPopulated
)

// DesiredSet is the materialized output of C4/C5 for one cycle: a managed
// UID -> Event mapping, tagged with its DesiredState.
type DesiredSet struct {
	State  DesiredState
	Events map[string]Event // managed UID -> Event
}

// NoData reports whether this cycle's desired set must not be used to drive
// stale-reap deletes.
func (d DesiredSet) NoData() bool {
	return d.State == DesiredNoData
}

// DestinationEntry is one row of the CalDAV PROPFIND enumeration: a managed
// (or foreign) UID paired with its opaque etag.
type DestinationEntry struct {
	UID  string
	ETag string // carried, not yet used for conditional writes (see spec §9)
}

// DestinationSnapshot maps UID -> etag as returned by C7's Enumerate.
type DestinationSnapshot map[string]string
