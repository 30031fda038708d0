// Package normalize implements C5: consolidating raw appointments/occurrences
// into atomic model.Event records with consistent UTC/local timestamps,
// all-day inference, per-day chunking of multi-day all-day items, and
// cross-event deduplication.
//
// Grounded on the teacher's expandSingleEvent/expandRecurringEvent all-day
// and duration handling in internal/ics/expand.go, generalized into the
// standalone normalization pipeline spec §4.5 describes.
package normalize

import (
	"time"

	"icloudsyncd/internal/logging"
	"icloudsyncd/internal/model"
	"icloudsyncd/internal/synerr"
	"icloudsyncd/internal/tzresolve"
)

// Options configures normalization.
type Options struct {
	SourceLoc *time.Location
	TargetLoc *time.Location
	Tolerance time.Duration // default tzresolve.DefaultTolerance
}

// Pipeline runs the normalize step across a batch of appointments,
// carrying a dedup seen-set across the whole batch (spec §4.5).
type Pipeline struct {
	opts Options
	seen map[string]bool
}

// New constructs a Pipeline with a fresh per-cycle dedup seen-set.
func New(opts Options) *Pipeline {
	if opts.Tolerance <= 0 {
		opts.Tolerance = tzresolve.DefaultTolerance
	}
	if opts.SourceLoc == nil {
		opts.SourceLoc = time.Local
	}
	if opts.TargetLoc == nil {
		opts.TargetLoc = opts.SourceLoc
	}
	return &Pipeline{opts: opts, seen: make(map[string]bool)}
}

// Normalize converts one raw appointment into zero or more atomic events:
// zero if it's discarded (missing times, duplicate signature), more than
// one if it's a multi-day all-day event chunked per-day.
func (p *Pipeline) Normalize(sourceID string, a model.Appointment) ([]model.Event, error) {
	startLocal, startUTC, endLocal, endUTC, err := p.resolveTimes(a)
	if err != nil {
		return nil, err
	}

	allDay := isAllDay(a, startLocal, endLocal)

	if p.opts.SourceLoc.String() == p.opts.TargetLoc.String() {
		targetLocal := tzresolve.ToLocal(startUTC, p.opts.TargetLoc)
		if !tzresolve.CheckAlignment(startLocal, startUTC, p.opts.TargetLoc, p.opts.Tolerance) {
			logging.Warn("normalize: target alignment mismatch",
				"global_id", a.GlobalID, "source_local", startLocal, "target_local", targetLocal)
		}
	}

	if allDay && endLocal.Sub(startLocal) > 24*time.Hour {
		return p.chunkAllDay(sourceID, a, startLocal, endLocal)
	}

	ev := model.Event{
		SourceID:                sourceID,
		GlobalID:                a.GlobalID,
		Subject:                 a.Subject,
		Body:                    a.Body,
		Location:                a.Location,
		StartLocal:              startLocal,
		EndLocal:                endLocal,
		StartUTC:                startUTC,
		EndUTC:                  endUTC,
		IsAllDay:                allDay,
		Categories:              a.Categories,
		IsPrivate:               a.IsPrivate,
		ReminderMinutesOverride: a.ReminderMinutesOverride,
	}

	if p.isDuplicate(ev) {
		return nil, nil
	}
	return []model.Event{ev}, nil
}

// resolveTimes implements the local/UTC reconciliation from spec §4.5.
func (p *Pipeline) resolveTimes(a model.Appointment) (startLocal, startUTC, endLocal, endUTC time.Time, err error) {
	if !a.HasLocal && !a.HasUTC {
		return time.Time{}, time.Time{}, time.Time{}, time.Time{},
			&synerr.InvariantViolation{Context: "both local and utc start/end absent for " + a.GlobalID}
	}

	switch {
	case a.HasLocal && !a.HasUTC:
		startUTC = tzresolve.ToUTC(a.StartLocal, p.opts.SourceLoc)
		endUTC = tzresolve.ToUTC(a.EndLocal, p.opts.SourceLoc)
		startLocal, endLocal = a.StartLocal, a.EndLocal
	case !a.HasLocal && a.HasUTC:
		startLocal = tzresolve.ToLocal(a.StartUTC, p.opts.SourceLoc)
		endLocal = tzresolve.ToLocal(a.EndUTC, p.opts.SourceLoc)
		startUTC, endUTC = a.StartUTC, a.EndUTC
	default:
		derivedStart := tzresolve.ToLocal(a.StartUTC, p.opts.SourceLoc)
		if !tzresolve.CheckAlignment(a.StartLocal, a.StartUTC, p.opts.SourceLoc, p.opts.Tolerance) {
			logging.Warn("normalize: local/utc mismatch beyond tolerance, using utc-derived value",
				"global_id", a.GlobalID, "local", a.StartLocal, "derived", derivedStart)
			startLocal = derivedStart
			endLocal = tzresolve.ToLocal(a.EndUTC, p.opts.SourceLoc)
		} else {
			startLocal, endLocal = a.StartLocal, a.EndLocal
		}
		startUTC, endUTC = a.StartUTC, a.EndUTC
	}

	if !endUTC.After(startUTC) {
		return time.Time{}, time.Time{}, time.Time{}, time.Time{},
			&synerr.InvariantViolation{Context: "end_utc does not follow start_utc for " + a.GlobalID}
	}

	return startLocal, startUTC, endLocal, endUTC, nil
}

// isAllDay implements the two-path heuristic from spec §4.5.
func isAllDay(a model.Appointment, startLocal, endLocal time.Time) bool {
	if a.IsAllDayFlag {
		return true
	}
	if startLocal.Hour() != 0 || startLocal.Minute() != 0 || startLocal.Second() != 0 {
		return false
	}
	span := endLocal.Sub(startLocal)
	if span < 23*time.Hour {
		return false
	}
	endIsMidnight := endLocal.Hour() == 0 && endLocal.Minute() == 0
	endIsLateEnough := endLocal.Hour() == 23 && endLocal.Minute() >= 59
	return endIsMidnight || endIsLateEnough
}

// chunkAllDay splits a multi-day all-day event into one atomic event per
// day, each keyed by its own start-of-day occurrence marker (spec §4.5).
func (p *Pipeline) chunkAllDay(sourceID string, a model.Appointment, startLocal, endLocal time.Time) ([]model.Event, error) {
	var out []model.Event

	day := time.Date(startLocal.Year(), startLocal.Month(), startLocal.Day(), 0, 0, 0, 0, startLocal.Location())
	last := time.Date(endLocal.Year(), endLocal.Month(), endLocal.Day(), 0, 0, 0, 0, endLocal.Location())

	for day.Before(last) {
		dayEnd := day.Add(24 * time.Hour)
		ev := model.Event{
			SourceID:   sourceID,
			GlobalID:   a.GlobalID,
			Subject:    a.Subject,
			Body:       a.Body,
			Location:   a.Location,
			StartLocal: day,
			EndLocal:   dayEnd,
			StartUTC:   tzresolve.ToUTC(day, p.opts.SourceLoc),
			EndUTC:     tzresolve.ToUTC(dayEnd, p.opts.SourceLoc),
			IsAllDay:   true,
			Categories: a.Categories,
			IsPrivate:  a.IsPrivate,
		}
		if !p.isDuplicate(ev) {
			out = append(out, ev)
		}
		day = dayEnd
	}

	return out, nil
}

func (p *Pipeline) isDuplicate(ev model.Event) bool {
	sig := ev.Signature()
	if p.seen[sig] {
		logging.Warn("normalize: dropping duplicate event signature",
			"global_id", ev.GlobalID, "start_utc", ev.StartUTC, "end_utc", ev.EndUTC)
		return true
	}
	p.seen[sig] = true
	return false
}
