// Package materialize implements the "C4/C5 materialize the desired set"
// step of the supervisor's per-cycle control flow (spec §2): it expands
// each recurring series master the bridge handed back (C4, internal/recur)
// into concrete occurrences, runs every occurrence and every non-recurring
// appointment through the normalizer (C5, internal/normalize), and keys
// the result by managed UID (C2, internal/uidkey) to produce the
// model.DesiredSet the reconciler consumes.
package materialize

import (
	"time"

	"icloudsyncd/internal/logging"
	"icloudsyncd/internal/model"
	"icloudsyncd/internal/normalize"
	"icloudsyncd/internal/recur"
	"icloudsyncd/internal/uidkey"
)

// Materialize builds one cycle's desired set from the raw appointments
// FetchAppointments returned. from/to bound recurrence expansion (spec
// §4.4): they should be the plain sync window, not the wider window used
// to fetch candidate masters/singles, so occurrences outside the
// configured sync window never reach the destination.
func Materialize(sourceID string, appointments []model.Appointment, from, to time.Time, opts normalize.Options) model.DesiredSet {
	pipeline := normalize.New(opts)
	events := make(map[string]model.Event)

	for _, a := range appointments {
		var raw []model.Appointment
		if a.Series != nil {
			raw = expandSeries(a, from, to, opts.SourceLoc)
		} else {
			raw = []model.Appointment{a}
		}

		for _, r := range raw {
			evs, err := pipeline.Normalize(sourceID, r)
			if err != nil {
				logging.Warn("materialize: dropping appointment", "global_id", r.GlobalID, "err", err)
				continue
			}
			for _, ev := range evs {
				uid := uidkey.Build(sourceID, ev.GlobalID, ev.StartUTC)
				events[uid] = ev
			}
		}
	}

	state := model.DesiredEmpty
	if len(events) > 0 {
		state = model.DesiredPopulated
	}
	return model.DesiredSet{State: state, Events: events}
}

// expandSeries runs a series master through C4 and turns each resulting
// occurrence back into a model.Appointment so it can flow through the same
// normalize.Pipeline as a single appointment.
func expandSeries(a model.Appointment, from, to time.Time, loc *time.Location) []model.Appointment {
	if loc == nil {
		loc = time.Local
	}

	occs, err := recur.Expand(*a.Series, from, to, loc)
	if err != nil {
		logging.Warn("materialize: recurrence expansion failed", "global_id", a.GlobalID, "err", err)
		return nil
	}

	out := make([]model.Appointment, 0, len(occs))
	for _, occ := range occs {
		out = append(out, model.Appointment{
			GlobalID:                occ.GlobalID,
			Subject:                 occ.Subject,
			Body:                    occ.Body,
			Location:                occ.Location,
			StartLocal:              occ.StartLocal,
			EndLocal:                occ.EndLocal,
			HasLocal:                true,
			IsAllDayFlag:            occ.IsAllDay,
			Categories:              a.Categories,
			IsPrivate:               a.IsPrivate,
			ReminderMinutesOverride: a.ReminderMinutesOverride,
		})
	}
	return out
}
