// Package reconcile implements C8: stale reap (Phase A), upsert-and-verify
// (Phase B), and the tray terminal-state signal (Phase C), plus the
// destructive first-cycle and manual full-resync wipes the supervisor
// invokes around a normal cycle.
//
// Grounded on MacJediWizard/calbridgesync's SyncEngine phased-sync shape
// (a destination map keyed by identity, a stale/orphan pass before an
// upsert pass) generalized to this package's managed-UID/etag snapshot and
// the two-minute/whole-day verify tolerance spec §4.8 specifies.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"icloudsyncd/internal/caldavclient"
	"icloudsyncd/internal/icalenc"
	"icloudsyncd/internal/logging"
	"icloudsyncd/internal/model"
	"icloudsyncd/internal/synerr"
	"icloudsyncd/internal/trayui"
	"icloudsyncd/internal/uidkey"
)

const (
	timedTolerance         = 2 * time.Minute
	defaultWipeSettleDelay = 30 * time.Second
)

// Reconciler drives one cycle's worth of CalDAV operations for a single
// managed calendar collection.
type Reconciler struct {
	client       *caldavclient.Client
	calendarURL  string
	sourceID     string
	classifyOpts uidkey.ClassifyOptions
	encOpts      icalenc.Options
	tray         trayui.TrayUI

	// wipeSettleDelay is the post-first-cycle-wipe pause (spec §4.8);
	// defaultWipeSettleDelay in production, shrunk by tests.
	wipeSettleDelay time.Duration
}

// New constructs a Reconciler.
func New(client *caldavclient.Client, calendarURL, sourceID string, classifyOpts uidkey.ClassifyOptions, encOpts icalenc.Options, tray trayui.TrayUI) *Reconciler {
	return &Reconciler{
		client:          client,
		calendarURL:     calendarURL,
		sourceID:        sourceID,
		classifyOpts:    classifyOpts,
		encOpts:         encOpts,
		tray:            tray,
		wipeSettleDelay: defaultWipeSettleDelay,
	}
}

func (r *Reconciler) classify(uid string) bool {
	return uidkey.Classify(uid, r.sourceID, r.classifyOpts)
}

// Run executes one normal cycle: enumerate, Phase A, Phase B, Phase C.
// When desired carries no data (source bridge failure), Phase A is skipped
// entirely so a fetch failure can never be read as "calendar is empty".
func (r *Reconciler) Run(ctx context.Context, desired model.DesiredSet) error {
	r.tray.SetUpdating()

	current, err := r.client.Enumerate(ctx, r.calendarURL, true, r.classify)
	if err != nil {
		if synerr.IsAuth(err) {
			r.tray.ShowAuthFailureModal(err.Error())
		}
		r.tray.SetIdle()
		return err
	}

	if desired.NoData() {
		logging.Warn("reconcile: desired set carries no data, skipping stale reap this cycle")
	} else if err := r.phaseA(ctx, desired, current); err != nil {
		r.tray.SetIdle()
		return err
	}

	if err := r.phaseB(ctx, desired); err != nil {
		r.tray.SetIdle()
		return err
	}

	r.tray.SetIdle()
	return nil
}

// phaseA deletes every managed destination UID absent from desired.
func (r *Reconciler) phaseA(ctx context.Context, desired model.DesiredSet, current model.DestinationSnapshot) error {
	var stale []string
	for uid := range current {
		if _, wanted := desired.Events[uid]; !wanted {
			stale = append(stale, uid)
		}
	}

	total := len(stale)
	for i, uid := range stale {
		r.tray.SetDeleting()
		r.tray.UpdateText(fmt.Sprintf("deleting %d/%d (%d%%)", i+1, total, percent(i+1, total)))

		url := caldavclient.EventURL(r.calendarURL, uid)
		if err := r.client.Delete(ctx, url); err != nil {
			if synerr.IsAuth(err) {
				r.tray.ShowAuthFailureModal(err.Error())
				return err
			}
			logging.Warn("reconcile: stale delete failed", "uid", uid, "err", err)
		}
	}
	return nil
}

// phaseB encodes, PUTs, and verifies every desired event.
func (r *Reconciler) phaseB(ctx context.Context, desired model.DesiredSet) error {
	total := len(desired.Events)
	i := 0
	for _, ev := range desired.Events {
		i++
		r.tray.UpdateText(fmt.Sprintf("updating %d/%d (%d%%)", i, total, percent(i, total)))

		uid, ics, err := icalenc.Encode(ev, r.encOpts)
		if err != nil {
			logging.Warn("reconcile: encode failed", "global_id", ev.GlobalID, "err", err)
			continue
		}

		eventURL := caldavclient.EventURL(r.calendarURL, uid)
		if err := r.client.Upsert(ctx, eventURL, ics); err != nil {
			if synerr.IsAuth(err) {
				r.tray.ShowAuthFailureModal(err.Error())
				return err
			}
			logging.Warn("reconcile: upsert failed", "uid", uid, "err", err)
			continue
		}

		r.verify(ctx, eventURL, ev, ics)
	}
	return nil
}

// verify fetches the just-written event and compares it against ev within
// tolerance, issuing one corrective PUT and a single re-verify on mismatch.
func (r *Reconciler) verify(ctx context.Context, eventURL string, ev model.Event, wantICS string) {
	observed, err := r.client.Fetch(ctx, eventURL)
	if err != nil {
		logging.Warn("reconcile: verify fetch failed", "event_url", eventURL, "err", err)
		return
	}

	ok, obsStart, obsEnd, err := compare(observed, ev)
	if err != nil {
		logging.Warn("reconcile: verify parse failed", "event_url", eventURL, "err", err)
		return
	}
	if ok {
		return
	}

	logging.Warn("reconcile: verify mismatch, issuing corrective put",
		"event_url", eventURL, "want_start", ev.StartUTC, "observed_start", obsStart,
		"want_end", ev.EndUTC, "observed_end", obsEnd, "all_day", ev.IsAllDay)

	if err := r.client.Upsert(ctx, eventURL, wantICS); err != nil {
		logging.Warn("reconcile: corrective put failed", "event_url", eventURL, "err", err)
		return
	}

	observed2, err := r.client.Fetch(ctx, eventURL)
	if err != nil {
		logging.Warn("reconcile: re-verify fetch failed", "event_url", eventURL, "err", err)
		return
	}

	ok2, obsStart2, obsEnd2, err := compare(observed2, ev)
	if err != nil {
		logging.Warn("reconcile: re-verify parse failed", "event_url", eventURL, "err", err)
		return
	}
	if !ok2 {
		logging.Warn("reconcile: re-verify still mismatched, leaving as-is",
			"event_url", eventURL, "want_start", ev.StartUTC, "observed_start", obsStart2,
			"want_end", ev.EndUTC, "observed_end", obsEnd2)
	}
}

func compare(icsBody string, ev model.Event) (ok bool, start, end time.Time, err error) {
	cal, parseErr := ical.ParseCalendar(strings.NewReader(icsBody))
	if parseErr != nil {
		return false, time.Time{}, time.Time{}, &synerr.ParseFailure{Context: "verify ics", Cause: parseErr}
	}

	events := cal.Events()
	if len(events) == 0 {
		return false, time.Time{}, time.Time{}, &synerr.ParseFailure{Context: "verify ics", Cause: errors.New("no VEVENT in response")}
	}
	ve := events[0]

	start, startErr := ve.GetStartAt()
	if startErr != nil {
		return false, time.Time{}, time.Time{}, &synerr.ParseFailure{Context: "verify ics start", Cause: startErr}
	}
	end, endErr := ve.GetEndAt()
	if endErr != nil {
		return false, time.Time{}, time.Time{}, &synerr.ParseFailure{Context: "verify ics end", Cause: endErr}
	}

	if ev.IsAllDay {
		ok = sameDay(start, ev.StartUTC) && sameDay(end, ev.EndUTC)
	} else {
		ok = absDuration(start.Sub(ev.StartUTC)) <= timedTolerance && absDuration(end.Sub(ev.EndUTC)) <= timedTolerance
	}
	return ok, start, end, nil
}

// FirstCycleWipe enumerates managed entries only, deletes them all with
// pacing, and waits for the destination's caches to settle (spec §4.8).
func (r *Reconciler) FirstCycleWipe(ctx context.Context) error {
	return r.wipe(ctx, true)
}

// ManualFullResync enumerates every entry regardless of ownership and
// deletes them all, in preparation for a full normal cycle immediately
// after (spec §4.8).
func (r *Reconciler) ManualFullResync(ctx context.Context) error {
	return r.wipe(ctx, false)
}

func (r *Reconciler) wipe(ctx context.Context, filterManaged bool) error {
	r.tray.SetDeleting()

	var classify func(string) bool
	if filterManaged {
		classify = r.classify
	}

	current, err := r.client.Enumerate(ctx, r.calendarURL, filterManaged, classify)
	if err != nil {
		if synerr.IsAuth(err) {
			r.tray.ShowAuthFailureModal(err.Error())
		}
		r.tray.SetIdle()
		return err
	}

	total := len(current)
	i := 0
	for uid := range current {
		i++
		r.tray.UpdateText(fmt.Sprintf("wiping %d/%d (%d%%)", i, total, percent(i, total)))

		url := caldavclient.EventURL(r.calendarURL, uid)
		if err := r.client.DeletePaced(ctx, url); err != nil {
			if synerr.IsAuth(err) {
				r.tray.ShowAuthFailureModal(err.Error())
				r.tray.SetIdle()
				return err
			}
			logging.Warn("reconcile: wipe delete failed", "uid", uid, "err", err)
		}
	}

	if filterManaged {
		t := time.NewTimer(r.wipeSettleDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	r.tray.SetIdle()
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func percent(done, total int) int {
	if total == 0 {
		return 100
	}
	return done * 100 / total
}
