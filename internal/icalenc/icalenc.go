// Package icalenc implements C6: encoding a single model.Event into a
// one-VEVENT iCalendar text document, with reminders when appropriate.
//
// Grounded directly on the teacher's use of github.com/arran4/golang-ical
// in internal/ics/parse.go (the same library, used in the encode direction
// instead of decode).
package icalenc

import (
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"icloudsyncd/internal/model"
	"icloudsyncd/internal/uidkey"
)

const (
	defaultFirstReminder  = "-PT10M"
	defaultSecondReminder = "-PT3M"
)

// Options controls encoding knobs sourced from configuration.
type Options struct {
	SourceID              string
	EventTag              string
	IncludeSecondReminder bool
}

// Encode builds the managed UID for ev and renders it as a single-VEVENT
// iCalendar document per spec §4.6/§6.
func Encode(ev model.Event, opts Options) (uid string, document string, err error) {
	uid = uidkey.Build(opts.SourceID, ev.GlobalID, ev.StartUTC)

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)

	vevent := cal.AddEvent(uid)
	now := time.Now().UTC()
	vevent.SetDtStampTime(now)
	vevent.SetCreatedTime(now)
	vevent.SetModifiedAt(now)

	vevent.SetSummary(summaryFor(ev.Subject, opts.EventTag))
	if ev.Body != "" {
		vevent.SetDescription(ev.Body)
	}
	if ev.Location != "" {
		vevent.SetLocation(ev.Location)
	}

	if ev.IsAllDay {
		vevent.SetAllDayStartAt(ev.StartUTC)
		vevent.SetAllDayEndAt(ev.EndUTC)
	} else {
		vevent.SetStartAt(ev.StartUTC)
		vevent.SetEndAt(ev.EndUTC)
		addAlarms(vevent, ev, opts)
	}

	if ev.IsPrivate {
		vevent.AddProperty(ical.ComponentProperty("CLASS"), "PRIVATE")
	}
	if len(ev.Categories) > 0 {
		vevent.AddProperty(ical.ComponentPropertyCategories, strings.Join(ev.Categories, ","))
	}

	return uid, cal.Serialize(), nil
}

func summaryFor(subject, tag string) string {
	if subject == "" {
		subject = "No Subject"
	}
	if tag != "" {
		return "[" + tag + "] " + subject
	}
	return subject
}

// addAlarms attaches the two display alarms from spec §4.6, the second
// gated on IncludeSecondReminder. An event-level ReminderMinutesOverride
// replaces the first alarm's lead time only.
func addAlarms(vevent *ical.VEvent, ev model.Event, opts Options) {
	first := defaultFirstReminder
	second := defaultSecondReminder
	includeSecond := opts.IncludeSecondReminder

	if ev.ReminderMinutesOverride != nil {
		first = "-PT" + strconv.Itoa(*ev.ReminderMinutesOverride) + "M"
	}

	alarm1 := vevent.AddAlarm()
	alarm1.SetAction(ical.ActionDisplay)
	alarm1.SetTrigger(first)
	alarm1.SetDescription("Reminder")

	if includeSecond {
		alarm2 := vevent.AddAlarm()
		alarm2.SetAction(ical.ActionDisplay)
		alarm2.SetTrigger(second)
		alarm2.SetDescription("Reminder")
	}
}
