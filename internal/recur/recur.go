// Package recur implements C4: translating a source recurrence descriptor
// into a canonical rule and enumerating concrete occurrences within a
// window, honouring series exceptions.
//
// Grounded directly on the teacher's internal/ics/expand.go, which already
// performs RRULE-based expansion, EXDATE application and RECURRENCE-ID
// override resolution with github.com/teambition/rrule-go. This package
// generalizes that same technique (rrule.Set.Between + an exception
// skip-set + override lookup by original start) from the teacher's
// ICS-sourced input to a structured SeriesDescriptor fed by the source-host
// bridge's native recurrence pattern.
package recur

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	"icloudsyncd/internal/logging"
)

// Frequency enumerates the recurrence frequencies spec §4.4 names.
type Frequency int

const (
	FreqDaily Frequency = iota
	FreqWeekly
	FreqMonthly
	FreqMonthlyNth
	FreqYearly
	FreqYearlyNth
)

// Termination describes how a series ends.
type Termination struct {
	Never bool
	Count int        // "after N"; 0 means unused
	Until *time.Time // "until date"; nil means unused
}

// Exception is one series exception: its original date, and optionally an
// overriding instance carrying patched fields.
type Exception struct {
	OriginalDate time.Time // source-local date of the replaced/removed instance
	Override     *OverrideInstance
}

// OverrideInstance carries the overriding occurrence's own fields.
type OverrideInstance struct {
	StartLocal time.Time
	EndLocal   time.Time
	IsAllDay   bool
	Subject    *string
	Body       *string
	Location   *string
}

// SeriesDescriptor is the input to Expand: the series' recurrence pattern
// plus the base timing sources needed to resolve start/end/duration.
type SeriesDescriptor struct {
	Frequency   Frequency
	Interval    int  // >=1
	DayOfWeek   int  // bitmask, bit0=Sunday..bit6=Saturday; 0 if unused
	DayOfMonth  int  // 1-31; 0 if unused
	MonthOfYear int  // 1-12; 0 if unused
	NthInstance int  // 1..5 (5 == "last"); 0 if unused
	Termination Termination
	Exceptions  []Exception

	GlobalID string
	IsAllDay bool
	Subject  string
	Body     string
	Location string

	// Timing sources, most reliable first, per spec §4.4 step 3/§9:
	// pattern start/end -> master start/end -> appointment's own start/end.
	PatternStartLocal, PatternEndLocal         *time.Time
	MasterStartLocal, MasterEndLocal           *time.Time
	AppointmentStartLocal, AppointmentEndLocal *time.Time
}

// OccurrenceInfo is a single concrete occurrence within [from, to],
// expressed in source-local time only; it carries no UTC instants (the
// normalizer derives those).
type OccurrenceInfo struct {
	GlobalID   string
	StartLocal time.Time
	EndLocal   time.Time
	IsAllDay   bool
	Subject    string
	Body       string
	Location   string
	// HasOverride is true when this occurrence came from an exception
	// override rather than the rule-driven enumeration.
	HasOverride bool
}

var fallbackDuration = 30 * time.Minute

// Expand enumerates occurrences of desc within [from, to] (source-local
// bounds, compared directly against the rule's times; loc is not
// consulted).
func Expand(desc SeriesDescriptor, from, to time.Time, loc *time.Location) ([]OccurrenceInfo, error) {
	if to.Before(from) {
		return nil, errors.New("recur: to is before from")
	}

	baseStart, _, ok := resolveBase(desc)
	if !ok {
		logging.Warn("recur: no usable base start/end, skipping series", "global_id", desc.GlobalID)
		return nil, nil
	}

	// base_duration: the first timing source, in resolveBase's order, whose
	// end follows its start.
	var duration time.Duration
	for _, p := range [][2]*time.Time{
		{desc.PatternStartLocal, desc.PatternEndLocal},
		{desc.MasterStartLocal, desc.MasterEndLocal},
		{desc.AppointmentStartLocal, desc.AppointmentEndLocal},
	} {
		if p[0] != nil && p[1] != nil && p[1].After(*p[0]) {
			duration = p[1].Sub(*p[0])
			break
		}
	}
	if duration <= 0 {
		duration = fallbackDuration
		logging.Warn("recur: non-positive base duration, falling back to 30m",
			"global_id", desc.GlobalID)
	}

	ropt, ok := buildROption(desc, baseStart)
	if !ok {
		logging.Warn("recur: unsupported frequency, skipping series",
			"global_id", desc.GlobalID, "frequency", desc.Frequency)
		return nil, nil
	}

	rule, err := rrule.NewRRule(ropt)
	if err != nil {
		logging.Error("recur: failed to build rule", err, "global_id", desc.GlobalID)
		return nil, nil
	}

	skipSet := make(map[string]bool, len(desc.Exceptions))
	var out []OccurrenceInfo

	for _, ex := range desc.Exceptions {
		skipSet[dateKey(ex.OriginalDate)] = true
		if ex.Override == nil {
			continue
		}
		if withinRange(ex.Override.StartLocal, from, to) {
			out = append(out, OccurrenceInfo{
				GlobalID:    desc.GlobalID,
				StartLocal:  ex.Override.StartLocal,
				EndLocal:    ex.Override.EndLocal,
				IsAllDay:    ex.Override.IsAllDay,
				Subject:     derefOr(ex.Override.Subject, desc.Subject),
				Body:        derefOr(ex.Override.Body, desc.Body),
				Location:    derefOr(ex.Override.Location, desc.Location),
				HasOverride: true,
			})
		}
	}

	var set rrule.Set
	set.RRule(rule)

	times := set.Between(from, to, true)
	for _, t := range times {
		if skipSet[dateKey(t)] {
			continue
		}
		out = append(out, OccurrenceInfo{
			GlobalID:   desc.GlobalID,
			StartLocal: t,
			EndLocal:   t.Add(duration),
			IsAllDay:   desc.IsAllDay,
			Subject:    desc.Subject,
			Body:       desc.Body,
			Location:   desc.Location,
		})
	}

	return out, nil
}

func resolveBase(desc SeriesDescriptor) (start, end time.Time, ok bool) {
	switch {
	case desc.PatternStartLocal != nil && desc.PatternEndLocal != nil:
		return *desc.PatternStartLocal, *desc.PatternEndLocal, true
	case desc.MasterStartLocal != nil && desc.MasterEndLocal != nil:
		return *desc.MasterStartLocal, *desc.MasterEndLocal, true
	case desc.AppointmentStartLocal != nil && desc.AppointmentEndLocal != nil:
		return *desc.AppointmentStartLocal, *desc.AppointmentEndLocal, true
	default:
		return time.Time{}, time.Time{}, false
	}
}

func buildROption(desc SeriesDescriptor, dtstart time.Time) (rrule.ROption, bool) {
	opt := rrule.ROption{
		Dtstart:  dtstart,
		Interval: desc.Interval,
	}
	if opt.Interval <= 0 {
		opt.Interval = 1
	}

	switch desc.Frequency {
	case FreqDaily:
		opt.Freq = rrule.DAILY
	case FreqWeekly:
		opt.Freq = rrule.WEEKLY
		opt.Byweekday = weekdaysFromMask(desc.DayOfWeek)
	case FreqMonthly:
		opt.Freq = rrule.MONTHLY
		if desc.DayOfMonth > 0 {
			opt.Bymonthday = []int{desc.DayOfMonth}
		}
	case FreqMonthlyNth:
		opt.Freq = rrule.MONTHLY
		opt.Byweekday = nthWeekdaysFromMask(desc.DayOfWeek, normalizeNth(desc.NthInstance))
	case FreqYearly:
		opt.Freq = rrule.YEARLY
		if desc.MonthOfYear > 0 {
			opt.Bymonth = []int{desc.MonthOfYear}
		}
		if desc.DayOfMonth > 0 {
			opt.Bymonthday = []int{desc.DayOfMonth}
		}
	case FreqYearlyNth:
		opt.Freq = rrule.YEARLY
		if desc.MonthOfYear > 0 {
			opt.Bymonth = []int{desc.MonthOfYear}
		}
		opt.Byweekday = nthWeekdaysFromMask(desc.DayOfWeek, normalizeNth(desc.NthInstance))
	default:
		return opt, false
	}

	switch {
	case desc.Termination.Until != nil:
		opt.Until = *desc.Termination.Until
	case desc.Termination.Count > 0:
		opt.Count = desc.Termination.Count
	default:
		// Never: leave Until/Count unset; caller bounds enumeration via
		// the [from, to] window passed to Set.Between.
	}

	return opt, true
}

// normalizeNth maps instance=5 to "last" (-1), per spec §4.4.
func normalizeNth(n int) int {
	if n == 5 {
		return -1
	}
	return n
}

var weekdayByBit = []rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

func weekdaysFromMask(mask int) []rrule.Weekday {
	var out []rrule.Weekday
	for i, wd := range weekdayByBit {
		if mask&(1<<uint(i)) != 0 {
			out = append(out, wd)
		}
	}
	return out
}

func nthWeekdaysFromMask(mask int, nth int) []rrule.Weekday {
	var out []rrule.Weekday
	for i, wd := range weekdayByBit {
		if mask&(1<<uint(i)) != 0 {
			out = append(out, wd.Nth(nth))
		}
	}
	return out
}

func dateKey(t time.Time) string {
	return t.Format("20060102")
}

func withinRange(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

func derefOr(s *string, def string) string {
	if s != nil {
		return *s
	}
	return def
}
