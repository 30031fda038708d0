//go:build windows

package outlookbridge

import (
	"errors"
	"time"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"

	"icloudsyncd/internal/logging"
	"icloudsyncd/internal/model"
	"icloudsyncd/internal/recur"
)

// oleHost is the real comHost, driving the automation interface over COM.
// Handles are released in reverse acquisition order in Release, and release
// failures are logged, never raised, per spec §4.3's resource discipline.
type oleHost struct {
	app       *ole.IDispatch
	namespace *ole.IDispatch
	folder    *ole.IDispatch
	initDone  bool
}

func newPlatformHost() comHost {
	return &oleHost{}
}

func (h *oleHost) CreateInstance() error {
	if !h.initDone {
		if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
			return err
		}
		h.initDone = true
	}

	unknown, err := oleutil.CreateObject("Outlook.Application")
	if err != nil {
		return err
	}
	app, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return err
	}
	h.app = app

	nsRaw, err := oleutil.CallMethod(h.app, "GetNamespace", "MAPI")
	if err != nil {
		h.releaseApp()
		return err
	}
	h.namespace = nsRaw.ToIDispatch()

	folderRaw, err := oleutil.CallMethod(h.namespace, "GetDefaultFolder", 9) // olFolderCalendar
	if err != nil {
		h.releaseNamespace()
		h.releaseApp()
		return err
	}
	h.folder = folderRaw.ToIDispatch()

	return nil
}

// FetchAppointments deliberately does NOT set IncludeRecurrences on the
// Items collection: letting Outlook itself expand recurring series would
// bypass C4 (internal/recur) entirely, along with spec §4.4's exception/
// override handling. Instead it runs two Restrict passes — one over
// non-recurring singles bounded to window, one over every recurring series
// master regardless of date — and attaches each master's recurrence
// pattern so the materialization pipeline can expand it itself.
func (h *oleHost) FetchAppointments(window Window) ([]model.Appointment, error) {
	if h.folder == nil {
		return nil, errors.New("outlookbridge: folder not attached")
	}

	itemsRaw, err := oleutil.GetProperty(h.folder, "Items")
	if err != nil {
		return nil, err
	}
	items := itemsRaw.ToIDispatch()
	defer items.Release()

	if _, err := oleutil.CallMethod(items, "Sort", "[Start]"); err != nil {
		return nil, err
	}

	singles, err := fetchSingles(items, window)
	if err != nil {
		return nil, err
	}

	masters, err := fetchMasters(items)
	if err != nil {
		logging.Warn("outlookbridge: failed to enumerate recurring masters", "err", err)
		masters = nil
	}

	return append(singles, masters...), nil
}

// fetchSingles restricts to non-recurring items overlapping window.
func fetchSingles(items *ole.IDispatch, window Window) ([]model.Appointment, error) {
	filter := "([Start] <= '" + window.To.Format("01/02/2006 15:04") +
		"' AND [End] >= '" + window.From.Format("01/02/2006 15:04") + "') AND [IsRecurring] = False"
	restrictedRaw, err := oleutil.CallMethod(items, "Restrict", filter)
	if err != nil {
		return nil, err
	}
	restricted := restrictedRaw.ToIDispatch()
	defer restricted.Release()

	return collectAppointments(restricted, readAppointment)
}

// fetchMasters restricts to every recurring series master, unbounded by
// date: a master's own Start/End is only its first occurrence, which can
// sit arbitrarily far outside window for a long-running or NoEndDate
// series, so C4's [from, to] enumeration is what actually bounds the
// result — not this query.
func fetchMasters(items *ole.IDispatch) ([]model.Appointment, error) {
	restrictedRaw, err := oleutil.CallMethod(items, "Restrict", "[IsRecurring] = True")
	if err != nil {
		return nil, err
	}
	restricted := restrictedRaw.ToIDispatch()
	defer restricted.Release()

	return collectAppointments(restricted, func(item *ole.IDispatch) model.Appointment {
		appt := readAppointment(item)
		series, err := extractSeries(item, appt)
		if err != nil {
			logging.Warn("outlookbridge: failed to read recurrence pattern", "global_id", appt.GlobalID, "err", err)
			return appt
		}
		appt.Series = series
		return appt
	})
}

func collectAppointments(restricted *ole.IDispatch, read func(*ole.IDispatch) model.Appointment) ([]model.Appointment, error) {
	countRaw, err := oleutil.GetProperty(restricted, "Count")
	if err != nil {
		return nil, err
	}
	count := int(int32ValueOf(countRaw))

	appts := make([]model.Appointment, 0, count)
	for i := 1; i <= count; i++ {
		itemRaw, err := oleutil.CallMethod(restricted, "Item", i)
		if err != nil {
			continue
		}
		item := itemRaw.ToIDispatch()
		appts = append(appts, read(item))
		item.Release()
	}

	return appts, nil
}

// extractSeries reads a master item's RecurrencePattern into a
// recur.SeriesDescriptor, including its Exceptions collection (spec §4.4).
func extractSeries(item *ole.IDispatch, base model.Appointment) (*recur.SeriesDescriptor, error) {
	patRaw, err := oleutil.CallMethod(item, "GetRecurrencePattern")
	if err != nil {
		return nil, err
	}
	pat := patRaw.ToIDispatch()
	defer pat.Release()

	desc := &recur.SeriesDescriptor{
		GlobalID: base.GlobalID,
		IsAllDay: base.IsAllDayFlag,
		Subject:  base.Subject,
		Body:     base.Body,
		Location: base.Location,
	}

	if v, err := oleutil.GetProperty(pat, "RecurrenceType"); err == nil {
		desc.Frequency = frequencyFromOutlook(int32ValueOf(v))
	}
	if v, err := oleutil.GetProperty(pat, "Interval"); err == nil {
		desc.Interval = int(int32ValueOf(v))
	}
	if v, err := oleutil.GetProperty(pat, "DayOfWeekMask"); err == nil {
		// Outlook's olDaysOfWeek bitmask (Sunday=1 .. Saturday=64) lines up
		// bit-for-bit with recur's bit0=Sunday..bit6=Saturday mask.
		desc.DayOfWeek = int(int32ValueOf(v))
	}
	if v, err := oleutil.GetProperty(pat, "DayOfMonth"); err == nil {
		desc.DayOfMonth = int(int32ValueOf(v))
	}
	if v, err := oleutil.GetProperty(pat, "MonthOfYear"); err == nil {
		desc.MonthOfYear = int(int32ValueOf(v))
	}
	if v, err := oleutil.GetProperty(pat, "Instance"); err == nil {
		desc.NthInstance = int(int32ValueOf(v))
	}

	desc.Termination = terminationFromPattern(pat)

	if patternStart, err := timeProperty(pat, "PatternStartDate"); err == nil {
		startTime, startErr := timeProperty(pat, "StartTime")
		endTime, endErr := timeProperty(pat, "EndTime")
		if startErr == nil && endErr == nil {
			ps := combineDateAndTime(patternStart, startTime)
			pe := combineDateAndTime(patternStart, endTime)
			desc.PatternStartLocal, desc.PatternEndLocal = &ps, &pe
		}
	}

	if !base.StartLocal.IsZero() && !base.EndLocal.IsZero() {
		start, end := base.StartLocal, base.EndLocal
		desc.MasterStartLocal, desc.MasterEndLocal = &start, &end
	}

	exceptions, err := extractExceptions(pat)
	if err != nil {
		logging.Warn("outlookbridge: failed to read series exceptions", "global_id", base.GlobalID, "err", err)
	} else {
		desc.Exceptions = exceptions
	}

	return desc, nil
}

func terminationFromPattern(pat *ole.IDispatch) recur.Termination {
	noEnd := true
	if v, err := oleutil.GetProperty(pat, "NoEndDate"); err == nil {
		noEnd = v.Value() == true
	}
	if !noEnd {
		if end, err := timeProperty(pat, "PatternEndDate"); err == nil {
			return recur.Termination{Until: &end}
		}
	}
	if v, err := oleutil.GetProperty(pat, "Occurrences"); err == nil {
		if n := int(int32ValueOf(v)); n > 0 {
			return recur.Termination{Count: n}
		}
	}
	return recur.Termination{Never: true}
}

// extractExceptions reads a RecurrencePattern's Exceptions collection: each
// entry carries the original date it replaces/removes and, unless deleted,
// the overriding AppointmentItem's own fields (spec §4.4 step 4).
func extractExceptions(pat *ole.IDispatch) ([]recur.Exception, error) {
	excRaw, err := oleutil.GetProperty(pat, "Exceptions")
	if err != nil {
		return nil, err
	}
	excColl := excRaw.ToIDispatch()
	defer excColl.Release()

	countRaw, err := oleutil.GetProperty(excColl, "Count")
	if err != nil {
		return nil, err
	}
	count := int(int32ValueOf(countRaw))

	out := make([]recur.Exception, 0, count)
	for i := 1; i <= count; i++ {
		itemRaw, err := oleutil.CallMethod(excColl, "Item", i)
		if err != nil {
			continue
		}
		exc := itemRaw.ToIDispatch()

		originalDate, _ := timeProperty(exc, "OriginalDate")
		ex := recur.Exception{OriginalDate: originalDate}

		deleted := false
		if v, err := oleutil.GetProperty(exc, "Deleted"); err == nil {
			deleted = v.Value() == true
		}
		if !deleted {
			if apptRaw, err := oleutil.GetProperty(exc, "AppointmentItem"); err == nil {
				apptItem := apptRaw.ToIDispatch()
				ex.Override = overrideFromItem(apptItem)
				apptItem.Release()
			}
		}

		out = append(out, ex)
		exc.Release()
	}
	return out, nil
}

func overrideFromItem(item *ole.IDispatch) *recur.OverrideInstance {
	o := &recur.OverrideInstance{}
	if t, err := timeProperty(item, "Start"); err == nil {
		o.StartLocal = t
	}
	if t, err := timeProperty(item, "End"); err == nil {
		o.EndLocal = t
	}
	if v, err := oleutil.GetProperty(item, "AllDayEvent"); err == nil {
		o.IsAllDay = v.Value() == true
	}
	if v, err := oleutil.GetProperty(item, "Subject"); err == nil {
		s := v.ToString()
		o.Subject = &s
	}
	if v, err := oleutil.GetProperty(item, "Body"); err == nil {
		s := v.ToString()
		o.Body = &s
	}
	if v, err := oleutil.GetProperty(item, "Location"); err == nil {
		s := v.ToString()
		o.Location = &s
	}
	return o
}

func frequencyFromOutlook(recurrenceType int32) recur.Frequency {
	switch recurrenceType {
	case 0:
		return recur.FreqDaily
	case 1:
		return recur.FreqWeekly
	case 2:
		return recur.FreqMonthly
	case 3:
		return recur.FreqMonthlyNth
	case 5:
		return recur.FreqYearly
	case 6:
		return recur.FreqYearlyNth
	default:
		return recur.Frequency(-1) // unsupported: buildROption rejects it, logged and skipped per spec §4.4 step 1
	}
}

func timeProperty(obj *ole.IDispatch, name string) (time.Time, error) {
	v, err := oleutil.GetProperty(obj, name)
	if err != nil {
		return time.Time{}, err
	}
	t, ok := v.Value().(time.Time)
	if !ok {
		return time.Time{}, errors.New("outlookbridge: property " + name + " is not a time")
	}
	return t, nil
}

func combineDateAndTime(date, clock time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0, date.Location())
}

func int32ValueOf(v *ole.VARIANT) int32 {
	switch n := v.Value().(type) {
	case int32:
		return n
	case int64:
		return int32(n)
	case int:
		return int32(n)
	default:
		return 0
	}
}

func readAppointment(item *ole.IDispatch) model.Appointment {
	a := model.Appointment{}

	if v, err := oleutil.GetProperty(item, "GlobalAppointmentID"); err == nil {
		a.GlobalID = v.ToString()
	}
	if v, err := oleutil.GetProperty(item, "Subject"); err == nil {
		a.Subject = v.ToString()
	}
	if v, err := oleutil.GetProperty(item, "Body"); err == nil {
		a.Body = v.ToString()
	}
	if v, err := oleutil.GetProperty(item, "Location"); err == nil {
		a.Location = v.ToString()
	}
	if v, err := oleutil.GetProperty(item, "Start"); err == nil {
		if t, ok := v.Value().(time.Time); ok {
			a.StartLocal, a.HasLocal = t, true
		}
	}
	if v, err := oleutil.GetProperty(item, "End"); err == nil {
		if t, ok := v.Value().(time.Time); ok {
			a.EndLocal = t
		}
	}
	if v, err := oleutil.GetProperty(item, "AllDayEvent"); err == nil {
		a.IsAllDayFlag = v.Value() == true
	}
	if v, err := oleutil.GetProperty(item, "Sensitivity"); err == nil {
		if iv, ok := v.Value().(int32); ok {
			a.IsPrivate = iv == 2 // olPrivate
		}
	}
	if v, err := oleutil.GetProperty(item, "Categories"); err == nil {
		if s := v.ToString(); s != "" {
			a.Categories = splitCategories(s)
		}
	}
	reminderSet := false
	if v, err := oleutil.GetProperty(item, "ReminderSet"); err == nil {
		reminderSet = v.Value() == true
	}
	if reminderSet {
		if v, err := oleutil.GetProperty(item, "ReminderMinutesBeforeStart"); err == nil {
			if iv, ok := v.Value().(int32); ok {
				m := int(iv)
				a.ReminderMinutesOverride = &m
			}
		}
	}

	return a
}

func splitCategories(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ';' {
			if part := trimSpace(s[start:i]); part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	if part := trimSpace(s[start:]); part != "" {
		out = append(out, part)
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

func (h *oleHost) releaseApp() {
	if h.app != nil {
		h.app.Release()
		h.app = nil
	}
}

func (h *oleHost) releaseNamespace() {
	if h.namespace != nil {
		h.namespace.Release()
		h.namespace = nil
	}
}

func (h *oleHost) releaseFolder() {
	if h.folder != nil {
		h.folder.Release()
		h.folder = nil
	}
}

// Release tears down handles in reverse-acquisition order: folder,
// namespace, application, then the COM apartment itself. Never raises.
func (h *oleHost) Release() {
	h.releaseFolder()
	h.releaseNamespace()
	h.releaseApp()
	if h.initDone {
		ole.CoUninitialize()
		h.initDone = false
	}
}
