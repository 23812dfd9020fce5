package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"taskline/internal/clock"
	appLog "taskline/internal/log"
	"taskline/internal/model"
	"taskline/internal/recurrence"
)

const (
	defaultHorizonDays = 90
	maxExpandedEvents  = 500
)

// ParseOptions controls how VEVENTs are mapped to task templates.
type ParseOptions struct {
	// Location is the wall-clock zone tasks are created in. If nil,
	// time.Local is used.
	Location *time.Location

	// Type is assigned to every imported task. Empty means personal.
	Type model.TaskType

	// HorizonDays bounds open-ended rules (no UNTIL, no COUNT). If zero,
	// defaultHorizonDays is used.
	HorizonDays int
}

// Item is one task template read from a feed, keyed by the VEVENT UID it
// came from. Events whose rule cannot be represented as a date range plus
// weekdays are expanded into one Item per occurrence, with the occurrence
// date appended to the UID.
type Item struct {
	UID      string
	Template model.TaskTemplate
}

// ParseTemplates parses an ICS payload into task templates.
//
//   - DTSTART/DTEND become the date and daily start/end time. An event that
//     runs past midnight, and any all-day event, ends at 24:00.
//   - RRULE FREQ=DAILY or FREQ=WEEKLY with INTERVAL=1 maps onto the date
//     range + weekday filter. UNTIL or COUNT bound the range; open rules stop
//     at the horizon.
//   - Any other RRULE is expanded with rrule-go inside the horizon, minus
//     EXDATEs.
//   - RECURRENCE-ID overrides are skipped.
func ParseTemplates(src Source, body []byte, opts ParseOptions) ([]Item, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = defaultHorizonDays
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	items := make([]Item, 0)
	for _, ve := range cal.Events() {
		parsed, perr := parseVEvent(ve, opts)
		if perr != nil {
			// Skip this event but keep parsing the others.
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		items = append(items, parsed...)
	}

	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "item_count", len(items))
	return items, nil
}

func parseVEvent(ve *ical.VEvent, opts ParseOptions) ([]Item, error) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return nil, errors.New("missing UID")
	}
	uid := uidProp.Value

	if ve.GetProperty(ical.ComponentPropertyRecurrenceId) != nil {
		appLog.Debug("ics override skipped", "uid", uid)
		return nil, nil
	}

	allDay := isAllDay(ve)

	var (
		start, end time.Time
		err        error
	)
	if allDay {
		// DATE values are floating: keep the calendar date as written.
		start, err = parseICSTime(ve.GetProperty(ical.ComponentPropertyDtStart).Value, opts.Location)
		if err != nil {
			return nil, err
		}
		end = start
	} else {
		start, err = ve.GetStartAt()
		if err != nil {
			return nil, err
		}
		end, err = ve.GetEndAt()
		if err != nil || end.Before(start) {
			end = start
		}
		start = start.In(opts.Location)
		end = end.In(opts.Location)
	}

	tpl := model.TaskTemplate{
		Type:      opts.Type,
		StartDate: clock.Midnight(start, opts.Location),
		StartTime: clock.Of(start, start, opts.Location),
		EndTime:   clock.Of(end, start, opts.Location),
	}
	if allDay {
		tpl.StartTime = 0
		tpl.EndTime = clock.EndOfDay
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		tpl.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		tpl.Description = p.Value
	}
	if strings.TrimSpace(tpl.Title) == "" {
		tpl.Title = "(untitled)"
	}
	if p := ve.GetProperty(propType); p != nil && tpl.Type == "" {
		if typ, err := model.ParseTaskType(p.Value); err == nil {
			tpl.Type = typ
		}
	}
	for _, p := range ve.GetProperties(propCategories) {
		for _, tag := range strings.Split(p.Value, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tpl.Tags = append(tpl.Tags, tag)
			}
		}
	}

	rruleProp := ve.GetProperty(ical.ComponentPropertyRrule)
	if rruleProp == nil || rruleProp.Value == "" {
		return []Item{{UID: uid, Template: tpl}}, nil
	}

	opt, err := rrule.StrToROption(rruleProp.Value)
	if err != nil {
		return nil, err
	}
	opt.Dtstart = start

	horizon := tpl.StartDate.AddDate(0, 0, opts.HorizonDays)
	// A range cannot leave holes, so rules with EXDATEs are expanded.
	exdates := exDates(ve, opts.Location)
	if len(exdates) == 0 {
		if ranged, ok := rangeTemplate(tpl, *opt, allDay, horizon, opts.Location); ok {
			return []Item{{UID: uid, Template: ranged}}, nil
		}
	}
	return expandOccurrences(uid, tpl, *opt, exdates, horizon, opts.Location)
}

// rangeTemplate maps simple DAILY/WEEKLY rules without exclusions onto a
// date range plus weekday filter.
func rangeTemplate(tpl model.TaskTemplate, opt rrule.ROption, allDay bool, horizon time.Time, loc *time.Location) (model.TaskTemplate, bool) {
	if opt.Interval > 1 || (opt.Freq != rrule.DAILY && opt.Freq != rrule.WEEKLY) {
		return tpl, false
	}
	if len(opt.Bymonth) > 0 || len(opt.Bymonthday) > 0 || len(opt.Bysetpos) > 0 || len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 {
		return tpl, false
	}
	for _, w := range opt.Byweekday {
		if w.N() != 0 {
			return tpl, false
		}
	}

	days := opt.Byweekday
	if opt.Freq == rrule.WEEKLY && len(days) == 0 {
		w, _ := recurrence.ParseWeekday(recurrence.WeekdayName(tpl.StartDate.Weekday()))
		days = []rrule.Weekday{w}
	}
	for _, w := range days {
		tpl.WeekDays = append(tpl.WeekDays, recurrence.NameForRRuleWeekday(w))
	}

	var endDate time.Time
	switch {
	case opt.Count > 0:
		r, err := rrule.NewRRule(opt)
		if err != nil {
			return tpl, false
		}
		all := r.All()
		if len(all) == 0 {
			return tpl, false
		}
		endDate = clock.Midnight(all[len(all)-1], loc)
	case !opt.Until.IsZero():
		endDate = untilDay(opt.Until, tpl.StartTime, allDay, loc)
	default:
		endDate = horizon
	}

	if endDate.After(horizon) {
		endDate = horizon
	}
	tpl.EndDate = &endDate
	tpl.HasEndDate = true
	return tpl, true
}

// untilDay is the last calendar day whose occurrence starts no later than
// until. All-day rules carry a date, read as written.
func untilDay(until time.Time, start clock.Clock, allDay bool, loc *time.Location) time.Time {
	if allDay {
		return time.Date(until.Year(), until.Month(), until.Day(), 0, 0, 0, 0, loc)
	}
	d := clock.Midnight(until, loc)
	if clock.At(d, start, loc).After(until) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

func expandOccurrences(uid string, tpl model.TaskTemplate, opt rrule.ROption, exdates []time.Time, horizon time.Time, loc *time.Location) ([]Item, error) {
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, err
	}
	var set rrule.Set
	set.RRule(r)
	for _, ex := range exdates {
		set.ExDate(ex)
	}

	occ := set.Between(opt.Dtstart, clock.At(horizon, clock.EndOfDay, loc), true)
	if len(occ) > maxExpandedEvents {
		appLog.Warn("ics expansion truncated", "uid", uid, "cap", maxExpandedEvents)
		occ = occ[:maxExpandedEvents]
	}

	items := make([]Item, 0, len(occ))
	for _, t := range occ {
		one := tpl
		one.StartDate = clock.Midnight(t, loc)
		items = append(items, Item{
			UID:      uid + "/" + one.StartDate.Format(time.DateOnly),
			Template: one,
		})
	}
	return items, nil
}

func isAllDay(ve *ical.VEvent) bool {
	p := ve.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return false
	}
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func exDates(ve *ical.VEvent, loc *time.Location) []time.Time {
	var out []time.Time
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		tz := loc
		if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
			if l, err := time.LoadLocation(tzs[0]); err == nil {
				tz = l
			}
		}
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(strings.TrimSpace(part), tz); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

// parseICSTime parses the basic DATE / DATE-TIME / UTC DATE-TIME forms.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
