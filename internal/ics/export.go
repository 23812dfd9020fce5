package ics

import (
	"errors"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"taskline/internal/clock"
	"taskline/internal/model"
	"taskline/internal/recurrence"
)

const productID = "-//taskline//Task Export//EN"

var (
	propCategories = ical.ComponentPropertyCategories
	propCompleted  = ical.ComponentProperty("X-TASKLINE-COMPLETED")
	propType       = ical.ComponentProperty("X-TASKLINE-TYPE")
)

func newCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	return cal
}

// ExportInstances renders task instances as one VEVENT each.
func ExportInstances(tasks []model.TaskInstance, now time.Time) string {
	cal := newCalendar()
	for _, t := range tasks {
		uid := t.SourceUID
		if uid == "" {
			uid = "task-" + t.ID + "@taskline"
		}
		ev := cal.AddEvent(uid)
		ev.SetDtStampTime(now)
		ev.SetStartAt(t.Start)
		ev.SetEndAt(t.End)
		ev.SetSummary(t.Title)
		if t.Description != "" {
			ev.SetDescription(t.Description)
		}
		for _, tag := range t.Tags {
			ev.AddProperty(propCategories, tag)
		}
		ev.SetProperty(propType, string(t.Type))
		if t.IsCompleted {
			ev.SetProperty(propCompleted, "TRUE")
		}
	}
	return cal.Serialize()
}

// ExportRecurrence renders a recurrence record as a single VEVENT with an
// RRULE. UNTIL is the last instant of the end date, so clients that compare
// it against the first occurrence's start time keep the last day.
func ExportRecurrence(rec model.Recurrence, loc *time.Location, now time.Time) (string, error) {
	if rec.ID == "" {
		return "", errors.New("recurrence has no id")
	}
	if loc == nil {
		loc = time.Local
	}

	opt := rrule.ROption{
		Freq:  rrule.DAILY,
		Until: clock.At(rec.EndDate, clock.EndOfDay, loc).Add(-time.Second),
	}
	for _, d := range rec.WeekDays {
		w, ok := recurrence.ParseWeekday(d)
		if !ok {
			return "", errors.New("unknown weekday " + d)
		}
		opt.Byweekday = append(opt.Byweekday, w)
	}

	uid := rec.SourceUID
	if uid == "" {
		uid = "recurrence-" + rec.ID + "@taskline"
	}

	cal := newCalendar()
	ev := cal.AddEvent(uid)
	ev.SetDtStampTime(now)
	ev.SetStartAt(clock.At(rec.StartDate, rec.StartTime, loc))
	ev.SetEndAt(clock.At(rec.StartDate, rec.EndTime, loc))
	ev.SetSummary(rec.Title)
	if rec.Description != "" {
		ev.SetDescription(rec.Description)
	}
	for _, tag := range rec.Tags {
		ev.AddProperty(propCategories, tag)
	}
	ev.SetProperty(propType, string(rec.Type))
	ev.SetProperty(ical.ComponentPropertyRrule, opt.RRuleString())
	return cal.Serialize(), nil
}
