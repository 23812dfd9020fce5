package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"taskline/internal/clock"
	appLog "taskline/internal/log"
	"taskline/internal/model"
)

const (
	defaultMaxInstances = 5000
)

// anchor is the wall-clock time rrule steps from. Noon exists on every
// calendar day, unlike midnight in zones that change DST at 00:00.
var anchor = clock.MustParse("12:00")

var ErrInvalidTemplate = errors.New("invalid task template")

var weekdays = map[string]rrule.Weekday{
	"monday":    rrule.MO,
	"tuesday":   rrule.TU,
	"wednesday": rrule.WE,
	"thursday":  rrule.TH,
	"friday":    rrule.FR,
	"saturday":  rrule.SA,
	"sunday":    rrule.SU,
}

// weekdayNames is indexed by rrule.Weekday.Day() (0 = Monday).
var weekdayNames = [7]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// Config controls how a template is expanded.
type Config struct {
	// Location is the zone whose calendar days are iterated. If nil,
	// time.Local is used.
	Location *time.Location

	// RecurrenceID is stamped on every instance of a recurring template.
	// The caller allocates it; Expand never generates IDs.
	RecurrenceID string

	// MaxInstances caps very long ranges. If zero, defaultMaxInstances is used.
	MaxInstances int
}

// Result is the output of Expand.
type Result struct {
	Instances []model.TaskInstance
	// Rule is the RRULE text for recurring templates, empty otherwise.
	Rule string
	// Truncated is set when the range produced more than MaxInstances days.
	Truncated bool
}

// WeekdayName returns the lowercase English name used in weekday filters.
func WeekdayName(d time.Weekday) string {
	return strings.ToLower(d.String())
}

// ParseWeekday maps a filter name ("monday") to its rrule weekday.
func ParseWeekday(name string) (rrule.Weekday, bool) {
	w, ok := weekdays[name]
	return w, ok
}

// NameForRRuleWeekday maps an rrule weekday to its filter name.
func NameForRRuleWeekday(w rrule.Weekday) string {
	return weekdayNames[w.Day()]
}

// Validate checks a template before expansion. Dates are compared as
// calendar days in loc (time.Local if nil). Every failure wraps
// ErrInvalidTemplate.
func Validate(t model.TaskTemplate, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is empty", ErrInvalidTemplate)
	}
	if t.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is missing", ErrInvalidTemplate)
	}
	if _, err := model.ParseTaskType(string(t.Type)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	if !t.StartTime.Valid() || !t.EndTime.Valid() {
		return fmt.Errorf("%w: time of day out of range", ErrInvalidTemplate)
	}
	if t.EndTime < t.StartTime {
		return fmt.Errorf("%w: end time %s is before start time %s", ErrInvalidTemplate, t.EndTime, t.StartTime)
	}
	if t.Recurring() {
		start, end := clock.Midnight(t.StartDate, loc), clock.Midnight(*t.EndDate, loc)
		if end.Before(start) {
			return fmt.Errorf("%w: end date %s is before start date %s",
				ErrInvalidTemplate, end.Format(time.DateOnly), start.Format(time.DateOnly))
		}
	}
	for _, d := range t.WeekDays {
		if _, ok := weekdays[d]; !ok {
			return fmt.Errorf("%w: unknown weekday %q", ErrInvalidTemplate, d)
		}
	}
	for _, n := range t.Notifications {
		if n.MinutesBefore < 0 {
			return fmt.Errorf("%w: notification offset is negative", ErrInvalidTemplate)
		}
	}
	return nil
}

// Expand materializes the task instances described by t.
//
//   - Without an end date it yields exactly one instance on StartDate with no
//     recurrence back-reference.
//   - Otherwise every local calendar day in [StartDate, EndDate] whose weekday
//     is in WeekDays (or every day, when WeekDays is empty) yields one
//     instance, in chronological order. A range that matches no day yields
//     no instances.
//
// Expand is pure: the same template and config always produce the same
// result and the template is never modified.
func Expand(t model.TaskTemplate, cfg Config) (Result, error) {
	var result Result

	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if err := Validate(t, cfg.Location); err != nil {
		return result, err
	}
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = defaultMaxInstances
	}

	if !t.Recurring() {
		result.Instances = []model.TaskInstance{makeInstance(t, t.StartDate, "", cfg.Location)}
		return result, nil
	}

	opt := ruleOption(t, cfg.Location)
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	result.Rule = RuleString(t, cfg.Location)

	next := r.Iterator()
	for {
		day, ok := next()
		if !ok {
			break
		}
		if len(result.Instances) == cfg.MaxInstances {
			result.Truncated = true
			appLog.Error("expand: truncated instances due to cap",
				errors.New("max instances reached"),
				"title", t.Title,
				"cap", cfg.MaxInstances,
			)
			break
		}
		result.Instances = append(result.Instances, makeInstance(t, day, cfg.RecurrenceID, cfg.Location))
	}
	return result, nil
}

// RuleString returns the RRULE text (without DTSTART) for a recurring
// template.
func RuleString(t model.TaskTemplate, loc *time.Location) string {
	opt := ruleOption(t, loc)
	opt.Dtstart = time.Time{}
	return opt.String()
}

func ruleOption(t model.TaskTemplate, loc *time.Location) rrule.ROption {
	opt := rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: clock.At(t.StartDate, anchor, loc),
	}
	if t.EndDate != nil {
		opt.Until = clock.At(*t.EndDate, anchor, loc)
	}
	for _, d := range t.WeekDays {
		opt.Byweekday = append(opt.Byweekday, weekdays[d])
	}
	return opt
}

func makeInstance(t model.TaskTemplate, day time.Time, recurrenceID string, loc *time.Location) model.TaskInstance {
	date := clock.Midnight(day, loc)
	start := clock.At(date, t.StartTime, loc)
	end := clock.At(date, t.EndTime, loc)

	typ, _ := model.ParseTaskType(string(t.Type))

	inst := model.TaskInstance{
		Title:        t.Title,
		Description:  t.Description,
		Tags:         append([]string(nil), t.Tags...),
		Type:         typ,
		Date:         date,
		Start:        start,
		End:          end,
		IsCompleted:  false,
		RecurrenceID: recurrenceID,
	}
	for _, n := range t.Notifications {
		n.FireAt = start.Add(-time.Duration(n.MinutesBefore) * time.Minute)
		inst.Notifications = append(inst.Notifications, n)
	}
	return inst
}
