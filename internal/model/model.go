package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"taskline/internal/clock"
)

// TaskType classifies a task. The zero value is treated as Personal.
type TaskType string

const (
	TypePersonal  TaskType = "personal"
	TypeWork      TaskType = "work"
	TypeEmergency TaskType = "emergency"
)

var ErrUnknownTaskType = errors.New("unknown task type")

// ParseTaskType accepts any casing; an empty string yields TypePersonal.
func ParseTaskType(s string) (TaskType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(TypePersonal):
		return TypePersonal, nil
	case string(TypeWork):
		return TypeWork, nil
	case string(TypeEmergency):
		return TypeEmergency, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTaskType, s)
	}
}

// Notification describes a reminder attached to a task. Delivery is handled
// elsewhere; FireAt is filled in per instance.
type Notification struct {
	MinutesBefore int       `json:"minutes_before" yaml:"minutes_before"`
	Message       string    `json:"message,omitempty" yaml:"message,omitempty"`
	FireAt        time.Time `json:"fire_at,omitzero" yaml:"-"`
}

// TaskTemplate is what a user fills in when creating a task. When HasEndDate
// is set and EndDate is present it describes a recurrence over
// [StartDate, EndDate] restricted to WeekDays (empty means every day).
type TaskTemplate struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Type        TaskType `json:"type,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	StartDate  time.Time  `json:"start_date"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	HasEndDate bool       `json:"has_end_date"`

	StartTime clock.Clock `json:"start_time"`
	EndTime   clock.Clock `json:"end_time"`

	// WeekDays holds lowercase English weekday names, e.g. "monday".
	WeekDays []string `json:"week_days,omitempty"`

	Notifications []Notification `json:"notifications,omitempty"`
}

// Recurring reports whether the template expands over a date range.
func (t TaskTemplate) Recurring() bool {
	return t.HasEndDate && t.EndDate != nil
}

// TaskInstance is one concrete, dated task.
type TaskInstance struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Type        TaskType `json:"type"`

	// Date is local midnight of the day the task belongs to.
	Date  time.Time `json:"date"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	IsCompleted bool `json:"is_completed"`

	RecurrenceID  string         `json:"recurrence_id,omitempty"`
	SourceUID     string         `json:"source_uid,omitempty"`
	Notifications []Notification `json:"notifications,omitempty"`
}

// Recurrence is the persisted recurrence template record from which a set of
// instances was generated.
type Recurrence struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Type        TaskType `json:"type"`
	Tags        []string `json:"tags,omitempty"`

	StartDate time.Time   `json:"start_date"`
	EndDate   time.Time   `json:"end_date"`
	StartTime clock.Clock `json:"start_time"`
	EndTime   clock.Clock `json:"end_time"`
	WeekDays  []string    `json:"week_days,omitempty"`

	// Rule is the RFC 5545 RRULE text equivalent of the range and weekdays.
	Rule      string    `json:"rule"`
	SourceUID string    `json:"source_uid,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRecurrence captures the recurrence fields of a recurring template.
func NewRecurrence(t TaskTemplate, rule string, now time.Time) Recurrence {
	r := Recurrence{
		Title:       t.Title,
		Description: t.Description,
		Type:        t.Type,
		Tags:        append([]string(nil), t.Tags...),
		StartDate:   t.StartDate,
		StartTime:   t.StartTime,
		EndTime:     t.EndTime,
		WeekDays:    append([]string(nil), t.WeekDays...),
		Rule:        rule,
		CreatedAt:   now,
	}
	if t.EndDate != nil {
		r.EndDate = *t.EndDate
	}
	return r
}
