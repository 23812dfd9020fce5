package store

import (
	"time"

	"taskline/internal/clock"
	"taskline/internal/model"
)

// Filter selects task instances. The concrete criteria are ByType,
// ByCompletion, ByDate, ByRecurrence and All; the unexported method keeps
// the set closed.
type Filter interface {
	match(t model.TaskInstance) bool
}

// ByType matches instances of one task type.
type ByType struct {
	Type model.TaskType
}

// ByCompletion matches on the completion flag.
type ByCompletion struct {
	Completed bool
}

// ByDate matches instances whose Date falls on the same calendar day as Day,
// evaluated in Day's location.
type ByDate struct {
	Day time.Time
}

// ByRecurrence matches instances generated from one recurrence record.
type ByRecurrence struct {
	RecurrenceID string
}

// All matches when every filter matches. An empty All matches everything.
type All []Filter

func (f ByType) match(t model.TaskInstance) bool       { return t.Type == f.Type }
func (f ByCompletion) match(t model.TaskInstance) bool { return t.IsCompleted == f.Completed }
func (f ByRecurrence) match(t model.TaskInstance) bool { return t.RecurrenceID == f.RecurrenceID }

func (f ByDate) match(t model.TaskInstance) bool {
	return clock.SameDay(t.Date, f.Day, f.Day.Location())
}

func (f All) match(t model.TaskInstance) bool {
	for _, sub := range f {
		if sub != nil && !sub.match(t) {
			return false
		}
	}
	return true
}

// Match reports whether t satisfies f. A nil filter matches everything.
func Match(f Filter, t model.TaskInstance) bool {
	if f == nil {
		return true
	}
	return f.match(t)
}
