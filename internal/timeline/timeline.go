// Package timeline lays one day's task instances out as a contiguous
// sequence of busy and free slots covering [00:00, 24:00).
package timeline

import (
	"sort"
	"time"

	"taskline/internal/clock"
	"taskline/internal/model"
)

// EmptyDayLabel labels the single free slot of a day with no tasks.
const EmptyDayLabel = "Nothing planned"

// Slot is one segment of a day. Busy slots carry one or more tasks; free
// slots carry a duration label.
type Slot struct {
	Start clock.Clock
	End   clock.Clock

	IsFreeTime bool
	Label      string

	Tasks      []model.TaskInstance
	HasOverlap bool
}

// Minutes is the slot length.
func (s Slot) Minutes() int {
	return int(s.End - s.Start)
}

type span struct {
	start, end clock.Clock
	task       model.TaskInstance
}

// Build returns the slots for tasks, which must all belong to day (a time on
// the calendar day being shown, in loc). The input slice is not modified.
//
// Tasks are ordered by start time (ties by end time, then ID). A task that
// starts inside the previous busy slot is merged into it and the slot is
// flagged HasOverlap; otherwise it opens a new busy slot. Every gap before,
// between and after busy slots becomes a free slot.
func Build(tasks []model.TaskInstance, day time.Time, loc *time.Location) []Slot {
	if loc == nil {
		loc = time.Local
	}
	if len(tasks) == 0 {
		return []Slot{{
			Start:      0,
			End:        clock.EndOfDay,
			IsFreeTime: true,
			Label:      EmptyDayLabel,
		}}
	}

	spans := make([]span, 0, len(tasks))
	for _, t := range tasks {
		s := clock.Of(t.Start, day, loc)
		e := clock.Of(t.End, day, loc)
		if e < s {
			// Reversed input is rejected upstream; keep the builder total.
			e = s
		}
		spans = append(spans, span{start: s, end: e, task: t})
	}
	sort.SliceStable(spans, func(i, j int) bool {
		a, b := spans[i], spans[j]
		if a.start != b.start {
			return a.start < b.start
		}
		if a.end != b.end {
			return a.end < b.end
		}
		return a.task.ID < b.task.ID
	})

	slots := make([]Slot, 0, 2*len(spans)+1)
	lastEnd := clock.Clock(-1)

	for i, sp := range spans {
		if i == 0 && sp.start > 0 {
			slots = append(slots, freeSlot(0, sp.start))
		}
		if lastEnd >= 0 && lastEnd < sp.start {
			slots = append(slots, freeSlot(lastEnd, sp.start))
		}

		if n := len(slots); n > 0 && overlaps(slots[n-1], sp.start) {
			prev := &slots[n-1]
			prev.Tasks = append(prev.Tasks, sp.task)
			prev.HasOverlap = true
			if sp.end > prev.End {
				prev.End = sp.end
			}
		} else {
			slots = append(slots, Slot{
				Start: sp.start,
				End:   sp.end,
				Tasks: []model.TaskInstance{sp.task},
			})
		}

		// The newest busy slot's end is the max end of the tasks in it.
		lastEnd = slots[len(slots)-1].End
	}

	if lastEnd < clock.EndOfDay {
		slots = append(slots, freeSlot(lastEnd, clock.EndOfDay))
	}
	return slots
}

func overlaps(prev Slot, start clock.Clock) bool {
	return !prev.IsFreeTime && prev.Start <= start && prev.End > start
}

func freeSlot(start, end clock.Clock) Slot {
	return Slot{
		Start:      start,
		End:        end,
		IsFreeTime: true,
		Label:      clock.FreeLabel(int(end - start)),
	}
}

// Covers reports whether slots tile [00:00, 24:00) exactly: the first slot
// starts at midnight, each slot starts where the previous one ended and the
// last one ends at 24:00.
func Covers(slots []Slot) bool {
	if len(slots) == 0 {
		return false
	}
	cur := clock.Clock(0)
	for _, s := range slots {
		if s.Start != cur || s.End < s.Start {
			return false
		}
		cur = s.End
	}
	return cur == clock.EndOfDay
}
