package timeline

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/clock"
	"taskline/internal/model"
)

var day = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

func task(id, start, end string) model.TaskInstance {
	return model.TaskInstance{
		ID:    id,
		Title: id,
		Date:  day,
		Start: clock.At(day, clock.MustParse(start), time.UTC),
		End:   clock.At(day, clock.MustParse(end), time.UTC),
	}
}

type want struct {
	start, end string
	free       bool
	ids        []string
}

func assertSlots(t *testing.T, got []Slot, expected ...want) {
	t.Helper()
	require.Len(t, got, len(expected))
	for i, w := range expected {
		s := got[i]
		assert.Equal(t, w.start, s.Start.String(), "slot %d start", i)
		assert.Equal(t, w.end, s.End.String(), "slot %d end", i)
		assert.Equal(t, w.free, s.IsFreeTime, "slot %d free", i)
		var ids []string
		for _, tk := range s.Tasks {
			ids = append(ids, tk.ID)
		}
		assert.Equal(t, w.ids, ids, "slot %d tasks", i)
	}
	assert.True(t, Covers(got))
}

func TestBuild_EmptyDay(t *testing.T) {
	slots := Build(nil, day, time.UTC)

	assertSlots(t, slots, want{start: "00:00", end: "24:00", free: true})
	assert.Equal(t, EmptyDayLabel, slots[0].Label)
}

func TestBuild_GapDetection(t *testing.T) {
	slots := Build([]model.TaskInstance{
		task("b", "11:00", "12:00"),
		task("a", "08:00", "09:00"),
	}, day, time.UTC)

	assertSlots(t, slots,
		want{start: "00:00", end: "08:00", free: true},
		want{start: "08:00", end: "09:00", ids: []string{"a"}},
		want{start: "09:00", end: "11:00", free: true},
		want{start: "11:00", end: "12:00", ids: []string{"b"}},
		want{start: "12:00", end: "24:00", free: true},
	)
	assert.Equal(t, "8:00 hours free", slots[0].Label)
	assert.Equal(t, "2:00 hours free", slots[2].Label)
	assert.Equal(t, "12:00 hours free", slots[4].Label)
}

func TestBuild_OverlapMerge(t *testing.T) {
	slots := Build([]model.TaskInstance{
		task("a", "09:00", "10:00"),
		task("b", "09:30", "10:30"),
	}, day, time.UTC)

	assertSlots(t, slots,
		want{start: "00:00", end: "09:00", free: true},
		want{start: "09:00", end: "10:30", ids: []string{"a", "b"}},
		want{start: "10:30", end: "24:00", free: true},
	)
	assert.True(t, slots[1].HasOverlap)
}

func TestBuild_ContainedTaskKeepsLongerEnd(t *testing.T) {
	slots := Build([]model.TaskInstance{
		task("outer", "09:00", "12:00"),
		task("inner", "10:00", "11:00"),
		task("next", "11:30", "13:00"),
	}, day, time.UTC)

	assertSlots(t, slots,
		want{start: "00:00", end: "09:00", free: true},
		want{start: "09:00", end: "13:00", ids: []string{"outer", "inner", "next"}},
		want{start: "13:00", end: "24:00", free: true},
	)
}

func TestBuild_AdjacentTasksDoNotMerge(t *testing.T) {
	slots := Build([]model.TaskInstance{
		task("a", "00:00", "01:00"),
		task("b", "01:00", "02:00"),
	}, day, time.UTC)

	assertSlots(t, slots,
		want{start: "00:00", end: "01:00", ids: []string{"a"}},
		want{start: "01:00", end: "02:00", ids: []string{"b"}},
		want{start: "02:00", end: "24:00", free: true},
	)
	assert.False(t, slots[0].HasOverlap)
}

func TestBuild_TaskEndingAtMidnight(t *testing.T) {
	late := task("late", "22:00", "24:00")
	slots := Build([]model.TaskInstance{late}, day, time.UTC)

	assertSlots(t, slots,
		want{start: "00:00", end: "22:00", free: true},
		want{start: "22:00", end: "24:00", ids: []string{"late"}},
	)
}

func TestBuild_ShortGapLabel(t *testing.T) {
	slots := Build([]model.TaskInstance{
		task("a", "08:00", "09:00"),
		task("b", "09:45", "10:00"),
	}, day, time.UTC)

	require.Len(t, slots, 5)
	assert.Equal(t, "45 min free", slots[2].Label)
}

func TestBuild_TiesAreDeterministic(t *testing.T) {
	in := []model.TaskInstance{
		task("z", "09:00", "10:00"),
		task("a", "09:00", "10:00"),
		task("m", "09:00", "09:30"),
	}
	slots := Build(in, day, time.UTC)

	require.Len(t, slots, 3)
	var ids []string
	for _, tk := range slots[1].Tasks {
		ids = append(ids, tk.ID)
	}
	assert.Equal(t, []string{"m", "a", "z"}, ids)
	assert.Equal(t, "z", in[0].ID, "input must not be reordered")
}

func TestBuild_ReversedTaskIsClamped(t *testing.T) {
	bad := task("bad", "10:00", "09:00")
	slots := Build([]model.TaskInstance{bad}, day, time.UTC)

	assert.True(t, Covers(slots))
	require.Len(t, slots, 3)
	assert.Equal(t, 0, slots[1].Minutes())
}

func TestBuild_RandomDaysAlwaysCover(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		n := rnd.Intn(8)
		tasks := make([]model.TaskInstance, 0, n)
		for i := 0; i < n; i++ {
			s := rnd.Intn(clock.MinutesPerDay)
			e := s + rnd.Intn(clock.MinutesPerDay-s+1)
			tasks = append(tasks, task(fmt.Sprint(i), clock.Clock(s).String(), clock.Clock(e).String()))
		}

		slots := Build(tasks, day, time.UTC)
		require.True(t, Covers(slots), "iteration %d", iter)

		seen := 0
		for _, s := range slots {
			seen += len(s.Tasks)
			if s.IsFreeTime {
				assert.Positive(t, s.Minutes())
				assert.Empty(t, s.Tasks)
			}
		}
		assert.Equal(t, n, seen)
	}
}

func TestCovers(t *testing.T) {
	assert.False(t, Covers(nil))
	assert.False(t, Covers([]Slot{{Start: 0, End: 600}}))
	assert.False(t, Covers([]Slot{{Start: 0, End: 600}, {Start: 601, End: clock.EndOfDay}}))
	assert.True(t, Covers([]Slot{{Start: 0, End: 600}, {Start: 600, End: clock.EndOfDay}}))
}
