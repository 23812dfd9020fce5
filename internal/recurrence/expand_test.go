package recurrence

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/clock"
	"taskline/internal/model"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func weekTemplate(days ...string) model.TaskTemplate {
	return model.TaskTemplate{
		Title:      "standup",
		Type:       model.TypeWork,
		Tags:       []string{"team"},
		StartDate:  date(2024, 1, 1), // Monday
		EndDate:    ptr(date(2024, 1, 7)),
		HasEndDate: true,
		StartTime:  clock.MustParse("09:00"),
		EndTime:    clock.MustParse("09:15"),
		WeekDays:   days,
	}
}

func TestExpand_NonRecurring(t *testing.T) {
	tpl := weekTemplate()
	tpl.HasEndDate = false

	res, err := Expand(tpl, Config{Location: time.UTC, RecurrenceID: "rec-1"})
	require.NoError(t, err)
	require.Len(t, res.Instances, 1)

	inst := res.Instances[0]
	assert.Equal(t, date(2024, 1, 1), inst.Date)
	assert.Empty(t, inst.RecurrenceID)
	assert.Empty(t, res.Rule)
	assert.False(t, inst.IsCompleted)
}

func TestExpand_NonRecurringWithoutEndDate(t *testing.T) {
	tpl := weekTemplate()
	tpl.EndDate = nil

	res, err := Expand(tpl, Config{Location: time.UTC})
	require.NoError(t, err)
	require.Len(t, res.Instances, 1)
	assert.Equal(t, date(2024, 1, 1), res.Instances[0].Date)
}

func TestExpand_DailyCoversWholeWeek(t *testing.T) {
	res, err := Expand(weekTemplate(), Config{Location: time.UTC, RecurrenceID: "rec-1"})
	require.NoError(t, err)
	require.Len(t, res.Instances, 7)

	for i, inst := range res.Instances {
		assert.Equal(t, date(2024, 1, 1+i), inst.Date)
		assert.Equal(t, "rec-1", inst.RecurrenceID)
		assert.Equal(t, time.Date(2024, 1, 1+i, 9, 0, 0, 0, time.UTC), inst.Start)
		assert.Equal(t, time.Date(2024, 1, 1+i, 9, 15, 0, 0, time.UTC), inst.End)
		assert.Equal(t, model.TypeWork, inst.Type)
		assert.Equal(t, []string{"team"}, inst.Tags)
	}
	assert.Contains(t, res.Rule, "FREQ=DAILY")
}

func TestExpand_WeekdayFilter(t *testing.T) {
	res, err := Expand(weekTemplate("monday", "wednesday"), Config{Location: time.UTC})
	require.NoError(t, err)
	require.Len(t, res.Instances, 2)
	assert.Equal(t, date(2024, 1, 1), res.Instances[0].Date)
	assert.Equal(t, date(2024, 1, 3), res.Instances[1].Date)
	assert.Contains(t, res.Rule, "BYDAY=MO,WE")
}

func TestExpand_SingleDayNonMatchingWeekdayYieldsNothing(t *testing.T) {
	tpl := weekTemplate("tuesday")
	tpl.EndDate = ptr(tpl.StartDate)

	res, err := Expand(tpl, Config{Location: time.UTC})
	require.NoError(t, err)
	assert.Empty(t, res.Instances)
	assert.NotEmpty(t, res.Rule)
}

func TestExpand_SingleDayMatching(t *testing.T) {
	tpl := weekTemplate()
	tpl.EndDate = ptr(tpl.StartDate)

	res, err := Expand(tpl, Config{Location: time.UTC})
	require.NoError(t, err)
	require.Len(t, res.Instances, 1)
}

func TestExpand_Idempotent(t *testing.T) {
	tpl := weekTemplate("friday", "monday")
	cfg := Config{Location: time.UTC, RecurrenceID: "r"}

	a, err := Expand(tpl, cfg)
	require.NoError(t, err)
	b, err := Expand(tpl, cfg)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, []string{"friday", "monday"}, tpl.WeekDays)
}

func TestExpand_DSTKeepsLocalWallClock(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	// Clocks go forward on 2024-03-31 in Berlin.
	tpl := model.TaskTemplate{
		Title:      "run",
		StartDate:  time.Date(2024, 3, 29, 0, 0, 0, 0, loc),
		EndDate:    ptr(time.Date(2024, 4, 2, 0, 0, 0, 0, loc)),
		HasEndDate: true,
		StartTime:  clock.MustParse("07:30"),
		EndTime:    clock.MustParse("08:00"),
	}

	res, err := Expand(tpl, Config{Location: loc})
	require.NoError(t, err)
	require.Len(t, res.Instances, 5)
	for i, inst := range res.Instances {
		want := time.Date(2024, 3, 29+i, 0, 0, 0, 0, loc)
		assert.True(t, want.Equal(inst.Date), "day %d: %s", i, inst.Date)
		assert.Equal(t, 0, inst.Date.Hour())
		assert.Equal(t, 7, inst.Start.Hour())
		assert.Equal(t, 30, inst.Start.Minute())
	}
}

func TestExpand_MidnightDSTStepsEveryDay(t *testing.T) {
	loc, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)

	// 2024-09-08 00:00 does not exist in Santiago; clocks jump to 01:00.
	tpl := model.TaskTemplate{
		Title:      "walk",
		StartDate:  time.Date(2024, 9, 5, 0, 0, 0, 0, loc),
		EndDate:    ptr(time.Date(2024, 9, 11, 0, 0, 0, 0, loc)),
		HasEndDate: true,
		StartTime:  clock.MustParse("08:00"),
		EndTime:    clock.MustParse("08:30"),
	}

	res, err := Expand(tpl, Config{Location: loc})
	require.NoError(t, err)
	require.Len(t, res.Instances, 7)
	for i, inst := range res.Instances {
		assert.Equal(t, fmt.Sprintf("2024-09-%02d", 5+i), inst.Date.Format(time.DateOnly))
		assert.Equal(t, 8, inst.Start.Hour())
	}
}

func TestExpand_FarEndDateStopsAtCap(t *testing.T) {
	tpl := weekTemplate()
	tpl.EndDate = ptr(date(9999, 12, 31))

	res, err := Expand(tpl, Config{Location: time.UTC, MaxInstances: 50})
	require.NoError(t, err)
	assert.Len(t, res.Instances, 50)
	assert.True(t, res.Truncated)
	assert.Equal(t, date(2024, 2, 19), res.Instances[49].Date)
}

func TestExpand_ExactCapIsNotTruncated(t *testing.T) {
	res, err := Expand(weekTemplate(), Config{Location: time.UTC, MaxInstances: 7})
	require.NoError(t, err)
	assert.Len(t, res.Instances, 7)
	assert.False(t, res.Truncated)
}

func TestValidate_ComparesDaysInExpansionZone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// Both instants fall on 2024-01-01 in Tokyo, even though the end value
	// carries an earlier UTC calendar date.
	tpl := weekTemplate()
	tpl.StartDate = time.Date(2024, 1, 1, 0, 0, 0, 0, tokyo)
	tpl.EndDate = ptr(time.Date(2023, 12, 31, 16, 0, 0, 0, time.UTC))

	require.NoError(t, Validate(tpl, tokyo))
	res, err := Expand(tpl, Config{Location: tokyo})
	require.NoError(t, err)
	require.Len(t, res.Instances, 1)

	// The same template read as UTC days is a reversed range.
	assert.ErrorIs(t, Validate(tpl, time.UTC), ErrInvalidTemplate)
}

func TestExpand_NotificationsFireBeforeStart(t *testing.T) {
	tpl := weekTemplate("monday")
	tpl.Notifications = []model.Notification{{MinutesBefore: 10, Message: "soon"}}

	res, err := Expand(tpl, Config{Location: time.UTC})
	require.NoError(t, err)
	require.Len(t, res.Instances, 1)
	require.Len(t, res.Instances[0].Notifications, 1)
	assert.Equal(t, time.Date(2024, 1, 1, 8, 50, 0, 0, time.UTC), res.Instances[0].Notifications[0].FireAt)
	assert.True(t, tpl.Notifications[0].FireAt.IsZero())
}

func TestExpand_TruncatesAtCap(t *testing.T) {
	res, err := Expand(weekTemplate(), Config{Location: time.UTC, MaxInstances: 3})
	require.NoError(t, err)
	assert.Len(t, res.Instances, 3)
	assert.True(t, res.Truncated)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*model.TaskTemplate){
		"empty title":      func(t *model.TaskTemplate) { t.Title = "  " },
		"missing start":    func(t *model.TaskTemplate) { t.StartDate = time.Time{} },
		"reversed range":   func(t *model.TaskTemplate) { t.EndDate = ptr(date(2023, 12, 31)) },
		"unknown weekday":  func(t *model.TaskTemplate) { t.WeekDays = []string{"Monday"} },
		"unknown type":     func(t *model.TaskTemplate) { t.Type = "leisure" },
		"end before start": func(t *model.TaskTemplate) { t.EndTime = clock.MustParse("08:00") },
		"negative notify":  func(t *model.TaskTemplate) { t.Notifications = []model.Notification{{MinutesBefore: -1}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tpl := weekTemplate()
			mutate(&tpl)
			_, err := Expand(tpl, Config{Location: time.UTC})
			assert.ErrorIs(t, err, ErrInvalidTemplate)
		})
	}
}

func TestValidate_ReversedRangeIgnoredWhenNotRecurring(t *testing.T) {
	tpl := weekTemplate()
	tpl.EndDate = ptr(date(2023, 12, 31))
	tpl.HasEndDate = false
	assert.NoError(t, Validate(tpl, time.UTC))
}

func TestWeekdayNames(t *testing.T) {
	assert.Equal(t, "sunday", WeekdayName(time.Sunday))
	assert.Equal(t, "friday", NameForRRuleWeekday(weekdays["friday"]))
}

func TestParseWeekday(t *testing.T) {
	w, ok := ParseWeekday("thursday")
	assert.True(t, ok)
	assert.Equal(t, "thursday", NameForRRuleWeekday(w))

	_, ok = ParseWeekday("thu")
	assert.False(t, ok)
}
