package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/clock"
	"taskline/internal/model"
	"taskline/internal/recurrence"
	"taskline/internal/store"
)

var now = time.Date(2024, 1, 3, 7, 30, 0, 0, time.UTC)

func newService(repo store.Repo) *Service {
	return New(repo, Options{
		Location: time.UTC,
		Now:      func() time.Time { return now },
	})
}

func ptr[T any](v T) *T { return &v }

func template(title, start, end string) model.TaskTemplate {
	return model.TaskTemplate{
		Title:     title,
		Type:      model.TypeWork,
		StartDate: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		StartTime: clock.MustParse(start),
		EndTime:   clock.MustParse(end),
	}
}

func TestCreateTask_OneOff(t *testing.T) {
	svc := newService(store.NewMemoryRepo())

	created, err := svc.CreateTask(context.Background(), template("review", "09:00", "10:00"))
	require.NoError(t, err)

	assert.Nil(t, created.Recurrence)
	require.Len(t, created.Instances, 1)
	assert.NotEmpty(t, created.Instances[0].ID)
	assert.Empty(t, created.Instances[0].RecurrenceID)
}

func TestCreateTask_RecurringSharesRecurrenceID(t *testing.T) {
	repo := store.NewMemoryRepo()
	svc := newService(repo)
	ctx := context.Background()

	tpl := template("standup", "09:00", "09:15")
	tpl.StartDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tpl.EndDate = ptr(time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC))
	tpl.HasEndDate = true
	tpl.WeekDays = []string{"monday", "wednesday"}

	created, err := svc.CreateTask(ctx, tpl)
	require.NoError(t, err)
	require.NotNil(t, created.Recurrence)
	require.Len(t, created.Instances, 2)

	for _, inst := range created.Instances {
		assert.Equal(t, created.Recurrence.ID, inst.RecurrenceID)
	}
	assert.Contains(t, created.Recurrence.Rule, "BYDAY=MO,WE")

	stored, err := svc.List(ctx, store.ByRecurrence{RecurrenceID: created.Recurrence.ID})
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestCreateTask_EmptyRecurrenceStillStoresRecord(t *testing.T) {
	svc := newService(store.NewMemoryRepo())
	ctx := context.Background()

	// 2024-01-03 is a Wednesday.
	tpl := template("yoga", "18:00", "19:00")
	tpl.EndDate = ptr(tpl.StartDate)
	tpl.HasEndDate = true
	tpl.WeekDays = []string{"sunday"}

	created, err := svc.CreateTask(ctx, tpl)
	require.NoError(t, err)
	assert.NotNil(t, created.Recurrence)
	assert.Empty(t, created.Instances)

	recs, err := svc.Recurrences(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestCreateTask_InvalidTemplateStoresNothing(t *testing.T) {
	repo := store.NewMemoryRepo()
	svc := newService(repo)
	ctx := context.Background()

	tpl := template("broken", "09:00", "10:00")
	tpl.EndDate = ptr(tpl.StartDate.AddDate(0, 0, -1))
	tpl.HasEndDate = true

	_, err := svc.CreateTask(ctx, tpl)
	assert.ErrorIs(t, err, recurrence.ErrInvalidTemplate)

	recs, err := svc.Recurrences(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDay_BuildsTimelineForToday(t *testing.T) {
	svc := newService(store.NewMemoryRepo())
	ctx := context.Background()

	_, err := svc.CreateTask(ctx, template("a", "09:00", "10:00"))
	require.NoError(t, err)
	_, err = svc.CreateTask(ctx, template("b", "09:30", "10:30"))
	require.NoError(t, err)

	other := template("tomorrow", "09:00", "10:00")
	other.StartDate = other.StartDate.AddDate(0, 0, 1)
	_, err = svc.CreateTask(ctx, other)
	require.NoError(t, err)

	day, err := svc.Day(ctx, svc.Today())
	require.NoError(t, err)

	assert.Len(t, day.Tasks, 2)
	require.Len(t, day.Slots, 3)
	assert.True(t, day.Slots[1].HasOverlap)
	assert.Equal(t, "10:30", day.Slots[1].End.String())
}

func TestCompletionAndDelete(t *testing.T) {
	svc := newService(store.NewMemoryRepo())
	ctx := context.Background()

	created, err := svc.CreateTask(ctx, template("a", "09:00", "10:00"))
	require.NoError(t, err)
	id := created.Instances[0].ID

	inst, err := svc.SetCompleted(ctx, id, true)
	require.NoError(t, err)
	assert.True(t, inst.IsCompleted)

	require.NoError(t, svc.Delete(ctx, id))
	assert.ErrorIs(t, svc.Delete(ctx, id), store.ErrNotFound)
}

type failingRepo struct {
	*store.MemoryRepo
}

func (failingRepo) CreateInstances(context.Context, []model.TaskInstance) ([]model.TaskInstance, error) {
	return nil, errors.New("backend down")
}

func TestCreateTask_PropagatesStoreErrors(t *testing.T) {
	svc := newService(failingRepo{store.NewMemoryRepo()})

	_, err := svc.CreateTask(context.Background(), template("a", "09:00", "10:00"))
	assert.ErrorContains(t, err, "backend down")
}

func TestImportTask_FailedWriteLeavesNothingBehind(t *testing.T) {
	mem := store.NewMemoryRepo()
	svc := newService(failingRepo{mem})
	ctx := context.Background()

	tpl := template("standup", "09:00", "09:15")
	tpl.StartDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tpl.EndDate = ptr(time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC))
	tpl.HasEndDate = true

	_, err := svc.ImportTask(ctx, tpl, "uid-9@example.com")
	require.ErrorContains(t, err, "backend down")

	recs, err := mem.ListRecurrences(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
	insts, err := mem.ListInstances(ctx, store.All{})
	require.NoError(t, err)
	assert.Empty(t, insts)

	imported, err := svc.Imported(ctx, "uid-9@example.com")
	require.NoError(t, err)
	assert.False(t, imported, "a failed import must be retried on the next sync")

	// The same import succeeds once the store works again.
	created, err := newService(mem).ImportTask(ctx, tpl, "uid-9@example.com")
	require.NoError(t, err)
	assert.Len(t, created.Instances, 7)
}

func TestImportTask_TagsSource(t *testing.T) {
	svc := newService(store.NewMemoryRepo())
	ctx := context.Background()

	_, err := svc.ImportTask(ctx, template("a", "09:00", "10:00"), "uid-7@example.com")
	require.NoError(t, err)

	ok, err := svc.Imported(ctx, "uid-7@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}
