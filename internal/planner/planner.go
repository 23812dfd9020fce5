// Package planner wires the recurrence expander and the timeline builder to
// the store: creating a task persists its recurrence record and instances,
// and a day view queries one day and lays it out.
package planner

import (
	"context"
	"fmt"
	"time"

	"taskline/internal/clock"
	appLog "taskline/internal/log"
	"taskline/internal/model"
	"taskline/internal/recurrence"
	"taskline/internal/store"
	"taskline/internal/timeline"
)

// Options configures a Service.
type Options struct {
	// Location is the wall-clock zone for dates and times of day. If nil,
	// time.Local is used.
	Location *time.Location

	// MaxInstances caps how many instances a single template can create.
	MaxInstances int

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

// Service is safe for concurrent use as long as its Repo is.
type Service struct {
	repo store.Repo
	opts Options
}

// Created is the outcome of CreateTask.
type Created struct {
	// Recurrence is nil for one-off tasks.
	Recurrence *model.Recurrence
	Instances  []model.TaskInstance
	Truncated  bool
}

// Day is a rendered day view.
type Day struct {
	Date  time.Time
	Tasks []model.TaskInstance
	Slots []timeline.Slot
}

func New(repo store.Repo, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{repo: repo, opts: opts}
}

func (s *Service) Location() *time.Location {
	return s.opts.Location
}

// Today is local midnight of the current day.
func (s *Service) Today() time.Time {
	return clock.Midnight(s.opts.Now(), s.opts.Location)
}

// CreateTask validates tpl, stores a recurrence record when tpl recurs, then
// expands it and stores the instances in one batch. A recurring template
// whose range matches no weekday still gets its recurrence record and zero
// instances. On failure nothing created by the call is left in the store.
func (s *Service) CreateTask(ctx context.Context, tpl model.TaskTemplate) (Created, error) {
	return s.createTask(ctx, tpl, "")
}

// ImportTask is CreateTask for templates read from an iCalendar source. It
// tags everything it creates with sourceUID.
func (s *Service) ImportTask(ctx context.Context, tpl model.TaskTemplate, sourceUID string) (Created, error) {
	return s.createTask(ctx, tpl, sourceUID)
}

func (s *Service) createTask(ctx context.Context, tpl model.TaskTemplate, sourceUID string) (Created, error) {
	var out Created

	if err := recurrence.Validate(tpl, s.opts.Location); err != nil {
		return out, err
	}

	cfg := recurrence.Config{
		Location:     s.opts.Location,
		MaxInstances: s.opts.MaxInstances,
	}

	if tpl.Recurring() {
		typ, _ := model.ParseTaskType(string(tpl.Type))
		tpl.Type = typ
		rec := model.NewRecurrence(tpl, recurrence.RuleString(tpl, s.opts.Location), s.opts.Now())
		rec.SourceUID = sourceUID
		rec.StartDate = clock.Midnight(rec.StartDate, s.opts.Location)
		rec.EndDate = clock.Midnight(rec.EndDate, s.opts.Location)

		saved, err := s.repo.CreateRecurrence(ctx, rec)
		if err != nil {
			return out, fmt.Errorf("planner: save recurrence: %w", err)
		}
		out.Recurrence = &saved
		cfg.RecurrenceID = saved.ID
	}

	res, err := recurrence.Expand(tpl, cfg)
	if err != nil {
		s.rollback(out.Recurrence)
		return Created{}, err
	}
	out.Truncated = res.Truncated

	if out.Recurrence != nil && len(res.Instances) == 0 {
		appLog.Warn("recurrence matched no days",
			"recurrence_id", out.Recurrence.ID,
			"title", tpl.Title,
			"rule", res.Rule,
		)
	}

	for i := range res.Instances {
		res.Instances[i].SourceUID = sourceUID
	}
	saved, err := s.repo.CreateInstances(ctx, res.Instances)
	if err != nil {
		s.rollback(out.Recurrence)
		return Created{}, fmt.Errorf("planner: save %d instances for %q: %w", len(res.Instances), tpl.Title, err)
	}
	out.Instances = saved

	appLog.Info("task created",
		"title", tpl.Title,
		"recurring", out.Recurrence != nil,
		"instances", len(out.Instances),
	)
	return out, nil
}

// rollback removes a recurrence record whose instances could not be stored,
// so a retried import does not see its UID as already done.
func (s *Service) rollback(rec *model.Recurrence) {
	if rec == nil {
		return
	}
	// The request context may be what failed the write.
	if err := s.repo.DeleteRecurrence(context.Background(), rec.ID); err != nil {
		appLog.Error("planner: rollback recurrence failed", err, "recurrence_id", rec.ID)
	}
}

// Day returns the tasks and timeline for the calendar day containing date.
func (s *Service) Day(ctx context.Context, date time.Time) (Day, error) {
	day := clock.Midnight(date, s.opts.Location)

	tasks, err := s.repo.ListInstances(ctx, store.ByDate{Day: day})
	if err != nil {
		return Day{}, fmt.Errorf("planner: list %s: %w", day.Format(time.DateOnly), err)
	}
	return Day{
		Date:  day,
		Tasks: tasks,
		Slots: timeline.Build(tasks, day, s.opts.Location),
	}, nil
}

// List returns instances matching f.
func (s *Service) List(ctx context.Context, f store.Filter) ([]model.TaskInstance, error) {
	return s.repo.ListInstances(ctx, f)
}

// Recurrences lists every stored recurrence record.
func (s *Service) Recurrences(ctx context.Context) ([]model.Recurrence, error) {
	return s.repo.ListRecurrences(ctx)
}

func (s *Service) Recurrence(ctx context.Context, id string) (model.Recurrence, error) {
	return s.repo.GetRecurrence(ctx, id)
}

func (s *Service) SetCompleted(ctx context.Context, id string, completed bool) (model.TaskInstance, error) {
	return s.repo.SetCompleted(ctx, id, completed)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteInstance(ctx, id)
}

// DeleteRecurrence removes a recurrence record and all of its instances.
func (s *Service) DeleteRecurrence(ctx context.Context, id string) error {
	return s.repo.DeleteRecurrence(ctx, id)
}

// Imported reports whether a source UID was already imported.
func (s *Service) Imported(ctx context.Context, uid string) (bool, error) {
	return s.repo.HasSource(ctx, uid)
}
