// Package store persists recurrence records and task instances. It stands in
// for the hosted document store: callers hand it rows, it assigns IDs.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"taskline/internal/model"
)

var ErrNotFound = errors.New("not found")

// Repo is the persistence collaborator used by the planner.
type Repo interface {
	CreateRecurrence(ctx context.Context, r model.Recurrence) (model.Recurrence, error)
	GetRecurrence(ctx context.Context, id string) (model.Recurrence, error)
	ListRecurrences(ctx context.Context) ([]model.Recurrence, error)
	DeleteRecurrence(ctx context.Context, id string) error

	CreateInstance(ctx context.Context, t model.TaskInstance) (model.TaskInstance, error)
	// CreateInstances stores ts in one commit. Either all of them are kept
	// or none are.
	CreateInstances(ctx context.Context, ts []model.TaskInstance) ([]model.TaskInstance, error)
	GetInstance(ctx context.Context, id string) (model.TaskInstance, error)
	ListInstances(ctx context.Context, f Filter) ([]model.TaskInstance, error)
	SetCompleted(ctx context.Context, id string, completed bool) (model.TaskInstance, error)
	DeleteInstance(ctx context.Context, id string) error

	// HasSource reports whether anything was already imported from an
	// iCalendar UID.
	HasSource(ctx context.Context, uid string) (bool, error)
}

type state struct {
	Recurrences map[string]model.Recurrence   `json:"recurrences"`
	Instances   map[string]model.TaskInstance `json:"instances"`
}

func newState() state {
	return state{
		Recurrences: map[string]model.Recurrence{},
		Instances:   map[string]model.TaskInstance{},
	}
}

// MemoryRepo keeps everything in process memory.
type MemoryRepo struct {
	mu sync.RWMutex
	s  state

	// persist, if set, runs after every successful mutation with the lock
	// held. FileRepo uses it to write through.
	persist func(state) error
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{s: newState()}
}

func newID() string {
	return uuid.NewString()
}

func (r *MemoryRepo) commit() error {
	if r.persist == nil {
		return nil
	}
	return r.persist(r.s)
}

func (r *MemoryRepo) CreateRecurrence(ctx context.Context, rec model.Recurrence) (model.Recurrence, error) {
	if err := ctx.Err(); err != nil {
		return model.Recurrence{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.ID == "" {
		rec.ID = newID()
	}
	r.s.Recurrences[rec.ID] = rec
	if err := r.commit(); err != nil {
		delete(r.s.Recurrences, rec.ID)
		return model.Recurrence{}, err
	}
	return rec, nil
}

func (r *MemoryRepo) GetRecurrence(ctx context.Context, id string) (model.Recurrence, error) {
	if err := ctx.Err(); err != nil {
		return model.Recurrence{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.s.Recurrences[id]
	if !ok {
		return model.Recurrence{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepo) ListRecurrences(ctx context.Context) ([]model.Recurrence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Recurrence, 0, len(r.s.Recurrences))
	for _, rec := range r.s.Recurrences {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteRecurrence removes the record and every instance generated from it.
func (r *MemoryRepo) DeleteRecurrence(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.s.Recurrences[id]; !ok {
		return ErrNotFound
	}
	delete(r.s.Recurrences, id)
	for iid, inst := range r.s.Instances {
		if inst.RecurrenceID == id {
			delete(r.s.Instances, iid)
		}
	}
	return r.commit()
}

func (r *MemoryRepo) CreateInstance(ctx context.Context, t model.TaskInstance) (model.TaskInstance, error) {
	if err := ctx.Err(); err != nil {
		return model.TaskInstance{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ID == "" {
		t.ID = newID()
	}
	r.s.Instances[t.ID] = t
	if err := r.commit(); err != nil {
		delete(r.s.Instances, t.ID)
		return model.TaskInstance{}, err
	}
	return t, nil
}

func (r *MemoryRepo) CreateInstances(ctx context.Context, ts []model.TaskInstance) ([]model.TaskInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ts) == 0 {
		return []model.TaskInstance{}, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.TaskInstance, 0, len(ts))
	for _, t := range ts {
		if t.ID == "" {
			t.ID = newID()
		}
		out = append(out, t)
	}

	prev := make(map[string]model.TaskInstance)
	for _, t := range out {
		if old, ok := r.s.Instances[t.ID]; ok {
			prev[t.ID] = old
		}
		r.s.Instances[t.ID] = t
	}
	if err := r.commit(); err != nil {
		for _, t := range out {
			if old, ok := prev[t.ID]; ok {
				r.s.Instances[t.ID] = old
			} else {
				delete(r.s.Instances, t.ID)
			}
		}
		return nil, err
	}
	return out, nil
}

func (r *MemoryRepo) GetInstance(ctx context.Context, id string) (model.TaskInstance, error) {
	if err := ctx.Err(); err != nil {
		return model.TaskInstance{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.s.Instances[id]
	if !ok {
		return model.TaskInstance{}, ErrNotFound
	}
	return t, nil
}

// ListInstances returns matching instances ordered by start time, then ID.
func (r *MemoryRepo) ListInstances(ctx context.Context, f Filter) ([]model.TaskInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.TaskInstance, 0)
	for _, t := range r.s.Instances {
		if Match(f, t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepo) SetCompleted(ctx context.Context, id string, completed bool) (model.TaskInstance, error) {
	if err := ctx.Err(); err != nil {
		return model.TaskInstance{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.s.Instances[id]
	if !ok {
		return model.TaskInstance{}, ErrNotFound
	}
	prev := t
	t.IsCompleted = completed
	r.s.Instances[id] = t
	if err := r.commit(); err != nil {
		r.s.Instances[id] = prev
		return model.TaskInstance{}, err
	}
	return t, nil
}

func (r *MemoryRepo) DeleteInstance(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.s.Instances[id]; !ok {
		return ErrNotFound
	}
	delete(r.s.Instances, id)
	return r.commit()
}

func (r *MemoryRepo) HasSource(ctx context.Context, uid string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if uid == "" {
		return false, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.s.Recurrences {
		if rec.SourceUID == uid {
			return true, nil
		}
	}
	for _, t := range r.s.Instances {
		if t.SourceUID == uid {
			return true, nil
		}
	}
	return false, nil
}
