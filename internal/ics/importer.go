package ics

import (
	"context"
	"errors"
	"sync"
	"time"

	appLog "taskline/internal/log"
	"taskline/internal/model"
	"taskline/internal/planner"
)

// TaskImporter is the part of the planner an import needs.
type TaskImporter interface {
	ImportTask(ctx context.Context, tpl model.TaskTemplate, sourceUID string) (planner.Created, error)
	Imported(ctx context.Context, uid string) (bool, error)
}

// ImportStats summarizes one import run.
type ImportStats struct {
	Created   int `json:"created"`   // templates turned into tasks
	Instances int `json:"instances"` // task instances written
	Skipped   int `json:"skipped"`   // UIDs imported by an earlier run
	Failed    int `json:"failed"`
}

// Import creates tasks for items whose UID has not been imported yet, so
// re-importing the same feed is a no-op.
func Import(ctx context.Context, dst TaskImporter, items []Item) (ImportStats, error) {
	var stats ImportStats
	var errs []error

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		done, err := dst.Imported(ctx, it.UID)
		if err != nil {
			return stats, err
		}
		if done {
			stats.Skipped++
			continue
		}

		created, err := dst.ImportTask(ctx, it.Template, it.UID)
		if err != nil {
			stats.Failed++
			errs = append(errs, err)
			appLog.Error("import item failed", err, "uid", it.UID, "title", it.Template.Title)
			continue
		}
		stats.Created++
		stats.Instances += len(created.Instances)
	}
	return stats, errors.Join(errs...)
}

// Syncer pulls subscribed feeds and imports them. Concurrent Sync calls run
// one after another.
type Syncer struct {
	Fetcher *Fetcher
	Sources []Source
	Target  TaskImporter
	Options ParseOptions

	mu sync.Mutex
}

// Sync fetches every source and imports what parses. Per-source failures are
// logged and joined into the returned error; the remaining sources still run.
func (s *Syncer) Sync(ctx context.Context) (ImportStats, error) {
	var total ImportStats
	if len(s.Sources) == 0 {
		return total, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	results, errs := s.Fetcher.FetchAll(ctx, s.Sources)

	for _, res := range results {
		opts := s.Options
		if res.Source.Type != "" {
			opts.Type = res.Source.Type
		}
		items, err := ParseTemplates(res.Source, res.Body, opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		stats, err := Import(ctx, s.Target, items)
		total.Created += stats.Created
		total.Instances += stats.Instances
		total.Skipped += stats.Skipped
		total.Failed += stats.Failed
		if err != nil {
			errs = append(errs, err)
		}
	}

	appLog.Info("feed sync finished",
		"sources", len(s.Sources),
		"created", total.Created,
		"instances", total.Instances,
		"skipped", total.Skipped,
		"failed", total.Failed,
		"took", time.Since(started).Round(time.Millisecond),
	)
	return total, errors.Join(errs...)
}
