package scheduler

import (
	"context"
	"time"

	"taskline/internal/ics"
	appLog "taskline/internal/log"
	"taskline/internal/planner"
	"taskline/internal/timeline"
)

const (
	JobFeedRefresh = "feed-refresh"
	JobDigest      = "digest"
)

// FeedRefresh imports every configured feed. Partial failures are returned so
// the scheduler logs them; whatever imported stays imported.
func FeedRefresh(s *ics.Syncer) JobFunc {
	return func(ctx context.Context) error {
		_, err := s.Sync(ctx)
		return err
	}
}

// Summary condenses one day's timeline for the digest line.
type Summary struct {
	Date        time.Time
	Tasks       int
	Open        int
	BusyMinutes int
	FreeMinutes int
	Overlaps    int
	// First is the title of the earliest open task, if any.
	First string
}

// Summarize counts busy, free and overlapping time in d.
func Summarize(d planner.Day) Summary {
	sum := Summary{Date: d.Date, Tasks: len(d.Tasks)}
	for _, t := range d.Tasks {
		if !t.IsCompleted {
			sum.Open++
		}
	}
	for _, sl := range d.Slots {
		if sl.IsFreeTime {
			sum.FreeMinutes += sl.Minutes()
			continue
		}
		sum.BusyMinutes += sl.Minutes()
		if sl.HasOverlap {
			sum.Overlaps++
		}
		if sum.First == "" {
			sum.First = firstOpen(sl)
		}
	}
	return sum
}

func firstOpen(sl timeline.Slot) string {
	for _, t := range sl.Tasks {
		if !t.IsCompleted {
			return t.Title
		}
	}
	return ""
}

// Digest logs today's agenda.
func Digest(p *planner.Service) JobFunc {
	return func(ctx context.Context) error {
		d, err := p.Day(ctx, p.Today())
		if err != nil {
			return err
		}
		sum := Summarize(d)
		appLog.Info("daily agenda",
			"date", sum.Date.Format(time.DateOnly),
			"tasks", sum.Tasks,
			"open", sum.Open,
			"busy_min", sum.BusyMinutes,
			"free_min", sum.FreeMinutes,
			"overlaps", sum.Overlaps,
			"first", sum.First,
		)
		return nil
	}
}
