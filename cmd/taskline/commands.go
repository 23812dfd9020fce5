package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"taskline/internal/clock"
	"taskline/internal/ics"
	appLog "taskline/internal/log"
	"taskline/internal/model"
	"taskline/internal/planner"
	"taskline/internal/scheduler"
	"taskline/internal/web"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API with scheduled feed refresh and daily digest.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "listen address (overrides config)", EnvVars: []string{"TASKLINE_LISTEN"}},
			&cli.BoolFlag{Name: "no-refresh", Usage: "skip the feed refresh at startup"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			if v := c.String("listen"); v != "" {
				e.cfg.Listen = v
			}

			appLog.Info("taskline starting",
				"version", version,
				"listen", e.cfg.Listen,
				"timezone", e.planner.Location().String(),
				"data", e.repo.Path(),
				"feeds", len(e.cfg.Feeds),
				"refresh", e.cfg.RefreshCron,
				"digest", e.cfg.DigestCron,
			)

			syncer, err := e.syncer(nil)
			if err != nil {
				return err
			}

			sched := scheduler.New(e.planner.Location())
			if len(syncer.Sources) > 0 {
				if err := sched.Add(scheduler.JobFeedRefresh, e.cfg.RefreshCron, scheduler.FeedRefresh(syncer)); err != nil {
					return err
				}
			}
			if err := sched.Add(scheduler.JobDigest, e.cfg.DigestCron, scheduler.Digest(e.planner)); err != nil {
				return err
			}

			// Root context with cancellation on SIGINT/SIGTERM.
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case sig := <-sigCh:
					appLog.Info("signal received, shutting down", "signal", sig.String())
					cancel()
				case <-ctx.Done():
				}
			}()

			if len(syncer.Sources) > 0 && !c.Bool("no-refresh") {
				go func() { _ = sched.RunNow(scheduler.JobFeedRefresh) }()
			}
			sched.Start()

			srv := &http.Server{
				Addr:              e.cfg.Listen,
				Handler:           web.NewServer(e.cfg, e.planner, syncer).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				appLog.Info("starting HTTP server", "listen", "http://"+e.cfg.Listen)
				errCh <- srv.ListenAndServe()
			}()

			var serveErr error
			select {
			case <-ctx.Done():
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					serveErr = err
				}
			}

			shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stop()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				appLog.Error("http shutdown failed", err)
			}
			if err := sched.Stop(shutdownCtx); err != nil {
				appLog.Error("scheduler stop timed out", err)
			}
			appLog.Info("taskline exiting")
			return serveErr
		},
	}
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Create a task, optionally repeating until a date.",
		ArgsUsage: "TITLE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Usage: "first day, YYYY-MM-DD (default today)"},
			&cli.StringFlag{Name: "until", Usage: "last day of the repetition, YYYY-MM-DD"},
			&cli.StringFlag{Name: "start", Value: "09:00", Usage: "start time HH:MM"},
			&cli.StringFlag{Name: "end", Value: "10:00", Usage: "end time HH:MM (24:00 allowed)"},
			&cli.StringSliceFlag{Name: "on", Usage: "weekday to repeat on (repeatable), e.g. --on monday"},
			&cli.StringFlag{Name: "type", Value: "personal", Usage: "personal, work or emergency"},
			&cli.StringSliceFlag{Name: "tag", Usage: "tag (repeatable)"},
			&cli.StringFlag{Name: "description", Aliases: []string{"d"}},
			&cli.IntSliceFlag{Name: "remind", Usage: "reminder N minutes before start (repeatable)"},
		},
		Action: func(c *cli.Context) error {
			title := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if title == "" {
				return cli.Exit("add needs a TITLE", 2)
			}
			e, err := setup(c)
			if err != nil {
				return err
			}

			tpl, err := templateFromFlags(c, e, title)
			if err != nil {
				return err
			}
			created, err := e.planner.CreateTask(c.Context, tpl)
			if err != nil {
				return err
			}

			w := c.App.Writer
			if created.Recurrence != nil {
				fmt.Fprintf(w, "recurrence %s (%s)\n", created.Recurrence.ID, created.Recurrence.Rule)
			}
			for _, t := range created.Instances {
				fmt.Fprintf(w, "%s  %s  %s-%s  %s\n", t.ID, t.Date.Format(time.DateOnly),
					clock.Of(t.Start, t.Date, e.planner.Location()),
					clock.Of(t.End, t.Date, e.planner.Location()), t.Title)
			}
			if created.Truncated {
				fmt.Fprintf(w, "warning: stopped after %d instances\n", len(created.Instances))
			}
			return nil
		},
	}
}

func templateFromFlags(c *cli.Context, e *env, title string) (model.TaskTemplate, error) {
	typ, err := model.ParseTaskType(c.String("type"))
	if err != nil {
		return model.TaskTemplate{}, err
	}
	start, err := e.dateFlag(c, "date")
	if err != nil {
		return model.TaskTemplate{}, err
	}
	startTime, err := clock.Parse(c.String("start"))
	if err != nil {
		return model.TaskTemplate{}, err
	}
	endTime, err := clock.Parse(c.String("end"))
	if err != nil {
		return model.TaskTemplate{}, err
	}

	tpl := model.TaskTemplate{
		Title:       title,
		Description: c.String("description"),
		Type:        typ,
		Tags:        c.StringSlice("tag"),
		StartDate:   start,
		StartTime:   startTime,
		EndTime:     endTime,
	}
	for _, d := range c.StringSlice("on") {
		tpl.WeekDays = append(tpl.WeekDays, strings.ToLower(d))
	}
	for _, m := range c.IntSlice("remind") {
		tpl.Notifications = append(tpl.Notifications, model.Notification{MinutesBefore: m})
	}
	if c.IsSet("until") {
		until, err := e.dateFlag(c, "until")
		if err != nil {
			return model.TaskTemplate{}, err
		}
		tpl.EndDate = &until
		tpl.HasEndDate = true
	}
	return tpl, nil
}

func dayCommand() *cli.Command {
	return &cli.Command{
		Name:  "day",
		Usage: "Print one day as a timeline of busy and free slots.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Usage: "YYYY-MM-DD (default today)"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			date, err := e.dateFlag(c, "date")
			if err != nil {
				return err
			}
			day, err := e.planner.Day(c.Context, date)
			if err != nil {
				return err
			}
			printDay(c.App.Writer, day)
			return nil
		},
	}
}

func printDay(w io.Writer, day planner.Day) {
	fmt.Fprintf(w, "%s\n", day.Date.Format("Monday, 2006-01-02"))
	for _, sl := range day.Slots {
		if sl.IsFreeTime {
			fmt.Fprintf(w, "  %s-%s  %s\n", sl.Start, sl.End, sl.Label)
			continue
		}
		titles := make([]string, 0, len(sl.Tasks))
		for _, t := range sl.Tasks {
			mark := " "
			if t.IsCompleted {
				mark = "x"
			}
			titles = append(titles, fmt.Sprintf("[%s] %s (%s)", mark, t.Title, t.ID))
		}
		overlap := ""
		if sl.HasOverlap {
			overlap = "  !overlap"
		}
		fmt.Fprintf(w, "  %s-%s  %s%s\n", sl.Start, sl.End, strings.Join(titles, ", "), overlap)
	}
}

func completeCommand() *cli.Command {
	return &cli.Command{
		Name:      "done",
		Usage:     "Mark a task instance completed (or --undo).",
		ArgsUsage: "ID",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "undo", Usage: "mark as not completed"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("done needs exactly one task ID", 2)
			}
			e, err := setup(c)
			if err != nil {
				return err
			}
			t, err := e.planner.SetCompleted(c.Context, c.Args().First(), !c.Bool("undo"))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s  %s  completed=%t\n", t.ID, t.Title, t.IsCompleted)
			return nil
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import iCalendar files or URLs as tasks (configured feeds when none given).",
		ArgsUsage: "[FILE|URL ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Usage: "task type for imported events"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			typ, err := model.ParseTaskType(c.String("type"))
			if err != nil {
				return err
			}

			var sources []ics.Source
			for i, arg := range c.Args().Slice() {
				sources = append(sources, ics.Source{ID: fmt.Sprintf("arg-%d", i+1), URL: arg, Type: typ})
			}
			s, err := e.syncer(sources)
			if err != nil {
				return err
			}
			if len(s.Sources) == 0 {
				return cli.Exit("nothing to import: pass files or configure feeds", 2)
			}

			stats, err := s.Sync(c.Context)
			fmt.Fprintf(c.App.Writer, "created %d tasks (%d instances), skipped %d, failed %d\n",
				stats.Created, stats.Instances, stats.Skipped, stats.Failed)
			return err
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write a day's tasks, or one recurrence, as iCalendar.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Usage: "YYYY-MM-DD (default today)"},
			&cli.StringFlag{Name: "recurrence", Usage: "export this recurrence as one repeating event"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default stdout)"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}

			var body string
			if id := c.String("recurrence"); id != "" {
				rec, err := e.planner.Recurrence(c.Context, id)
				if err != nil {
					return fmt.Errorf("recurrence %s: %w", id, err)
				}
				if body, err = ics.ExportRecurrence(rec, e.planner.Location(), time.Now()); err != nil {
					return err
				}
			} else {
				date, err := e.dateFlag(c, "date")
				if err != nil {
					return err
				}
				day, err := e.planner.Day(c.Context, date)
				if err != nil {
					return err
				}
				body = ics.ExportInstances(day.Tasks, time.Now())
			}

			if out := c.String("out"); out != "" {
				return os.WriteFile(out, []byte(body), 0o600)
			}
			_, err = io.WriteString(c.App.Writer, body)
			return err
		},
	}
}
