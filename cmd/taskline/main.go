package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"taskline/internal/clock"
	"taskline/internal/config"
	"taskline/internal/ics"
	appLog "taskline/internal/log"
	"taskline/internal/model"
	"taskline/internal/planner"
	"taskline/internal/store"
)

const version = "0.1.0"

func main() {
	// Load .env first; a missing file is fine.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		appLog.Error("taskline failed", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "taskline",
		Usage:   "Plan recurring tasks and see each day as busy and free time.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "./taskline.yaml",
				Usage:   "path to the YAML config (created with defaults if missing)",
				EnvVars: []string{"TASKLINE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error (overrides config)",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			addCommand(),
			dayCommand(),
			completeCommand(),
			importCommand(),
			exportCommand(),
		},
	}
}

// env is what every command needs: effective config, the open store and the
// planner on top of it.
type env struct {
	cfg     *config.Config
	repo    *store.FileRepo
	planner *planner.Service
}

func setup(c *cli.Context) (*env, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	repo, err := store.NewFileRepo(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:  cfg,
		repo: repo,
		planner: planner.New(repo, planner.Options{
			Location:     loc,
			MaxInstances: cfg.MaxInstances,
		}),
	}, nil
}

// syncer builds a feed importer for sources, or for the configured feeds
// when sources is empty.
func (e *env) syncer(sources []ics.Source) (*ics.Syncer, error) {
	if len(sources) == 0 {
		for _, f := range e.cfg.Feeds {
			typ, err := model.ParseTaskType(f.Type)
			if err != nil {
				return nil, fmt.Errorf("feed %s: %w", f.ID, err)
			}
			sources = append(sources, ics.Source{ID: f.ID, URL: f.URL, Type: typ})
		}
	}
	return &ics.Syncer{
		Fetcher: ics.NewFetcher(e.cfg.FeedCacheDir(), nil),
		Sources: sources,
		Target:  e.planner,
		Options: ics.ParseOptions{
			Location:    e.planner.Location(),
			HorizonDays: e.cfg.HorizonDays,
		},
	}, nil
}

// dateFlag resolves a YYYY-MM-DD flag value, defaulting to today.
func (e *env) dateFlag(c *cli.Context, name string) (time.Time, error) {
	v := c.String(name)
	if v == "" {
		return e.planner.Today(), nil
	}
	d, err := clock.ParseDate(v, e.planner.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD: %w", name, err)
	}
	return d, nil
}
