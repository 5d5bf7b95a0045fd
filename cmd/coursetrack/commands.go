package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/Impulse-Zero/python.github.io/internal/api"
	"github.com/Impulse-Zero/python.github.io/internal/config"
	"github.com/Impulse-Zero/python.github.io/internal/events"
	"github.com/Impulse-Zero/python.github.io/internal/logger"
	"github.com/Impulse-Zero/python.github.io/internal/metrics"
	"github.com/Impulse-Zero/python.github.io/internal/page"
	"github.com/Impulse-Zero/python.github.io/internal/progress"
	"github.com/Impulse-Zero/python.github.io/internal/rules"
	"github.com/Impulse-Zero/python.github.io/internal/server"
	"github.com/Impulse-Zero/python.github.io/internal/shell"
	"github.com/Impulse-Zero/python.github.io/internal/storage"
	"github.com/Impulse-Zero/python.github.io/internal/tracker"
)

// environment is everything a command needs, built from the configuration
type environment struct {
	cfg     *config.Config
	log     *logger.Logger
	backend storage.Backend
	deps    page.Deps
}

func setup(c *cli.Context) (*environment, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if profile := c.String("profile"); profile != "" {
		cfg.Storage.Profile = profile
	}

	logger.ForceSetup(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     logger.ParseLogFormat(cfg.Logging.Format),
		Output:     c.App.ErrWriter,
		TimeFormat: time.RFC3339,
	})
	log := logger.Get()

	r, err := rules.Load(cfg.Tracker.RulesFile)
	if err != nil {
		return nil, err
	}

	backend, err := storage.Open(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	return &environment{
		cfg:     cfg,
		log:     log,
		backend: backend,
		deps: page.Deps{
			Backend: backend,
			Repo:    progress.NewRepository(backend, log),
			Tracker: tracker.OptionsFromConfig(cfg, r),
			Log:     log,
		},
	}, nil
}

func (e *environment) Close() {
	if err := e.backend.Close(); err != nil {
		e.log.Warn("Failed to close storage", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func serve(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()
	cfg, log := env.cfg, env.log

	// Set up signal handling
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	env.deps.Metrics = metrics.New()
	if cfg.Redis.Addr != "" {
		relay, err := events.NewRedisRelay(ctx, cfg.Redis.Addr, cfg.Redis.Channel, log)
		if err != nil {
			log.Warn("Redis relay disabled", map[string]interface{}{
				"addr":  cfg.Redis.Addr,
				"error": err.Error(),
			})
		} else {
			defer relay.Close()
			env.deps.Relay = relay
		}
	}

	srv := server.New(cfg, env.deps, log)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-errCh:
		log.Error("Fatal error occurred", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	log.Info("Initiating graceful shutdown...", map[string]interface{}{
		"timeout": cfg.Server.ShutdownTimeout.String(),
	})
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Shutdown completed")
	return nil
}

func status(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()

	rec, err := env.deps.Repo.Load(c.Context)
	if err != nil {
		return fmt.Errorf("failed to load progress: %w", err)
	}

	ids := make([]string, 0, len(rec.Modules))
	for id := range rec.Modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODULE\tNAME\tDONE\tPROGRESS")
	for _, id := range ids {
		m := rec.Modules[id]
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d%%\n", id, m.Name, m.Completed, m.TotalLessons, rec.ModulePercent(id))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	stats := rec.Statistics
	out := c.App.Writer
	fmt.Fprintf(out, "\nOverall progress: %d%%\n", rec.GlobalPercent())
	fmt.Fprintf(out, "Lessons completed: %d (average score %d, total %s)\n",
		stats.TotalLessonsCompleted, stats.AverageScore, humanize.Comma(int64(stats.TotalScore)))
	fmt.Fprintf(out, "Study time: %s\n", (time.Duration(stats.TimeSpent) * time.Minute).String())
	fmt.Fprintf(out, "Streak: %d %s\n", stats.CurrentStreak, plural(stats.CurrentStreak, "day", "days"))
	if stats.LastStudyDate != "" {
		fmt.Fprintf(out, "Last study day: %s\n", stats.LastStudyDate)
	}
	fmt.Fprintf(out, "Last updated: %s\n", humanize.Time(rec.LastUpdated))
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func complete(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()

	score := c.Int("score")
	if score < 0 || score > 100 {
		return fmt.Errorf("score must be between 0 and 100, got %d", score)
	}

	sess, err := page.Open(c.Context, env.deps, page.Options{URL: c.String("url"), HasExercises: true})
	if err != nil {
		return err
	}
	defer sess.Close()

	info := sess.Info()
	if !info.Course {
		return fmt.Errorf("%s is not a course page", c.String("url"))
	}

	var e events.Event = events.ExerciseCompleted{
		ExerciseID: info.Lesson,
		Score:      score,
		Type:       c.String("type"),
	}
	if c.String("type") == progress.CompletionManual {
		e = events.MarkComplete{}
	}
	if err := sess.Publish(e); err != nil {
		return err
	}

	rec, err := sess.Progress()
	if err != nil {
		return err
	}
	info = sess.Info()
	if !rec.IsCompleted(info.Module, info.Lesson) {
		fmt.Fprintf(c.App.Writer, "Lesson %s/%s not completed: score %d is below the passing score %d\n",
			info.Module, info.Lesson, score, env.cfg.Tracker.PassingScore)
		return nil
	}

	lesson := rec.Lesson(info.Module, info.Lesson)
	fmt.Fprintf(c.App.Writer, "Lesson %s/%s completed (score %d, %s)\n",
		info.Module, info.Lesson, lesson.Score, lesson.CompletionType)
	fmt.Fprintf(c.App.Writer, "Module progress: %d%%, overall: %d%%\n", info.ModulePercent, info.GlobalPercent)
	return nil
}

func theme(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()

	bus := events.NewBus("", env.log)
	sh := shell.New(c.Context, bus, env.backend, env.log, shell.Options{})

	current := sh.Theme()
	switch c.Args().First() {
	case "":
	case "toggle":
		current = sh.ToggleTheme(c.Context)
	default:
		return fmt.Errorf("unknown theme action %q", c.Args().First())
	}

	fmt.Fprintln(c.App.Writer, current)
	return nil
}

func apiRequest(method string) cli.ActionFunc {
	return func(c *cli.Context) error {
		endpoint := c.Args().First()
		if endpoint == "" {
			return fmt.Errorf("endpoint is required")
		}

		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client := api.NewClient(api.OptionsFromConfig(cfg), logger.Get())

		var body interface{}
		if method == http.MethodPost {
			data := json.RawMessage(c.String("data"))
			if !json.Valid(data) {
				return fmt.Errorf("--data is not valid JSON")
			}
			body = data
		}

		var out json.RawMessage
		if err := client.Do(c.Context, method, endpoint, body, &out); err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}

		pretty, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, string(pretty))
		return nil
	}
}

func configInit(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = "config.yaml"
	}
	if err := config.WriteFile(path, config.Default(), c.Bool("force")); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Configuration written to %s\n", path)
	return nil
}
