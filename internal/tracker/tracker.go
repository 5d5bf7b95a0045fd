// Package tracker follows a learner through one lesson page: it marks the
// lesson viewed, listens for completion triggers, accumulates study time and
// keeps the progress document saved.
package tracker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Impulse-Zero/python.github.io/internal/config"
	"github.com/Impulse-Zero/python.github.io/internal/events"
	"github.com/Impulse-Zero/python.github.io/internal/logger"
	"github.com/Impulse-Zero/python.github.io/internal/progress"
	"github.com/Impulse-Zero/python.github.io/internal/rules"
	"github.com/Impulse-Zero/python.github.io/internal/shell"
	"github.com/Impulse-Zero/python.github.io/internal/storage"
)

// Namespace prefixes the tracker's UI state documents
const Namespace = "courseNav_"

// Options configure a tracker for one page
type Options struct {
	URL          string
	HasExercises bool
	HasVideo     bool

	Catalog           map[string]config.Module
	// PassingScore is 1 to 100; zero selects the default
	PassingScore      int
	AutosaveInterval  time.Duration
	AutoCompleteAfter time.Duration
	NoticeTTL         time.Duration
	VideoSaveCooldown time.Duration
	Rules             *rules.Rules

	// OnSave observes the result of every save
	OnSave func(err error)
	Now    func() time.Time
}

// OptionsFromConfig fills the tracker settings from cfg
func OptionsFromConfig(cfg *config.Config, r *rules.Rules) Options {
	return Options{
		Catalog:           cfg.Catalog,
		PassingScore:      cfg.Tracker.PassingScore,
		AutosaveInterval:  cfg.Tracker.AutosaveInterval,
		AutoCompleteAfter: cfg.Tracker.AutoCompleteAfter,
		NoticeTTL:         cfg.Tracker.NoticeTTL,
		VideoSaveCooldown: cfg.Tracker.VideoSaveCooldown,
		Rules:             r,
	}
}

func (o *Options) applyDefaults() {
	defaults := config.Default()
	if o.Catalog == nil {
		o.Catalog = defaults.Catalog
	}
	if o.PassingScore <= 0 {
		o.PassingScore = defaults.Tracker.PassingScore
	}
	if o.AutosaveInterval <= 0 {
		o.AutosaveInterval = defaults.Tracker.AutosaveInterval
	}
	if o.AutoCompleteAfter <= 0 {
		o.AutoCompleteAfter = defaults.Tracker.AutoCompleteAfter
	}
	if o.NoticeTTL <= 0 {
		o.NoticeTTL = defaults.Tracker.NoticeTTL
	}
	if o.VideoSaveCooldown <= 0 {
		o.VideoSaveCooldown = defaults.Tracker.VideoSaveCooldown
	}
	if o.Rules == nil {
		o.Rules = rules.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Tracker is the progress context of one lesson page. Module and lesson are
// resolved once from the URL and never change.
type Tracker struct {
	mu     sync.Mutex
	ctx    context.Context
	opts   Options
	module string
	lesson string

	record *progress.Record
	repo   *progress.Repository
	bus    *events.Bus
	shell  *shell.Shell
	store  *storage.Store
	log    *logger.Logger

	unsubscribe []func()
	stop        chan struct{}
	wg          sync.WaitGroup
	dwell       *time.Timer

	lastActivity time.Time
	activeTime   time.Duration
	videoSavedAt time.Time
	closed       bool
}

// New loads progress, marks the current lesson viewed and starts listening
// on bus.
func New(ctx context.Context, bus *events.Bus, sh *shell.Shell, repo *progress.Repository, log *logger.Logger, opts Options) (*Tracker, error) {
	if log == nil {
		log = logger.Get()
	}
	opts.applyDefaults()

	loc, err := ParseLocation(opts.URL)
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		ctx:    context.WithoutCancel(ctx),
		opts:   opts,
		module: loc.ModuleID(),
		lesson: loc.LessonID(),
		repo:   repo,
		bus:    bus,
		shell:  sh,
		store:  sh.NewStore(Namespace),
		stop:   make(chan struct{}),
	}
	t.log = log.Component("tracker").With(map[string]interface{}{
		"module": t.module,
		"lesson": t.lesson,
	})

	rec, err := repo.Load(t.ctx)
	if err != nil {
		sh.ReportError(shell.ErrorStorage, err)
		rec = progress.Seed(opts.Now())
	}
	t.record = rec

	var fx effects
	t.mu.Lock()
	t.markViewedLocked(&fx)
	t.lastActivity = opts.Now()
	t.mu.Unlock()
	fx.run()

	t.unsubscribe = []func(){
		bus.Subscribe(events.KindExerciseCompleted, t.onExerciseCompleted),
		bus.Subscribe(events.KindCodeExecuted, t.onCodeExecuted),
		bus.Subscribe(events.KindVideoProgress, t.onVideoProgress),
		bus.Subscribe(events.KindVideoEnded, t.onVideoEnded),
		bus.Subscribe(events.KindMarkComplete, t.onMarkComplete),
		bus.Subscribe(events.KindUserActivity, t.onUserActivity),
		bus.Subscribe(events.KindBeforeUnload, t.onBeforeUnload),
	}

	// Simple lessons complete themselves once the learner had time to read
	if !opts.HasExercises && !opts.HasVideo {
		t.mu.Lock()
		t.dwell = time.AfterFunc(opts.AutoCompleteAfter, func() {
			t.complete(100, progress.CompletionAuto)
		})
		t.mu.Unlock()
	}

	t.wg.Add(1)
	go t.autosave()

	t.log.Info("Tracker started", map[string]interface{}{
		"has_exercises": opts.HasExercises,
		"has_video":     opts.HasVideo,
	})
	return t, nil
}

// effects collect work that must happen after the lock is released, so that
// subscribers may call back into the tracker.
type effects []func()

func (fx *effects) publish(bus *events.Bus, e events.Event) {
	*fx = append(*fx, func() { bus.Publish(e) })
}

func (fx *effects) add(f func()) {
	*fx = append(*fx, f)
}

func (fx effects) run() {
	for _, f := range fx {
		f()
	}
}

// update runs fn under the lock unless the tracker is closed
func (t *Tracker) update(fn func(fx *effects)) {
	var fx effects
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	fn(&fx)
	t.mu.Unlock()
	fx.run()
}

// Module returns the module id of the page
func (t *Tracker) Module() string { return t.module }

// Lesson returns the lesson id of the page
func (t *Tracker) Lesson() string { return t.lesson }

// Snapshot returns a copy of the current progress record
func (t *Tracker) Snapshot() *progress.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record.Clone()
}

func (t *Tracker) markViewedLocked(fx *effects) {
	mod := t.opts.Catalog[t.module]
	name := mod.Name
	if name == "" {
		name = t.module
	}
	t.record.EnsureModule(t.module, name, mod.TotalLessons)
	t.record.View(t.module, t.lesson, t.opts.Now())
	t.saveLocked(fx)
}

// saveLocked persists the record. Failures are reported, never returned:
// the page keeps working with the in-memory copy.
func (t *Tracker) saveLocked(fx *effects) {
	err := t.repo.Save(t.ctx, t.record)
	if t.opts.OnSave != nil {
		onSave := t.opts.OnSave
		fx.add(func() { onSave(err) })
	}
	if err != nil {
		t.log.Error("Failed to save progress", map[string]interface{}{
			"error": err.Error(),
		})
		fx.add(func() { t.shell.ReportError(shell.ErrorStorage, err) })
		return
	}
	fx.publish(t.bus, events.ProgressUpdated{Progress: t.record.Clone()})
}

// Save forces a save of the current record
func (t *Tracker) Save() {
	t.update(func(fx *effects) {
		t.saveLocked(fx)
	})
}

func (t *Tracker) autosave() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.opts.AutosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.Save()
		}
	}
}

// complete applies a completion trigger to the current lesson. Only the
// first trigger completes; later ones may only raise the score.
func (t *Tracker) complete(score int, completionType string) {
	score = progress.ClampScore(score)
	t.update(func(fx *effects) {
		now := t.opts.Now()
		if !t.record.Complete(t.module, t.lesson, score, completionType, now) {
			return
		}
		if t.dwell != nil {
			t.dwell.Stop()
		}

		t.saveLocked(fx)

		t.log.Info("Lesson completed", map[string]interface{}{
			"score": score,
			"type":  completionType,
		})
		fx.publish(t.bus, events.Notice{
			Message:   fmt.Sprintf("Урок завершен! Вы успешно прошли урок и заработали %d баллов", score),
			Score:     score,
			ExpiresAt: now.Add(t.opts.NoticeTTL),
		})
		fx.publish(t.bus, events.LessonCompleted{
			Module: t.module,
			Lesson: t.lesson,
			Score:  score,
			Type:   completionType,
		})
	})
}

func (t *Tracker) onExerciseCompleted(e events.Event) {
	ex := e.(events.ExerciseCompleted)
	if ex.Score >= t.opts.PassingScore {
		t.complete(ex.Score, ex.Type)
	}
}

func (t *Tracker) onCodeExecuted(e events.Event) {
	run := e.(events.CodeExecuted)
	if run.Success && t.opts.Rules.MeetsCompletion(t.lesson, run.Code, run.Output) {
		t.complete(100, progress.CompletionCode)
	}
}

func (t *Tracker) onMarkComplete(events.Event) {
	t.complete(100, progress.CompletionManual)
}

// onVideoProgress saves playback near every tenth of the video and from 80%
// on, at most once per cooldown.
func (t *Tracker) onVideoProgress(e events.Event) {
	percent := e.(events.VideoProgress).Percent
	if math.IsNaN(percent) || math.IsInf(percent, 0) {
		return
	}
	if math.Mod(percent, 10) >= 1 && percent < 80 {
		return
	}

	t.update(func(fx *effects) {
		now := t.opts.Now()
		if !t.videoSavedAt.IsZero() && now.Sub(t.videoSavedAt) < t.opts.VideoSaveCooldown {
			return
		}
		t.videoSavedAt = now
		if t.record.SetVideoProgress(t.module, t.lesson, percent) {
			t.saveLocked(fx)
		}
	})
}

func (t *Tracker) onVideoEnded(events.Event) {
	t.update(func(fx *effects) {
		if t.record.SetVideoProgress(t.module, t.lesson, 100) {
			t.saveLocked(fx)
		}
	})
	if t.opts.HasVideo {
		t.complete(100, progress.CompletionVideo)
	}
}

func (t *Tracker) onUserActivity(events.Event) {
	t.update(func(*effects) {
		t.touchLocked()
	})
}

func (t *Tracker) touchLocked() {
	now := t.opts.Now()
	if elapsed := now.Sub(t.lastActivity); elapsed > 0 {
		t.activeTime += elapsed
	}
	t.lastActivity = now
}

func (t *Tracker) onBeforeUnload(events.Event) {
	t.update(t.flushStudyTimeLocked)
}

// flushStudyTimeLocked moves the accumulated active time, in whole minutes,
// into the record and saves it.
func (t *Tracker) flushStudyTimeLocked(fx *effects) {
	t.touchLocked()
	minutes := int(math.Round(t.activeTime.Minutes()))
	t.activeTime = 0
	if t.record.AddTime(t.module, t.lesson, minutes) {
		t.saveLocked(fx)
	}
}

// ActiveTime returns the study time accumulated since the last flush
func (t *Tracker) ActiveTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeTime
}

// CheckExercise validates a submitted solution for the current lesson and,
// when it passes, announces the exercise as completed with full score.
func (t *Tracker) CheckExercise(code string) bool {
	if !t.opts.Rules.ValidateExercise(t.lesson, code) {
		return false
	}
	t.bus.Publish(events.ExerciseCompleted{
		ExerciseID: t.lesson,
		Score:      100,
		Type:       "exercise",
	})
	return true
}

// ModulePercent returns the completion percentage of the page's module
func (t *Tracker) ModulePercent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record.ModulePercent(t.module)
}

// GlobalPercent returns the completion percentage across all modules
func (t *Tracker) GlobalPercent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record.GlobalPercent()
}

// Close stops timers, detaches from the bus and saves one last time. It is
// safe to call more than once.
func (t *Tracker) Close() error {
	var fx effects
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.dwell != nil {
		t.dwell.Stop()
	}
	close(t.stop)
	for _, unsubscribe := range t.unsubscribe {
		unsubscribe()
	}
	t.saveLocked(&fx)
	t.mu.Unlock()

	t.wg.Wait()
	fx.run()

	t.log.Debug("Tracker closed")
	return nil
}
