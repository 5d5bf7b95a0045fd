// Package page holds the server side of one page load: its event bus, the
// site shell, the lesson tracker on course pages and the queue of events
// waiting to be delivered to the browser.
package page

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Impulse-Zero/python.github.io/internal/events"
	"github.com/Impulse-Zero/python.github.io/internal/logger"
	"github.com/Impulse-Zero/python.github.io/internal/metrics"
	"github.com/Impulse-Zero/python.github.io/internal/progress"
	"github.com/Impulse-Zero/python.github.io/internal/shell"
	"github.com/Impulse-Zero/python.github.io/internal/storage"
	"github.com/Impulse-Zero/python.github.io/internal/tracker"
)

var (
	// ErrNotCoursePage is returned for tracker operations on pages outside the courses tree
	ErrNotCoursePage = errors.New("page has no lesson tracker")
	// ErrClosed is returned once the page was unloaded
	ErrClosed = errors.New("page session closed")
	// ErrNotInbound is returned when the browser sends an event only the server may publish
	ErrNotInbound = errors.New("event cannot be sent by the page")
	// ErrBadEvent wraps wire envelopes that could not be decoded
	ErrBadEvent = errors.New("bad event")
)

// OutboxSize bounds the events kept for the browser; the oldest are dropped first
const OutboxSize = 256

// Outbound lists the events delivered to the browser
var Outbound = []events.Kind{
	events.KindLessonCompleted,
	events.KindThemeChanged,
	events.KindNotice,
	events.KindAppError,
	events.KindAnalytics,
}

var inbound = map[events.Kind]bool{
	events.KindExerciseCompleted: true,
	events.KindCodeExecuted:      true,
	events.KindVideoProgress:     true,
	events.KindVideoEnded:        true,
	events.KindMarkComplete:      true,
	events.KindUserActivity:      true,
	events.KindAppError:          true,
	events.KindAnalytics:         true,
}

// Relay forwards a bus's events to an external sink
type Relay interface {
	Attach(b *events.Bus, session string, kinds ...events.Kind) func()
}

// Deps are shared by every page of the process
type Deps struct {
	Backend storage.Backend
	Repo    *progress.Repository
	// Tracker is the template for every page's tracker options
	Tracker tracker.Options
	Metrics *metrics.Metrics
	Relay   Relay
	Log     *logger.Logger
}

// Options describe the page being opened
type Options struct {
	URL          string `json:"url"`
	Title        string `json:"title,omitempty"`
	Referrer     string `json:"referrer,omitempty"`
	HasExercises bool   `json:"hasExercises,omitempty"`
	HasVideo     bool   `json:"hasVideo,omitempty"`
	PrefersDark  bool   `json:"prefersDark,omitempty"`
}

// Info summarizes a page session
type Info struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	OpenedAt      time.Time `json:"openedAt"`
	Theme         string    `json:"theme"`
	Course        bool      `json:"course"`
	Module        string    `json:"module,omitempty"`
	Lesson        string    `json:"lesson,omitempty"`
	ModulePercent int       `json:"modulePercent"`
	GlobalPercent int       `json:"globalPercent"`
	Pending       int       `json:"pending"`
}

// Session is one open page. Calls into a session are serialized, the way a
// browser page runs its handlers one at a time.
type Session struct {
	mu       sync.Mutex
	id       string
	opts     Options
	openedAt time.Time
	now      func() time.Time
	log      *logger.Logger

	bus     *events.Bus
	shell   *shell.Shell
	tracker *tracker.Tracker
	metrics *metrics.Metrics

	outMu  sync.Mutex
	outbox []events.Envelope

	detach []func()
	closed bool
}

// Open starts a page session for opts.URL
func Open(ctx context.Context, deps Deps, opts Options) (*Session, error) {
	log := deps.Log
	if log == nil {
		log = logger.Get()
	}
	if deps.Backend == nil {
		return nil, fmt.Errorf("page: storage backend is required")
	}

	loc, err := tracker.ParseLocation(opts.URL)
	if err != nil {
		return nil, err
	}

	now := deps.Tracker.Now
	if now == nil {
		now = time.Now
	}

	s := &Session{
		id:       uuid.NewString(),
		opts:     opts,
		openedAt: now().UTC(),
		now:      now,
		metrics:  deps.Metrics,
	}
	s.log = log.Component("page").With(map[string]interface{}{
		"session": s.id,
		"url":     opts.URL,
	})
	s.bus = events.NewBus(opts.URL, s.log)

	for _, kind := range Outbound {
		s.detach = append(s.detach, s.bus.Subscribe(kind, s.enqueue))
	}
	if deps.Metrics != nil {
		s.detach = append(s.detach, deps.Metrics.Observe(s.bus))
	}
	if deps.Relay != nil {
		s.detach = append(s.detach, deps.Relay.Attach(s.bus, s.id, Outbound...))
	}

	shellOpts := shell.Options{URL: opts.URL, PrefersDark: opts.PrefersDark, Now: now}
	if deps.Metrics != nil {
		shellOpts.OnStorageError = deps.Metrics.StorageError
	}
	s.shell = shell.New(ctx, s.bus, deps.Backend, log, shellOpts)

	if loc.IsCoursePage() {
		if deps.Repo == nil {
			s.detachAll()
			return nil, fmt.Errorf("page: progress repository is required on course pages")
		}

		topts := deps.Tracker
		topts.URL = opts.URL
		topts.HasExercises = opts.HasExercises
		topts.HasVideo = opts.HasVideo
		topts.Now = now
		if deps.Metrics != nil {
			onSave := topts.OnSave
			topts.OnSave = func(err error) {
				deps.Metrics.SaveResult(err)
				if onSave != nil {
					onSave(err)
				}
			}
		}

		t, err := tracker.New(ctx, s.bus, s.shell, deps.Repo, log, topts)
		if err != nil {
			s.detachAll()
			return nil, err
		}
		s.tracker = t
	}

	s.shell.TrackPageView(opts.Title, opts.Referrer)

	if deps.Metrics != nil {
		deps.Metrics.OpenSessions.Inc()
	}
	s.log.Info("Page opened", map[string]interface{}{
		"course": s.tracker != nil,
		"theme":  string(s.shell.Theme()),
	})
	return s, nil
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Bus returns the session's event bus
func (s *Session) Bus() *events.Bus { return s.bus }

func (s *Session) enqueue(e events.Event) {
	env, err := events.Wrap(e)
	if err != nil {
		s.log.Warn("Dropping event that cannot be encoded", map[string]interface{}{
			"event": string(e.Kind()),
			"error": err.Error(),
		})
		return
	}

	s.outMu.Lock()
	defer s.outMu.Unlock()
	if len(s.outbox) >= OutboxSize {
		s.outbox = s.outbox[1:]
	}
	s.outbox = append(s.outbox, env)
}

// Drain returns and forgets the events queued for the browser
func (s *Session) Drain() []events.Envelope {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	out := s.outbox
	s.outbox = nil
	if out == nil {
		out = []events.Envelope{}
	}
	return out
}

func (s *Session) pending() int {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return len(s.outbox)
}

// Publish delivers an event sent by the browser to the page's handlers
func (s *Session) Publish(e events.Event) error {
	if !inbound[e.Kind()] {
		return fmt.Errorf("%w: %s", ErrNotInbound, e.Kind())
	}
	if ae, ok := e.(events.AppError); ok {
		if ae.URL == "" {
			ae.URL = s.opts.URL
		}
		if ae.Timestamp.IsZero() {
			ae.Timestamp = s.now().UTC()
		}
		e = ae
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.bus.Publish(e)
	return nil
}

// Dispatch decodes a wire envelope and publishes it
func (s *Session) Dispatch(data []byte) error {
	e, err := events.Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadEvent, err)
	}
	return s.Publish(e)
}

// Info describes the session
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:       s.id,
		URL:      s.opts.URL,
		OpenedAt: s.openedAt,
		Theme:    string(s.shell.Theme()),
		Course:   s.tracker != nil,
		Pending:  s.pending(),
	}
	if s.tracker != nil {
		info.Module = s.tracker.Module()
		info.Lesson = s.tracker.Lesson()
		info.ModulePercent = s.tracker.ModulePercent()
		info.GlobalPercent = s.tracker.GlobalPercent()
	}
	return info
}

// Progress returns a copy of the page's progress record
func (s *Session) Progress() (*progress.Record, error) {
	t, unlock, err := s.lockTracker()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return t.Snapshot(), nil
}

// ToggleTheme flips the page theme
func (s *Session) ToggleTheme(ctx context.Context) (shell.Theme, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	return s.shell.ToggleTheme(ctx), nil
}

// CheckExercise validates a solution for the page's lesson
func (s *Session) CheckExercise(code string) (bool, error) {
	t, unlock, err := s.lockTracker()
	if err != nil {
		return false, err
	}
	defer unlock()
	return t.CheckExercise(code), nil
}

// ModuleExpansion returns the sidebar expansion state
func (s *Session) ModuleExpansion() (map[string]bool, error) {
	t, unlock, err := s.lockTracker()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return t.ModuleExpansion(), nil
}

// SetModuleExpanded records the expansion state of one sidebar module
func (s *Session) SetModuleExpanded(module string, expanded bool) (bool, error) {
	t, unlock, err := s.lockTracker()
	if err != nil {
		return false, err
	}
	defer unlock()
	return t.SetModuleExpanded(module, expanded), nil
}

// SaveScroll remembers the scroll position
func (s *Session) SaveScroll(position float64) (bool, error) {
	t, unlock, err := s.lockTracker()
	if err != nil {
		return false, err
	}
	defer unlock()
	return t.SaveScroll(position), nil
}

// RestoreScroll returns the remembered scroll position, once
func (s *Session) RestoreScroll() (tracker.ScrollState, bool, error) {
	t, unlock, err := s.lockTracker()
	if err != nil {
		return tracker.ScrollState{}, false, err
	}
	defer unlock()
	state, ok := t.RestoreScroll()
	return state, ok, nil
}

// Outline marks sidebar links as current or completed
func (s *Session) Outline(hrefs []string) ([]tracker.OutlineItem, error) {
	t, unlock, err := s.lockTracker()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return t.Outline(hrefs), nil
}

func (s *Session) lockTracker() (*tracker.Tracker, func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if s.tracker == nil {
		s.mu.Unlock()
		return nil, nil, ErrNotCoursePage
	}
	return s.tracker, s.mu.Unlock, nil
}

func (s *Session) detachAll() {
	for _, off := range s.detach {
		off()
	}
	s.detach = nil
}

// Close unloads the page: study time is flushed, the tracker saves one last
// time and the bus is detached. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.bus.Publish(events.BeforeUnload{})

	var err error
	if s.tracker != nil {
		err = s.tracker.Close()
	}
	s.detachAll()

	if s.metrics != nil {
		s.metrics.OpenSessions.Dec()
	}
	s.log.Info("Page closed")
	return err
}
