// Package shell implements the site-wide behavior every page gets: the color
// theme, namespaced storage helpers, error reporting and analytics events.
package shell

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Impulse-Zero/python.github.io/internal/events"
	"github.com/Impulse-Zero/python.github.io/internal/logger"
	"github.com/Impulse-Zero/python.github.io/internal/storage"
)

const (
	// ThemeKey stores the explicit theme choice as a raw string
	ThemeKey = "pythonMasterTheme"
	// Namespace prefixes keys written through the shell storage helpers
	Namespace = "pythonMaster_"
)

// Error types reported by the shell
const (
	ErrorGlobal  = "Global Error"
	ErrorStorage = "Storage Error"
)

// Theme is the page color scheme
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Valid reports whether t is a known theme
func (t Theme) Valid() bool {
	return t == ThemeLight || t == ThemeDark
}

// Opposite returns the other theme
func (t Theme) Opposite() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

// ResolveTheme picks the theme: an explicit persisted choice wins, then the
// OS dark preference, then light.
func ResolveTheme(persisted string, prefersDark bool) Theme {
	if t := Theme(persisted); t.Valid() {
		return t
	}
	if prefersDark {
		return ThemeDark
	}
	return ThemeLight
}

// Options describe the page the shell runs on
type Options struct {
	URL         string
	PrefersDark bool
	Now         func() time.Time
	// OnStorageError observes every swallowed storage failure
	OnStorageError storage.ErrorHook
}

// Shell is the site-wide context of one page
type Shell struct {
	mu      sync.Mutex
	bus     *events.Bus
	backend storage.Backend
	store   *storage.Store
	log     *logger.Logger
	url     string
	theme   Theme
	now     func() time.Time
	onStore storage.ErrorHook
}

// New creates the shell for a page and resolves its theme
func New(ctx context.Context, bus *events.Bus, backend storage.Backend, log *logger.Logger, opts Options) *Shell {
	if log == nil {
		log = logger.Get()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Shell{
		bus:     bus,
		backend: backend,
		log:     log.Component("shell"),
		url:     opts.URL,
		now:     opts.Now,
		onStore: opts.OnStorageError,
	}
	s.store = s.NewStore(Namespace)

	persisted, err := backend.Get(ctx, ThemeKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.ReportError(ErrorStorage, err)
	}
	s.theme = ResolveTheme(persisted, opts.PrefersDark)

	return s
}

// NewStore returns storage helpers under namespace whose failures are
// reported as application errors.
func (s *Shell) NewStore(namespace string) *storage.Store {
	st := storage.NewStore(s.backend, namespace, s.log)
	if s.onStore != nil {
		st.OnError(s.onStore)
	}
	st.OnError(func(op, key string, err error) {
		s.ReportError(ErrorStorage, err)
	})
	return st
}

// Storage returns the shell's namespaced storage helpers
func (s *Shell) Storage() *storage.Store {
	return s.store
}

// Theme returns the current theme
func (s *Shell) Theme() Theme {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.theme
}

// ToggleTheme flips the theme, persists it and broadcasts themeChanged. A
// failed write is reported but the theme still changes for this page.
func (s *Shell) ToggleTheme(ctx context.Context) Theme {
	s.mu.Lock()
	s.theme = s.theme.Opposite()
	theme := s.theme
	s.mu.Unlock()

	if err := s.backend.Set(ctx, ThemeKey, string(theme)); err != nil {
		s.ReportError(ErrorStorage, err)
	}

	s.log.Debug("Theme changed", map[string]interface{}{"theme": string(theme)})
	s.bus.Publish(events.ThemeChanged{Theme: string(theme)})
	return theme
}

// ReportError normalizes err into an appError record, logs it and
// broadcasts it.
func (s *Shell) ReportError(errType string, err error) events.AppError {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	record := events.AppError{
		Type:      errType,
		Error:     msg,
		Stack:     string(debug.Stack()),
		URL:       s.url,
		Timestamp: s.now().UTC(),
	}

	s.log.Error("Application error", map[string]interface{}{
		"type":  errType,
		"error": msg,
		"url":   s.url,
	})
	s.bus.Publish(record)
	return record
}

// TrackEvent broadcasts an analytics event
func (s *Shell) TrackEvent(category, action, label string) {
	e := events.Analytics{
		Category:  category,
		Action:    action,
		Label:     label,
		Timestamp: s.now().UTC(),
	}
	s.log.Debug("Event tracked", map[string]interface{}{
		"category": category,
		"action":   action,
		"label":    label,
	})
	s.bus.Publish(e)
}

// TrackPageView broadcasts an analytics event for the page itself
func (s *Shell) TrackPageView(title, referrer string) {
	e := events.Analytics{
		Category:  "page",
		Action:    "view",
		URL:       s.url,
		Title:     title,
		Referrer:  referrer,
		Timestamp: s.now().UTC(),
	}
	s.log.Debug("Page view", map[string]interface{}{
		"url":      s.url,
		"title":    title,
		"referrer": referrer,
	})
	s.bus.Publish(e)
}
