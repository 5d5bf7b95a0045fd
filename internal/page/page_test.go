package page

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Impulse-Zero/python.github.io/internal/events"
	"github.com/Impulse-Zero/python.github.io/internal/logger"
	"github.com/Impulse-Zero/python.github.io/internal/metrics"
	"github.com/Impulse-Zero/python.github.io/internal/progress"
	"github.com/Impulse-Zero/python.github.io/internal/shell"
	"github.com/Impulse-Zero/python.github.io/internal/storage"
	"github.com/Impulse-Zero/python.github.io/internal/tracker"
)

type fakeRelay struct {
	mu       sync.Mutex
	sessions []string
	kinds    []events.Kind
	detached int
}

func (r *fakeRelay) Attach(_ *events.Bus, session string, kinds ...events.Kind) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, session)
	r.kinds = kinds
	return func() {
		r.mu.Lock()
		r.detached++
		r.mu.Unlock()
	}
}

func testDeps(backend storage.Backend) Deps {
	now := func() time.Time { return time.Date(2024, 3, 10, 10, 0, 0, 0, time.Local) }
	return Deps{
		Backend: backend,
		Repo:    progress.NewRepository(backend, logger.Nop()).WithClock(now),
		Tracker: tracker.Options{
			AutosaveInterval:  time.Hour,
			AutoCompleteAfter: time.Hour,
			Now:               now,
		},
		Metrics: metrics.New(),
		Log:     logger.Nop(),
	}
}

func open(t *testing.T, deps Deps, opts Options) *Session {
	t.Helper()
	s, err := Open(context.Background(), deps, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func kinds(envs []events.Envelope) []events.Kind {
	out := make([]events.Kind, 0, len(envs))
	for _, env := range envs {
		out = append(out, env.Type)
	}
	return out
}

func TestOpenCoursePage(t *testing.T) {
	deps := testDeps(storage.NewMemory())
	s := open(t, deps, Options{URL: "/courses/basics/lesson3.html", Title: "Условия", HasExercises: true})

	info := s.Info()
	assert.NotEmpty(t, info.ID)
	assert.True(t, info.Course)
	assert.Equal(t, "basics", info.Module)
	assert.Equal(t, "lesson3", info.Lesson)
	assert.Equal(t, 13, info.ModulePercent)
	assert.Equal(t, "light", info.Theme)

	envs := s.Drain()
	require.Equal(t, []events.Kind{events.KindAnalytics}, kinds(envs))

	e, err := envs[0].Unwrap()
	require.NoError(t, err)
	view := e.(events.Analytics)
	assert.Equal(t, "page", view.Category)
	assert.Equal(t, "view", view.Action)
	assert.Equal(t, "Условия", view.Title)

	assert.Empty(t, s.Drain())
	assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.OpenSessions))
}

func TestOpenPlainPage(t *testing.T) {
	s := open(t, testDeps(storage.NewMemory()), Options{URL: "/index.html", PrefersDark: true})

	info := s.Info()
	assert.False(t, info.Course)
	assert.Empty(t, info.Module)
	assert.Equal(t, "dark", info.Theme)

	_, err := s.CheckExercise(`print("hi")`)
	assert.ErrorIs(t, err, ErrNotCoursePage)
	_, err = s.Progress()
	assert.ErrorIs(t, err, ErrNotCoursePage)
}

func TestOpenRejectsBadInput(t *testing.T) {
	_, err := Open(context.Background(), Deps{Log: logger.Nop()}, Options{URL: "/index.html"})
	assert.Error(t, err)

	_, err = Open(context.Background(), testDeps(storage.NewMemory()), Options{URL: "%zz"})
	assert.Error(t, err)

	deps := testDeps(storage.NewMemory())
	deps.Repo = nil
	_, err = Open(context.Background(), deps, Options{URL: "/courses/basics/lesson3.html"})
	assert.Error(t, err)
}

func TestDispatchCompletesLesson(t *testing.T) {
	deps := testDeps(storage.NewMemory())
	s := open(t, deps, Options{URL: "/courses/basics/lesson3.html", HasExercises: true})
	s.Drain()

	require.NoError(t, s.Dispatch([]byte(`{"type":"exerciseCompleted","detail":{"exerciseId":"ex1","score":90,"type":"exercise"}}`)))

	envs := s.Drain()
	assert.Equal(t, []events.Kind{events.KindNotice, events.KindLessonCompleted}, kinds(envs))

	rec, err := s.Progress()
	require.NoError(t, err)
	assert.True(t, rec.IsCompleted("basics", "lesson3"))
	assert.Equal(t, 20, s.Info().ModulePercent)

	assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.Completions.WithLabelValues("exercise")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(deps.Metrics.Saves.WithLabelValues("ok")), 2.0)
}

func TestDispatchRejects(t *testing.T) {
	s := open(t, testDeps(storage.NewMemory()), Options{URL: "/courses/basics/lesson3.html"})

	tests := []struct {
		name string
		data string
		want error
	}{
		{"server only event", `{"type":"lessonCompleted","detail":{}}`, ErrNotInbound},
		{"unknown event", `{"type":"nope"}`, events.ErrUnknownEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, s.Dispatch([]byte(tt.data)), tt.want)
		})
	}

	assert.Error(t, s.Dispatch([]byte(`not json`)))
}

func TestBrowserErrorsAreStamped(t *testing.T) {
	deps := testDeps(storage.NewMemory())
	s := open(t, deps, Options{URL: "/index.html"})
	s.Drain()

	require.NoError(t, s.Publish(events.AppError{Type: "Unhandled Promise Rejection", Error: "boom"}))

	envs := s.Drain()
	require.Len(t, envs, 1)
	e, err := envs[0].Unwrap()
	require.NoError(t, err)
	ae := e.(events.AppError)
	assert.Equal(t, "/index.html", ae.URL)
	assert.False(t, ae.Timestamp.IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.AppErrors.WithLabelValues("Unhandled Promise Rejection")))
}

func TestToggleTheme(t *testing.T) {
	backend := storage.NewMemory()
	s := open(t, testDeps(backend), Options{URL: "/index.html"})
	s.Drain()

	theme, err := s.ToggleTheme(context.Background())
	require.NoError(t, err)
	assert.Equal(t, shell.ThemeDark, theme)
	assert.Equal(t, []events.Kind{events.KindThemeChanged}, kinds(s.Drain()))

	persisted, err := backend.Get(context.Background(), shell.ThemeKey)
	require.NoError(t, err)
	assert.Equal(t, "dark", persisted)

	// the next page picks the stored theme up
	next := open(t, testDeps(backend), Options{URL: "/about.html"})
	assert.Equal(t, "dark", next.Info().Theme)
}

func TestUIState(t *testing.T) {
	s := open(t, testDeps(storage.NewMemory()), Options{URL: "/courses/basics/lesson2.html"})

	ok, err := s.SetModuleExpanded("functions", true)
	require.NoError(t, err)
	assert.True(t, ok)
	state, err := s.ModuleExpansion()
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"functions": true}, state)

	ok, err = s.SaveScroll(420)
	require.NoError(t, err)
	assert.True(t, ok)
	scroll, found, err := s.RestoreScroll()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 420.0, scroll.Position)
	_, found, err = s.RestoreScroll()
	require.NoError(t, err)
	assert.False(t, found)

	items, err := s.Outline([]string{"lesson1.html", "lesson2.html", "lesson3.html"})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.True(t, items[0].Completed)
	assert.True(t, items[1].Current)
	assert.False(t, items[2].Completed)
}

func TestStorageFailuresAreCounted(t *testing.T) {
	deps := testDeps(storage.Disabled{})
	s := open(t, deps, Options{URL: "/courses/basics/lesson3.html"})

	ok, err := s.SaveScroll(100)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.StorageErrors.WithLabelValues("set")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(deps.Metrics.Saves.WithLabelValues("error")), 1.0)

	var types []string
	for _, env := range s.Drain() {
		if env.Type != events.KindAppError {
			continue
		}
		var ae events.AppError
		require.NoError(t, json.Unmarshal(env.Detail, &ae))
		types = append(types, ae.Type)
	}
	assert.Contains(t, types, shell.ErrorStorage)
}

func TestRelayAttached(t *testing.T) {
	deps := testDeps(storage.NewMemory())
	relay := &fakeRelay{}
	deps.Relay = relay

	s, err := Open(context.Background(), deps, Options{URL: "/index.html"})
	require.NoError(t, err)
	assert.Equal(t, []string{s.ID()}, relay.sessions)
	assert.Equal(t, Outbound, relay.kinds)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, relay.detached)
}

func TestClose(t *testing.T) {
	backend := storage.NewMemory()
	deps := testDeps(backend)
	s, err := Open(context.Background(), deps, Options{URL: "/courses/basics/lesson3.html"})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Zero(t, s.Bus().Len())
	assert.Zero(t, testutil.ToFloat64(deps.Metrics.OpenSessions))

	_, err = s.ToggleTheme(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Publish(events.MarkComplete{}), ErrClosed)
	_, err = s.ModuleExpansion()
	assert.ErrorIs(t, err, ErrClosed)

	rec, err := progress.NewRepository(backend, logger.Nop()).Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec.Modules["basics"].Lessons["lesson3"])
	assert.True(t, rec.Modules["basics"].Lessons["lesson3"].Viewed)
}

func TestOutboxBounded(t *testing.T) {
	s := open(t, testDeps(storage.NewMemory()), Options{URL: "/index.html"})
	s.Drain()

	for i := 0; i < OutboxSize+10; i++ {
		require.NoError(t, s.Publish(events.Analytics{Category: "ui", Action: "click"}))
	}
	assert.Len(t, s.Drain(), OutboxSize)
}
