// Package progress holds the learner's course progress document and the
// rules that mutate it.
package progress

import (
	"math"
	"time"
)

const (
	// CurrentVersion is the format tag written by this package
	CurrentVersion = "2.0"
	// DayLayout formats the calendar day used for streaks
	DayLayout = "2006-01-02"
	// DefaultTotalLessons is used for modules missing from the catalog
	DefaultTotalLessons = 15
)

// Completion types recorded on lessons
const (
	CompletionCode   = "code_execution"
	CompletionVideo  = "video_completion"
	CompletionManual = "manual"
	CompletionAuto   = "auto_view"
)

// Record is the whole persisted progress document of one browser profile
type Record struct {
	Version     string             `json:"version"`
	Revision    int64              `json:"revision"`
	LastUpdated time.Time          `json:"lastUpdated"`
	Modules     map[string]*Module `json:"modules"`
	Statistics  Statistics         `json:"statistics"`
}

// Module is the progress of one course module
type Module struct {
	Name         string             `json:"name"`
	Completed    int                `json:"completed"`
	TotalLessons int                `json:"totalLessons"`
	Lessons      map[string]*Lesson `json:"lessons"`
}

// Lesson is the progress of one lesson. A lesson missing from its module has
// never been visited.
type Lesson struct {
	Completed      bool       `json:"completed"`
	Score          int        `json:"score"`
	Viewed         bool       `json:"viewed,omitempty"`
	FirstViewedAt  *time.Time `json:"firstViewedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	CompletionType string     `json:"completionType,omitempty"`
	TimeSpent      int        `json:"timeSpent,omitempty"`
	VideoProgress  float64    `json:"videoProgress,omitempty"`
}

// Statistics are aggregates over all modules
type Statistics struct {
	TotalLessonsCompleted int    `json:"totalLessonsCompleted"`
	TotalScore            int    `json:"totalScore"`
	AverageScore          int    `json:"averageScore"`
	TimeSpent             int    `json:"timeSpent"` // minutes
	CurrentStreak         int    `json:"currentStreak"`
	LastStudyDate         string `json:"lastStudyDate"`
}

// Seed returns the record used when nothing is persisted yet: the first two
// basics lessons completed and the third pending.
func Seed(now time.Time) *Record {
	r := &Record{
		Version:     CurrentVersion,
		LastUpdated: now,
		Modules: map[string]*Module{
			"basics": {
				Name:         "Основы Python",
				TotalLessons: 15,
				Lessons: map[string]*Lesson{
					"lesson1": {Completed: true, Score: 100, CompletedAt: copyTime(&now)},
					"lesson2": {Completed: true, Score: 100, CompletedAt: copyTime(&now)},
					"lesson3": {},
				},
			},
			"functions": {
				Name:         "Функции и модули",
				TotalLessons: 10,
				Lessons:      map[string]*Lesson{},
			},
			"oop": {
				Name:         "ООП в Python",
				TotalLessons: 16,
				Lessons:      map[string]*Lesson{},
			},
		},
	}
	for id := range r.Modules {
		r.RecomputeModule(id)
	}
	r.RecomputeStatistics()
	return r
}

// EnsureModule returns the module with id, creating it empty when missing
func (r *Record) EnsureModule(id, name string, totalLessons int) *Module {
	if r.Modules == nil {
		r.Modules = make(map[string]*Module)
	}
	if m, ok := r.Modules[id]; ok {
		if m.Lessons == nil {
			m.Lessons = make(map[string]*Lesson)
		}
		return m
	}
	if name == "" {
		name = id
	}
	if totalLessons <= 0 {
		totalLessons = DefaultTotalLessons
	}
	m := &Module{Name: name, TotalLessons: totalLessons, Lessons: make(map[string]*Lesson)}
	r.Modules[id] = m
	return m
}

// Lesson returns the lesson entry or nil when it was never visited
func (r *Record) Lesson(moduleID, lessonID string) *Lesson {
	m, ok := r.Modules[moduleID]
	if !ok || m == nil {
		return nil
	}
	return m.Lessons[lessonID]
}

// View marks the lesson as viewed, creating its entry on the first visit.
// The module must exist.
func (r *Record) View(moduleID, lessonID string, now time.Time) *Lesson {
	m := r.Modules[moduleID]
	if l, ok := m.Lessons[lessonID]; ok && l != nil {
		l.Viewed = true
		return l
	}
	viewedAt := now
	l := &Lesson{Viewed: true, FirstViewedAt: &viewedAt}
	m.Lessons[lessonID] = l
	return l
}

// Complete applies a completion of the lesson with score. It returns true
// only on the transition to completed; completing an already completed
// lesson just keeps the higher score. The module must exist.
func (r *Record) Complete(moduleID, lessonID string, score int, completionType string, now time.Time) bool {
	score = ClampScore(score)

	l := r.Lesson(moduleID, lessonID)
	if l == nil {
		l = r.View(moduleID, lessonID, now)
	}

	if l.Completed {
		l.Score = max(l.Score, score)
		return false
	}

	completedAt := now
	l.Completed = true
	l.Score = max(l.Score, score)
	l.CompletedAt = &completedAt
	l.CompletionType = completionType

	r.RecomputeModule(moduleID)
	r.RecomputeStatistics()
	r.UpdateStreak(now)
	return true
}

// IsCompleted reports whether the lesson was completed
func (r *Record) IsCompleted(moduleID, lessonID string) bool {
	l := r.Lesson(moduleID, lessonID)
	return l != nil && l.Completed
}

// AddTime adds minutes to the lesson and to the global total. It is a no-op
// returning false when the lesson entry does not exist.
func (r *Record) AddTime(moduleID, lessonID string, minutes int) bool {
	l := r.Lesson(moduleID, lessonID)
	if l == nil {
		return false
	}
	l.TimeSpent += minutes
	r.Statistics.TimeSpent += minutes
	return true
}

// SetVideoProgress stores the playback percentage of the lesson video. It
// returns false when the lesson entry does not exist.
func (r *Record) SetVideoProgress(moduleID, lessonID string, percent float64) bool {
	l := r.Lesson(moduleID, lessonID)
	if l == nil {
		return false
	}
	l.VideoProgress = math.Max(0, math.Min(100, percent))
	return true
}

// ClampScore bounds a score to 0..100
func ClampScore(score int) int {
	return max(0, min(100, score))
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Modules = make(map[string]*Module, len(r.Modules))
	for id, m := range r.Modules {
		if m == nil {
			continue
		}
		mc := *m
		mc.Lessons = make(map[string]*Lesson, len(m.Lessons))
		for lid, l := range m.Lessons {
			if l == nil {
				continue
			}
			lc := *l
			lc.FirstViewedAt = copyTime(l.FirstViewedAt)
			lc.CompletedAt = copyTime(l.CompletedAt)
			mc.Lessons[lid] = &lc
		}
		c.Modules[id] = &mc
	}
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
