// Package events carries the named notifications exchanged between a page and
// its components. The set of events is closed: every variant is a struct in
// this file and travels on the wire as {"type": <kind>, "detail": {...}}.
package events

import (
	"time"

	"github.com/Impulse-Zero/python.github.io/internal/progress"
)

// Kind is the wire name of an event
type Kind string

const (
	KindExerciseCompleted Kind = "exerciseCompleted"
	KindCodeExecuted      Kind = "codeExecutedSuccessfully"
	KindVideoProgress     Kind = "videoProgress"
	KindVideoEnded        Kind = "videoEnded"
	KindMarkComplete      Kind = "markComplete"
	KindUserActivity      Kind = "userActivity"
	KindBeforeUnload      Kind = "appBeforeUnload"
	KindLessonCompleted   Kind = "lessonCompleted"
	KindProgressUpdated   Kind = "progressUpdated"
	KindThemeChanged      Kind = "themeChanged"
	KindAppError          Kind = "appError"
	KindAnalytics         Kind = "analyticsEvent"
	KindNotice            Kind = "notice"
)

// Event is implemented by the variants below only
type Event interface {
	Kind() Kind
	event()
}

// ExerciseCompleted reports a graded exercise
type ExerciseCompleted struct {
	ExerciseID string `json:"exerciseId"`
	Score      int    `json:"score"`
	Type       string `json:"type"`
}

// CodeExecuted reports a run of learner code in the page editor
type CodeExecuted struct {
	Code    string `json:"code"`
	Output  string `json:"output"`
	Success bool   `json:"success"`
}

// VideoProgress reports playback position of the lesson video in percent
type VideoProgress struct {
	Percent float64 `json:"percent"`
}

// VideoEnded reports that the lesson video played to the end
type VideoEnded struct{}

// MarkComplete is the manual "complete lesson" button
type MarkComplete struct{}

// UserActivity is any pointer, keyboard or scroll activity on the page
type UserActivity struct {
	Source string `json:"source,omitempty"`
}

// BeforeUnload is sent when the page is about to go away
type BeforeUnload struct{}

// LessonCompleted is broadcast once per lesson, on its first completion
type LessonCompleted struct {
	Module string `json:"module"`
	Lesson string `json:"lesson"`
	Score  int    `json:"score"`
	Type   string `json:"type"`
}

// ProgressUpdated carries a snapshot of the record after every save.
// Progress is a copy; mutating it does not affect the tracker.
type ProgressUpdated struct {
	Progress *progress.Record `json:"progress"`
}

// ThemeChanged is broadcast after the theme was toggled
type ThemeChanged struct {
	Theme string `json:"theme"`
}

// AppError is a normalized application failure
type AppError struct {
	Type      string    `json:"type"`
	Error     string    `json:"error"`
	Stack     string    `json:"stack,omitempty"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// Analytics is a tracked user action or page view
type Analytics struct {
	Category  string    `json:"category"`
	Action    string    `json:"action"`
	Label     string    `json:"label,omitempty"`
	URL       string    `json:"url,omitempty"`
	Title     string    `json:"title,omitempty"`
	Referrer  string    `json:"referrer,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notice is a transient message shown to the learner until ExpiresAt
type Notice struct {
	Message   string    `json:"message"`
	Score     int       `json:"score,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (ExerciseCompleted) Kind() Kind { return KindExerciseCompleted }
func (CodeExecuted) Kind() Kind      { return KindCodeExecuted }
func (VideoProgress) Kind() Kind     { return KindVideoProgress }
func (VideoEnded) Kind() Kind        { return KindVideoEnded }
func (MarkComplete) Kind() Kind      { return KindMarkComplete }
func (UserActivity) Kind() Kind      { return KindUserActivity }
func (BeforeUnload) Kind() Kind      { return KindBeforeUnload }
func (LessonCompleted) Kind() Kind   { return KindLessonCompleted }
func (ProgressUpdated) Kind() Kind   { return KindProgressUpdated }
func (ThemeChanged) Kind() Kind      { return KindThemeChanged }
func (AppError) Kind() Kind          { return KindAppError }
func (Analytics) Kind() Kind         { return KindAnalytics }
func (Notice) Kind() Kind            { return KindNotice }

func (ExerciseCompleted) event() {}
func (CodeExecuted) event()      {}
func (VideoProgress) event()     {}
func (VideoEnded) event()        {}
func (MarkComplete) event()      {}
func (UserActivity) event()      {}
func (BeforeUnload) event()      {}
func (LessonCompleted) event()   {}
func (ProgressUpdated) event()   {}
func (ThemeChanged) event()      {}
func (AppError) event()          {}
func (Analytics) event()         {}
func (Notice) event()            {}
