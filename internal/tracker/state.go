package tracker

import (
	"time"

	"github.com/Impulse-Zero/python.github.io/internal/storage"
)

const (
	expansionKey = "moduleExpansion"
	scrollKey    = "scrollState"
)

// ScrollState remembers where the learner was on the page before navigating
type ScrollState struct {
	Position  float64   `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

// OutlineItem is the state of one sidebar lesson link
type OutlineItem struct {
	Href      string `json:"href"`
	LessonID  string `json:"lessonId"`
	Current   bool   `json:"current"`
	Completed bool   `json:"completed"`
}

// ModuleExpansion returns which sidebar modules are expanded
func (t *Tracker) ModuleExpansion() map[string]bool {
	return storage.Get(t.ctx, t.store, expansionKey, map[string]bool{})
}

// SetModuleExpanded records whether a sidebar module is expanded
func (t *Tracker) SetModuleExpanded(module string, expanded bool) bool {
	state := t.ModuleExpansion()
	if state == nil {
		state = map[string]bool{}
	}
	state[module] = expanded
	return t.store.Set(t.ctx, expansionKey, state)
}

// SaveScroll stores the scroll position before leaving the page
func (t *Tracker) SaveScroll(position float64) bool {
	return t.store.Set(t.ctx, scrollKey, ScrollState{
		Position:  position,
		Timestamp: t.opts.Now().UTC(),
	})
}

// RestoreScroll returns the saved scroll position and forgets it. A missing
// or zero position is not restored.
func (t *Tracker) RestoreScroll() (ScrollState, bool) {
	var state ScrollState
	if !t.store.Load(t.ctx, scrollKey, &state) || state.Position == 0 {
		return ScrollState{}, false
	}
	t.store.Remove(t.ctx, scrollKey)
	return state, true
}

// Outline marks which sidebar links point to the current lesson and which
// lessons of the current module are completed.
func (t *Tracker) Outline(hrefs []string) []OutlineItem {
	t.mu.Lock()
	defer t.mu.Unlock()

	items := make([]OutlineItem, 0, len(hrefs))
	for _, href := range hrefs {
		id := LessonIDFromHref(href)
		items = append(items, OutlineItem{
			Href:      href,
			LessonID:  id,
			Current:   id != "" && id == t.lesson,
			Completed: id != "" && t.record.IsCompleted(t.module, id),
		})
	}
	return items
}
