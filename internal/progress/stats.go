package progress

import (
	"math"
	"time"
)

// RecomputeModule refreshes the cached completed count of a module
func (r *Record) RecomputeModule(id string) {
	m, ok := r.Modules[id]
	if !ok || m == nil {
		return
	}
	count := 0
	for _, l := range m.Lessons {
		if l != nil && l.Completed {
			count++
		}
	}
	m.Completed = count
}

// RecomputeStatistics folds every lesson of every module into the completion
// aggregates. Time spent and the streak are left alone.
func (r *Record) RecomputeStatistics() {
	completed, total := 0, 0
	for _, m := range r.Modules {
		if m == nil {
			continue
		}
		for _, l := range m.Lessons {
			if l != nil && l.Completed {
				completed++
				total += l.Score
			}
		}
	}

	r.Statistics.TotalLessonsCompleted = completed
	r.Statistics.TotalScore = total
	r.Statistics.AverageScore = 0
	if completed > 0 {
		r.Statistics.AverageScore = roundPercent(float64(total) / float64(completed))
	}
}

// UpdateStreak counts consecutive study days. Studying again on the same day
// keeps the streak, studying the day after extends it, anything else
// restarts it at one.
func (r *Record) UpdateStreak(now time.Time) {
	today := now.Format(DayLayout)
	stats := &r.Statistics

	if stats.LastStudyDate == today {
		return
	}

	yesterday := now.AddDate(0, 0, -1).Format(DayLayout)
	if stats.LastStudyDate == yesterday {
		stats.CurrentStreak++
	} else {
		stats.CurrentStreak = 1
	}
	stats.LastStudyDate = today
}

// ModulePercent returns the rounded completion percentage of a module, or 0
// for an unknown module or one without lessons.
func (r *Record) ModulePercent(id string) int {
	m, ok := r.Modules[id]
	if !ok || m == nil || m.TotalLessons <= 0 {
		return 0
	}
	return roundPercent(100 * float64(m.Completed) / float64(m.TotalLessons))
}

// GlobalPercent returns the rounded completion percentage over all modules
func (r *Record) GlobalPercent() int {
	completed, total := 0, 0
	for _, m := range r.Modules {
		if m == nil {
			continue
		}
		completed += m.Completed
		total += m.TotalLessons
	}
	if total <= 0 {
		return 0
	}
	return roundPercent(100 * float64(completed) / float64(total))
}

func roundPercent(v float64) int {
	return int(math.Floor(v + 0.5))
}
