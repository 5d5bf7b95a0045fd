package progress

import (
	"math"
	"time"
)

// legacyDayLayout is how the 1.0 format stored lastStudyDate
const legacyDayLayout = "Mon Jan 02 2006"

// v1Record is the 1.0 document written by the browser-only site. Numbers may
// be fractional, timestamps are ISO strings and lastStudyDate may be null.
type v1Record struct {
	Version     string              `json:"version"`
	LastUpdated string              `json:"lastUpdated"`
	Modules     map[string]v1Module `json:"modules"`
	Statistics  struct {
		TimeSpent     float64 `json:"timeSpent"`
		CurrentStreak float64 `json:"currentStreak"`
		LastStudyDate *string `json:"lastStudyDate"`
	} `json:"statistics"`
}

type v1Module struct {
	Name         string              `json:"name"`
	TotalLessons float64             `json:"totalLessons"`
	Lessons      map[string]v1Lesson `json:"lessons"`
}

type v1Lesson struct {
	Completed      bool    `json:"completed"`
	Score          float64 `json:"score"`
	Viewed         bool    `json:"viewed"`
	FirstViewedAt  string  `json:"firstViewedAt"`
	CompletedAt    string  `json:"completedAt"`
	CompletionType string  `json:"completionType"`
	TimeSpent      float64 `json:"timeSpent"`
	VideoProgress  float64 `json:"videoProgress"`
}

// migrateV1ToV2 converts a 1.0 document. Cached counts and aggregates are
// recomputed since the old format let them drift.
func migrateV1ToV2(v1 v1Record, now time.Time) *Record {
	r := &Record{
		Version:     CurrentVersion,
		LastUpdated: parseTimestamp(v1.LastUpdated, now),
		Modules:     make(map[string]*Module, len(v1.Modules)),
	}

	for id, m := range v1.Modules {
		total := int(math.Round(m.TotalLessons))
		if total <= 0 {
			total = DefaultTotalLessons
		}
		module := &Module{
			Name:         m.Name,
			TotalLessons: total,
			Lessons:      make(map[string]*Lesson, len(m.Lessons)),
		}
		for lid, l := range m.Lessons {
			module.Lessons[lid] = &Lesson{
				Completed:      l.Completed,
				Score:          ClampScore(int(math.Round(l.Score))),
				Viewed:         l.Viewed,
				FirstViewedAt:  parseOptionalTimestamp(l.FirstViewedAt),
				CompletedAt:    parseOptionalTimestamp(l.CompletedAt),
				CompletionType: l.CompletionType,
				TimeSpent:      int(math.Round(l.TimeSpent)),
				VideoProgress:  math.Max(0, math.Min(100, l.VideoProgress)),
			}
		}
		r.Modules[id] = module
		r.RecomputeModule(id)
	}

	r.RecomputeStatistics()
	r.Statistics.TimeSpent = int(math.Round(v1.Statistics.TimeSpent))
	r.Statistics.CurrentStreak = int(v1.Statistics.CurrentStreak)
	if v1.Statistics.LastStudyDate != nil {
		r.Statistics.LastStudyDate = migrateDay(*v1.Statistics.LastStudyDate)
	}
	return r
}

func migrateDay(s string) string {
	if t, err := time.Parse(legacyDayLayout, s); err == nil {
		return t.Format(DayLayout)
	}
	if _, err := time.Parse(DayLayout, s); err == nil {
		return s
	}
	return ""
}

func parseTimestamp(s string, fallback time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return fallback
}

func parseOptionalTimestamp(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
