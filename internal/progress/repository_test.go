package progress

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Impulse-Zero/python.github.io/internal/logger"
	"github.com/Impulse-Zero/python.github.io/internal/storage"
)

func newTestRepository(b storage.Backend, now time.Time) *Repository {
	return NewRepository(b, logger.Nop()).WithClock(func() time.Time { return now })
}

func TestLoadAbsentReturnsSeed(t *testing.T) {
	repo := newTestRepository(storage.NewMemory(), day)

	rec, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Seed(day), rec)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	file, err := storage.OpenFile(filepath.Join(t.TempDir(), "default.json"))
	require.NoError(t, err)

	saveTime := day.Add(2 * time.Hour)
	repo := newTestRepository(file, saveTime)

	rec := Seed(day)
	rec.EnsureModule("web-dev", "Веб-разработка", 15)
	rec.View("web-dev", "lesson2", day)
	rec.Complete("basics", "lesson3", 90, "exercise", day)
	rec.AddTime("basics", "lesson3", 12)
	want := rec.Clone()

	require.NoError(t, repo.Save(ctx, rec))
	assert.Equal(t, saveTime, rec.LastUpdated)
	assert.Equal(t, int64(1), rec.Revision)

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)

	// Everything but the save stamp survives
	want.LastUpdated = loaded.LastUpdated
	want.Revision = loaded.Revision
	assert.Equal(t, want, loaded)
	assert.Equal(t, saveTime, loaded.LastUpdated)
}

func TestSaveIsFullOverwrite(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	repo := newTestRepository(mem, day)

	first := Seed(day)
	first.EnsureModule("web-dev", "", 0)
	require.NoError(t, repo.Save(ctx, first))

	second := Seed(day)
	second.Revision = first.Revision
	require.NoError(t, repo.Save(ctx, second))

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.NotContains(t, loaded.Modules, "web-dev")
}

func TestSaveDetectsNewerRevision(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	repo := newTestRepository(mem, day)

	tabA, err := repo.Load(ctx)
	require.NoError(t, err)
	tabB, err := repo.Load(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, tabA))
	require.NoError(t, repo.Save(ctx, tabA))
	assert.Equal(t, int64(2), tabA.Revision)

	// tabB is stale but still wins, and keeps the revision counter monotonic
	require.NoError(t, repo.Save(ctx, tabB))
	assert.Equal(t, int64(3), tabB.Revision)
}

func TestSaveFailureKeepsRecordStamp(t *testing.T) {
	repo := newTestRepository(storage.Disabled{}, day.Add(time.Hour))
	rec := Seed(day)

	err := repo.Save(context.Background(), rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Equal(t, int64(0), rec.Revision)
	assert.Equal(t, day, rec.LastUpdated)
}

func TestSaveQuotaExceeded(t *testing.T) {
	repo := newTestRepository(storage.WithQuota(storage.NewMemory(), 64), day)

	err := repo.Save(context.Background(), Seed(day))
	assert.ErrorIs(t, err, storage.ErrQuotaExceeded)
}

func TestLoadMalformedTreatedAsAbsent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"truncated", `{"version":"2.0","modules":{`},
		{"not an object", `[1,2,3]`},
		{"wrong types", `{"version":"2.0","modules":"basics"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mem := storage.NewMemory()
			require.NoError(t, mem.Set(ctx, StorageKey, tt.raw))

			rec, err := newTestRepository(mem, day).Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, Seed(day), rec)

			backup, err := mem.Get(ctx, StorageKey+".corrupt")
			require.NoError(t, err)
			assert.Equal(t, tt.raw, backup)
		})
	}
}

func TestLoadEmptyValues(t *testing.T) {
	for _, raw := range []string{"", "null", "  "} {
		ctx := context.Background()
		mem := storage.NewMemory()
		require.NoError(t, mem.Set(ctx, StorageKey, raw))

		rec, err := newTestRepository(mem, day).Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, Seed(day), rec)
	}
}

func TestLoadUnsupportedVersion(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	raw := `{"version":"9.1","modules":{}}`
	require.NoError(t, mem.Set(ctx, StorageKey, raw))

	rec, err := newTestRepository(mem, day).Load(ctx)
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	backup, err := mem.Get(ctx, StorageKey+".unsupported")
	require.NoError(t, err)
	assert.Equal(t, raw, backup)
}

func TestLoadBackendFailure(t *testing.T) {
	_, err := newTestRepository(storage.Disabled{}, day).Load(context.Background())
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestLoadNormalizesNilMaps(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	require.NoError(t, mem.Set(ctx, StorageKey, `{"version":"2.0","modules":{"oop":{"name":"ООП в Python","totalLessons":16,"lessons":null},"gone":null}}`))

	rec, err := newTestRepository(mem, day).Load(ctx)
	require.NoError(t, err)
	require.Contains(t, rec.Modules, "oop")
	assert.NotNil(t, rec.Modules["oop"].Lessons)
	assert.NotContains(t, rec.Modules, "gone")
}

func TestLoadRecomputesStaleCounts(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	raw := `{"version":"2.0","revision":3,"modules":{"basics":{"name":"Основы Python","totalLessons":10,"completed":0,"lessons":{` +
		`"lesson1":{"completed":true,"score":100},"lesson2":{"completed":true,"score":80},"lesson3":{"viewed":true}}}},` +
		`"statistics":{"totalLessonsCompleted":7,"totalScore":700,"averageScore":100,"timeSpent":42,"currentStreak":3,"lastStudyDate":"2024-03-14"}}`
	require.NoError(t, mem.Set(ctx, StorageKey, raw))

	rec, err := newTestRepository(mem, day).Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, rec.Modules["basics"].Completed)
	assert.Equal(t, 20, rec.ModulePercent("basics"))
	assert.Equal(t, 20, rec.GlobalPercent())
	assert.Equal(t, 2, rec.Statistics.TotalLessonsCompleted)
	assert.Equal(t, 180, rec.Statistics.TotalScore)
	assert.Equal(t, 90, rec.Statistics.AverageScore)

	// Time and streak are not derived from lessons
	assert.Equal(t, 42, rec.Statistics.TimeSpent)
	assert.Equal(t, 3, rec.Statistics.CurrentStreak)
	assert.Equal(t, "2024-03-14", rec.Statistics.LastStudyDate)
}

func TestLoadMigratesV1(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()

	// Written by the browser-only site
	v1 := `{
		"version": "1.0",
		"lastUpdated": "2024-03-09T18:30:00.000Z",
		"modules": {
			"basics": {
				"name": "Основы Python",
				"completed": 7,
				"totalLessons": 15,
				"lessons": {
					"lesson1": {"completed": true, "score": 100, "completedAt": "2024-03-08T10:00:00.000Z"},
					"lesson2": {"completed": true, "score": 87.6, "completedAt": "2024-03-09T10:00:00.000Z", "completionType": "exercise", "timeSpent": 4},
					"lesson3": {"completed": false, "score": 0, "viewed": true, "firstViewedAt": "2024-03-09T11:00:00.000Z", "videoProgress": 43.2}
				}
			},
			"functions": {"name": "Функции и модули", "completed": 0, "totalLessons": 10, "lessons": {}}
		},
		"statistics": {
			"totalLessonsCompleted": 2,
			"totalScore": 187.6,
			"averageScore": 94,
			"timeSpent": 4,
			"currentStreak": 2,
			"lastStudyDate": "Sat Mar 09 2024"
		}
	}`
	require.NoError(t, mem.Set(ctx, StorageKey, v1))

	rec, err := newTestRepository(mem, day).Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, CurrentVersion, rec.Version)
	assert.Equal(t, time.Date(2024, 3, 9, 18, 30, 0, 0, time.UTC), rec.LastUpdated)

	basics := rec.Modules["basics"]
	require.NotNil(t, basics)
	assert.Equal(t, 2, basics.Completed, "stale cached count is recomputed")
	assert.Equal(t, 88, basics.Lessons["lesson2"].Score)
	assert.Equal(t, "exercise", basics.Lessons["lesson2"].CompletionType)
	assert.Equal(t, 4, basics.Lessons["lesson2"].TimeSpent)
	require.NotNil(t, basics.Lessons["lesson3"].FirstViewedAt)
	assert.Nil(t, basics.Lessons["lesson3"].CompletedAt)
	assert.Equal(t, 43.2, basics.Lessons["lesson3"].VideoProgress)

	assert.Equal(t, 2, rec.Statistics.TotalLessonsCompleted)
	assert.Equal(t, 188, rec.Statistics.TotalScore)
	assert.Equal(t, 94, rec.Statistics.AverageScore)
	assert.Equal(t, 4, rec.Statistics.TimeSpent)
	assert.Equal(t, 2, rec.Statistics.CurrentStreak)
	assert.Equal(t, "2024-03-09", rec.Statistics.LastStudyDate)

	// The streak continues from the migrated day
	rec.UpdateStreak(time.Date(2024, 3, 10, 9, 0, 0, 0, time.Local))
	assert.Equal(t, 3, rec.Statistics.CurrentStreak)
}

func TestLoadMigratesV1NullStudyDate(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	require.NoError(t, mem.Set(ctx, StorageKey, `{"version":"1.0","modules":{},"statistics":{"lastStudyDate":null,"timeSpent":0}}`))

	rec, err := newTestRepository(mem, day).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, rec.Statistics.LastStudyDate)
	assert.Equal(t, day, rec.LastUpdated, "missing timestamps fall back to the clock")
}

func TestSavedDocumentShape(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	require.NoError(t, newTestRepository(mem, day).Save(ctx, Seed(day)))

	raw, err := mem.Get(ctx, StorageKey)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, "2.0", doc["version"])
	assert.Contains(t, doc, "lastUpdated")
	assert.Contains(t, doc, "statistics")

	modules := doc["modules"].(map[string]interface{})
	basics := modules["basics"].(map[string]interface{})
	assert.EqualValues(t, 15, basics["totalLessons"])
	assert.EqualValues(t, 2, basics["completed"])
}
