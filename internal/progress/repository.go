package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Impulse-Zero/python.github.io/internal/logger"
	"github.com/Impulse-Zero/python.github.io/internal/storage"
)

// StorageKey is the fixed key of the progress document
const StorageKey = "pythonMasterCourseProgress"

// ErrUnsupportedVersion is returned for documents written by an unknown format
var ErrUnsupportedVersion = errors.New("progress: unsupported document version")

// Repository loads and saves the progress document of one profile
type Repository struct {
	backend storage.Backend
	log     *logger.Logger
	now     func() time.Time
}

// NewRepository creates a repository over backend
func NewRepository(backend storage.Backend, log *logger.Logger) *Repository {
	if log == nil {
		log = logger.Get()
	}
	return &Repository{
		backend: backend,
		log:     log.Component("progress"),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = now
	return r
}

// Load returns the persisted record, or a freshly seeded one when nothing is
// stored. An unreadable document is kept under StorageKey+".corrupt" and
// treated as absent; a document of an unknown version is kept under
// StorageKey+".unsupported" and ErrUnsupportedVersion is returned.
func (r *Repository) Load(ctx context.Context) (*Record, error) {
	raw, err := r.backend.Get(ctx, StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Seed(r.now()), nil
		}
		return nil, fmt.Errorf("failed to read progress: %w", err)
	}
	if trimmed := strings.TrimSpace(raw); trimmed == "" || trimmed == "null" {
		return Seed(r.now()), nil
	}

	rec, err := decode([]byte(raw), r.now())
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, ErrUnsupportedVersion):
		r.backup(ctx, ".unsupported", raw)
		return nil, err
	default:
		r.log.Warn("Stored progress is unreadable, starting over", map[string]interface{}{
			"error": err.Error(),
		})
		r.backup(ctx, ".corrupt", raw)
		return Seed(r.now()), nil
	}
}

func decode(data []byte, now time.Time) (*Record, error) {
	// Detect the version first
	var version struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &version); err != nil {
		return nil, fmt.Errorf("invalid progress format: %w", err)
	}

	var rec *Record
	switch version.Version {
	case "", "1.0":
		var v1 v1Record
		if err := json.Unmarshal(data, &v1); err != nil {
			return nil, fmt.Errorf("failed to parse v1 progress: %w", err)
		}
		rec = migrateV1ToV2(v1, now)
	case CurrentVersion:
		rec = &Record{}
		if err := json.Unmarshal(data, rec); err != nil {
			return nil, fmt.Errorf("failed to parse progress: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, version.Version)
	}

	// Ensure maps are not nil after unmarshal
	if rec.Modules == nil {
		rec.Modules = make(map[string]*Module)
	}
	for id, m := range rec.Modules {
		if m == nil {
			delete(rec.Modules, id)
			continue
		}
		if m.Lessons == nil {
			m.Lessons = make(map[string]*Lesson)
		}
		for lid, l := range m.Lessons {
			if l == nil {
				delete(m.Lessons, lid)
			}
		}
	}

	// Cached counts are derived from the lessons, never taken from the document
	for id := range rec.Modules {
		rec.RecomputeModule(id)
	}
	rec.RecomputeStatistics()
	return rec, nil
}

func (r *Repository) backup(ctx context.Context, suffix, raw string) {
	if err := r.backend.Set(ctx, StorageKey+suffix, raw); err != nil {
		r.log.Warn("Failed to back up stored progress", map[string]interface{}{
			"key":   StorageKey + suffix,
			"error": err.Error(),
		})
	}
}

// Save stamps the record and overwrites the stored document with it. When
// the stored document carries a higher revision, another session saved in
// the meantime; it is overwritten anyway and a warning is logged.
func (r *Repository) Save(ctx context.Context, rec *Record) error {
	stored := r.storedRevision(ctx)
	if stored > rec.Revision {
		r.log.Warn("Overwriting progress saved by another session", map[string]interface{}{
			"stored_revision": stored,
			"revision":        rec.Revision,
		})
	}

	prevRevision, prevUpdated := rec.Revision, rec.LastUpdated
	rec.Version = CurrentVersion
	rec.Revision = max(stored, rec.Revision) + 1
	rec.LastUpdated = r.now().UTC()

	data, err := json.Marshal(rec)
	if err != nil {
		rec.Revision, rec.LastUpdated = prevRevision, prevUpdated
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	if err := r.backend.Set(ctx, StorageKey, string(data)); err != nil {
		rec.Revision, rec.LastUpdated = prevRevision, prevUpdated
		return fmt.Errorf("failed to save progress: %w", err)
	}

	r.log.Debug("Progress saved", map[string]interface{}{
		"revision": rec.Revision,
		"bytes":    len(data),
	})
	return nil
}

func (r *Repository) storedRevision(ctx context.Context) int64 {
	raw, err := r.backend.Get(ctx, StorageKey)
	if err != nil {
		return 0
	}
	var head struct {
		Revision int64 `json:"revision"`
	}
	if err := json.Unmarshal([]byte(raw), &head); err != nil {
		return 0
	}
	return head.Revision
}
