package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	// Pure Go SQLite driver (no CGO required)
	_ "modernc.org/sqlite"

	"github.com/Impulse-Zero/python.github.io/internal/logger"
)

// Item is one stored key/value pair of a profile
type Item struct {
	Profile   string    `gorm:"primaryKey;size:128"`
	Key       string    `gorm:"primaryKey;size:255"`
	Value     string    `gorm:"type:text"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName pins the table name independent of naming strategy
func (Item) TableName() string {
	return "storage_items"
}

// SQLConfig selects the database used by the SQL backend
type SQLConfig struct {
	Driver  string // sqlite, postgres or mysql
	DSN     string // file path for sqlite, connection string otherwise
	Profile string
}

// SQL stores items of one profile in a relational database through GORM.
// Several profiles can share the same database.
type SQL struct {
	db      *gorm.DB
	profile string
	log     *logger.Logger
}

// OpenSQL connects to the configured database and migrates the schema
func OpenSQL(cfg SQLConfig, log *logger.Logger) (*SQL, error) {
	if log == nil {
		log = logger.Get()
	}

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		// We handle logging ourselves
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
		}
		// SQLite only supports one writer at a time
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(time.Hour)

		if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
			log.Warn("Failed to enable WAL mode", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if err := db.AutoMigrate(&Item{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate: %w", err)
	}

	log.Debug("SQL storage ready", map[string]interface{}{
		"driver":  cfg.Driver,
		"profile": cfg.Profile,
	})

	return &SQL{db: db, profile: cfg.Profile, log: log}, nil
}

func dialectorFor(cfg SQLConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		if cfg.DSN != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return sqlite.Dialector{
			DriverName: "sqlite", // registered by modernc.org/sqlite
			DSN:        cfg.DSN,
		}, nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported SQL driver %q", cfg.Driver)
	}
}

func (s *SQL) Get(ctx context.Context, key string) (string, error) {
	var item Item
	err := s.db.WithContext(ctx).
		Where(s.match(key)).
		Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read %q: %w", key, err)
	}
	return item.Value, nil
}

func (s *SQL) Set(ctx context.Context, key, value string) error {
	item := Item{Profile: s.profile, Key: key, Value: value}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&item).Error
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

func (s *SQL) Remove(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).
		Where(s.match(key)).
		Delete(&Item{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove %q: %w", key, err)
	}
	return nil
}

func (s *SQL) Keys(ctx context.Context) ([]string, error) {
	items, err := s.items(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *SQL) Usage(ctx context.Context) (int64, error) {
	items, err := s.items(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, it := range items {
		total += entrySize(it.Key, it.Value)
	}
	return total, nil
}

// Health pings the database
func (s *SQL) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (s *SQL) items(ctx context.Context) ([]Item, error) {
	var items []Item
	if err := s.db.WithContext(ctx).Where("profile = ?", s.profile).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// match builds the condition for one key. Map conditions get their column
// names quoted, which matters because key is reserved in MySQL.
func (s *SQL) match(key string) map[string]interface{} {
	return map[string]interface{}{"profile": s.profile, "key": key}
}
