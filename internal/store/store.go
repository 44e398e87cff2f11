package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultSQLitePath = "job-pilot.db"
)

type Config struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Path     string `mapstructure:"path"`
	LogLevel string `mapstructure:"log-level"`
}

// Open connects to the configured database. Unique-key violations are
// translated to gorm.ErrDuplicatedKey so components can map them to
// typed errors.
func Open(cfg *Config, logger *zap.Logger) (*gorm.DB, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	gormConfig := &gorm.Config{
		Logger: gormlogger.New(
			zap.NewStdLog(logger.Named("gorm")),
			gormlogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logLevel(cfg.LogLevel),
				IgnoreRecordNotFoundError: true,
			},
		),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		TranslateError: true,
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", DriverSQLite:
		path := strings.TrimSpace(cfg.Path)
		if path == "" {
			path = defaultSQLitePath
		}
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating sqlite directory: %w", err)
			}
		}

		db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("connecting to sqlite: %w", err)
		}

		// sqlite serializes writers anyway; a single connection avoids
		// "database is locked" under concurrent upserts.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("getting database instance: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)

		logger.Info("connected to database", zap.String("driver", DriverSQLite), zap.String("path", path))
		return db, nil

	case DriverPostgres:
		db, err := gorm.Open(postgres.Open(cfg.DSN), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}

		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("getting database instance: %w", err)
		}
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)

		logger.Info("connected to database", zap.String("driver", DriverPostgres))
		return db, nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// Migrate runs each migration in order. Components own their models and
// expose a migration func, so this package never imports them.
func Migrate(db *gorm.DB, migrations ...func(*gorm.DB) error) error {
	for _, m := range migrations {
		if err := m(db); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
	}
	return nil
}

func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func sqliteDSN(path string) string {
	return path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
}

func logLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info":
		return gormlogger.Info
	case "warn":
		return gormlogger.Warn
	case "error":
		return gormlogger.Error
	default:
		return gormlogger.Silent
	}
}
