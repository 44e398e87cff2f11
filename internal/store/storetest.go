package store

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"
)

// OpenTest opens a migrated sqlite database in a per-test temp directory.
func OpenTest(t testing.TB, migrations ...func(*gorm.DB) error) *gorm.DB {
	t.Helper()

	db, err := Open(&Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "test.db")}, nil)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })

	if err := Migrate(db, migrations...); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}
