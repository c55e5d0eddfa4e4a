package database

import (
	"path/filepath"
	"testing"
)

// NewTestDB creates a migrated sqlite database in a temporary directory.
// It is closed automatically when the test ends.
func NewTestDB(t testing.TB) *DB {
	t.Helper()

	db, err := NewDB(Config{
		Driver:       string(DialectSQLite),
		DatabasePath: filepath.Join(t.TempDir(), "docvault_test.db"),
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
