package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_create_sensors.up.sql": {Data: []byte(
			`CREATE TABLE sensors (id TEXT PRIMARY KEY, name TEXT NOT NULL);`,
		)},
		"20260102_000000_add_sensor_index.up.sql": {Data: []byte(
			`CREATE INDEX idx_sensors_name ON sensors(name);`,
		)},
		"README.md": {Data: []byte("ignored")},
	}
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	src := testMigrations()

	if err := db.Migrate(ctx, src); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	var tableName string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='sensors'",
	).Scan(&tableName)
	if err != nil {
		t.Fatalf("table sensors not created: %v", err)
	}

	applied, pending, err := db.MigrationStatus(ctx, src)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("applied = %d, want 2", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
	if applied[0].Version != "20260101_000000" {
		t.Errorf("applied[0].Version = %q, want oldest first", applied[0].Version)
	}

	// Running again is a no-op.
	if err := db.Migrate(ctx, src); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_AppliesOnlyNew(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	src := testMigrations()

	first := fstest.MapFS{
		"20260101_000000_create_sensors.up.sql": src["20260101_000000_create_sensors.up.sql"],
	}
	if err := db.Migrate(ctx, first); err != nil {
		t.Fatalf("Migrate(first) error = %v", err)
	}

	_, pending, err := db.MigrationStatus(ctx, src)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "add_sensor_index" {
		t.Fatalf("pending = %+v, want only add_sensor_index", pending)
	}

	if err := db.Migrate(ctx, src); err != nil {
		t.Fatalf("Migrate(all) error = %v", err)
	}
}

func TestMigrate_FailureRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	src := fstest.MapFS{
		"20260101_000000_good.up.sql": {Data: []byte(`CREATE TABLE good (id INTEGER);`)},
		"20260102_000000_bad.up.sql":  {Data: []byte(`CREATE TABLE broken (;`)},
	}

	if err := db.Migrate(ctx, src); err == nil {
		t.Fatal("Migrate() expected error for invalid SQL")
	}

	applied, pending, err := db.MigrationStatus(ctx, src)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 1 {
		t.Errorf("applied/pending = %d/%d, want 1/1", len(applied), len(pending))
	}
}

func TestMigrate_NilSource(t *testing.T) {
	db := openTestDB(t)

	if err := db.Migrate(context.Background(), nil); err != nil {
		t.Errorf("Migrate(nil) error = %v, want nil", err)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	src := fstest.MapFS{
		"20260101_000000_a.up.sql": {Data: []byte(`SELECT 1;`)},
		"20260101_000000_b.up.sql": {Data: []byte(`SELECT 1;`)},
	}

	if _, err := loadMigrations(src); err == nil {
		t.Error("loadMigrations() expected error for duplicate version")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantOk      bool
	}{
		{"20260118_120000_create_users.up.sql", "20260118_120000", true},
		{"20260118_120000_create_users.down.sql", "", false},
		{"20260118_120000_create_users.sql", "", false},
		{"readme.txt", "", false},
		{"invalid.up.sql", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if version != tt.wantVersion {
				t.Errorf("version = %q, want %q", version, tt.wantVersion)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"20260301_090000_device_states.up.sql", "device_states"},
		{"20260118_120000_add_email_to_users.up.sql", "add_email_to_users"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := extractMigrationName(tt.filename); got != tt.want {
				t.Errorf("extractMigrationName(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}
