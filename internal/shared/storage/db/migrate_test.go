package db

import (
	"context"
	"io/fs"
	"strings"
	"testing"
)

func TestNilDatabaseSkipsMigrations(t *testing.T) {
	if err := RunMigrations(context.Background(), nil); err != nil {
		t.Fatalf("expected nil database to be a no-op, got %v", err)
	}
	v, err := SchemaVersion(context.Background(), nil)
	if err != nil || v != 0 {
		t.Fatalf("expected version 0 without a database, got %d, %v", v, err)
	}
}

func TestEmbeddedMigrationsCreateQuotaBeforeJobs(t *testing.T) {
	files, err := fs.Glob(migrationFiles, migrationsDir+"/*.sql")
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("expected at least 2 migrations, got %v", files)
	}
	if !strings.Contains(files[0], "quota") || !strings.Contains(files[1], "jobs") {
		t.Fatalf("unexpected migration order %v", files)
	}
	for _, f := range files {
		body, err := fs.ReadFile(migrationFiles, f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if !strings.Contains(string(body), "-- +goose Up") {
			t.Fatalf("%s is missing a goose Up section", f)
		}
	}
}
