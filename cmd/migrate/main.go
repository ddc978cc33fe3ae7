package main

// Apply the CV processing schema (jobs, documents, quota usage):
//   go run ./cmd/migrate

import (
	"context"
	"log"
	"os"

	"cv-processing-backend/internal/shared/config"
	"cv-processing-backend/internal/shared/storage/db"
)

func main() {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Printf("DATABASE_URL is required to migrate the jobs and quota store")
		os.Exit(1)
	}
	ctx := context.Background()

	opts := db.OptionsFromEnv(db.DefaultMigrateOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		log.Printf("failed to connect database: %v", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		log.Printf("failed to run migrations: %v", err)
		os.Exit(1)
	}
	version, err := db.SchemaVersion(ctx, sqlDB)
	if err != nil {
		log.Printf("migrations applied, version unknown: %v", err)
		return
	}
	log.Printf("cv processing schema at version %d", version)
}
