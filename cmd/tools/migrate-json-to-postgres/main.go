// Command migrate-json-to-postgres copies job records from a JSON jobs root
// into a Postgres job store.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"coursestream/internal/storage"
)

func main() {
	dataRoot := flag.String("data-root", "data", "root directory holding jobs/ and media/")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	dryRun := flag.Bool("dry-run", false, "report what would be migrated without writing")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	dsn := strings.TrimSpace(*postgresDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("COURSESTREAM_POSTGRES_DSN"))
	}
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" && !*dryRun {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, COURSESTREAM_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}

	layout := storage.Layout{
		JobsRoot:  filepath.Join(*dataRoot, "jobs"),
		MediaRoot: filepath.Join(*dataRoot, "media"),
	}
	jsonStore, err := storage.NewJSONStore(layout)
	if err != nil {
		logger.Error("failed to open JSON job store", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	jobs, err := jsonStore.ListAll(ctx)
	if err != nil {
		logger.Error("failed to read job records", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded job records", "count", len(jobs))

	if *dryRun {
		for _, job := range jobs {
			logger.Info("would migrate", "id", job.ID, "base_name", job.BaseName, "status", string(job.Status))
		}
		return
	}

	pgStore, err := storage.NewPostgresStore(ctx, storage.PostgresConfig{DSN: dsn}, jsonStore.Layout())
	if err != nil {
		logger.Error("failed to open Postgres job store", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close(context.Background())

	imported, err := pgStore.Import(ctx, jobs)
	if err != nil {
		logger.Error("migration failed", "imported", imported, "error", err)
		os.Exit(1)
	}
	logger.Info("migration complete", "imported", imported)
}
