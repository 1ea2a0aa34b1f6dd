package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig tunes the connection pool behind the Postgres job store.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	AcquireTimeout  time.Duration
	ApplicationName string
}

// PostgresStore keeps jobs in a single transcode_jobs table. It exists for
// deployments where several instances share one jobs database; the JSON
// driver remains the default.
type PostgresStore struct {
	pool   *pgxpool.Pool
	layout Layout
	now    func() time.Time
}

const postgresJobsSchema = `
CREATE TABLE IF NOT EXISTS transcode_jobs (
    id               TEXT PRIMARY KEY,
    source_path      TEXT NOT NULL,
    base_name        TEXT NOT NULL,
    output_directory TEXT NOT NULL,
    manifest_path    TEXT NOT NULL,
    status           TEXT NOT NULL,
    error            TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS transcode_jobs_base_name_idx
    ON transcode_jobs (base_name, created_at DESC);
`

// NewPostgresStore opens the pool and applies the schema bootstrap. The
// layout still derives output locations; only metadata moves to Postgres.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, layout Layout) (*PostgresStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresJobsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply jobs schema: %w", err)
	}
	return &PostgresStore{pool: pool, layout: layout, now: time.Now}, nil
}

func (s *PostgresStore) Layout() Layout {
	return s.layout
}

func (s *PostgresStore) Create(ctx context.Context, sourcePath, baseName string) (TranscodeJob, error) {
	id, err := generateID()
	if err != nil {
		return TranscodeJob{}, err
	}
	now := s.now().UTC()
	job := TranscodeJob{
		ID:              id,
		SourcePath:      sourcePath,
		BaseName:        baseName,
		OutputDirectory: s.layout.OutputDir(baseName),
		ManifestPath:    s.layout.ManifestPath(baseName),
		Status:          JobPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO transcode_jobs (id, source_path, base_name, output_directory, manifest_path, status, error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.SourcePath, job.BaseName, job.OutputDirectory, job.ManifestPath, string(job.Status), job.Error, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return TranscodeJob{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (TranscodeJob, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, source_path, base_name, output_directory, manifest_path, status, error, created_at, updated_at
FROM transcode_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		// Backend unavailability is folded into ErrNotFound: the caller
		// treats missing state as "cannot confirm" instead of crashing.
		return TranscodeJob{}, ErrNotFound
	}
	return job, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, update JobUpdate) (TranscodeJob, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return TranscodeJob{}, err
	}
	if update.Status != nil {
		current.Status = *update.Status
	}
	if update.Error != nil {
		current.Error = *update.Error
	}
	current.UpdatedAt = s.now().UTC()
	tag, err := s.pool.Exec(ctx, `
UPDATE transcode_jobs SET status = $2, error = $3, updated_at = $4 WHERE id = $1`,
		id, string(current.Status), current.Error, current.UpdatedAt)
	if err != nil || tag.RowsAffected() == 0 {
		return TranscodeJob{}, ErrNotFound
	}
	return current, nil
}

func (s *PostgresStore) ListLatestByBaseName(ctx context.Context) (map[string]TranscodeJob, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT ON (base_name)
       id, source_path, base_name, output_directory, manifest_path, status, error, created_at, updated_at
FROM transcode_jobs
ORDER BY base_name, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	latest := make(map[string]TranscodeJob)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			continue
		}
		latest[job.BaseName] = job
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return latest, nil
}

// Import upserts job records verbatim, keeping their ids and timestamps.
// Used by the migration tool when moving a JSON jobs root into Postgres.
func (s *PostgresStore) Import(ctx context.Context, jobs []TranscodeJob) (int, error) {
	imported := 0
	for _, job := range jobs {
		_, err := s.pool.Exec(ctx, `
INSERT INTO transcode_jobs (id, source_path, base_name, output_directory, manifest_path, status, error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
    source_path = EXCLUDED.source_path,
    base_name = EXCLUDED.base_name,
    output_directory = EXCLUDED.output_directory,
    manifest_path = EXCLUDED.manifest_path,
    status = EXCLUDED.status,
    error = EXCLUDED.error,
    created_at = EXCLUDED.created_at,
    updated_at = EXCLUDED.updated_at`,
			job.ID, job.SourcePath, job.BaseName, job.OutputDirectory, job.ManifestPath, string(job.Status), job.Error, job.CreatedAt, job.UpdatedAt)
		if err != nil {
			return imported, fmt.Errorf("import job %s: %w", job.ID, err)
		}
		imported++
	}
	return imported, nil
}

func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func scanJob(row pgx.Row) (TranscodeJob, error) {
	var job TranscodeJob
	var status string
	if err := row.Scan(&job.ID, &job.SourcePath, &job.BaseName, &job.OutputDirectory, &job.ManifestPath, &status, &job.Error, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TranscodeJob{}, ErrNotFound
		}
		return TranscodeJob{}, err
	}
	job.Status = JobStatus(status)
	return job, nil
}

var _ Store = (*PostgresStore)(nil)
