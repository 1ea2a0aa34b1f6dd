package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// JSONStore persists one metadata.json per job directory under the jobs
// root. It is the default driver; job volume is expected to stay small, so
// ListLatestByBaseName is a deliberate full scan.
type JSONStore struct {
	mu     sync.Mutex
	layout Layout
	now    func() time.Time
}

// NewJSONStore prepares the jobs root and the media root up front so the
// first write cannot fail on a missing directory.
func NewJSONStore(layout Layout) (*JSONStore, error) {
	if strings.TrimSpace(layout.JobsRoot) == "" {
		return nil, fmt.Errorf("jobs root is required")
	}
	if strings.TrimSpace(layout.MediaRoot) == "" {
		return nil, fmt.Errorf("media root is required")
	}
	absJobs, err := filepath.Abs(layout.JobsRoot)
	if err != nil {
		return nil, err
	}
	absMedia, err := filepath.Abs(layout.MediaRoot)
	if err != nil {
		return nil, err
	}
	layout = Layout{JobsRoot: absJobs, MediaRoot: absMedia}
	for _, dir := range []string{absJobs, absMedia} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare %s: %w", dir, err)
		}
	}
	return &JSONStore{layout: layout, now: time.Now}, nil
}

// Layout exposes the resolved derivation rules so the orchestrator and the
// store agree on output locations.
func (s *JSONStore) Layout() Layout {
	return s.layout
}

func (s *JSONStore) Create(ctx context.Context, sourcePath, baseName string) (TranscodeJob, error) {
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(job); err != nil {
		return TranscodeJob{}, err
	}
	return job, nil
}

func (s *JSONStore) Get(ctx context.Context, id string) (TranscodeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

func (s *JSONStore) Update(ctx context.Context, id string, update JobUpdate) (TranscodeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.read(id)
	if err != nil {
		return TranscodeJob{}, err
	}
	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.Error != nil {
		job.Error = *update.Error
	}
	job.UpdatedAt = s.now().UTC()
	if err := s.persist(job); err != nil {
		return TranscodeJob{}, err
	}
	return job, nil
}

func (s *JSONStore) ListLatestByBaseName(ctx context.Context) (map[string]TranscodeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.layout.JobsRoot)
	if err != nil {
		return nil, fmt.Errorf("scan jobs root: %w", err)
	}
	latest := make(map[string]TranscodeJob)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		job, err := s.read(entry.Name())
		if err != nil {
			// Corrupt or half-written records are skipped, not fatal.
			continue
		}
		current, exists := latest[job.BaseName]
		if !exists || job.CreatedAt.After(current.CreatedAt) {
			latest[job.BaseName] = job
		}
	}
	return latest, nil
}

// ListAll returns every readable job record, oldest first. Used by the
// migration tool; not part of the Store interface.
func (s *JSONStore) ListAll(ctx context.Context) ([]TranscodeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.layout.JobsRoot)
	if err != nil {
		return nil, fmt.Errorf("scan jobs root: %w", err)
	}
	jobs := make([]TranscodeJob, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		job, err := s.read(entry.Name())
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

func (s *JSONStore) Close(ctx context.Context) error {
	return nil
}

func (s *JSONStore) read(id string) (TranscodeJob, error) {
	if strings.TrimSpace(id) == "" || id != filepath.Base(id) {
		return TranscodeJob{}, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.layout.JobsRoot, id, "metadata.json"))
	if err != nil {
		return TranscodeJob{}, ErrNotFound
	}
	var job TranscodeJob
	if err := json.Unmarshal(data, &job); err != nil {
		return TranscodeJob{}, ErrNotFound
	}
	if job.ID == "" {
		job.ID = id
	}
	return job, nil
}

func (s *JSONStore) persist(job TranscodeJob) error {
	dir := filepath.Join(s.layout.JobsRoot, job.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return writeJSONFile(filepath.Join(dir, "metadata.json"), job)
}

// writeJSONFile writes atomically via a temp file and rename so a crash
// mid-write never leaves a truncated record behind.
func writeJSONFile(path string, payload any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "meta-*.tmp")
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

var _ Store = (*JSONStore)(nil)
