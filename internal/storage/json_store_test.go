package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *JSONStore {
	t.Helper()
	root := t.TempDir()
	store, err := NewJSONStore(Layout{
		JobsRoot:  filepath.Join(root, "jobs"),
		MediaRoot: filepath.Join(root, "media"),
	})
	if err != nil {
		t.Fatalf("NewJSONStore returned error: %v", err)
	}
	return store
}

func TestCreatePersistsPendingJob(t *testing.T) {
	store := newTestStore(t)
	job, err := store.Create(context.Background(), "/srv/uploads/lessonA.mp4", "lessonA")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected generated job id")
	}
	if job.Status != JobPending {
		t.Fatalf("expected pending status, got %s", job.Status)
	}
	wantManifest := filepath.Join(store.Layout().MediaRoot, "lessonA", "lessonA.m3u8")
	if job.ManifestPath != wantManifest {
		t.Fatalf("expected manifest path %s, got %s", wantManifest, job.ManifestPath)
	}

	loaded, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if loaded.SourcePath != job.SourcePath || loaded.BaseName != job.BaseName {
		t.Fatalf("round trip mismatch: %+v vs %+v", loaded, job)
	}
}

func TestGetUnknownJobReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateMergesFieldsAndRefreshesTimestamp(t *testing.T) {
	store := newTestStore(t)
	job, err := store.Create(context.Background(), "/srv/uploads/lessonA.mp4", "lessonA")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	store.now = func() time.Time { return job.CreatedAt.Add(time.Minute) }
	failed := JobFailed
	cause := "ffmpeg exited with code: 1"
	updated, err := store.Update(context.Background(), job.ID, JobUpdate{Status: &failed, Error: &cause})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.Status != JobFailed || updated.Error != cause {
		t.Fatalf("unexpected update result: %+v", updated)
	}
	if !updated.UpdatedAt.After(job.UpdatedAt) {
		t.Fatal("expected UpdatedAt to advance")
	}
	if !updated.CreatedAt.Equal(job.CreatedAt) {
		t.Fatal("expected CreatedAt to be immutable")
	}
}

func TestUpdateUnknownJobIsNoOp(t *testing.T) {
	store := newTestStore(t)
	processing := JobProcessing
	if _, err := store.Update(context.Background(), "missing", JobUpdate{Status: &processing}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListLatestByBaseNameKeepsNewestPerAsset(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store.now = func() time.Time { return base }
	first, err := store.Create(context.Background(), "/srv/uploads/lessonA.mp4", "lessonA")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	store.now = func() time.Time { return base.Add(time.Hour) }
	second, err := store.Create(context.Background(), "/srv/uploads/lessonA-retry.mp4", "lessonA")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := store.Create(context.Background(), "/srv/uploads/lessonB.mp4", "lessonB"); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	latest, err := store.ListLatestByBaseName(context.Background())
	if err != nil {
		t.Fatalf("ListLatestByBaseName returned error: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(latest))
	}
	if latest["lessonA"].ID != second.ID {
		t.Fatalf("expected newest job %s for lessonA, got %s", second.ID, latest["lessonA"].ID)
	}
	if latest["lessonA"].ID == first.ID {
		t.Fatal("expected older retry to be shadowed")
	}
}

func TestListLatestSkipsCorruptRecords(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create(context.Background(), "/srv/uploads/lessonA.mp4", "lessonA"); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	corrupt := filepath.Join(store.Layout().JobsRoot, "corrupt-job")
	if err := os.MkdirAll(corrupt, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(corrupt, "metadata.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt record: %v", err)
	}

	latest, err := store.ListLatestByBaseName(context.Background())
	if err != nil {
		t.Fatalf("ListLatestByBaseName returned error: %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("expected corrupt record to be skipped, got %d entries", len(latest))
	}
}

func TestGetRejectsPathShapedIDs(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "../outside"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for traversal-shaped id, got %v", err)
	}
}
