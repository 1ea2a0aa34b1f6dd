package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"coursestream/internal/storage"
	"coursestream/internal/transcode"
)

// stubEncoder installs a shell script standing in for ffmpeg, following the
// argument contract to locate the master playlist name and output directory.
func stubEncoder(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub-encoder")
	script := `#!/bin/sh
prev=""
master=""
last=""
for a in "$@"; do
  if [ "$prev" = "-master_pl_name" ]; then master="$a"; fi
  prev="$a"
  last="$a"
done
outdir=$(dirname "$last")
` + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub encoder: %v", err)
	}
	return path
}

func withOrchestrator(t *testing.T, h *Handler, store *storage.JSONStore, encoder string) {
	t.Helper()
	orch, err := transcode.New(transcode.Config{
		Store:         store,
		Layout:        h.Layout,
		EncoderBinary: encoder,
		EncodeTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("transcode.New returned error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	h.Orchestrator = orch
}

func waitForStatus(t *testing.T, store *storage.JSONStore, id string, want storage.JobStatus) storage.TranscodeJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.Get(context.Background(), id)
		if err == nil && job.Status.Terminal() {
			if job.Status != want {
				t.Fatalf("job finished as %s (%s), want %s", job.Status, job.Error, want)
			}
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach %s before deadline", id, want)
	return storage.TranscodeJob{}
}

func writeSource(t *testing.T, name string) string {
	t.Helper()
	source := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(source, []byte("mp4"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return source
}

func TestJobsAcceptsAndCompletesConversion(t *testing.T) {
	h, store := newTestHandler(t)
	withOrchestrator(t, h, store, stubEncoder(t, `touch "$outdir/$master"
exit 0`))

	rec := doJSON(t, h.Jobs, http.MethodPost, "/api/jobs", conversionRequest{
		SourcePath: writeSource(t, "lessonA.mp4"),
		BaseName:   "lessonA",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp jobResponse
	decodeBody(t, rec, &resp)
	if resp.ID == "" || resp.BaseName != "lessonA" {
		t.Fatalf("unexpected job response: %+v", resp)
	}
	waitForStatus(t, store, resp.ID, storage.JobCompleted)

	// Once the manifest exists, a repeat request reports the short-circuit
	// instead of opening a new job.
	rec = doJSON(t, h.Jobs, http.MethodPost, "/api/jobs", conversionRequest{
		SourcePath: writeSource(t, "lessonA.mp4"),
		BaseName:   "lessonA",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for converted asset, got %d", rec.Code)
	}
	var short map[string]string
	decodeBody(t, rec, &short)
	if short["result"] != "already-converted" {
		t.Fatalf("expected already-converted marker, got %+v", short)
	}
}

func TestJobsValidatesPayload(t *testing.T) {
	h, store := newTestHandler(t)
	withOrchestrator(t, h, store, stubEncoder(t, "exit 0"))

	rec := doJSON(t, h.Jobs, http.MethodPost, "/api/jobs", conversionRequest{BaseName: "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing sourcePath: expected 400, got %d", rec.Code)
	}
	rec = doJSON(t, h.Jobs, http.MethodGet, "/api/jobs", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET: expected 405, got %d", rec.Code)
	}
}

func TestJobsBatchReportsPerCandidateOutcomes(t *testing.T) {
	h, store := newTestHandler(t)
	withOrchestrator(t, h, store, stubEncoder(t, `touch "$outdir/$master"
exit 0`))

	rec := doJSON(t, h.JobsBatch, http.MethodPost, "/api/jobs/batch", batchRequest{
		Candidates: []transcode.Candidate{
			{SourcePath: writeSource(t, "a.mp4"), BaseName: "batchA"},
			{SourcePath: writeSource(t, "b.mp4"), BaseName: "batchB"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Outcomes []transcode.Outcome `json:"outcomes"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(resp.Outcomes))
	}

	rec = doJSON(t, h.JobsBatch, http.MethodPost, "/api/jobs/batch", batchRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty batch: expected 400, got %d", rec.Code)
	}
}

func TestJobByID(t *testing.T) {
	h, store := newTestHandler(t)
	withOrchestrator(t, h, store, stubEncoder(t, `touch "$outdir/$master"
exit 0`))

	rec := doJSON(t, h.Jobs, http.MethodPost, "/api/jobs", conversionRequest{
		SourcePath: writeSource(t, "lessonB.mp4"),
		BaseName:   "lessonB",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var created jobResponse
	decodeBody(t, rec, &created)
	waitForStatus(t, store, created.ID, storage.JobCompleted)

	rec = doJSON(t, h.JobByID, http.MethodGet, "/api/jobs/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var fetched jobResponse
	decodeBody(t, rec, &fetched)
	if fetched.Status != string(storage.JobCompleted) {
		t.Fatalf("expected completed, got %s", fetched.Status)
	}

	rec = doJSON(t, h.JobByID, http.MethodGet, "/api/jobs/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id: expected 404, got %d", rec.Code)
	}
}
