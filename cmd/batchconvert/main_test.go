package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestScanSources(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"lessonA.mp4", "lessonB.webm", "notes.txt", "cover.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	candidates, err := scanSources(dir)
	if err != nil {
		t.Fatalf("scanSources returned error: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %+v", len(candidates), candidates)
	}
	names := map[string]bool{}
	for _, c := range candidates {
		names[c.BaseName] = true
		if !filepath.IsAbs(c.SourcePath) {
			t.Fatalf("expected absolute source path, got %q", c.SourcePath)
		}
	}
	if !names["lessonA"] || !names["lessonB"] {
		t.Fatalf("unexpected base names: %v", names)
	}
}

func TestSubmitBatchAndWait(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/jobs/batch":
			var body struct {
				Candidates []candidate `json:"candidates"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Candidates) != 1 {
				t.Errorf("unexpected batch payload: %v", err)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"outcomes": []outcome{{BaseName: "lessonA", Result: "queued", JobID: "job-1"}},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/api/jobs/job-1":
			polls++
			status := "processing"
			if polls > 1 {
				status = "completed"
			}
			json.NewEncoder(w).Encode(jobStatus{ID: "job-1", Status: status})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := srv.Client()

	outcomes, err := submitBatch(ctx, client, srv.URL, []candidate{{SourcePath: "/tmp/lessonA.mp4", BaseName: "lessonA"}})
	if err != nil {
		t.Fatalf("submitBatch returned error: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].JobID != "job-1" {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}

	job, err := waitForJob(ctx, client, srv.URL, "job-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("waitForJob returned error: %v", err)
	}
	if job.Status != "completed" {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if polls < 2 {
		t.Fatalf("expected at least 2 polls, got %d", polls)
	}
}
