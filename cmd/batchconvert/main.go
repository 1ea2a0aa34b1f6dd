// Command batchconvert scans a directory of source videos and submits them
// for conversion through the coursestream API, then optionally waits for
// every job to finish.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type candidate struct {
	SourcePath string `json:"sourcePath"`
	BaseName   string `json:"baseName"`
}

type outcome struct {
	SourcePath string `json:"sourcePath"`
	BaseName   string `json:"baseName"`
	Result     string `json:"result"`
	JobID      string `json:"jobId,omitempty"`
}

type jobStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

var sourceExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".mov":  true,
	".mkv":  true,
}

func main() {
	apiBase := flag.String("api", "http://127.0.0.1:8080", "base URL of the coursestream API")
	sourceDir := flag.String("source-dir", "", "directory to scan for source videos")
	wait := flag.Bool("wait", false, "poll submitted jobs until they finish")
	pollInterval := flag.Duration("poll-interval", 2*time.Second, "interval between status polls")
	timeout := flag.Duration("timeout", time.Hour, "overall deadline for submission and waiting")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if strings.TrimSpace(*sourceDir) == "" {
		logger.Error("source directory is required", "hint", "pass --source-dir")
		os.Exit(1)
	}

	candidates, err := scanSources(*sourceDir)
	if err != nil {
		logger.Error("failed to scan sources", "error", err)
		os.Exit(1)
	}
	if len(candidates) == 0 {
		logger.Info("no source videos found", "dir", *sourceDir)
		return
	}
	logger.Info("submitting batch", "count", len(candidates))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	client := &http.Client{Timeout: 30 * time.Second}

	outcomes, err := submitBatch(ctx, client, *apiBase, candidates)
	if err != nil {
		logger.Error("batch submission failed", "error", err)
		os.Exit(1)
	}

	pending := make([]string, 0, len(outcomes))
	for _, oc := range outcomes {
		logger.Info("candidate", "base_name", oc.BaseName, "result", oc.Result, "job_id", oc.JobID)
		if oc.JobID != "" {
			pending = append(pending, oc.JobID)
		}
	}
	if !*wait || len(pending) == 0 {
		return
	}

	failed := 0
	for _, id := range pending {
		job, err := waitForJob(ctx, client, *apiBase, id, *pollInterval)
		if err != nil {
			logger.Error("job did not finish", "job_id", id, "error", err)
			failed++
			continue
		}
		if job.Status == "failed" {
			logger.Error("job failed", "job_id", id, "cause", job.Error)
			failed++
			continue
		}
		logger.Info("job completed", "job_id", id)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// scanSources walks one directory level and derives each file's base name
// from its filename without extension.
func scanSources(dir string) ([]candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !sourceExtensions[ext] {
			continue
		}
		absolute, err := filepath.Abs(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate{
			SourcePath: absolute,
			BaseName:   strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
		})
	}
	return candidates, nil
}

func submitBatch(ctx context.Context, client *http.Client, apiBase string, candidates []candidate) ([]outcome, error) {
	payload, err := json.Marshal(map[string]any{"candidates": candidates})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(apiBase, "/")+"/api/jobs/batch", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batch endpoint returned %s", resp.Status)
	}
	var body struct {
		Outcomes []outcome `json:"outcomes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Outcomes, nil
}

func waitForJob(ctx context.Context, client *http.Client, apiBase, id string, interval time.Duration) (jobStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := fetchJob(ctx, client, apiBase, id)
		if err != nil {
			return jobStatus{}, err
		}
		if job.Status == "completed" || job.Status == "failed" {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return jobStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func fetchJob(ctx context.Context, client *http.Client, apiBase, id string) (jobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(apiBase, "/")+"/api/jobs/"+id, nil)
	if err != nil {
		return jobStatus{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return jobStatus{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return jobStatus{}, fmt.Errorf("status endpoint returned %s", resp.Status)
	}
	var job jobStatus
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return jobStatus{}, err
	}
	return job, nil
}
