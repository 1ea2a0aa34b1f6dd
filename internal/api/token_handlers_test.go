package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestVideoTokenIssuesUsableToken(t *testing.T) {
	h, _ := newTestHandler(t)
	file := writeMedia(t, h, "lessonA/lessonA.mp4", []byte("mp4"))

	rec := doJSON(t, h.VideoToken, http.MethodPost, "/video-token", tokenRequest{File: file})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp tokenResponse
	decodeBody(t, rec, &resp)
	if resp.Token == "" {
		t.Fatal("expected a token")
	}
	if resp.ExpiresIn != 60 {
		t.Fatalf("expected expiresIn 60, got %d", resp.ExpiresIn)
	}
	if !strings.HasPrefix(resp.URL, "/stream?") {
		t.Fatalf("expected a proxy URL, got %q", resp.URL)
	}

	// The embedded URL must open the file through the proxy as-is.
	parsed, err := url.Parse(resp.URL)
	if err != nil {
		t.Fatalf("parse issued URL: %v", err)
	}
	streamed := streamRequest(t, h, parsed.Query().Get("file"), parsed.Query().Get("token"), "")
	if streamed.Code != http.StatusOK {
		t.Fatalf("issued URL did not stream: %d %s", streamed.Code, streamed.Body.String())
	}
}

func TestVideoTokenRejectsRemoteAndBlobURLs(t *testing.T) {
	h, _ := newTestHandler(t)
	for _, file := range []string{
		"http://cdn.example.com/a.mp4",
		"https://cdn.example.com/a.mp4",
		"HTTPS://cdn.example.com/a.mp4",
		"blob:9f56c6e1-6f14-4d88-9e8c",
	} {
		rec := doJSON(t, h.VideoToken, http.MethodPost, "/video-token", tokenRequest{File: file})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", file, rec.Code)
		}
	}

	rec := doJSON(t, h.VideoToken, http.MethodPost, "/video-token", tokenRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty file: expected 400, got %d", rec.Code)
	}
}

func TestReadyByFile(t *testing.T) {
	h, _ := newTestHandler(t)
	file := writeMedia(t, h, "lessonA/lessonA.m3u8", []byte("#EXTM3U\n"))

	rec := doJSON(t, h.Ready, http.MethodGet, "/ready?file="+url.QueryEscape(file), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp readyResponse
	decodeBody(t, rec, &resp)
	if !resp.Ready {
		t.Fatal("expected ready for an existing file")
	}

	rec = doJSON(t, h.Ready, http.MethodGet, "/ready?file=missing/missing.m3u8", nil)
	decodeBody(t, rec, &resp)
	if resp.Ready {
		t.Fatal("expected not ready for a missing file")
	}

	rec = doJSON(t, h.Ready, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("no selector: expected 400, got %d", rec.Code)
	}
}

func TestReadyByJobID(t *testing.T) {
	h, store := newTestHandler(t)
	withOrchestrator(t, h, store, stubEncoder(t, `touch "$outdir/$master"
exit 0`))

	rec := doJSON(t, h.Jobs, http.MethodPost, "/api/jobs", conversionRequest{
		SourcePath: writeSource(t, "lessonC.mp4"),
		BaseName:   "lessonC",
	})
	var created jobResponse
	decodeBody(t, rec, &created)

	waitForReady := func() *httptest.ResponseRecorder {
		return doJSON(t, h.Ready, http.MethodGet, "/ready?jobId="+created.ID, nil)
	}

	// Eventually the manifest lands and the probe flips to ready.
	var resp readyResponse
	deadlineHit := true
	for i := 0; i < 500; i++ {
		rec = waitForReady()
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		decodeBody(t, rec, &resp)
		if resp.Ready {
			deadlineHit = false
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if deadlineHit {
		t.Fatal("job never became ready")
	}
	if resp.File != "lessonC/lessonC.m3u8" {
		t.Fatalf("expected playable file path, got %q", resp.File)
	}

	rec = doJSON(t, h.Ready, http.MethodGet, "/ready?jobId=missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job: expected 404, got %d", rec.Code)
	}
}
