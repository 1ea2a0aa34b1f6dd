package api

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"coursestream/internal/storage"
)

// TestPlaybackChain drives the whole pipeline: request a conversion, wait
// for completion, obtain a capability for the master playlist, then follow
// every rewritten reference (variant playlists, then their segments) through
// the proxy using the one master token.
func TestPlaybackChain(t *testing.T) {
	h, store := newTestHandler(t)
	withOrchestrator(t, h, store, stubEncoder(t, `cat > "$outdir/$master" <<'EOF'
#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=250000,RESOLUTION=256x144
lessonA_v0.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=854x480
lessonA_v1.m3u8
EOF
for v in 0 1; do
  cat > "$outdir/lessonA_v$v.m3u8" <<EOF
#EXTM3U
#EXT-X-VERSION:3
#EXTINF:4.0,
lessonA_v${v}_000.ts
#EXTINF:4.0,
lessonA_v${v}_001.ts
#EXT-X-ENDLIST
EOF
  printf 'segment' > "$outdir/lessonA_v${v}_000.ts"
  printf 'segment' > "$outdir/lessonA_v${v}_001.ts"
done
exit 0`))

	rec := doJSON(t, h.Jobs, http.MethodPost, "/api/jobs", conversionRequest{
		SourcePath: writeSource(t, "lessonA.mp4"),
		BaseName:   "lessonA",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var created jobResponse
	decodeBody(t, rec, &created)
	waitForStatus(t, store, created.ID, storage.JobCompleted)

	rec = doJSON(t, h.VideoToken, http.MethodPost, "/video-token", tokenRequest{File: "lessonA/lessonA.m3u8"})
	if rec.Code != http.StatusOK {
		t.Fatalf("token issuance failed: %d %s", rec.Code, rec.Body.String())
	}
	var issued tokenResponse
	decodeBody(t, rec, &issued)

	master := streamRequest(t, h, "lessonA/lessonA.m3u8", issued.Token, "")
	if master.Code != http.StatusOK {
		t.Fatalf("master playlist: expected 200, got %d: %s", master.Code, master.Body.String())
	}
	if ct := master.Header().Get("Content-Type"); ct != "application/vnd.apple.mpegurl" {
		t.Fatalf("master playlist: unexpected Content-Type %q", ct)
	}

	variants := proxyReferences(t, master.Body.String())
	if len(variants) != 2 {
		t.Fatalf("expected 2 variant references, got %d:\n%s", len(variants), master.Body.String())
	}

	segments := 0
	for _, variant := range variants {
		resp := streamRequest(t, h, variant.Get("file"), variant.Get("token"), "")
		if resp.Code != http.StatusOK {
			t.Fatalf("variant %s: expected 200, got %d", variant.Get("file"), resp.Code)
		}
		for _, segment := range proxyReferences(t, resp.Body.String()) {
			seg := streamRequest(t, h, segment.Get("file"), segment.Get("token"), "bytes=0-2")
			if seg.Code != http.StatusPartialContent {
				t.Fatalf("segment %s: expected 206, got %d", segment.Get("file"), seg.Code)
			}
			if seg.Header().Get("Content-Range") != "bytes 0-2/7" {
				t.Fatalf("segment %s: unexpected Content-Range %q", segment.Get("file"), seg.Header().Get("Content-Range"))
			}
			segments++
		}
	}
	if segments != 4 {
		t.Fatalf("expected 4 segment fetches, got %d", segments)
	}
}

// proxyReferences collects the file/token query pairs of every rewritten
// reference inside a served playlist body.
func proxyReferences(t *testing.T, playlist string) []url.Values {
	t.Helper()
	var refs []url.Values
	for _, line := range strings.Split(playlist, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "/stream?") {
			continue
		}
		parsed, err := url.Parse(line)
		if err != nil {
			t.Fatalf("parse rewritten reference %q: %v", line, err)
		}
		refs = append(refs, parsed.Query())
	}
	return refs
}
