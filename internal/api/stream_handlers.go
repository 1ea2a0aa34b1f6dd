package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"coursestream/internal/auth"
)

var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

func mediaContentType(file string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(file))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Stream handles GET /stream?file=<path>&token=<token>. Token verification
// runs before any filesystem access so unauthenticated callers cannot probe
// which files exist. The verified path is then re-anchored under the media
// root: verification only proves a signature matched the literal string, not
// that the string is safe to join onto the filesystem.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	file := r.URL.Query().Get("file")
	token := r.URL.Query().Get("token")
	// A missing token is indistinguishable from a bad one: both answer 401 so
	// the status never reveals which check a caller failed.
	if file == "" || token == "" {
		writeError(w, http.StatusUnauthorized, errors.New("invalid or expired token"))
		return
	}
	if !h.Codec.Verify(file, token) {
		writeError(w, http.StatusUnauthorized, errors.New("invalid or expired token"))
		return
	}

	full, ok := h.resolveMediaPath(file)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("file not found"))
		return
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, errors.New("file not found"))
		return
	}

	contentType := mediaContentType(full)
	if h.RewritePlaylists && strings.EqualFold(filepath.Ext(full), ".m3u8") {
		body, err := os.ReadFile(full)
		if err != nil {
			writeError(w, http.StatusNotFound, errors.New("file not found"))
			return
		}
		rewritten := h.Router.RewritePlaylist(body, file, token)
		h.serveRanged(w, r, bytes.NewReader(rewritten), int64(len(rewritten)), contentType)
		return
	}

	f, err := os.Open(full)
	if err != nil {
		writeError(w, http.StatusNotFound, errors.New("file not found"))
		return
	}
	defer f.Close()
	h.serveRanged(w, r, f, info.Size(), contentType)
}

// resolveMediaPath anchors a client-supplied path under the media root.
// Traversal segments are neutralized by cleaning the path rooted at "/"
// before joining, so "../../etc/passwd" collapses to "etc/passwd" inside
// the root rather than escaping it.
func (h *Handler) resolveMediaPath(file string) (string, bool) {
	normalized := auth.NormalizePath(file)
	cleaned := strings.TrimPrefix(path.Clean("/"+normalized), "/")
	if cleaned == "" || cleaned == "." {
		return "", false
	}
	root, err := filepath.Abs(h.Layout.MediaRoot)
	if err != nil {
		return "", false
	}
	full := filepath.Join(root, filepath.FromSlash(cleaned))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

// serveRanged implements the byte-range contract: no Range header serves the
// full body with 200, "bytes=start-end" (end optional) serves 206 with an
// exact Content-Range and Content-Length, and anything unsatisfiable gets
// 416 instead of a silently wrong body.
func (h *Handler) serveRanged(w http.ResponseWriter, r *http.Request, content io.ReadSeeker, size int64, contentType string) {
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			io.Copy(w, content)
		}
		return
	}

	start, end, err := parseByteRange(rangeHeader, size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		writeError(w, http.StatusRequestedRangeNotSatisfiable, err)
		return
	}

	length := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := content.Seek(start, io.SeekStart); err != nil {
		return
	}
	io.CopyN(w, content, length)
}

// parseByteRange parses a single "bytes=start-end" range against a resource
// of the given size. Suffix ranges ("bytes=-n") are accepted; multipart
// ranges are not.
func parseByteRange(header string, size int64) (start, end int64, err error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return 0, 0, errors.New("unsupported range")
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return 0, 0, errors.New("malformed range")
	}

	if startStr == "" {
		// Suffix range: last endStr bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, errors.New("malformed range")
		}
		if n > size {
			n = size
		}
		if size == 0 {
			return 0, 0, errors.New("range not satisfiable")
		}
		return size - n, size - 1, nil
	}

	start, err = strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, errors.New("malformed range")
	}
	if start >= size {
		return 0, 0, errors.New("range not satisfiable")
	}
	if endStr == "" {
		return start, size - 1, nil
	}
	end, err = strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return 0, 0, errors.New("malformed range")
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}
