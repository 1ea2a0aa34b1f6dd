package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"coursestream/internal/auth"
	"coursestream/internal/storage"
)

type tokenRequest struct {
	File string `json:"file"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	URL       string `json:"url"`
	ExpiresIn int64  `json:"expiresIn"`
}

// VideoToken handles POST /video-token: sign a playback capability for a
// media path. Remote and blob URLs never need a server-issued capability,
// so they are rejected outright rather than signed into a useless token.
func (h *Handler) VideoToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	file := strings.TrimSpace(req.File)
	if file == "" {
		writeError(w, http.StatusBadRequest, errors.New("file is required"))
		return
	}
	lowered := strings.ToLower(file)
	if strings.HasPrefix(lowered, "http://") || strings.HasPrefix(lowered, "https://") || strings.HasPrefix(lowered, "blob:") {
		h.recorder().ObserveTokenIssuance("rejected")
		writeError(w, http.StatusBadRequest, errors.New("remote and blob URLs do not take a token"))
		return
	}

	ttl := h.tokenTTL()
	normalized := auth.NormalizePath(file)
	token, err := h.Codec.Sign(normalized, ttl)
	if err != nil {
		h.recorder().ObserveTokenIssuance("error")
		writeError(w, http.StatusInternalServerError, errors.New("unable to issue token"))
		h.logger().Error("token signing failed", "error", err)
		return
	}
	h.recorder().ObserveTokenIssuance("issued")

	query := url.Values{}
	query.Set("file", normalized)
	query.Set("token", token)
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		URL:       h.Router.StreamRoute + "?" + query.Encode(),
		ExpiresIn: int64(ttl.Seconds()),
	})
}

type readyResponse struct {
	Ready bool   `json:"ready"`
	File  string `json:"file,omitempty"`
}

// Ready handles GET /ready: report whether an asset's manifest (by jobId)
// or an arbitrary media file is present on disk. Clients poll it to decide
// when playback can start.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	jobID := r.URL.Query().Get("jobId")
	file := r.URL.Query().Get("file")
	switch {
	case jobID != "":
		job, err := h.Store.Get(r.Context(), jobID)
		if err != nil {
			writeError(w, http.StatusNotFound, errors.New("job not found"))
			return
		}
		_, err = os.Stat(job.ManifestPath)
		safe := storage.SanitizeBaseName(job.BaseName)
		writeJSON(w, http.StatusOK, readyResponse{Ready: err == nil, File: safe + "/" + safe + ".m3u8"})
	case file != "":
		full, ok := h.resolveMediaPath(file)
		if !ok {
			writeJSON(w, http.StatusOK, readyResponse{Ready: false})
			return
		}
		info, err := os.Stat(full)
		writeJSON(w, http.StatusOK, readyResponse{Ready: err == nil && !info.IsDir()})
	default:
		writeError(w, http.StatusBadRequest, errors.New("jobId or file is required"))
	}
}
