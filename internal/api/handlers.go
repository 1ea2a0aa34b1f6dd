package api

import (
	"log/slog"
	"net/http"
	"time"

	"coursestream/internal/auth"
	"coursestream/internal/hls"
	"coursestream/internal/observability/metrics"
	"coursestream/internal/storage"
	"coursestream/internal/transcode"
)

const defaultTokenTTL = 15 * time.Minute

// Handler bundles the HTTP endpoints of the pipeline: job creation and
// status, the token-secured streaming proxy, capability issuance, and the
// readiness probe.
type Handler struct {
	Store        storage.Store
	Orchestrator *transcode.Orchestrator
	Codec        *auth.Codec
	Layout       storage.Layout
	TokenTTL     time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
	Router       hls.Router

	// RewritePlaylists controls whether served .m3u8 bodies are rerouted
	// through the proxy. Enabled by default in cmd/server; disable only when
	// a client-side interceptor performs the rewrite instead.
	RewritePlaylists bool
}

func (h *Handler) tokenTTL() time.Duration {
	if h.TokenTTL > 0 {
		return h.TokenTTL
	}
	return defaultTokenTTL
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) recorder() *metrics.Recorder {
	if h.Metrics != nil {
		return h.Metrics
	}
	return metrics.Default()
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
