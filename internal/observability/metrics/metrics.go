package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// transcode job lifecycle events, and capability token issuance. It
// coordinates concurrent writers via a RWMutex while exposing an atomic
// gauge for encodes currently running.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	jobEvents       map[string]uint64
	tokenEvents     map[string]uint64
	activeEncodes   atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can record immediately without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		jobEvents:       make(map[string]uint64),
		tokenEvents:     make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by packages that do not need
// a custom instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates count and cumulative duration per HTTP method,
// normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveTranscodeJob counts a job lifecycle event keyed by the status the
// job entered (pending, processing, completed, failed).
func (r *Recorder) ObserveTranscodeJob(status string) {
	normalized := normalizeName(status)
	r.mu.Lock()
	r.jobEvents[normalized]++
	r.mu.Unlock()
}

// TranscodeStarted increments the running-encode gauge.
func (r *Recorder) TranscodeStarted() {
	r.activeEncodes.Add(1)
}

// TranscodeFinished decrements the running-encode gauge, guarding against
// negative counts when updates race.
func (r *Recorder) TranscodeFinished() {
	for {
		current := r.activeEncodes.Load()
		if current <= 0 {
			return
		}
		if r.activeEncodes.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// ActiveEncodes exposes the current number of running encoder processes.
func (r *Recorder) ActiveEncodes() int64 {
	return r.activeEncodes.Load()
}

// ObserveTokenIssuance counts capability token issuance outcomes
// ("issued", "rejected").
func (r *Recorder) ObserveTokenIssuance(outcome string) {
	normalized := normalizeName(outcome)
	r.mu.Lock()
	r.tokenEvents[normalized]++
	r.mu.Unlock()
}

// TranscodeJobCounts returns a copy of the job event counters plus the
// running-encode gauge. Intended for tests and reporting.
func (r *Recorder) TranscodeJobCounts() (events map[string]uint64, active int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events = make(map[string]uint64, len(r.jobEvents))
	for k, v := range r.jobEvents {
		events[k] = v
	}
	return events, r.activeEncodes.Load()
}

// Reset clears all counters and gauges. Intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.jobEvents = make(map[string]uint64)
	r.tokenEvents = make(map[string]uint64)
	r.activeEncodes.Store(0)
}

// Handler exposes the Recorder as an http.Handler writing Prometheus text
// exposition data.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format with sorted label sets
// so scrapes and tests see stable output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	jobEvents := sortedKeys(r.jobEvents)
	tokenEvents := sortedKeys(r.tokenEvents)

	fmt.Fprintln(w, "# HELP coursestream_http_requests_total Total number of HTTP requests processed")
	fmt.Fprintln(w, "# TYPE coursestream_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "coursestream_http_requests_total{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP coursestream_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE coursestream_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "coursestream_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP coursestream_transcode_jobs_total Transcode job lifecycle events by entered status")
	fmt.Fprintln(w, "# TYPE coursestream_transcode_jobs_total counter")
	for _, event := range jobEvents {
		fmt.Fprintf(w, "coursestream_transcode_jobs_total{status=%q} %d\n", event, r.jobEvents[event])
	}

	fmt.Fprintln(w, "# HELP coursestream_active_encodes Current number of running encoder processes")
	fmt.Fprintln(w, "# TYPE coursestream_active_encodes gauge")
	fmt.Fprintf(w, "coursestream_active_encodes %d\n", r.activeEncodes.Load())

	fmt.Fprintln(w, "# HELP coursestream_video_tokens_total Capability token issuance outcomes")
	fmt.Fprintln(w, "# TYPE coursestream_video_tokens_total counter")
	for _, event := range tokenEvents {
		fmt.Fprintf(w, "coursestream_video_tokens_total{outcome=%q} %d\n", event, r.tokenEvents[event])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// normalizePath collapses per-job URL segments so metric cardinality stays
// bounded: hex identifiers become ":id".
func normalizePath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "/"
	}
	segments := strings.Split(trimmed, "/")
	for i, segment := range segments {
		if looksLikeIdentifier(segment) {
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) < 16 {
		return false
	}
	for _, r := range segment {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		case r == '-':
		default:
			return false
		}
	}
	return true
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest records a request observation on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveTranscodeJob records a job event on the default recorder.
func ObserveTranscodeJob(status string) {
	defaultRecorder.ObserveTranscodeJob(status)
}

// Handler exposes the default recorder.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
