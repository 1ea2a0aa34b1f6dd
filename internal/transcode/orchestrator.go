package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"coursestream/internal/observability/metrics"
	"coursestream/internal/storage"
)

// ErrAlreadyConverted is the idempotent outcome of RequestConversion when the
// asset's manifest already exists on disk. It is not a failure: re-requesting
// conversion of a finished asset must stay a cheap no-op.
var ErrAlreadyConverted = errors.New("asset is already converted")

const (
	defaultEncoderBinary = "ffmpeg"
	defaultMaxConcurrent = 4
	defaultEncodeTimeout = 30 * time.Minute
	defaultLockTimeout   = 30 * time.Second
	encoderWaitDelay     = time.Second
	manifestMissingError = "manifest was not created"
	shutdownAbortedError = "orchestrator shut down before encoding finished"
)

// Config assembles an Orchestrator.
type Config struct {
	Store         storage.Store
	Layout        storage.Layout
	EncoderBinary string
	Locker        Locker
	MaxConcurrent int64
	EncodeTimeout time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
}

// Orchestrator turns conversion requests into running encoder processes and
// truthful job records. It is the sole writer of job status: each spawned
// process is watched by its own goroutine, which finalizes the record from
// the observed exit, so there is no window where an exit handler races a
// stale in-memory view.
type Orchestrator struct {
	store   storage.Store
	layout  storage.Layout
	encoder string
	locker  Locker
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]string
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("job store is required")
	}
	encoder := strings.TrimSpace(cfg.EncoderBinary)
	if encoder == "" {
		encoder = defaultEncoderBinary
	}
	locker := cfg.Locker
	if locker == nil {
		locker = NewMemoryLocker()
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	timeout := cfg.EncodeTimeout
	if timeout <= 0 {
		timeout = defaultEncodeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:    cfg.Store,
		layout:   cfg.Layout,
		encoder:  encoder,
		locker:   locker,
		sem:      semaphore.NewWeighted(maxConcurrent),
		timeout:  timeout,
		logger:   logger,
		metrics:  recorder,
		ctx:      ctx,
		cancel:   cancel,
		inFlight: make(map[string]string),
	}, nil
}

// Shutdown cancels all running encodes and waits for their watchers to
// finalize job records, bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestConversion converts sourcePath into an HLS asset named baseName.
// If the asset's manifest already exists, it returns ErrAlreadyConverted
// without creating a job or spawning anything. If a conversion for the same
// base name is already in flight, the in-flight job is returned instead of
// starting a competing encoder. Otherwise a Pending job is created and a
// worker goroutine takes it from there; the call does not block on encoding.
func (o *Orchestrator) RequestConversion(ctx context.Context, sourcePath, baseName string) (storage.TranscodeJob, error) {
	safeBase := storage.SanitizeBaseName(baseName)

	lockCtx, cancel := context.WithTimeout(ctx, defaultLockTimeout)
	defer cancel()
	release, err := o.locker.Acquire(lockCtx, safeBase)
	if err != nil {
		return storage.TranscodeJob{}, fmt.Errorf("lock asset %s: %w", safeBase, err)
	}
	defer release()

	if _, err := os.Stat(o.layout.ManifestPath(baseName)); err == nil {
		return storage.TranscodeJob{}, ErrAlreadyConverted
	}

	o.mu.Lock()
	if id, busy := o.inFlight[safeBase]; busy {
		o.mu.Unlock()
		job, err := o.store.Get(ctx, id)
		if err == nil {
			return job, nil
		}
		// In-flight record vanished; fall through and start fresh.
		o.mu.Lock()
		delete(o.inFlight, safeBase)
	}
	o.mu.Unlock()

	job, err := o.store.Create(ctx, sourcePath, baseName)
	if err != nil {
		return storage.TranscodeJob{}, fmt.Errorf("create job: %w", err)
	}

	o.mu.Lock()
	o.inFlight[safeBase] = job.ID
	o.mu.Unlock()

	o.metrics.ObserveTranscodeJob(string(storage.JobPending))
	o.wg.Add(1)
	go o.run(job, safeBase)
	return job, nil
}

// Candidate names one source file for batch conversion.
type Candidate struct {
	SourcePath string `json:"sourcePath"`
	BaseName   string `json:"baseName"`
}

// Outcome reports what happened to one batch candidate.
type Outcome struct {
	SourcePath string `json:"sourcePath"`
	BaseName   string `json:"baseName"`
	Result     string `json:"result"`
	JobID      string `json:"jobId,omitempty"`
}

// RequestConversionForAll applies RequestConversion to every candidate.
// Already-converted assets are skipped, not errors, and one bad candidate
// never aborts the rest of the batch.
func (o *Orchestrator) RequestConversionForAll(ctx context.Context, candidates []Candidate) []Outcome {
	outcomes := make([]Outcome, 0, len(candidates))
	for _, candidate := range candidates {
		outcome := Outcome{SourcePath: candidate.SourcePath, BaseName: candidate.BaseName}
		job, err := o.RequestConversion(ctx, candidate.SourcePath, candidate.BaseName)
		switch {
		case errors.Is(err, ErrAlreadyConverted):
			outcome.Result = "already-converted"
		case err != nil:
			outcome.Result = fmt.Sprintf("error: %v", err)
		default:
			outcome.Result = "queued"
			outcome.JobID = job.ID
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (o *Orchestrator) run(job storage.TranscodeJob, safeBase string) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.inFlight, safeBase)
		o.mu.Unlock()
	}()

	logger := o.logger.With("job_id", job.ID, "base_name", job.BaseName)

	if err := o.sem.Acquire(o.ctx, 1); err != nil {
		o.fail(job.ID, logger, shutdownAbortedError)
		return
	}
	defer o.sem.Release(1)

	o.metrics.TranscodeStarted()
	defer o.metrics.TranscodeFinished()

	if !o.transition(job.ID, logger, storage.JobProcessing, "") {
		return
	}

	workDir := o.layout.WorkDir(job.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		o.fail(job.ID, logger, fmt.Sprintf("prepare work directory: %v", err))
		return
	}
	defer os.RemoveAll(workDir)

	plan, err := buildEncodePlan(job.SourcePath, workDir, safeBase)
	if err != nil {
		o.fail(job.ID, logger, fmt.Sprintf("prepare transcode: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(o.ctx, o.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, o.encoder, plan.args...)
	cmd.Stdout = newProcessLogWriter(logger, "stdout")
	cmd.Stderr = newProcessLogWriter(logger, "stderr")
	// Without a wait delay, a surviving descendant of a killed encoder keeps
	// the log pipes open and Wait blocks past the encode deadline.
	cmd.WaitDelay = encoderWaitDelay

	if err := cmd.Start(); err != nil {
		o.fail(job.ID, logger, fmt.Sprintf("failed to start %s: %v", o.encoder, err))
		return
	}
	logger.Info("encoder started", "encoder", o.encoder, "source", job.SourcePath)

	waitErr := cmd.Wait()
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		o.fail(job.ID, logger, fmt.Sprintf("%s timed out after %s", o.encoder, o.timeout))
		return
	case o.ctx.Err() != nil:
		o.fail(job.ID, logger, shutdownAbortedError)
		return
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// The encoder exited cleanly but an orphan kept its pipes open; the
		// manifest check below decides the outcome.
	case waitErr != nil:
		code := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		o.fail(job.ID, logger, fmt.Sprintf("%s exited with code: %d", o.encoder, code))
		return
	}

	// A zero exit alone is not completion: the encoder must have produced
	// the master playlist it promised.
	stagedManifest := filepath.Join(workDir, plan.manifestName)
	if _, err := os.Stat(stagedManifest); err != nil {
		o.fail(job.ID, logger, manifestMissingError)
		return
	}

	if err := o.publish(workDir, job.OutputDirectory); err != nil {
		o.fail(job.ID, logger, fmt.Sprintf("publish output: %v", err))
		return
	}

	if o.transition(job.ID, logger, storage.JobCompleted, "") {
		logger.Info("transcode completed", "manifest", job.ManifestPath)
	}
}

// publish moves the finished work directory into the public base-name
// location in one rename, so the public manifest path either does not exist
// or points at a complete asset.
func (o *Orchestrator) publish(workDir, outputDir string) error {
	if err := os.MkdirAll(filepath.Dir(outputDir), 0o755); err != nil {
		return err
	}
	if err := os.RemoveAll(outputDir); err != nil {
		return fmt.Errorf("clear publish target: %w", err)
	}
	return os.Rename(workDir, outputDir)
}

func (o *Orchestrator) transition(id string, logger *slog.Logger, status storage.JobStatus, cause string) bool {
	update := storage.JobUpdate{Status: &status}
	if status == storage.JobFailed || cause != "" {
		update.Error = &cause
	}
	if _, err := o.store.Update(context.Background(), id, update); err != nil {
		// Job was removed out from under us; nothing left to report against.
		logger.Warn("job record missing during transition", "status", status, "error", err)
		return false
	}
	o.metrics.ObserveTranscodeJob(string(status))
	return true
}

func (o *Orchestrator) fail(id string, logger *slog.Logger, cause string) {
	logger.Error("transcode failed", "cause", cause)
	o.transition(id, logger, storage.JobFailed, cause)
}
