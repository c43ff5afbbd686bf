// Package executor runs a single Job through the
// encode -> validate -> size_gate -> replace pipeline under a bounded
// admission semaphore, publishing progress into the shared metrics
// snapshot and persisting every stage transition.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/semaphore"

	"github.com/gwlsn/av1superd/internal/concurrency"
	"github.com/gwlsn/av1superd/internal/encode"
	"github.com/gwlsn/av1superd/internal/jobstore"
	"github.com/gwlsn/av1superd/internal/metrics"
	"github.com/gwlsn/av1superd/internal/notify"
	"github.com/gwlsn/av1superd/internal/replace"
	"github.com/gwlsn/av1superd/internal/sizegate"
	"github.com/gwlsn/av1superd/internal/skipmarker"
)

// Config holds the pipeline's tunables, independent of the concurrency
// plan (which governs admission and worker counts).
type Config struct {
	MaxSizeRatio    float64
	KeepOriginal    bool
	WriteWhySidecar bool
	TempBaseDir     string
	Av1anPath       string
}

// Executor owns the bounded admission semaphore and the collaborators
// each job is run through.
type Executor struct {
	sem      *semaphore.Weighted
	plan     concurrency.Plan
	store    *jobstore.Store
	metrics  *metrics.Shared
	notifier *notify.Client
	cfg      Config
}

// New builds an Executor whose semaphore is sized to plan.MaxConcurrentJobs.
func New(plan concurrency.Plan, store *jobstore.Store, shared *metrics.Shared, notifier *notify.Client, cfg Config) *Executor {
	return &Executor{
		sem:      semaphore.NewWeighted(int64(plan.MaxConcurrentJobs)),
		plan:     plan,
		store:    store,
		metrics:  shared,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Execute runs job through the full pipeline, blocking until a semaphore
// permit is available or ctx is cancelled. A worker panic is recovered at
// this boundary and converted into a failed job; Execute itself never
// panics.
func (e *Executor) Execute(ctx context.Context, job jobstore.Job) (result jobstore.Job, err error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return job, fmt.Errorf("acquire execution permit: %w", err)
	}
	defer e.sem.Release(1)

	tempChunksDir := filepath.Join(e.cfg.TempBaseDir, "chunks_"+job.ID)

	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("panic: %v", r)
			os.RemoveAll(tempChunksDir)
			job, _ = e.store.UpdateStatus(job, jobstore.StatusFailed, reason)
			e.publishTerminal(job, false, 0)
			e.notifyFailure(job, reason)
			result, err = job, fmt.Errorf("job %s: %s", job.ID, reason)
		}
	}()

	return e.run(ctx, job, tempChunksDir)
}

func (e *Executor) run(ctx context.Context, job jobstore.Job, tempChunksDir string) (jobstore.Job, error) {
	job, err := e.store.UpdateStage(job, jobstore.StageEncoding)
	if err != nil {
		return job, fmt.Errorf("persist stage transition: %w", err)
	}
	e.publishStage(job, "encoding")

	if err := os.MkdirAll(tempChunksDir, 0o755); err != nil {
		return e.fail(job, fmt.Errorf("create temp chunks dir: %w", err))
	}

	params := encode.Params{
		InputPath:     job.InputPath,
		OutputPath:    job.OutputPath,
		TempChunksDir: tempChunksDir,
		WorkersPerJob: e.plan.WorkersPerJob,
	}

	if err := encode.Run(ctx, e.cfg.Av1anPath, params); err != nil {
		os.RemoveAll(tempChunksDir)
		return e.fail(job, fmt.Errorf("encode: %w", err))
	}

	job, err = e.store.UpdateStage(job, jobstore.StageValidating)
	if err != nil {
		os.RemoveAll(tempChunksDir)
		return job, fmt.Errorf("persist stage transition: %w", err)
	}
	e.publishStage(job, "validating")

	info, statErr := os.Stat(job.OutputPath)
	if statErr != nil {
		os.RemoveAll(tempChunksDir)
		return e.fail(job, fmt.Errorf("validate output: %w", statErr))
	}
	if info.Size() == 0 {
		os.RemoveAll(tempChunksDir)
		os.Remove(job.OutputPath)
		return e.fail(job, fmt.Errorf("validate output: empty file"))
	}
	outputBytes := info.Size()

	job, err = e.store.UpdateStage(job, jobstore.StageSizeGating)
	if err != nil {
		os.RemoveAll(tempChunksDir)
		return job, fmt.Errorf("persist stage transition: %w", err)
	}
	e.publishStage(job, "size_gating")

	gate := sizegate.Check(job.SizeInBytesBefore, outputBytes, e.cfg.MaxSizeRatio)
	if !gate.Accept {
		return e.reject(job, tempChunksDir, gate)
	}

	job, err = e.store.UpdateStage(job, jobstore.StageReplacing)
	if err != nil {
		os.RemoveAll(tempChunksDir)
		return job, fmt.Errorf("persist stage transition: %w", err)
	}
	e.publishStage(job, "replacing")

	if err := replace.Replace(job.InputPath, job.OutputPath, e.cfg.KeepOriginal); err != nil {
		// Replacer failure preserves both temp chunks and the
		// intermediate output for operator inspection.
		return e.fail(job, fmt.Errorf("replace: %w", err))
	}

	job.SizeInBytesAfter = outputBytes
	job, err = e.store.UpdateStage(job, jobstore.StageComplete)
	if err != nil {
		return job, fmt.Errorf("persist stage transition: %w", err)
	}
	job, err = e.store.UpdateStatus(job, jobstore.StatusSuccess, "")
	if err != nil {
		return job, fmt.Errorf("persist stage transition: %w", err)
	}

	os.RemoveAll(tempChunksDir)
	os.Remove(job.OutputPath)

	e.publishTerminal(job, true, uint64(outputBytes))
	if err := e.notifier.NotifyComplete(job.InputPath, job.SizeInBytesBefore, job.SizeInBytesAfter); err != nil {
		slog.Warn("executor: notify complete failed", "job", job.ID, "error", err)
	}
	return job, nil
}

func (e *Executor) reject(job jobstore.Job, tempChunksDir string, gate sizegate.Result) (jobstore.Job, error) {
	reason := fmt.Sprintf("Size gate rejected: output %d bytes (%.1f%%) >= original %d bytes * %.2f",
		gate.OutputBytes, gate.ActualRatio*100, gate.OriginalBytes, e.cfg.MaxSizeRatio)

	os.Remove(job.OutputPath)

	if err := skipmarker.Write(job.InputPath, reason, e.cfg.WriteWhySidecar); err != nil {
		slog.Warn("executor: failed to write skip marker", "job", job.ID, "error", err)
	}
	os.RemoveAll(tempChunksDir)

	job, err := e.store.UpdateStatus(job, jobstore.StatusSkipped, reason)
	if err != nil {
		return job, fmt.Errorf("persist stage transition: %w", err)
	}
	e.publishTerminal(job, false, 0)
	e.notifyFailure(job, reason)
	return job, nil
}

func (e *Executor) fail(job jobstore.Job, cause error) (jobstore.Job, error) {
	job, err := e.store.UpdateStatus(job, jobstore.StatusFailed, cause.Error())
	if err != nil {
		return job, fmt.Errorf("persist stage transition: %w", err)
	}
	e.publishTerminal(job, false, 0)
	e.notifyFailure(job, cause.Error())
	return job, cause
}

func (e *Executor) notifyFailure(job jobstore.Job, reason string) {
	if err := e.notifier.NotifyFailure(job.InputPath, reason); err != nil {
		slog.Warn("executor: notify failure failed", "job", job.ID, "error", err)
	}
}

func (e *Executor) publishStage(job jobstore.Job, stage string) {
	e.metrics.UpsertJob(metrics.JobMetrics{
		ID:                job.ID,
		InputPath:         job.InputPath,
		Stage:             stage,
		Encoder:           "svt-av1",
		Workers:           uint32(e.plan.WorkersPerJob),
		SizeInBytesBefore: uint64(job.SizeInBytesBefore),
	})
}

func (e *Executor) publishTerminal(job jobstore.Job, success bool, outputBytes uint64) {
	e.metrics.RemoveJob(job.ID)
	e.metrics.RecordCompletion(success, outputBytes)
}
