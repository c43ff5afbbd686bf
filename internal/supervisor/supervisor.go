// Package supervisor wires the scan cycle, the execution driver, and the
// metrics publisher into the three concurrent goroutines that make up a
// running instance, following the teacher's worker-pool/context-cancel
// idiom in internal/jobs.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gwlsn/av1superd/internal/classify"
	"github.com/gwlsn/av1superd/internal/concurrency"
	"github.com/gwlsn/av1superd/internal/config"
	"github.com/gwlsn/av1superd/internal/executor"
	"github.com/gwlsn/av1superd/internal/jobstore"
	"github.com/gwlsn/av1superd/internal/metrics"
	"github.com/gwlsn/av1superd/internal/probe"
	"github.com/gwlsn/av1superd/internal/scan"
	"github.com/gwlsn/av1superd/internal/skipmarker"
	"github.com/gwlsn/av1superd/internal/stability"
)

// jobQueueDepth bounds the channel between the scan cycle and the
// execution driver; the scan cycle blocks sending once it fills up,
// naturally backpressuring discovery to the pace of execution.
const jobQueueDepth = 64

// Supervisor owns the three long-running goroutines and the collaborators
// they share.
type Supervisor struct {
	cfg     *config.Config
	plan    concurrency.Plan
	store   *jobstore.Store
	exec    *executor.Executor
	shared  *metrics.Shared
	prober  *probe.Adapter
	sampler metrics.Sampler
	jobs    chan jobstore.Job
}

// New builds a Supervisor ready to Run.
func New(cfg *config.Config, plan concurrency.Plan, store *jobstore.Store, exec *executor.Executor, shared *metrics.Shared, prober *probe.Adapter) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		plan:   plan,
		store:  store,
		exec:   exec,
		shared: shared,
		prober: prober,
		jobs:   make(chan jobstore.Job, jobQueueDepth),
	}
}

// Run starts the metrics publisher, scan cycle, and execution driver, and
// blocks until ctx is cancelled and all three have exited.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		s.publishMetricsLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.scanLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.executionLoop(ctx)
	}()

	wg.Wait()
}

func (s *Supervisor) publishMetricsLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.Metrics.PublishIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.shared.PublishSystem(s.sampler.Sample(), time.Now().UnixMilli())
		}
	}
}

func (s *Supervisor) scanLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.Scan.ScanIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	s.runScanCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runScanCycle(ctx)
		}
	}
}

// runScanCycle runs the pipeline end-to-end once: load existing jobs,
// enumerate candidates, and for each undiscovered one run the
// stability/probe/gate/classify chain before enqueuing for execution.
func (s *Supervisor) runScanCycle(ctx context.Context) {
	existingJobs, err := s.store.Load()
	if err != nil {
		slog.Error("supervisor: failed to load existing jobs", "error", err)
		return
	}

	candidates := scan.Roots(s.cfg.Scan.LibraryRoots, func(path string, err error) {
		slog.Warn("supervisor: scan error", "path", path, "error", err)
	})
	s.shared.SetQueueLen(len(s.jobs))

	stabilityWait := time.Duration(s.cfg.Scan.StabilityWaitSecs) * time.Second

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return
		}
		if jobstore.IsActiveFor(existingJobs, candidate.Path) {
			continue
		}

		result, err := stability.Check(ctx, candidate.Path, candidate.SizeBytes, stabilityWait)
		if err != nil {
			slog.Warn("supervisor: stability check failed, skipping this cycle", "path", candidate.Path, "error", err)
			continue
		}
		if !result.Stable {
			continue
		}

		probeResult, err := s.prober.Probe(ctx, candidate.Path)
		if err != nil {
			slog.Warn("supervisor: probe failed", "path", candidate.Path, "error", err)
			if werr := skipmarker.Write(candidate.Path, err.Error(), s.cfg.Scan.WriteWhySidecars); werr != nil {
				slog.Warn("supervisor: failed to write skip marker", "path", candidate.Path, "error", werr)
			}
			continue
		}

		gate := classify.Gate(probeResult, candidate.SizeBytes, s.cfg.Gates.MinBytes)
		if !gate.Admit {
			if werr := skipmarker.Write(candidate.Path, gate.Reason, s.cfg.Scan.WriteWhySidecars); werr != nil {
				slog.Warn("supervisor: failed to write skip marker", "path", candidate.Path, "error", werr)
			}
			continue
		}

		sourceType := classify.Classify(candidate.Path, probeResult)
		job := jobstore.New(candidate, probeResult, sourceType, s.cfg.Paths.TempOutputDir, jobstore.NewID())
		if err := s.store.Save(job); err != nil {
			slog.Error("supervisor: failed to persist new job", "path", candidate.Path, "error", err)
			continue
		}

		select {
		case s.jobs <- job:
			existingJobs = append(existingJobs, job)
			s.shared.SetQueueLen(len(s.jobs))
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) executionLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			s.shared.SetQueueLen(len(s.jobs))
			go s.runJob(ctx, job)
		}
	}
}

func (s *Supervisor) runJob(ctx context.Context, job jobstore.Job) {
	result, err := s.exec.Execute(ctx, job)
	if err != nil {
		slog.Warn("supervisor: job did not complete successfully", "job", result.ID, "input", result.InputPath, "error", err)
		return
	}
	slog.Info("supervisor: job finished", "job", result.ID, "input", result.InputPath, "status", result.Status)
}
