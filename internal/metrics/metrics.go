// Package metrics holds the shared, coarse-locked snapshot every pipeline
// stage publishes progress into, and that the metrics HTTP server serves
// read-only.
package metrics

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// JobMetrics is the per-job progress and size record published by the
// executor at each stage boundary.
type JobMetrics struct {
	ID                string  `json:"id"`
	InputPath         string  `json:"input_path"`
	Stage             string  `json:"stage"`
	Progress          float32 `json:"progress"`
	FPS               float32 `json:"fps"`
	BitrateKbps       float32 `json:"bitrate_kbps"`
	CRF               uint8   `json:"crf"`
	Encoder           string  `json:"encoder"`
	Workers           uint32  `json:"workers"`
	EstRemainingSecs  float32 `json:"est_remaining_secs"`
	FramesEncoded     uint64  `json:"frames_encoded"`
	TotalFrames       uint64  `json:"total_frames"`
	SizeInBytesBefore uint64   `json:"size_in_bytes_before"`
	SizeInBytesAfter  uint64   `json:"size_in_bytes_after"`
	VMAF              *float32 `json:"vmaf,omitempty"`
	PSNR              *float32 `json:"psnr,omitempty"`
	SSIM              *float32 `json:"ssim,omitempty"`
}

// SystemMetrics is a point-in-time resource sample.
type SystemMetrics struct {
	CPUUsagePercent float32 `json:"cpu_usage_percent"`
	MemUsagePercent float32 `json:"mem_usage_percent"`
	LoadAvg1        float32 `json:"load_avg_1"`
	LoadAvg5        float32 `json:"load_avg_5"`
	LoadAvg15       float32 `json:"load_avg_15"`
}

// Snapshot is the full metrics payload served at GET /api/metrics.
type Snapshot struct {
	TimestampUnixMs   int64         `json:"timestamp_unix_ms"`
	Jobs              []JobMetrics  `json:"jobs"`
	System            SystemMetrics `json:"system"`
	QueueLen          int           `json:"queue_len"`
	RunningJobs       int          `json:"running_jobs"`
	CompletedJobs     uint64       `json:"completed_jobs"`
	FailedJobs        uint64       `json:"failed_jobs"`
	TotalBytesEncoded uint64       `json:"total_bytes_encoded"`
}

var runningStages = map[string]bool{
	"encoding":    true,
	"validating":  true,
	"size_gating": true,
	"replacing":   true,
}

// Shared is the single-writer-per-field snapshot guarded by a coarse
// sync.RWMutex, matching the teacher's own job queue locking style.
type Shared struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// NewShared returns an empty, ready-to-use Shared snapshot.
func NewShared() *Shared {
	return &Shared{snapshot: Snapshot{Jobs: []JobMetrics{}}}
}

// Get returns a deep-enough copy of the current snapshot for serialization
// or inspection; callers must not mutate the returned Jobs slice entries
// concurrently with further publishes (a fresh copy is taken under lock).
func (s *Shared) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]JobMetrics, len(s.snapshot.Jobs))
	copy(jobs, s.snapshot.Jobs)
	snap := s.snapshot
	snap.Jobs = jobs
	return snap
}

// SetQueueLen updates queue_len.
func (s *Shared) SetQueueLen(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.QueueLen = n
}

// PublishSystem stamps timestamp_unix_ms and replaces the system sample.
func (s *Shared) PublishSystem(sys SystemMetrics, timestampUnixMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.System = sys
	s.snapshot.TimestampUnixMs = timestampUnixMs
}

// UpsertJob replaces the JobMetrics entry for job.ID, appending if absent,
// and recomputes running_jobs as the count of jobs whose stage is one of
// {encoding, validating, size_gating, replacing}.
func (s *Shared) UpsertJob(job JobMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.snapshot.Jobs {
		if s.snapshot.Jobs[i].ID == job.ID {
			s.snapshot.Jobs[i] = job
			s.recomputeRunningLocked()
			return
		}
	}
	s.snapshot.Jobs = append(s.snapshot.Jobs, job)
	s.recomputeRunningLocked()
}

// RemoveJob drops a job's entry once it reaches a terminal state and has
// been accounted for in the aggregate counters.
func (s *Shared) RemoveJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.snapshot.Jobs {
		if s.snapshot.Jobs[i].ID == id {
			s.snapshot.Jobs = append(s.snapshot.Jobs[:i], s.snapshot.Jobs[i+1:]...)
			break
		}
	}
	s.recomputeRunningLocked()
}

func (s *Shared) recomputeRunningLocked() {
	running := 0
	for _, j := range s.snapshot.Jobs {
		if runningStages[j.Stage] {
			running++
		}
	}
	s.snapshot.RunningJobs = running
}

// RecordCompletion folds a terminal job's outcome into the aggregate
// counters. outputBytes is ignored for non-success outcomes.
func (s *Shared) RecordCompletion(success bool, outputBytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if success {
		s.snapshot.CompletedJobs++
		s.snapshot.TotalBytesEncoded += outputBytes
		return
	}
	s.snapshot.FailedJobs++
}

// Sampler produces a SystemMetrics reading via gopsutil.
type Sampler struct{}

// Sample gathers a CPU/memory/load snapshot. Errors from any individual
// gopsutil call are tolerated (the corresponding field is left at zero)
// since a best-effort metrics publisher must never block the pipeline.
func (Sampler) Sample() SystemMetrics {
	var out SystemMetrics

	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		out.CPUUsagePercent = float32(percents[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out.MemUsagePercent = float32(vm.UsedPercent)
	}
	if avg, err := load.Avg(); err == nil {
		out.LoadAvg1 = float32(avg.Load1)
		out.LoadAvg5 = float32(avg.Load5)
		out.LoadAvg15 = float32(avg.Load15)
	}
	return out
}
