// Package concurrency derives the supervisor's execution budget from the
// host's CPU count and policy overrides.
package concurrency

import "math"

// Plan is the immutable concurrency budget for a supervisor run.
type Plan struct {
	TotalCores        int
	TargetThreads     int
	WorkersPerJob     int
	MaxConcurrentJobs int
}

// Inputs collects the knobs that feed Derive.
type Inputs struct {
	// LogicalCores, when > 0, overrides CPU detection.
	LogicalCores int
	// TargetUtilization is clamped to [0.5, 1.0] before use.
	TargetUtilization float64
	// WorkersPerJobOverride, when > 0, is used verbatim.
	WorkersPerJobOverride int
	// MaxConcurrentJobsOverride, when > 0, is used verbatim.
	MaxConcurrentJobsOverride int
	// DetectedCores is the fallback core count when LogicalCores is unset.
	DetectedCores int
}

// Derive computes a Plan from in. DetectedCores must already reflect
// whatever CPU-detection strategy the caller chose (runtime.NumCPU,
// gopsutil, or a cgroup-aware count); Derive itself is pure.
func Derive(in Inputs) Plan {
	totalCores := in.LogicalCores
	if totalCores <= 0 {
		totalCores = in.DetectedCores
	}
	if totalCores <= 0 {
		totalCores = 1
	}

	util := clamp(in.TargetUtilization, 0.5, 1.0)
	targetThreads := int(math.Round(float64(totalCores) * util))
	if targetThreads < 1 {
		targetThreads = 1
	}

	workersPerJob := in.WorkersPerJobOverride
	if workersPerJob <= 0 {
		workersPerJob = deriveWorkersPerJob(totalCores)
	}

	maxConcurrentJobs := in.MaxConcurrentJobsOverride
	if maxConcurrentJobs <= 0 {
		maxConcurrentJobs = deriveMaxConcurrentJobs(totalCores)
	}

	return Plan{
		TotalCores:        totalCores,
		TargetThreads:     targetThreads,
		WorkersPerJob:     workersPerJob,
		MaxConcurrentJobs: maxConcurrentJobs,
	}
}

func deriveWorkersPerJob(totalCores int) int {
	if totalCores >= 32 {
		return 8
	}
	return 4
}

func deriveMaxConcurrentJobs(totalCores int) int {
	if totalCores >= 24 {
		return 1
	}
	return 2
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
