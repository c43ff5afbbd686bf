// Package jobstore persists job records as one JSON file per job id,
// providing crash-recoverable state and the duplicate-suppression oracle
// the scan cycle relies on.
package jobstore

import (
	"time"

	"github.com/gwlsn/av1superd/internal/classify"
	"github.com/gwlsn/av1superd/internal/probe"
	"github.com/gwlsn/av1superd/internal/scan"
)

// Stage is a job's position in the encode→validate→size-gate→replace
// pipeline.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageEncoding   Stage = "encoding"
	StageValidating Stage = "validating"
	StageSizeGating Stage = "size_gating"
	StageReplacing  Stage = "replacing"
	StageComplete   Stage = "complete"
)

// Status is a job's terminal-or-not outcome.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// IsActive reports whether status counts toward the single-active-job
// invariant.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

// IsTerminal reports whether status will never be re-opened.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusSkipped
}

// ProbeSummary is the subset of a probe.Result persisted on the job
// record.
type ProbeSummary struct {
	VideoCodec   string  `json:"video_codec"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	BitrateKbps  float64 `json:"bitrate_kbps"`
	DurationSecs float64 `json:"duration_secs"`
}

func summarizeProbe(p *probe.Result) ProbeSummary {
	s := ProbeSummary{DurationSecs: p.Format.DurationSecs}
	if len(p.VideoStreams) > 0 {
		v := p.VideoStreams[0]
		s.VideoCodec = v.CodecName
		s.Width = v.Width
		s.Height = v.Height
		s.BitrateKbps = v.BitrateKbps
	}
	return s
}

// Job is one persisted record per (input_path, active lifecycle).
type Job struct {
	ID          string              `json:"id"`
	InputPath   string              `json:"input_path"`
	OutputPath  string              `json:"output_path"`
	Stage       Stage               `json:"stage"`
	Status      Status              `json:"status"`
	SourceType  classify.SourceType `json:"source_type"`
	Probe       ProbeSummary        `json:"probe_result"`
	CreatedAt   int64               `json:"created_at"`
	UpdatedAt   int64               `json:"updated_at"`
	ErrorReason string              `json:"error_reason,omitempty"`

	SizeInBytesBefore int64 `json:"size_in_bytes_before"`
	SizeInBytesAfter  int64 `json:"size_in_bytes_after,omitempty"`
}

// New builds a queued/pending job for an admitted candidate under the
// caller-supplied id (normally a fresh one from NewID).
func New(candidate scan.Candidate, p *probe.Result, sourceType classify.SourceType, outputDir string, id string) Job {
	now := nowMillis()
	return Job{
		ID:                id,
		InputPath:         candidate.Path,
		OutputPath:        outputDir + "/" + id + ".mkv",
		Stage:             StageQueued,
		Status:            StatusPending,
		SourceType:        sourceType,
		Probe:             summarizeProbe(p),
		CreatedAt:         now,
		UpdatedAt:         now,
		SizeInBytesBefore: candidate.SizeBytes,
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
