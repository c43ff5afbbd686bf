package metrics

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	vmaf := float32(95.5)
	snap := Snapshot{
		TimestampUnixMs: 1700000000000,
		Jobs: []JobMetrics{
			{
				ID:                "job-1",
				InputPath:         "/media/movie.mkv",
				Stage:             "encoding",
				Progress:          0.5,
				FPS:               12.5,
				BitrateKbps:       8500,
				CRF:               8,
				Encoder:           "svt-av1",
				Workers:           8,
				EstRemainingSecs:  3600,
				FramesEncoded:     54000,
				TotalFrames:       120000,
				SizeInBytesBefore: 5368709120,
				SizeInBytesAfter:  2147483648,
				VMAF:              &vmaf,
			},
		},
		System: SystemMetrics{
			CPUUsagePercent: 42.1,
			MemUsagePercent: 63.2,
			LoadAvg1:        1.1,
			LoadAvg5:        1.2,
			LoadAvg15:       1.3,
		},
		QueueLen:          3,
		RunningJobs:       1,
		CompletedJobs:     10,
		FailedJobs:        2,
		TotalBytesEncoded: 9999,
	}

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var out Snapshot
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, snap, out)
}

func TestUpsertJob_RecomputesRunningJobs(t *testing.T) {
	s := NewShared()
	s.UpsertJob(JobMetrics{ID: "a", Stage: "encoding"})
	s.UpsertJob(JobMetrics{ID: "b", Stage: "queued"})
	s.UpsertJob(JobMetrics{ID: "c", Stage: "size_gating"})

	snap := s.Get()
	assert.Equal(t, 2, snap.RunningJobs)
	assert.Len(t, snap.Jobs, 3)
}

func TestUpsertJob_ReplacesExistingEntry(t *testing.T) {
	s := NewShared()
	s.UpsertJob(JobMetrics{ID: "a", Stage: "encoding", Progress: 0.1})
	s.UpsertJob(JobMetrics{ID: "a", Stage: "validating", Progress: 0.9})

	snap := s.Get()
	require.Len(t, snap.Jobs, 1)
	assert.Equal(t, "validating", snap.Jobs[0].Stage)
	assert.Equal(t, float32(0.9), snap.Jobs[0].Progress)
	assert.Equal(t, 1, snap.RunningJobs)
}

func TestRemoveJob_DropsEntryAndRecomputesRunning(t *testing.T) {
	s := NewShared()
	s.UpsertJob(JobMetrics{ID: "a", Stage: "encoding"})
	s.RemoveJob("a")

	snap := s.Get()
	assert.Empty(t, snap.Jobs)
	assert.Equal(t, 0, snap.RunningJobs)
}

func TestRecordCompletion_AggregatesSuccessAndFailure(t *testing.T) {
	s := NewShared()
	s.RecordCompletion(true, 1000)
	s.RecordCompletion(true, 2000)
	s.RecordCompletion(false, 0)

	snap := s.Get()
	assert.Equal(t, uint64(2), snap.CompletedJobs)
	assert.Equal(t, uint64(1), snap.FailedJobs)
	assert.Equal(t, uint64(3000), snap.TotalBytesEncoded)
}

func TestSetQueueLenAndPublishSystem(t *testing.T) {
	s := NewShared()
	s.SetQueueLen(7)
	s.PublishSystem(SystemMetrics{CPUUsagePercent: 50}, 12345)

	snap := s.Get()
	assert.Equal(t, 7, snap.QueueLen)
	assert.Equal(t, float32(50), snap.System.CPUUsagePercent)
	assert.Equal(t, int64(12345), snap.TimestampUnixMs)
}

func TestGet_ReturnsIndependentJobsSlice(t *testing.T) {
	s := NewShared()
	s.UpsertJob(JobMetrics{ID: "a", Stage: "encoding"})

	snap := s.Get()
	snap.Jobs[0].Stage = "mutated"

	fresh := s.Get()
	assert.Equal(t, "encoding", fresh.Jobs[0].Stage)
}
