package jobstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gwlsn/av1superd/internal/classify"
	"github.com/gwlsn/av1superd/internal/probe"
	"github.com/gwlsn/av1superd/internal/scan"
	"github.com/stretchr/testify/require"
)

func newTestJob(t *testing.T, dir string) Job {
	t.Helper()
	candidate := scan.Candidate{Path: filepath.Join(dir, "movie.mkv"), SizeBytes: 2_000_000_000}
	p := &probe.Result{VideoStreams: []probe.VideoStream{{CodecName: "hevc", Width: 1920, Height: 1080, BitrateKbps: 9000}}}
	return New(candidate, p, classify.SourceWebLike, dir, NewID())
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "jobs"))
	require.NoError(t, err)

	job := newTestJob(t, dir)
	require.NoError(t, store.Save(job))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, job, loaded[0])
}

func TestLoad_SkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "jobs")
	store, err := NewStore(stateDir)
	require.NoError(t, err)

	job := newTestJob(t, dir)
	require.NoError(t, store.Save(job))
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "corrupt.json"), []byte("{not json"), 0o644))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}

func TestIsActiveFor(t *testing.T) {
	dir := t.TempDir()
	job := newTestJob(t, dir)
	job.Status = StatusRunning

	require.True(t, IsActiveFor([]Job{job}, job.InputPath))

	job.Status = StatusSuccess
	require.False(t, IsActiveFor([]Job{job}, job.InputPath))

	require.False(t, IsActiveFor([]Job{job}, "/other/path.mkv"))
}

func TestUpdateStageAndStatus_PersistAndTouchTimestamp(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "jobs"))
	require.NoError(t, err)

	job := newTestJob(t, dir)
	require.NoError(t, store.Save(job))

	updated, err := store.UpdateStage(job, StageEncoding)
	require.NoError(t, err)
	require.Equal(t, StageEncoding, updated.Stage)

	updated, err = store.UpdateStatus(updated, StatusFailed, "encoder failed")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, updated.Status)
	require.Equal(t, "encoder failed", updated.ErrorReason)

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, StatusFailed, loaded[0].Status)
}

func TestStatus_ActiveAndTerminal(t *testing.T) {
	require.True(t, StatusPending.IsActive())
	require.True(t, StatusRunning.IsActive())
	require.False(t, StatusSuccess.IsActive())

	require.True(t, StatusSuccess.IsTerminal())
	require.True(t, StatusFailed.IsTerminal())
	require.True(t, StatusSkipped.IsTerminal())
	require.False(t, StatusPending.IsTerminal())
}
