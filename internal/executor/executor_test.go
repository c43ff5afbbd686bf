package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gwlsn/av1superd/internal/classify"
	"github.com/gwlsn/av1superd/internal/concurrency"
	"github.com/gwlsn/av1superd/internal/jobstore"
	"github.com/gwlsn/av1superd/internal/metrics"
	"github.com/gwlsn/av1superd/internal/notify"
	"github.com/gwlsn/av1superd/internal/probe"
	"github.com/gwlsn/av1superd/internal/scan"
)

// writeFakeAv1an writes a script that writes a file of the requested size
// to -o and exits 0, standing in for the real av1an binary in tests.
func writeFakeAv1an(t *testing.T, outputSize int) string {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "av1an")
	body := "#!/bin/sh\n" +
		"out=\"\"\n" +
		"while [ $# -gt 0 ]; do\n" +
		"  if [ \"$1\" = \"-o\" ]; then out=\"$2\"; fi\n" +
		"  shift\n" +
		"done\n" +
		"head -c " + itoa(outputSize) + " /dev/zero > \"$out\"\n" +
		"exit 0\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))
	return script
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func newTestJob(t *testing.T, originalSize int64) (jobstore.Job, *jobstore.Store, string) {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(input, make([]byte, originalSize), 0o644))

	store, err := jobstore.NewStore(filepath.Join(dir, "jobs"))
	require.NoError(t, err)

	candidate := scan.Candidate{Path: input, SizeBytes: originalSize}
	p := &probe.Result{VideoStreams: []probe.VideoStream{{CodecName: "hevc"}}}
	job := jobstore.New(candidate, p, classify.SourceWebLike, dir, jobstore.NewID())
	require.NoError(t, store.Save(job))
	return job, store, dir
}

func TestExecute_AcceptedEncodeReplacesOriginal(t *testing.T) {
	job, store, dir := newTestJob(t, 1_000_000)
	av1an := writeFakeAv1an(t, 100_000) // well under the 0.95 ratio

	ex := New(
		concurrency.Plan{MaxConcurrentJobs: 1, WorkersPerJob: 4},
		store,
		metrics.NewShared(),
		notify.NewClient("", "", "", false, false),
		Config{MaxSizeRatio: 0.95, TempBaseDir: filepath.Join(dir, "tmp"), Av1anPath: av1an},
	)

	result, err := ex.Execute(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusSuccess, result.Status)
	require.Equal(t, jobstore.StageComplete, result.Stage)

	info, err := os.Stat(job.InputPath)
	require.NoError(t, err)
	require.Equal(t, int64(100_000), info.Size())
}

func TestExecute_SizeGateRejectionWritesSkipMarker(t *testing.T) {
	job, store, dir := newTestJob(t, 1_000_000)
	av1an := writeFakeAv1an(t, 999_999) // barely under original, over the ratio threshold

	ex := New(
		concurrency.Plan{MaxConcurrentJobs: 1, WorkersPerJob: 4},
		store,
		metrics.NewShared(),
		notify.NewClient("", "", "", false, false),
		Config{MaxSizeRatio: 0.95, WriteWhySidecar: true, TempBaseDir: filepath.Join(dir, "tmp"), Av1anPath: av1an},
	)

	result, err := ex.Execute(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusSkipped, result.Status)

	_, err = os.Stat(job.InputPath + ".av1skip")
	require.NoError(t, err)
	why, err := os.ReadFile(job.InputPath + ".why.txt")
	require.NoError(t, err)
	require.Contains(t, string(why), "Size gate rejected", "reason must match the spec's literal casing")

	info, err := os.Stat(job.InputPath)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), info.Size(), "original must be untouched on rejection")
}

func TestExecute_EncoderFailureMarksJobFailed(t *testing.T) {
	job, store, dir := newTestJob(t, 1_000_000)
	av1anDir := t.TempDir()
	av1an := filepath.Join(av1anDir, "av1an")
	require.NoError(t, os.WriteFile(av1an, []byte("#!/bin/sh\nexit 1\n"), 0o755))

	ex := New(
		concurrency.Plan{MaxConcurrentJobs: 1, WorkersPerJob: 4},
		store,
		metrics.NewShared(),
		notify.NewClient("", "", "", false, false),
		Config{MaxSizeRatio: 0.95, TempBaseDir: filepath.Join(dir, "tmp"), Av1anPath: av1an},
	)

	result, err := ex.Execute(context.Background(), job)
	require.Error(t, err)
	require.Equal(t, jobstore.StatusFailed, result.Status)

	info, err := os.Stat(job.InputPath)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), info.Size())
}

func TestExecute_EmptyOutputFailsValidation(t *testing.T) {
	job, store, dir := newTestJob(t, 1_000_000)
	av1an := writeFakeAv1an(t, 0)

	ex := New(
		concurrency.Plan{MaxConcurrentJobs: 1, WorkersPerJob: 4},
		store,
		metrics.NewShared(),
		notify.NewClient("", "", "", false, false),
		Config{MaxSizeRatio: 0.95, TempBaseDir: filepath.Join(dir, "tmp"), Av1anPath: av1an},
	)

	result, err := ex.Execute(context.Background(), job)
	require.Error(t, err)
	require.Equal(t, jobstore.StatusFailed, result.Status)
}

func TestExecute_RespectsContextCancellationDuringAcquire(t *testing.T) {
	job, store, dir := newTestJob(t, 1_000_000)
	av1an := writeFakeAv1an(t, 100)

	ex := New(
		concurrency.Plan{MaxConcurrentJobs: 1, WorkersPerJob: 4},
		store,
		metrics.NewShared(),
		notify.NewClient("", "", "", false, false),
		Config{MaxSizeRatio: 0.95, TempBaseDir: filepath.Join(dir, "tmp"), Av1anPath: av1an},
	)

	require.NoError(t, ex.sem.Acquire(context.Background(), 1))
	defer ex.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ex.Execute(ctx, job)
	require.Error(t, err)
}
