// Package encode invokes the external av1an encoder with a fixed,
// bit-exact argument list and captures its outcome.
package encode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
)

// svtParams is the fixed --video-params string: CRF, preset, film-grain,
// quantisation matrices, key-interval, and lookahead, bundled as a single
// argument the way av1an expects.
const svtParams = "--crf 8 --preset 3 --film-grain 20 --enable-qm 1 --qm-min 1 --qm-max 15 --keyint 240 --lookahead 40"

const audioParams = "-c:a copy"

// Params describes one encode invocation.
type Params struct {
	InputPath     string
	OutputPath    string
	TempChunksDir string
	WorkersPerJob int
}

// BuildArgs returns av1an's argv (excluding the program name itself), in
// the exact order the wire contract specifies.
func BuildArgs(p Params) []string {
	return []string{
		"-i", p.InputPath,
		"-o", p.OutputPath,
		"--encoder", "svt-av1",
		"--pix-format", "yuv420p10le",
		"--video-params", svtParams,
		"--audio-params", audioParams,
		"--workers", fmt.Sprintf("%d", p.WorkersPerJob),
		"--temp", p.TempChunksDir,
	}
}

const maxStderrCapture = 64 * 1024

// boundedBuffer caps how much of a subprocess's stderr is retained in
// memory, keeping the tail (the most diagnostically useful part).
type boundedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if b.buf.Len() > maxStderrCapture {
		excess := b.buf.Len() - maxStderrCapture
		b.buf.Next(excess)
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Error wraps an av1an failure with its exit code (or -1 on signal
// termination) and a bounded stderr excerpt.
type Error struct {
	ExitCode int
	Stderr   string
	Args     []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("av1an exited %d: %s", e.ExitCode, e.Stderr)
}

// Run invokes av1an synchronously with the given binary path and params.
// Exit code 0 is success; any non-zero code or signal termination returns
// an *Error.
func Run(ctx context.Context, av1anPath string, p Params) error {
	args := BuildArgs(p)
	cmd := exec.CommandContext(ctx, av1anPath, args...)

	var stderr boundedBuffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	exitCode := -1
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}

	return &Error{ExitCode: exitCode, Stderr: stderr.String(), Args: args}
}
