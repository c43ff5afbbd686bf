// Package stability decides whether a file is still being written to.
package stability

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Result is the outcome of a stability check.
type Result struct {
	Stable       bool
	InitialSize  int64
	CurrentSize  int64
}

// Check waits for wait, then re-stats path and compares its size against
// initialSize. The wait is a cooperative, context-cancellable sleep, never
// a busy loop. An error is returned if ctx is cancelled during the wait, or
// if the file cannot be stat'd after it (e.g. it disappeared); callers treat
// either as a transient skip.
func Check(ctx context.Context, path string, initialSize int64, wait time.Duration) (Result, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-timer.C:
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stability check: %w", err)
	}

	return Result{
		Stable:      compareSizes(initialSize, info.Size()),
		InitialSize: initialSize,
		CurrentSize: info.Size(),
	}, nil
}

// compareSizes is the pure predicate Check relies on: sizes must be
// bit-identical, not merely close. Extracted for direct unit testing
// without touching the filesystem.
func compareSizes(initialSize, currentSize int64) bool {
	return initialSize == currentSize
}
