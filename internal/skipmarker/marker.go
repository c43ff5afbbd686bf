// Package skipmarker writes the on-disk "don't try again" protocol: a
// zero-byte .av1skip marker plus an optional human-readable .why.txt
// sidecar.
package skipmarker

import (
	"fmt"
	"os"
)

const (
	markerSuffix = ".av1skip"
	whySuffix    = ".why.txt"
)

// MarkerPath returns the skip-marker path for a video path.
func MarkerPath(videoPath string) string {
	return videoPath + markerSuffix
}

// WhySidecarPath returns the why-sidecar path for a video path.
func WhySidecarPath(videoPath string) string {
	return videoPath + whySuffix
}

// Write creates (or truncates) the skip marker for videoPath, and, if
// writeSidecar is true, writes reason to its why-sidecar. Marker-write
// failures are returned to the caller, who is expected to surface them in
// the error taxonomy without reversing the skip decision that has already
// been made.
func Write(videoPath, reason string, writeSidecar bool) error {
	f, err := os.Create(MarkerPath(videoPath))
	if err != nil {
		return fmt.Errorf("write skip marker for %s: %w", videoPath, err)
	}
	if cerr := f.Close(); cerr != nil {
		return fmt.Errorf("write skip marker for %s: %w", videoPath, cerr)
	}

	if !writeSidecar {
		return nil
	}
	if err := os.WriteFile(WhySidecarPath(videoPath), []byte(reason+"\n"), 0o644); err != nil {
		return fmt.Errorf("write why sidecar for %s: %w", videoPath, err)
	}
	return nil
}

// Exists reports whether videoPath already carries a skip marker.
func Exists(videoPath string) bool {
	_, err := os.Stat(MarkerPath(videoPath))
	return err == nil
}
