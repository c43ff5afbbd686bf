// Package scan walks library roots and emits candidate video files.
package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// videoExtensions is the closed, case-insensitive set of extensions the
// scanner considers.
var videoExtensions = map[string]struct{}{
	".mkv":  {},
	".mp4":  {},
	".avi":  {},
	".mov":  {},
	".m4v":  {},
	".ts":   {},
	".m2ts": {},
}

// SkipMarkerSuffix is appended to a video path to form its marker path.
const SkipMarkerSuffix = ".av1skip"

// Candidate is a scan-emitted path that passed extension and marker
// filters but not yet the gates.
type Candidate struct {
	Path         string
	SizeBytes    int64
	ModifiedTime time.Time
}

// IsVideoFile reports whether path's extension is in the supported set.
func IsVideoFile(path string) bool {
	_, ok := videoExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// MarkerPath returns the skip-marker path for a video path.
func MarkerPath(videoPath string) string {
	return videoPath + SkipMarkerSuffix
}

// HasSkipMarker reports whether videoPath's skip marker exists on disk.
func HasSkipMarker(videoPath string) bool {
	return markerExists(MarkerPath(videoPath))
}

func markerExists(markerPath string) bool {
	_, err := os.Stat(markerPath)
	return err == nil
}

// Roots walks every root and returns the union of surviving candidates.
// Errors on individual entries, and on a root that cannot be opened, are
// passed to the caller's onError hook (if provided) and the walk goes on:
// scan-time filesystem errors are never fatal per the error-handling design.
func Roots(roots []string, onError func(path string, err error)) []Candidate {
	var out []Candidate
	for _, root := range roots {
		out = append(out, walkRoot(root, onError)...)
	}
	return out
}

func walkRoot(root string, onError func(path string, err error)) []Candidate {
	var out []Candidate

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if onError != nil {
				onError(path, err)
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != root && isHiddenName(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		if !IsVideoFile(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if onError != nil {
				onError(path, err)
			}
			return nil
		}

		if markerExists(MarkerPath(path)) {
			return nil
		}

		out = append(out, Candidate{
			Path:         path,
			SizeBytes:    info.Size(),
			ModifiedTime: info.ModTime(),
		})
		return nil
	})
	if err != nil && onError != nil {
		onError(root, err)
	}

	return out
}

func isHiddenName(name string) bool {
	return strings.HasPrefix(name, ".")
}
