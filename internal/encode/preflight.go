package encode

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// forbiddenHardwareFlags are case-insensitive substrings that, when found
// in any candidate argv or configuration string while hardware encoding is
// disallowed, abort startup.
var forbiddenHardwareFlags = []string{"nvenc", "qsv", "vaapi", "cuda", "amf", "vce", "qsvenc"}

// DetectHardwareFlag returns the first forbidden hardware flag found as a
// case-insensitive substring of s, or "" if none match.
func DetectHardwareFlag(s string) string {
	lower := strings.ToLower(s)
	for _, flag := range forbiddenHardwareFlags {
		if strings.Contains(lower, flag) {
			return flag
		}
	}
	return ""
}

// ErrHardwareEncodingDetected is returned when a forbidden flag is found
// while hardware encoding is disallowed.
var ErrHardwareEncodingDetected = errors.New("hardware encoding flag detected")

// CheckArgsForHardwareFlags scans args for forbidden hardware flags.
// A no-op when disallowHardwareEncoding is false.
func CheckArgsForHardwareFlags(args []string, disallowHardwareEncoding bool) error {
	if !disallowHardwareEncoding {
		return nil
	}
	for _, arg := range args {
		if flag := DetectHardwareFlag(arg); flag != "" {
			return fmt.Errorf("%w: %q in %q", ErrHardwareEncodingDetected, flag, arg)
		}
	}
	return nil
}

// ErrAv1anUnavailable is returned when `av1an --version` does not exit 0.
var ErrAv1anUnavailable = errors.New("av1an unavailable")

// CheckAv1anAvailable runs `<av1anPath> --version` and requires exit 0.
func CheckAv1anAvailable(ctx context.Context, av1anPath string) error {
	cmd := exec.CommandContext(ctx, av1anPath, "--version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v", ErrAv1anUnavailable, err)
	}
	return nil
}

// ErrFFmpegVersionTooOld is returned when ffmpeg's major version is below
// the required minimum.
var ErrFFmpegVersionTooOld = errors.New("ffmpeg version too old")

const minFFmpegMajorVersion = 8

var ffmpegVersionLine = regexp.MustCompile(`version\s+n?(\d+)\.`)

// CheckFFmpegVersion runs `<ffmpegPath> -version` and requires the first
// line's major version (accepting both "N.M" and "nN.M-..." formats) to
// be >= 8.
func CheckFFmpegVersion(ctx context.Context, ffmpegPath string) error {
	cmd := exec.CommandContext(ctx, ffmpegPath, "-version")
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("running %s -version: %w", ffmpegPath, err)
	}

	firstLine := out
	if idx := strings.IndexByte(string(out), '\n'); idx >= 0 {
		firstLine = out[:idx]
	}

	major, err := parseFFmpegMajorVersion(string(firstLine))
	if err != nil {
		return fmt.Errorf("parsing ffmpeg version: %w", err)
	}
	if major < minFFmpegMajorVersion {
		return fmt.Errorf("%w: found major version %d, need >= %d", ErrFFmpegVersionTooOld, major, minFFmpegMajorVersion)
	}
	return nil
}

func parseFFmpegMajorVersion(line string) (int, error) {
	match := ffmpegVersionLine.FindStringSubmatch(line)
	if match == nil {
		return 0, fmt.Errorf("no version found in %q", line)
	}
	return strconv.Atoi(match[1])
}
