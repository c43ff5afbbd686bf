// Package classify implements the admission gate and source-type
// classifier. Both are pure, deterministic functions of their inputs.
package classify

import (
	"fmt"
	"strings"

	"github.com/gwlsn/av1superd/internal/probe"
)

// SourceType is the classifier's output.
type SourceType string

const (
	SourceWebLike  SourceType = "web_like"
	SourceDiscLike SourceType = "disc_like"
	SourceUnknown  SourceType = "unknown"
)

// GateOutcome is the result of admission gating.
type GateOutcome struct {
	Admit  bool
	Reason string // set iff !Admit
}

// Gate checks, in order, the first failing admission predicate:
//  1. no video streams
//  2. file size below the configured minimum
//  3. primary video codec already contains "av1"
func Gate(p *probe.Result, fileSizeBytes, minBytes int64) GateOutcome {
	if len(p.VideoStreams) == 0 {
		return GateOutcome{Admit: false, Reason: "no video streams"}
	}
	if fileSizeBytes < minBytes {
		return GateOutcome{Admit: false, Reason: fmt.Sprintf("below minimum size (%d < %d bytes)", fileSizeBytes, minBytes)}
	}
	if strings.Contains(strings.ToLower(p.VideoStreams[0].CodecName), "av1") {
		return GateOutcome{Admit: false, Reason: "already AV1"}
	}
	return GateOutcome{Admit: true}
}

// webKeywords and discKeywords are matched as case-insensitive substrings
// of the full lowercased path. WEB keywords take precedence by order, not
// by specificity.
var webKeywords = []string{
	"webrip", "web-rip", "webdl", "web-dl", "amzn", "netflix", "nf", "hulu",
	"dsnp", "disney", "atvp", "appletv", "hmax", "hbo", "pcok", "peacock",
	"pmtp", "paramount", "stan", "hdtv", "pdtv", "webhd", "web", "streaming",
}

var discKeywords = []string{
	"bluray", "blu-ray", "bdrip", "brrip", "remux", "bdremux", "dvdrip",
	"dvd", "uhd", "ultrahd", "4k.uhd", "hddvd",
}

const bitrateThresholdKbpsPerMegapixel = 6000.0

// Classify decides a SourceType from the path and the probe's primary
// video stream.
func Classify(path string, p *probe.Result) SourceType {
	lower := strings.ToLower(path)

	for _, kw := range webKeywords {
		if strings.Contains(lower, kw) {
			return SourceWebLike
		}
	}
	for _, kw := range discKeywords {
		if strings.Contains(lower, kw) {
			return SourceDiscLike
		}
	}

	if len(p.VideoStreams) == 0 {
		return SourceUnknown
	}
	v := p.VideoStreams[0]
	if v.BitrateKbps <= 0 || v.Width <= 0 || v.Height <= 0 {
		return SourceUnknown
	}

	megapixels := float64(v.Width*v.Height) / 1_000_000.0
	bitratePerMP := v.BitrateKbps / megapixels
	if bitratePerMP < bitrateThresholdKbpsPerMegapixel {
		return SourceWebLike
	}
	return SourceDiscLike
}
