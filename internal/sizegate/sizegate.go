// Package sizegate implements the post-encode acceptance check.
package sizegate

import "math"

// Result is the outcome of a size-gate check.
type Result struct {
	Accept       bool
	OriginalBytes int64
	OutputBytes   int64
	ActualRatio   float64 // output/original; +Inf if original is zero
}

// Check accepts iff outputBytes < floor(originalBytes * maxRatio).
// maxRatio is a fraction in (0, 1]. If originalBytes is zero, the actual
// ratio is treated as +Inf and the result is always a rejection.
func Check(originalBytes, outputBytes int64, maxRatio float64) Result {
	if originalBytes == 0 {
		return Result{
			Accept:        false,
			OriginalBytes: originalBytes,
			OutputBytes:   outputBytes,
			ActualRatio:   math.Inf(1),
		}
	}

	threshold := int64(math.Floor(float64(originalBytes) * maxRatio))
	ratio := float64(outputBytes) / float64(originalBytes)

	return Result{
		Accept:        outputBytes < threshold,
		OriginalBytes: originalBytes,
		OutputBytes:   outputBytes,
		ActualRatio:   ratio,
	}
}
