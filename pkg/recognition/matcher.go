package recognition

import "math"

// SentinelDistance is reported when two embeddings cannot be compared:
// mismatched lengths (a stale or incompatible stored template) or an
// invalid capture. It guarantees no match at any threshold.
const SentinelDistance = math.MaxFloat64

// MatchResult is the outcome of comparing a candidate embedding against
// an enrolled template.
type MatchResult struct {
	// Distance is the Euclidean distance between the two unit vectors,
	// or SentinelDistance when comparison was not possible.
	Distance float64

	// Matched is true when Distance is below the configured threshold.
	Matched bool

	// InvalidCapture is set when the candidate embedding is the zero
	// sentinel: the inference step degenerated and the attempt should be
	// retried, not treated as a recognition failure.
	InvalidCapture bool
}

// Match compares a candidate embedding against an enrolled template.
// The threshold is a calibrated property of the deployed embedding model
// and is supplied by configuration, never hard-coded here.
//
// A zero-vector candidate is rejected outright: degenerate embeddings are
// not guaranteed to keep a safe distance from all stored data, so they
// must never be allowed to accidentally match.
func Match(candidate, enrolled Embedding, threshold float64) MatchResult {
	if candidate.IsZero() {
		return MatchResult{Distance: SentinelDistance, InvalidCapture: true}
	}

	if len(candidate) != len(enrolled) {
		// A stale or incompatible template is a data-integrity issue for
		// the caller to surface, not a reason to fail the flow.
		return MatchResult{Distance: SentinelDistance}
	}

	d := EuclideanDistance(candidate, enrolled)
	return MatchResult{
		Distance: d,
		Matched:  d < threshold,
	}
}

// EuclideanDistance calculates the Euclidean distance between two vectors.
// Mismatched lengths yield SentinelDistance.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return SentinelDistance
	}

	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
