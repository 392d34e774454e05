package embed

import "math"

// vectorMagnitude returns the L2 norm of v.
func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity assumes non-zero vectors of equal length.
func cosineSimilarity(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (vectorMagnitude(a) * vectorMagnitude(b))
}
