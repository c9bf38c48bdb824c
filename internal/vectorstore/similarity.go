package vectorstore

import (
	"errors"
	"math"
)

var errEmptyVector = errors.New("vectors cannot be empty")

// CosineSimilarity of two equal-length vectors. A zero-magnitude vector scores 0, which
// is what makes the zero-vector metadata scan in DeleteByQuery rank-neutral.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, errEmptyVector
	}
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var dot, magA, magB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		magA += x * x
		magB += y * y
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
