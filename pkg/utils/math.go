// Package utils provides shared utilities for math and logging.
package utils

import "math"

// minSquaredNorm is the squared-norm floor below which a vector is treated as
// zero. Normalizing a vector of pure float noise (a flat image's fingerprint)
// would blow the noise up to unit norm and make equal inputs compare unequal.
const minSquaredNorm = 1e-12

// NormalizeL2 normalizes the slice in place to unit L2 norm. A vector with a
// near-zero norm is zeroed instead, so degenerate inputs map to one canonical
// vector.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum < minSquaredNorm {
		for i := range x {
			x[i] = 0
		}
		return
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range x {
		x[i] *= norm
	}
}
