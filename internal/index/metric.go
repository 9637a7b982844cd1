package index

import (
	"fmt"
	"math"
)

// Metric maps two equal-length vectors to a dissimilarity score where smaller
// means more similar. Implementations must be deterministic.
type Metric interface {
	Name() string
	Distance(a, b []float32) float64
}

// ParseMetric returns the metric for the given name.
// Supported: "cosine" (default when empty), "l2"/"euclidean".
func ParseMetric(name string) (Metric, error) {
	switch name {
	case "cosine", "":
		return CosineMetric{}, nil
	case "l2", "euclidean":
		return EuclideanMetric{}, nil
	default:
		return nil, fmt.Errorf("unknown metric: %s (supported: cosine, l2)", name)
	}
}

// CosineMetric scores 1 - cosine similarity, so identical directions score 0
// and orthogonal vectors score 1.
type CosineMetric struct{}

// Name returns the metric identifier.
func (CosineMetric) Name() string { return "cosine" }

// Distance returns 1 - cos(a, b). Zero-magnitude vectors compare equal to
// each other (distance 0) and maximally distant from everything else.
func (CosineMetric) Distance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dot += va * vb
		na += va * va
		nb += vb * vb
	}
	if na == 0 || nb == 0 {
		if na == 0 && nb == 0 {
			return 0
		}
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// EuclideanMetric scores the L2 distance between vectors.
type EuclideanMetric struct{}

// Name returns the metric identifier.
func (EuclideanMetric) Name() string { return "l2" }

// Distance returns the Euclidean distance between a and b.
func (EuclideanMetric) Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
