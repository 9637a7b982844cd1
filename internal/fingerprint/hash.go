package fingerprint

import (
	"fmt"
	"image"

	"github.com/taipei-doit/vismatch-svc/pkg/utils"
)

// AverageExtractor produces a vector of mean-centered grayscale intensities
// on a size x size grid. The float relaxation of the classic average hash:
// instead of thresholding against the mean, the signed deviation is kept so
// distance metrics see gradual differences.
type AverageExtractor struct {
	size int
}

// NewAverageExtractor creates an average-intensity extractor with the given grid size.
func NewAverageExtractor(size int) (*AverageExtractor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("hash size must be positive")
	}
	return &AverageExtractor{size: size}, nil
}

// Extract returns the unit-normalized mean-centered intensity vector.
func (e *AverageExtractor) Extract(img image.Image) ([]float32, error) {
	if err := checkBounds(img); err != nil {
		return nil, err
	}
	g := grayscaleResize(img, e.size, e.size)
	var mean float64
	for _, v := range g {
		mean += v
	}
	mean /= float64(len(g))
	vec := make([]float32, len(g))
	for i, v := range g {
		vec[i] = float32(v - mean)
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

// Dimensions returns the vector length (size squared).
func (e *AverageExtractor) Dimensions() int { return e.size * e.size }

// Name returns the extractor identifier.
func (e *AverageExtractor) Name() string { return "average" }

// DifferenceExtractor produces a vector of horizontal intensity gradients on a
// (size+1) x size grid, the float relaxation of the difference hash.
type DifferenceExtractor struct {
	size int
}

// NewDifferenceExtractor creates a gradient extractor with the given grid size.
func NewDifferenceExtractor(size int) (*DifferenceExtractor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("hash size must be positive")
	}
	return &DifferenceExtractor{size: size}, nil
}

// Extract returns the unit-normalized horizontal gradient vector.
func (e *DifferenceExtractor) Extract(img image.Image) ([]float32, error) {
	if err := checkBounds(img); err != nil {
		return nil, err
	}
	w := e.size + 1
	g := grayscaleResize(img, w, e.size)
	vec := make([]float32, e.size*e.size)
	for y := 0; y < e.size; y++ {
		row := g[y*w : (y+1)*w]
		for x := 0; x < e.size; x++ {
			vec[y*e.size+x] = float32(row[x+1] - row[x])
		}
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

// Dimensions returns the vector length (size squared).
func (e *DifferenceExtractor) Dimensions() int { return e.size * e.size }

// Name returns the extractor identifier.
func (e *DifferenceExtractor) Name() string { return "difference" }
