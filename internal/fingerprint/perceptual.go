package fingerprint

import (
	"fmt"
	"image"
	"math"

	"github.com/taipei-doit/vismatch-svc/pkg/utils"
)

// PerceptualExtractor produces low-frequency DCT coefficients of the
// downsampled grayscale image (the float relaxation of the perceptual hash).
// The image is resampled to a 2*size grid, transformed with a 2D DCT-II, and
// the top-left size x size coefficient block is kept with the DC term zeroed
// so overall brightness does not dominate the comparison.
type PerceptualExtractor struct {
	size   int
	sample int
	cosTab []float64 // sample x sample DCT-II basis, row-major [u][x]
}

// NewPerceptualExtractor creates a DCT extractor with the given coefficient block size.
func NewPerceptualExtractor(size int) (*PerceptualExtractor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("hash size must be positive")
	}
	sample := size * 2
	tab := make([]float64, sample*sample)
	for u := 0; u < sample; u++ {
		for x := 0; x < sample; x++ {
			tab[u*sample+x] = math.Cos(math.Pi * float64(u) * (2*float64(x) + 1) / (2 * float64(sample)))
		}
	}
	return &PerceptualExtractor{size: size, sample: sample, cosTab: tab}, nil
}

// Extract returns the unit-normalized low-frequency DCT coefficient vector.
func (e *PerceptualExtractor) Extract(img image.Image) ([]float32, error) {
	if err := checkBounds(img); err != nil {
		return nil, err
	}
	g := grayscaleResize(img, e.sample, e.sample)
	coeffs := e.dct2d(g)
	vec := make([]float32, e.size*e.size)
	for v := 0; v < e.size; v++ {
		for u := 0; u < e.size; u++ {
			vec[v*e.size+u] = float32(coeffs[v*e.sample+u])
		}
	}
	vec[0] = 0 // drop the DC coefficient
	utils.NormalizeL2(vec)
	return vec, nil
}

// dct2d computes a separable 2D DCT-II of the sample x sample grid.
func (e *PerceptualExtractor) dct2d(g []float64) []float64 {
	n := e.sample
	rows := make([]float64, n*n)
	for y := 0; y < n; y++ {
		e.dct1d(g[y*n:(y+1)*n], rows[y*n:(y+1)*n])
	}
	out := make([]float64, n*n)
	col := make([]float64, n)
	res := make([]float64, n)
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			col[y] = rows[y*n+x]
		}
		e.dct1d(col, res)
		for y := 0; y < n; y++ {
			out[y*n+x] = res[y]
		}
	}
	return out
}

func (e *PerceptualExtractor) dct1d(src, dst []float64) {
	n := e.sample
	for u := 0; u < n; u++ {
		row := e.cosTab[u*n : (u+1)*n]
		var sum float64
		for x := 0; x < n; x++ {
			sum += src[x] * row[x]
		}
		dst[u] = sum
	}
}

// Dimensions returns the vector length (size squared).
func (e *PerceptualExtractor) Dimensions() int { return e.size * e.size }

// Name returns the extractor identifier.
func (e *PerceptualExtractor) Name() string { return "perceptual" }
