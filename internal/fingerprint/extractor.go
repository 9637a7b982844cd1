// Package fingerprint turns decoded images into fixed-length feature vectors.
//
// The hash extractors (average, difference, perceptual) are pure functions of
// the pixel data: the same decoded image always yields the same vector, which
// is what makes "query with an inserted image returns itself first" hold.
package fingerprint

import (
	"fmt"
	"image"

	"github.com/taipei-doit/vismatch-svc/internal/config"
)

// Extractor produces fingerprint vectors for images. Implementations hold no
// mutable state and are safe for unsynchronized concurrent use.
type Extractor interface {
	Extract(img image.Image) ([]float32, error)
	Dimensions() int
	Name() string
}

// NewExtractor creates the extractor selected by cfg.Type.
// Supported types: "average", "difference" (default), "perceptual", "onnx".
// ONNX requires CGO and the onnxruntime shared library.
func NewExtractor(cfg *config.FingerprintConfig) (Extractor, error) {
	switch cfg.Type {
	case "average":
		return NewAverageExtractor(cfg.HashSize)
	case "difference", "":
		return NewDifferenceExtractor(cfg.HashSize)
	case "perceptual":
		return NewPerceptualExtractor(cfg.HashSize)
	case "onnx":
		return NewONNXExtractor(cfg.ModelPath, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown fingerprint type: %s (supported: average, difference, perceptual, onnx)", cfg.Type)
	}
}

func checkBounds(img image.Image) error {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return fmt.Errorf("image has zero area")
	}
	return nil
}
