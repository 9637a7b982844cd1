//go:build !cgo
// +build !cgo

package fingerprint

import (
	"errors"
	"image"
)

// ONNXExtractor stub type when built without CGO (see onnx.go for the real implementation).
type ONNXExtractor struct{}

// NewONNXExtractor returns an error when built without CGO (ONNX not available).
func NewONNXExtractor(_ string, _ int) (*ONNXExtractor, error) {
	return nil, errors.New("ONNX extractor requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}

// Extract is not available without CGO.
func (e *ONNXExtractor) Extract(_ image.Image) ([]float32, error) {
	return nil, errors.New("ONNX extractor not available")
}

// Dimensions returns 0 without CGO.
func (e *ONNXExtractor) Dimensions() int { return 0 }

// Name returns the extractor identifier.
func (e *ONNXExtractor) Name() string { return "onnx" }

// Close is a no-op without CGO.
func (e *ONNXExtractor) Close() error { return nil }
