//go:build cgo
// +build cgo

// ONNX-based embedding extractor (requires CGO and the onnxruntime library).
package fingerprint

import (
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"

	"github.com/taipei-doit/vismatch-svc/pkg/utils"
)

const onnxInputSize = 224

// ImageNet channel statistics used by most vision embedding models.
var (
	onnxMean = [3]float32{0.485, 0.456, 0.406}
	onnxStd  = [3]float32{0.229, 0.224, 0.225}
)

// ONNXExtractor runs a CNN embedding model over the image and returns the
// normalized embedding as the fingerprint. The session and its tensors are
// pre-allocated; Run is serialized with a mutex because tensors are reused.
type ONNXExtractor struct {
	session      *ort.AdvancedSession
	dimensions   int
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewONNXExtractor creates an ONNX embedding extractor.
// InitializeEnvironment is called if not already done.
func NewONNXExtractor(modelPath string, dimensions int) (*ONNXExtractor, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	inputData := make([]float32, 1*3*onnxInputSize*onnxInputSize)
	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, onnxInputSize, onnxInputSize), inputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputData := make([]float32, dimensions)
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(dimensions)), outputData)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input"},
		[]string{"output"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXExtractor{
		session:      session,
		dimensions:   dimensions,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Extract runs the model and returns the unit-normalized embedding.
func (e *ONNXExtractor) Extract(img image.Image) ([]float32, error) {
	if err := checkBounds(img); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.preprocess(img, e.inputTensor.GetData())
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("ONNX inference failed: %w", err)
	}
	out := e.outputTensor.GetData()
	vec := make([]float32, e.dimensions)
	copy(vec, out)
	utils.NormalizeL2(vec)
	return vec, nil
}

// preprocess scales the image to the model input size and writes CHW
// channel-normalized floats into dst.
func (e *ONNXExtractor) preprocess(img image.Image, dst []float32) {
	scaled := image.NewRGBA(image.Rect(0, 0, onnxInputSize, onnxInputSize))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)
	plane := onnxInputSize * onnxInputSize
	for y := 0; y < onnxInputSize; y++ {
		for x := 0; x < onnxInputSize; x++ {
			off := scaled.PixOffset(x, y)
			i := y*onnxInputSize + x
			for c := 0; c < 3; c++ {
				v := float32(scaled.Pix[off+c]) / 255.0
				dst[c*plane+i] = (v - onnxMean[c]) / onnxStd[c]
			}
		}
	}
}

// Dimensions returns the embedding dimension.
func (e *ONNXExtractor) Dimensions() int { return e.dimensions }

// Name returns the extractor identifier.
func (e *ONNXExtractor) Name() string { return "onnx" }

// Close releases the session and tensors.
func (e *ONNXExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return nil
}
