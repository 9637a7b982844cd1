package fingerprint

import (
	"image"

	"golang.org/x/image/draw"
)

// grayscaleResize scales img to w x h grayscale and returns the pixel
// intensities row-major as float64 in [0, 255]. CatmullRom resampling is
// deterministic, so identical inputs always produce identical output.
func grayscaleResize(img image.Image, w, h int) []float64 {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	out := make([]float64, w*h)
	for i, p := range dst.Pix {
		out[i] = float64(p)
	}
	return out
}
