package fingerprint

import (
	"image"
	"image/color"
	"testing"

	"github.com/taipei-doit/vismatch-svc/internal/config"
)

// gradientImage returns a deterministic test image with a diagonal gradient
// offset by seed, so different seeds give visually different images.
func gradientImage(w, h, seed int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x*7 + y*13 + seed*31) % 256)
			img.Set(x, y, color.RGBA{R: v, G: v / 2, B: 255 - v, A: 255})
		}
	}
	return img
}

func extractors(t *testing.T) map[string]Extractor {
	t.Helper()
	avg, err := NewAverageExtractor(8)
	if err != nil {
		t.Fatal(err)
	}
	diff, err := NewDifferenceExtractor(8)
	if err != nil {
		t.Fatal(err)
	}
	perc, err := NewPerceptualExtractor(8)
	if err != nil {
		t.Fatal(err)
	}
	return map[string]Extractor{"average": avg, "difference": diff, "perceptual": perc}
}

func TestExtract_Deterministic(t *testing.T) {
	img := gradientImage(64, 48, 1)
	for name, ext := range extractors(t) {
		t.Run(name, func(t *testing.T) {
			a, err := ext.Extract(img)
			if err != nil {
				t.Fatal(err)
			}
			b, err := ext.Extract(img)
			if err != nil {
				t.Fatal(err)
			}
			if len(a) != ext.Dimensions() {
				t.Fatalf("len = %d, want %d", len(a), ext.Dimensions())
			}
			for i := range a {
				if a[i] != b[i] {
					t.Fatalf("component %d differs: %v != %v", i, a[i], b[i])
				}
			}
		})
	}
}

func TestExtract_DistinctImagesDiffer(t *testing.T) {
	imgA := gradientImage(64, 64, 1)
	imgB := gradientImage(64, 64, 5)
	for name, ext := range extractors(t) {
		t.Run(name, func(t *testing.T) {
			a, _ := ext.Extract(imgA)
			b, _ := ext.Extract(imgB)
			same := true
			for i := range a {
				if a[i] != b[i] {
					same = false
					break
				}
			}
			if same {
				t.Error("expected different fingerprints for different images")
			}
		})
	}
}

func TestExtract_ZeroArea(t *testing.T) {
	empty := image.NewRGBA(image.Rect(0, 0, 0, 0))
	for name, ext := range extractors(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := ext.Extract(empty); err == nil {
				t.Error("expected error for zero-area image")
			}
		})
	}
}

func TestExtract_UnitNorm(t *testing.T) {
	img := gradientImage(32, 32, 2)
	for name, ext := range extractors(t) {
		t.Run(name, func(t *testing.T) {
			v, err := ext.Extract(img)
			if err != nil {
				t.Fatal(err)
			}
			var sum float64
			for _, x := range v {
				sum += float64(x) * float64(x)
			}
			if sum < 0.99 || sum > 1.01 {
				t.Errorf("norm^2 = %f, want ~1", sum)
			}
		})
	}
}

func TestNewExtractor(t *testing.T) {
	tests := []struct {
		typ     string
		wantErr bool
		dims    int
	}{
		{"average", false, 256},
		{"difference", false, 256},
		{"", false, 256},
		{"perceptual", false, 256},
		{"bogus", true, 0},
	}
	for _, tt := range tests {
		t.Run("type_"+tt.typ, func(t *testing.T) {
			ext, err := NewExtractor(&config.FingerprintConfig{Type: tt.typ, HashSize: 16})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && ext.Dimensions() != tt.dims {
				t.Errorf("dimensions = %d, want %d", ext.Dimensions(), tt.dims)
			}
		})
	}
}

func TestNewExtractor_InvalidHashSize(t *testing.T) {
	if _, err := NewAverageExtractor(0); err == nil {
		t.Error("expected error for zero hash size")
	}
	if _, err := NewDifferenceExtractor(-1); err == nil {
		t.Error("expected error for negative hash size")
	}
	if _, err := NewPerceptualExtractor(0); err == nil {
		t.Error("expected error for zero hash size")
	}
}

func TestPerceptual_BrightnessInvariantDC(t *testing.T) {
	// Two solid images differing only in brightness should produce nearly
	// identical perceptual fingerprints since the DC coefficient is dropped.
	dark := image.NewRGBA(image.Rect(0, 0, 32, 32))
	light := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			dark.Set(x, y, color.Gray{Y: 40})
			light.Set(x, y, color.Gray{Y: 200})
		}
	}
	ext, err := NewPerceptualExtractor(8)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := ext.Extract(dark)
	b, _ := ext.Extract(light)
	// Both are flat images: every retained AC coefficient is ~0.
	for i := range a {
		if d := float64(a[i] - b[i]); d > 1e-3 || d < -1e-3 {
			t.Fatalf("coefficient %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}
