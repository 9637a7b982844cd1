package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	data := pngBytes(t, 8, 6, color.RGBA{R: 200, A: 255})
	img, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 6 {
		t.Errorf("bounds = %v", img.Bounds())
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("not an image")},
		{"truncated png", pngBytes(t, 4, 4, color.White)[:10]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !errors.Is(err, ErrDecode) {
				t.Errorf("expected ErrDecode, got %v", err)
			}
		})
	}
}

func TestDecodeBase64(t *testing.T) {
	data := pngBytes(t, 4, 4, color.Black)
	enc := base64.StdEncoding.EncodeToString(data)

	if _, err := DecodeBase64(enc); err != nil {
		t.Errorf("plain base64: %v", err)
	}
	if _, err := DecodeBase64("data:image/png;base64," + enc); err != nil {
		t.Errorf("data url: %v", err)
	}
	if _, err := DecodeBase64("!!not base64!!"); !errors.Is(err, ErrDecode) {
		t.Error("expected ErrDecode for invalid base64")
	}
}

func TestBase64RoundTrip(t *testing.T) {
	in := []byte{0, 1, 2, 255}
	out, err := FromBase64(ToBase64(in))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(in, out) {
		t.Errorf("round trip mismatch: %v != %v", in, out)
	}
}
