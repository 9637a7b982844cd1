// Package imaging turns raw image bytes into decoded pixel data.
// Registered formats: JPEG, PNG, GIF (stdlib) plus WebP, BMP, and TIFF
// via golang.org/x/image.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrDecode indicates the input bytes are not a decodable image.
var ErrDecode = errors.New("cannot decode image")

// Decode decodes raw image bytes into pixel data. Fails with ErrDecode if the
// bytes are malformed, the format is unsupported, or the image has zero area.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: zero-area %s image", ErrDecode, format)
	}
	return img, nil
}

// DecodeBase64 decodes a base64 payload (with or without a data URL prefix)
// and then decodes the image bytes.
func DecodeBase64(s string) (image.Image, error) {
	data, err := FromBase64(s)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// FromBase64 returns the raw bytes of a base64 payload, tolerating a
// "data:image/...;base64," prefix.
func FromBase64(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrDecode, err)
	}
	return data, nil
}

// ToBase64 encodes raw bytes for transport in JSON responses.
func ToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
