// Package raster loads source images, cuts committed crop regions out of
// them and encodes the result.
package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"cropdesk/pkg/cropbox"
)

// ErrNotLoaded is returned when a crop is committed against a source image
// that has not finished loading.
var ErrNotLoaded = errors.New("source image not loaded")

// Source is a decoded image with known natural dimensions.
type Source struct {
	img    image.Image
	format string
}

// NewSource wraps an already decoded image.
func NewSource(img image.Image, format string) *Source {
	return &Source{img: img, format: format}
}

// Decode reads an encoded image from r, applying EXIF orientation. WebP
// input is decoded with libwebp when the registered decoders fail.
func Decode(r io.Reader) (*Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return DecodeBytes(data)
}

func DecodeBytes(data []byte) (*Source, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		format = ""
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err == nil {
		return &Source{img: img, format: format}, nil
	}

	if wimg, werr := webp.Decode(bytes.NewReader(data)); werr == nil {
		return &Source{img: wimg, format: "webp"}, nil
	}
	return nil, fmt.Errorf("failed to decode image: %w", err)
}

// Open decodes the image stored at path.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer f.Close()

	src, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return src, nil
}

// Loaded reports whether the source holds a decoded image. A nil Source is
// not loaded.
func (s *Source) Loaded() bool {
	return s != nil && s.img != nil
}

func (s *Source) Image() image.Image {
	if s == nil {
		return nil
	}
	return s.img
}

// Format is the name of the decoder that produced the image, if known.
func (s *Source) Format() string {
	if s == nil {
		return ""
	}
	return s.format
}

// NaturalSize returns the pixel dimensions of the decoded image.
func (s *Source) NaturalSize() cropbox.Size {
	if !s.Loaded() {
		return cropbox.Size{}
	}
	b := s.img.Bounds()
	return cropbox.Size{Width: float64(b.Dx()), Height: float64(b.Dy())}
}

// ProbeSize reads only the header of the image at path.
func ProbeSize(path string) (width, height int, format string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, "", fmt.Errorf("failed to read image header: %w", err)
	}
	return cfg.Width, cfg.Height, format, nil
}
