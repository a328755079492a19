package raster

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// Format is an output encoding.
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	WebP Format = "webp"
)

// DefaultQuality applies to JPEG and lossy WebP output.
const DefaultQuality = 90

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return PNG, nil
	case "jpg", "jpeg":
		return JPEG, nil
	case "webp":
		return WebP, nil
	default:
		return "", fmt.Errorf("unsupported format: %s (supported: png, jpeg, webp)", s)
	}
}

func (f Format) ContentType() string {
	return "image/" + string(f)
}

// Ext returns the file extension, including the dot.
func (f Format) Ext() string {
	if f == JPEG {
		return ".jpg"
	}
	return "." + string(f)
}

// Encode writes img to w. Quality is ignored for PNG.
func Encode(w io.Writer, img image.Image, format Format, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	switch format {
	case PNG, "":
		return imaging.Encode(w, img, imaging.PNG)
	case JPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case WebP:
		return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// DataURL encodes img as a base64 data URL, the form a dossier stores its
// images in.
func DataURL(img image.Image, format Format, quality int) (string, error) {
	if format == "" {
		format = PNG
	}
	var buf bytes.Buffer
	if err := Encode(&buf, img, format, quality); err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return "data:" + format.ContentType() + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ParseDataURL decodes a base64 image data URL produced by DataURL.
func ParseDataURL(s string) (*Source, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("data URL is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data URL payload: %w", err)
	}
	return DecodeBytes(data)
}
