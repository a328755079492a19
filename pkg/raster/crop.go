package raster

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"cropdesk/pkg/cropbox"
)

// Result is a committed crop.
type Result struct {
	Image  *image.NRGBA
	Region cropbox.Region
}

// Commit maps rect from a preview rendered at preview onto src and cuts the
// region out. It returns ErrNotLoaded, producing nothing, if src has not
// been loaded.
func Commit(src *Source, rect cropbox.Rect, preview cropbox.Size) (*Result, error) {
	if !src.Loaded() {
		return nil, ErrNotLoaded
	}
	region := cropbox.MapToSource(rect, preview, src.NaturalSize())
	img, err := Crop(src.img, region)
	if err != nil {
		return nil, err
	}
	return &Result{Image: img, Region: region}, nil
}

// Crop cuts region out of img. Fractional sizes are truncated to whole
// pixels and the region is clipped to the image bounds.
func Crop(img image.Image, region cropbox.Region) (*image.NRGBA, error) {
	width := int(region.Width)
	height := int(region.Height)
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid crop dimensions: width=%d, height=%d", width, height)
	}

	bounds := img.Bounds()
	x := int(math.Floor(region.X))
	y := int(math.Floor(region.Y))
	cropRect := image.Rect(x, y, x+width, y+height).Add(bounds.Min)

	if !cropRect.In(bounds) {
		cropRect = cropRect.Intersect(bounds)
		if cropRect.Empty() {
			return nil, fmt.Errorf("crop region %v is outside image bounds %v", region, bounds)
		}
	}

	return imaging.Crop(img, cropRect), nil
}
